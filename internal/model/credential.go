package model

import (
	"encoding/json"
	"time"
)

// Credential is the authenticated session of one student against the
// learning platform. Only the session package persists it and only the
// token lifecycle manager replaces it.
//
// Fields:
//
//	AccessToken  – short-lived bearer token.
//	RefreshToken – long-lived token exchanged for a new access token.
//	ExpiresAtMs  – epoch milliseconds, always now + expires_in*1000 at issuance.
//	UserProfile  – opaque profile JSON returned with the token.
type Credential struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAtMs  int64           `json:"expires_at_ms"`
	UserProfile  json.RawMessage `json:"user_profile,omitempty"`
}

// NewCredential derives the expiry from the relative expires_in returned by
// the upstream. Absolute expiry values from the upstream are never trusted.
func NewCredential(access, refresh string, expiresInSec int64, profile json.RawMessage, now time.Time) Credential {
	return Credential{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAtMs:  now.UnixMilli() + expiresInSec*1000,
		UserProfile:  profile,
	}
}

// ExpiresAt returns the expiry as a time.Time.
func (c Credential) ExpiresAt() time.Time { return time.UnixMilli(c.ExpiresAtMs) }

// Empty reports whether there is no usable access token.
func (c Credential) Empty() bool { return c.AccessToken == "" || c.ExpiresAtMs == 0 }
