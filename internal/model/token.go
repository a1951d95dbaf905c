package model

import "encoding/json"

// TokenGrant is the normalized token exchange reply the gateway hands to
// its callers. ExpiresIn is relative, in seconds.
type TokenGrant struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	ExpiresIn    int64           `json:"expires_in"`
	User         json.RawMessage `json:"user,omitempty"`
}
