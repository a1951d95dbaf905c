package auth

import (
	"encoding/json"

	"github.com/piewallah/pw-gateway/internal/logging"
	"github.com/piewallah/pw-gateway/internal/model"
)

// Subject identifies the owner of a credential in logs and events: the
// profile's user id when present, otherwise a digest of the access token.
func Subject(c model.Credential) string {
	if len(c.UserProfile) > 0 {
		var p struct {
			ID    string `json:"id"`
			MgoID string `json:"_id"`
		}
		if json.Unmarshal(c.UserProfile, &p) == nil {
			if p.MgoID != "" {
				return p.MgoID
			}
			if p.ID != "" {
				return p.ID
			}
		}
	}
	return logging.TokenDigest(c.AccessToken)
}
