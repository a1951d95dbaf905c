package middleware

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// subjectFromJWT returns the user id carried by an upstream access token.
// The signature is not verified: the gateway does not hold the platform's
// signing key, and the subject is only used to key rate limits and logs.
// Tokens that are not JWTs yield "".
func subjectFromJWT(raw string) string {
	if strings.Count(raw, ".") != 2 {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return ""
	}
	for _, k := range []string{"sub", "user_id", "id", "_id"} {
		if v, ok := claims[k].(string); ok && v != "" {
			return v
		}
	}
	// the platform nests the id under "data" in some token versions
	if d, ok := claims["data"].(map[string]any); ok {
		for _, k := range []string{"_id", "id"} {
			if v, ok := d[k].(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}
