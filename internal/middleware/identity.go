package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/piewallah/pw-gateway/internal/logging"
)

// Context keys set by Identity.
const (
	KeyUserID     = "user_id"
	KeyAuthDigest = "auth_digest"
)

// Identity derives who is calling from the Authorization header and stores
// it in the context. It never rejects a request; endpoints that need a
// bearer check for it themselves.
func Identity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header.Get("Authorization")
			scheme, raw, ok := strings.Cut(strings.TrimSpace(h), " ")
			raw = strings.TrimSpace(raw)
			if ok && strings.EqualFold(scheme, "Bearer") && raw != "" {
				digest := logging.TokenDigest(raw)
				c.Set(KeyAuthDigest, digest)
				if sub := subjectFromJWT(raw); sub != "" {
					c.Set(KeyUserID, sub)
				} else {
					c.Set(KeyUserID, "tok:"+digest)
				}
			}
			return next(c)
		}
	}
}

// userID returns the caller id stored by Identity, or "guest".
func userID(c echo.Context) string {
	if s, ok := c.Get(KeyUserID).(string); ok && s != "" {
		return s
	}
	return "guest"
}

// authDigest returns the bearer digest stored by Identity, or "none".
func authDigest(c echo.Context) string {
	if s, ok := c.Get(KeyAuthDigest).(string); ok && s != "" {
		return s
	}
	return "none"
}
