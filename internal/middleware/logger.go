package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// HeaderRequestID carries the per-request id back to the caller.
const HeaderRequestID = "X-Request-ID"

// RequestLogger writes one structured line per request. Tokens never reach
// the log; the caller is identified by the id Identity derived.
func RequestLogger(log logrus.FieldLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			rid := c.Request().Header.Get(HeaderRequestID)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Response().Header().Set(HeaderRequestID, rid)

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			fields := logrus.Fields{
				"request_id": rid,
				"method":     c.Request().Method,
				"route":      c.Path(),
				"status":     c.Response().Status,
				"bytes":      c.Response().Size,
				"latency_ms": time.Since(start).Milliseconds(),
				"caller":     userID(c),
			}
			entry := log.WithFields(fields)
			switch {
			case c.Response().Status >= 500:
				entry.Error("request")
			case c.Response().Status >= 400:
				entry.Warn("request")
			default:
				entry.Info("request")
			}
			return nil
		}
	}
}
