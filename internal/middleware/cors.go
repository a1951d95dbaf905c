package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/piewallah/pw-gateway/internal/proxy"
)

// CORS attaches the permissive header set to every response, including
// errors raised before a handler runs, and answers preflights directly.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			proxy.SetCORS(c.Response().Header())
			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusOK)
			}
			return next(c)
		}
	}
}
