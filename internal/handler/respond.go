package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/piewallah/pw-gateway/internal/fetch"
)

func failJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, echo.Map{"success": false, "error": msg})
}

// upstreamFailure turns a fetch error into the gateway envelope. HTTP
// failures keep the upstream status; everything else is a proxy error.
func upstreamFailure(c echo.Context, err error) error {
	var fe *fetch.Error
	if errors.As(err, &fe) && fe.Status > 0 {
		return c.JSON(fe.Status, echo.Map{"success": false, "error": fe.Message, "kind": fe.Kind})
	}
	if errors.As(err, &fe) && fe.Kind == fetch.KindOffline {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"success": false, "error": "Upstream unavailable", "message": fe.Message})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "Proxy error", "message": err.Error()})
}

// bearerToken returns the token of a "Bearer <token>" Authorization header.
func bearerToken(c echo.Context) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(c.Request().Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
