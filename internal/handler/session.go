package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/piewallah/pw-gateway/internal/middleware"
	"github.com/piewallah/pw-gateway/internal/model"
	"github.com/piewallah/pw-gateway/internal/repository"
)

// EventLister reads the session audit trail. *repository.SessionEventRepo
// satisfies it.
type EventLister interface {
	ListBySubject(ctx context.Context, subject string, limit int) ([]model.SessionEvent, error)
	LastBySubject(ctx context.Context, subject string) (model.SessionEvent, error)
}

// SessionHandler exposes the caller's own login history.
type SessionHandler struct {
	Events EventLister
}

func callerSubject(c echo.Context) (string, bool) {
	s, ok := c.Get(middleware.KeyUserID).(string)
	return s, ok && s != ""
}

// History serves GET /api/session/events?limit=n.
func (h *SessionHandler) History(c echo.Context) error {
	sub, ok := callerSubject(c)
	if !ok {
		return failJSON(c, http.StatusUnauthorized, "Authorization header missing or malformed")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	evs, err := h.Events.ListBySubject(c.Request().Context(), sub, limit)
	if err != nil {
		return failJSON(c, http.StatusInternalServerError, "failed to load session events")
	}
	if evs == nil {
		evs = []model.SessionEvent{}
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": evs})
}

// Last serves GET /api/session/events/last.
func (h *SessionHandler) Last(c echo.Context) error {
	sub, ok := callerSubject(c)
	if !ok {
		return failJSON(c, http.StatusUnauthorized, "Authorization header missing or malformed")
	}
	ev, err := h.Events.LastBySubject(c.Request().Context(), sub)
	if errors.Is(err, repository.ErrNotFound) {
		return failJSON(c, http.StatusNotFound, "no session events")
	}
	if err != nil {
		return failJSON(c, http.StatusInternalServerError, "failed to load session events")
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": ev})
}
