package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/piewallah/pw-gateway/internal/logging"
	"github.com/piewallah/pw-gateway/internal/middleware"
	"github.com/piewallah/pw-gateway/internal/model"
	"github.com/piewallah/pw-gateway/internal/repository"
)

type fakeLister struct {
	events    map[string][]model.SessionEvent
	lastLimit int
}

func (f *fakeLister) ListBySubject(_ context.Context, subject string, limit int) ([]model.SessionEvent, error) {
	f.lastLimit = limit
	return f.events[subject], nil
}

func (f *fakeLister) LastBySubject(_ context.Context, subject string) (model.SessionEvent, error) {
	evs := f.events[subject]
	if len(evs) == 0 {
		return model.SessionEvent{}, repository.ErrNotFound
	}
	return evs[0], nil
}

func sessionServer(l EventLister) *echo.Echo {
	h := &SessionHandler{Events: l}
	e := echo.New()
	g := e.Group("/api", middleware.Identity())
	g.GET("/session/events", h.History)
	g.GET("/session/events/last", h.Last)
	return e
}

func TestSessionHistoryScopedToCaller(t *testing.T) {
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	l := &fakeLister{events: map[string][]model.SessionEvent{
		"tok:" + logging.TokenDigest("opaque"): {{ID: "e2", Type: model.EventRefresh, OccurredAt: at}, {ID: "e1", Type: model.EventLogin, OccurredAt: at}},
	}}
	e := sessionServer(l)

	rec := call(e, http.MethodGet, "/api/session/events?limit=5", "Bearer opaque", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var out struct {
		Data []model.SessionEvent `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Data) != 2 || out.Data[0].ID != "e2" || l.lastLimit != 5 {
		t.Fatalf("data = %+v limit = %d", out.Data, l.lastLimit)
	}

	rec = call(e, http.MethodGet, "/api/session/events/last", "Bearer opaque", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("last status = %d", rec.Code)
	}
	rec = call(e, http.MethodGet, "/api/session/events/last", "Bearer someone-else", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("other caller status = %d", rec.Code)
	}
}

func TestSessionHistoryNeedsBearer(t *testing.T) {
	e := sessionServer(&fakeLister{})
	req := httptest.NewRequest(http.MethodGet, "/api/session/events", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}
