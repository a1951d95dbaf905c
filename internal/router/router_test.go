package router

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/piewallah/pw-gateway/internal/config"
	"github.com/piewallah/pw-gateway/internal/fetch"
	"github.com/piewallah/pw-gateway/internal/handler"
	"github.com/piewallah/pw-gateway/internal/logging"
	"github.com/piewallah/pw-gateway/internal/proxy"
)

func newServer(t *testing.T, upstream string) *echo.Echo {
	t.Helper()
	cfg := config.Config{UpstreamBaseURL: upstream, VideoAPIBaseURL: upstream, CDNBaseURL: upstream}
	up, err := fetch.New(fetch.Options{BaseURL: upstream})
	if err != nil {
		t.Fatal(err)
	}
	eps := proxy.Endpoints(cfg)
	e := echo.New()
	Use(e, logging.Discard())
	RegisterRoutes(e, Deps{
		Forwarder: proxy.NewForwarder(proxy.Options{}),
		Endpoints: eps,
		Auth:      handler.NewAuthHandler(cfg, up, nil, nil),
		Schedule:  &handler.ScheduleHandler{Upstream: up},
		Health:    &handler.HealthHandler{Families: []string{"topics"}},
		Log:       logging.Discard(),
	})
	return e
}

func serve(e *echo.Echo, method, target, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRoutesWired(t *testing.T) {
	var hits atomic.Int32
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer up.Close()
	e := newServer(t, up.URL)

	cases := []struct {
		name   string
		method string
		target string
		auth   string
		want   int
	}{
		{"health", http.MethodGet, "/healthz", "", http.StatusOK},
		{"topics needs bearer", http.MethodGet, "/api/topics?batchId=b&subjectId=s", "", http.StatusUnauthorized},
		{"topics forwarded", http.MethodGet, "/api/topics?batchId=b&subjectId=s", "Bearer t", http.StatusOK},
		{"aggregated schedule needs ids", http.MethodGet, "/api/schedule/today", "Bearer t", http.StatusBadRequest},
		{"auth token validates", http.MethodPost, "/api/auth/token", "", http.StatusBadRequest},
		{"preflight", http.MethodOptions, "/api/weekly-planner", "", http.StatusOK},
		{"session history absent without db", http.MethodGet, "/api/session/events", "Bearer t", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(e, tc.method, tc.target, tc.auth)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tc.want, rec.Body)
			}
			if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
				t.Fatal("missing CORS header")
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Fatal("missing request id")
			}
		})
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("upstream hits = %d, want 1", n)
	}
}

func TestRateLimitsCoverMountedRoutes(t *testing.T) {
	cfg := config.Config{UpstreamBaseURL: "http://u", VideoAPIBaseURL: "http://v", CDNBaseURL: "http://c"}
	eps := proxy.Endpoints(cfg)
	limits := RateLimits(config.RateLimitConfig{AuthCapacity: 5}, eps)

	e := newServer(t, "http://u")
	for _, r := range e.Routes() {
		if r.Path == "/healthz" || r.Path == "/api" || r.Path == "/api/*" {
			continue
		}
		if _, ok := limits[r.Path]; !ok {
			t.Errorf("route %s %s has no rate-limit family", r.Method, r.Path)
		}
	}
	if l := limits["/api/auth/otp"]; l.Family != "auth" || l.Capacity != 5 {
		t.Fatalf("auth limit = %+v", l)
	}
	if l := limits["/api/video-segment"]; l.Family != "video-segment" || l.Capacity != 600 {
		t.Fatalf("segment limit = %+v", l)
	}
}
