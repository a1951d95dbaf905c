package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/piewallah/pw-gateway/internal/config"
	"github.com/piewallah/pw-gateway/internal/fetch"
	"github.com/piewallah/pw-gateway/internal/headers"
	"github.com/piewallah/pw-gateway/internal/model"
)

type events struct {
	mu  sync.Mutex
	got []model.SessionEvent
}

func (e *events) Publish(_ context.Context, ev model.SessionEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
	return nil
}

func upstreamClient(t *testing.T, url string) *fetch.Client {
	t.Helper()
	c, err := fetch.New(fetch.Options{
		BaseURL: url,
		Headers: headers.New(headers.Identity{ClientID: "cid", ClientType: "WEB"}, nil),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func call(e *echo.Echo, method, target, auth, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestNormalizeGrant(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	cases := []struct {
		name string
		raw  string
		want int64
	}{
		{"relative", `{"access_token":"a","expires_in":3600}`, 3600},
		{"wrapped", `{"success":true,"data":{"access_token":"a","expires_in":600}}`, 600},
		{"epoch ms", `{"access_token":"a","expires_in":1700000900000}`, 900},
		{"epoch s", `{"access_token":"a","expires_in":1700000060}`, 60},
		{"string", `{"access_token":"a","expires_in":"120"}`, 120},
		{"past", `{"access_token":"a","expires_in":1600000000000}`, 0},
	}
	for _, tc := range cases {
		g, ok := NormalizeGrant([]byte(tc.raw), now)
		if !ok || g.ExpiresIn != tc.want {
			t.Errorf("%s: got %+v ok=%v, want expires_in %d", tc.name, g, ok, tc.want)
		}
	}
	if _, ok := NormalizeGrant([]byte(`{"data":{"token":"x"}}`), now); ok {
		t.Error("grant without access token must be rejected")
	}
}

func TestTokenInjectsClientCredentials(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != upstreamTokenPath {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"access_token":"acc","refresh_token":"ref","expires_in":86400,"user":{"_id":"u1"}}}`)
	}))
	defer srv.Close()

	ev := &events{}
	cfg := config.Config{ClientID: "client", ClientSecret: "secret", OrganizationID: "org"}
	h := NewAuthHandler(cfg, upstreamClient(t, srv.URL), ev, nil)
	e := echo.New()
	e.POST("/api/auth/token", h.Token)

	rec := call(e, http.MethodPost, "/api/auth/token", "", `{"phone":"9999999999","otp":"123456"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var g model.TokenGrant
	if err := json.Unmarshal(rec.Body.Bytes(), &g); err != nil {
		t.Fatal(err)
	}
	if g.AccessToken != "acc" || g.RefreshToken != "ref" || g.ExpiresIn != 86400 {
		t.Fatalf("grant = %+v", g)
	}
	if body["client_id"] != "client" || body["client_secret"] != "secret" || body["otp"] != "123456" || body["username"] != "9999999999" {
		t.Fatalf("upstream body = %v", body)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatal("client secret leaked to the caller")
	}
	if len(ev.got) != 1 || ev.got[0].Type != model.EventLogin || ev.got[0].Subject != "u1" {
		t.Fatalf("events = %+v", ev.got)
	}
}

func TestTokenValidation(t *testing.T) {
	h := NewAuthHandler(config.Config{}, upstreamClient(t, "http://unused.invalid"), nil, nil)
	e := echo.New()
	e.POST("/api/auth/token", h.Token)
	rec := call(e, http.MethodPost, "/api/auth/token", "", `{"phone":"9999999999"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "otp is required") {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
}

func TestRefreshRejectionKeepsUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer old" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"refresh token revoked"}`)
	}))
	defer srv.Close()

	ev := &events{}
	h := NewAuthHandler(config.Config{ClientID: "c", ClientSecret: "s"}, upstreamClient(t, srv.URL), ev, nil)
	e := echo.New()
	e.POST("/api/auth/refresh", h.Refresh)
	rec := call(e, http.MethodPost, "/api/auth/refresh", "Bearer old", `{"refresh_token":"r"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	if len(ev.got) != 1 || ev.got[0].Type != model.EventForcedLogout {
		t.Fatalf("events = %+v", ev.got)
	}
}

func TestLogoutNeedsSomethingToRevoke(t *testing.T) {
	h := NewAuthHandler(config.Config{}, upstreamClient(t, "http://unused.invalid"), nil, nil)
	e := echo.New()
	e.POST("/api/auth/logout", h.Logout)
	if rec := call(e, http.MethodPost, "/api/auth/logout", "", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAggregatedScheduleMergesBatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/batches/B1/todays-schedule":
			_, _ = io.WriteString(w, `{"data":[{"_id":"a","topic":"Algebra","startTime":"2024-01-01T11:00:00Z","tag":"LIVE"},{"_id":"b","topic":"Bio","startTime":"2024-01-01T09:00:00Z","tag":"Ended"}]}`)
		case "/v1/batches/B2/todays-schedule":
			_, _ = io.WriteString(w, `{"data":[{"_id":"b","topic":"Bio dup"},{"_id":"c","topic":"Chem","startTime":"2024-01-01T10:00:00Z"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message":"no batch"}`)
		}
	}))
	defer srv.Close()

	h := &ScheduleHandler{Upstream: upstreamClient(t, srv.URL), Fallback: "thumb.png", Limit: 2}
	e := echo.New()
	e.GET("/api/schedule/today", h.Today)

	rec := call(e, http.MethodGet, "/api/schedule/today?batchIds=B1,B2&batchIds=B3", "Bearer tok", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var out struct {
		Data   []model.ScheduleItem `json:"data"`
		Failed []struct {
			BatchID string `json:"batchId"`
		} `json:"failed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, it := range out.Data {
		ids = append(ids, it.ID)
		if it.Image != "thumb.png" {
			t.Errorf("item %s image = %q", it.ID, it.Image)
		}
	}
	if strings.Join(ids, ",") != "b,c,a" {
		t.Fatalf("ids = %v", ids)
	}
	if out.Data[0].Topic != "Bio" || out.Data[0].Status != model.StatusCompleted || out.Data[2].Status != model.StatusLive {
		t.Fatalf("items = %+v", out.Data)
	}
	if len(out.Failed) != 1 || out.Failed[0].BatchID != "B3" {
		t.Fatalf("failed = %+v", out.Failed)
	}
}

func TestAggregatedScheduleRequiresBearer(t *testing.T) {
	h := &ScheduleHandler{Upstream: upstreamClient(t, "http://unused.invalid")}
	e := echo.New()
	e.GET("/api/schedule/today", h.Today)
	if rec := call(e, http.MethodGet, "/api/schedule/today?batchIds=B1", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := call(e, http.MethodGet, "/api/schedule/today", "Bearer t", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

type fixedNet bool

func (n fixedNet) Online() bool { return bool(n) }

func TestHealthReportsUpstream(t *testing.T) {
	h := &HealthHandler{Net: fixedNet(false), Families: []string{"topics"}}
	e := echo.New()
	e.GET("/healthz", h.Health)
	rec := call(e, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"upstream":"offline"`) ||
		!strings.Contains(rec.Body.String(), `"topics":"closed"`) {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
}
