package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/piewallah/pw-gateway/internal/cache"
	"github.com/piewallah/pw-gateway/internal/headers"
	"github.com/piewallah/pw-gateway/internal/model"
	"github.com/piewallah/pw-gateway/internal/session"
)

type staticAuth struct {
	token string
	valid bool
}

func (a *staticAuth) EnsureValid(context.Context) (bool, error) { return a.valid, nil }
func (a *staticAuth) ValidToken() (string, bool)                { return a.token, a.valid }

type recordingNav struct{ reasons []string }

func (n *recordingNav) RedirectToLogin(reason string) { n.reasons = append(n.reasons, reason) }

type offline struct{}

func (offline) Online() bool { return false }

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// invalidatingAuth is staticAuth plus the manager's Invalidate hook.
type invalidatingAuth struct {
	staticAuth
	reasons []string
}

func (a *invalidatingAuth) Invalidate(_ context.Context, reason string) {
	a.reasons = append(a.reasons, reason)
	a.valid = false
}

// retries counts the "fetch: retrying" lines logged by the client.
func retries(hook *test.Hook) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "fetch: retrying" {
			n++
		}
	}
	return n
}

func newTestClient(t *testing.T, base string, opts Options) (*Client, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	opts.BaseURL = base
	opts.Log = log
	if opts.Headers == nil {
		opts.Headers = headers.New(headers.Identity{ClientID: "cid", ClientType: "WEB"}, nil)
	}
	if opts.Retry.BaseDelay == 0 {
		opts.Retry = RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, Factor: 2}
	}
	c, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return c, hook
}

func storeWithCredential(t *testing.T) *session.Store {
	t.Helper()
	st := session.NewStore(session.NewMemoryBackend(), session.NewMemoryBackend(), nil)
	cred := model.NewCredential("old-token", "refresh", 3600, nil, time.Now())
	if err := st.Set(context.Background(), cred); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return st
}

func TestUnauthorizedClearsStoreAndRedirects(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"token expired"}`))
	}))
	defer srv.Close()

	st := storeWithCredential(t)
	nav := &recordingNav{}
	c, hook := newTestClient(t, srv.URL, Options{Store: st, Navigator: nav})
	c.SetAuthenticator(&staticAuth{token: "old-token", valid: true})

	_, err := c.DoWithRetry(context.Background(), model.RequestContext{TargetPath: "/v1/batches"})
	if !IsKind(err, KindUnauthorized) {
		t.Fatalf("kind = %q, err = %v", KindOf(err), err)
	}
	if _, ok := st.Get(context.Background()); ok {
		t.Fatal("credential store should be empty after 401")
	}
	if len(nav.reasons) != 1 {
		t.Fatalf("redirects = %v", nav.reasons)
	}
	if hits.Load() != 1 || retries(hook) != 0 {
		t.Fatalf("401 must not be retried: hits=%d retries=%d", hits.Load(), retries(hook))
	}
}

func TestRetryBackoffOnNetworkError(t *testing.T) {
	var attempts atomic.Int32
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		attempts.Add(1)
		return nil, errors.New("connection refused")
	})}
	c, hook := newTestClient(t, "http://upstream.invalid", Options{HTTPClient: hc})

	_, err := c.DoWithRetry(context.Background(), model.RequestContext{TargetPath: "/v1/x", Anonymous: true})
	if !IsKind(err, KindNetwork) {
		t.Fatalf("kind = %q, err = %v", KindOf(err), err)
	}
	if attempts.Load() != 4 {
		t.Fatalf("attempts = %d, want 4", attempts.Load())
	}
	if retries(hook) != 3 {
		t.Fatalf("retries logged = %d, want 3", retries(hook))
	}
}

func TestRetryBudgetFollowsPolicy(t *testing.T) {
	var attempts atomic.Int32
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		attempts.Add(1)
		return nil, errors.New("connection reset")
	})}
	c, _ := newTestClient(t, "http://upstream.invalid", Options{
		HTTPClient: hc,
		Retry:      RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, Factor: 3},
	})

	_, err := c.DoWithRetry(context.Background(), model.RequestContext{TargetPath: "/v1/x", Anonymous: true})
	if !IsKind(err, KindNetwork) || attempts.Load() != 2 {
		t.Fatalf("kind=%q attempts=%d", KindOf(err), attempts.Load())
	}
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	var attempts atomic.Int32
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		attempts.Add(1)
		return nil, errors.New("connection refused")
	})}
	c, _ := newTestClient(t, "http://upstream.invalid", Options{
		HTTPClient: hc,
		Retry:      RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour, Factor: 2},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.DoWithRetry(ctx, model.RequestContext{TargetPath: "/v1/x", Anonymous: true})
	if err == nil || time.Since(start) > 5*time.Second {
		t.Fatalf("err=%v after %v", err, time.Since(start))
	}
	if attempts.Load() != 1 {
		t.Fatalf("attempts = %d, want 1", attempts.Load())
	}
}

func TestForbiddenIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"not enrolled"}`))
	}))
	defer srv.Close()

	c, hook := newTestClient(t, srv.URL, Options{})
	_, err := c.DoWithRetry(context.Background(), model.RequestContext{TargetPath: "/x", Anonymous: true})
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != KindForbidden || fe.Status != http.StatusForbidden {
		t.Fatalf("err = %#v", err)
	}
	if fe.Message != "not enrolled" {
		t.Fatalf("message = %q", fe.Message)
	}
	if hits.Load() != 1 || retries(hook) != 0 {
		t.Fatalf("hits=%d retries=%d", hits.Load(), retries(hook))
	}
}

func TestRateLimitedRetriedUntilSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[1,2]}`))
	}))
	defer srv.Close()

	c, hook := newTestClient(t, srv.URL, Options{})
	res, err := c.DoWithRetry(context.Background(), model.RequestContext{TargetPath: "/x", Anonymous: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.JSON || hits.Load() != 3 || retries(hook) != 2 {
		t.Fatalf("json=%v hits=%d retries=%d", res.JSON, hits.Load(), retries(hook))
	}
}

func TestOfflineMakesNoAttempt(t *testing.T) {
	var attempts atomic.Int32
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		attempts.Add(1)
		return nil, errors.New("unreachable")
	})}
	c, _ := newTestClient(t, "http://upstream.invalid", Options{HTTPClient: hc, Connectivity: offline{}})
	_, err := c.Do(context.Background(), model.RequestContext{TargetPath: "/x", Anonymous: true})
	if !IsKind(err, KindOffline) {
		t.Fatalf("kind = %q", KindOf(err))
	}
	if attempts.Load() != 0 {
		t.Fatalf("attempts = %d", attempts.Load())
	}
}

func TestTimeoutKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Options{Timeout: 30 * time.Millisecond})
	_, err := c.Do(context.Background(), model.RequestContext{TargetPath: "/slow", Anonymous: true})
	if !IsKind(err, KindTimeout) {
		t.Fatalf("kind = %q, err = %v", KindOf(err), err)
	}
}

func TestTolerantBodyParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>404</html>"))
		case "/shaped":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(` {"ok":true}`))
		case "/broken":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":`))
		}
	}))
	defer srv.Close()
	c, _ := newTestClient(t, srv.URL, Options{})

	res, err := c.Do(context.Background(), model.RequestContext{TargetPath: "/html", Anonymous: true})
	if err != nil || res.JSON || res.Body != "<html>404</html>" {
		t.Fatalf("html: res=%+v err=%v", res, err)
	}
	res, err = c.Do(context.Background(), model.RequestContext{TargetPath: "/shaped", Anonymous: true})
	if err != nil || !res.JSON {
		t.Fatalf("shaped: res=%+v err=%v", res, err)
	}
	if m, ok := res.Body.(map[string]any); !ok || m["ok"] != true {
		t.Fatalf("shaped body = %#v", res.Body)
	}
	res, err = c.Do(context.Background(), model.RequestContext{TargetPath: "/broken", Anonymous: true})
	if err != nil || res.JSON || res.Body != `{"ok":` {
		t.Fatalf("broken: res=%+v err=%v", res, err)
	}
}

func TestAuthorizationHeader(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	c, _ := newTestClient(t, srv.URL, Options{})
	c.SetAuthenticator(&staticAuth{token: "tok", valid: true})

	_, _ = c.Do(context.Background(), model.RequestContext{TargetPath: "/a"})
	_, _ = c.Do(context.Background(), model.RequestContext{TargetPath: "/b", Anonymous: true})
	if len(got) != 2 || got[0] != "Bearer tok" || got[1] != "" {
		t.Fatalf("authorization headers = %q", got)
	}
}

func TestInvalidSessionShortCircuits(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer srv.Close()
	c, _ := newTestClient(t, srv.URL, Options{})
	c.SetAuthenticator(&staticAuth{valid: false})

	_, err := c.DoWithRetry(context.Background(), model.RequestContext{TargetPath: "/a"})
	if !IsKind(err, KindUnauthorized) || hits.Load() != 0 {
		t.Fatalf("kind=%q hits=%d", KindOf(err), hits.Load())
	}
}

func TestForbiddenEndsAuthenticatedSession(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"token revoked"}`))
	}))
	defer srv.Close()

	fifo := cache.NewFIFO(10, time.Minute)
	fifo.Set("stale", "entry")
	c, _ := newTestClient(t, srv.URL, Options{Cache: fifo})
	a := &invalidatingAuth{staticAuth: staticAuth{token: "tok", valid: true}}
	c.SetAuthenticator(a)

	_, err := c.DoWithRetry(context.Background(), model.RequestContext{TargetPath: "/v1/batches"})
	if !IsKind(err, KindForbidden) || hits.Load() != 1 {
		t.Fatalf("kind=%q hits=%d", KindOf(err), hits.Load())
	}
	if len(a.reasons) != 1 || a.reasons[0] != string(KindForbidden) {
		t.Fatalf("invalidations = %v", a.reasons)
	}
	if _, ok := fifo.Get("stale"); ok {
		t.Fatal("cache should be cleared when the session ends")
	}

	// The session is gone, so the next call never reaches the upstream.
	_, err = c.Do(context.Background(), model.RequestContext{TargetPath: "/v1/batches"})
	if !IsKind(err, KindUnauthorized) || hits.Load() != 1 {
		t.Fatalf("after invalidation: kind=%q hits=%d", KindOf(err), hits.Load())
	}
}

func TestUnauthorizedInvalidatesThroughManager(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	st := storeWithCredential(t)
	nav := &recordingNav{}
	c, _ := newTestClient(t, srv.URL, Options{Store: st, Navigator: nav})
	a := &invalidatingAuth{staticAuth: staticAuth{token: "tok", valid: true}}
	c.SetAuthenticator(a)

	_, err := c.Do(context.Background(), model.RequestContext{TargetPath: "/v1/batches"})
	if !IsKind(err, KindUnauthorized) {
		t.Fatalf("kind = %q", KindOf(err))
	}
	if len(a.reasons) != 1 || a.reasons[0] != string(KindUnauthorized) {
		t.Fatalf("invalidations = %v", a.reasons)
	}
	// The manager owns the redirect when it is attached.
	if len(nav.reasons) != 0 {
		t.Fatalf("redirects = %v", nav.reasons)
	}
}

func TestShouldRetry(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		want   bool
	}{
		{"ok", nil, 200, false},
		{"no content", nil, 204, false},
		{"unauthorized", nil, 401, false},
		{"forbidden", nil, 403, false},
		{"rate limited", nil, 429, true},
		{"unavailable", nil, 503, true},
		{"network", errors.New("connection refused"), 0, true},
		{"canceled", context.Canceled, 0, false},
	}
	for _, tc := range cases {
		var resp *http.Response
		if tc.err == nil {
			resp = &http.Response{StatusCode: tc.status}
		}
		if got := shouldRetry(tc.err, resp); got != tc.want {
			t.Errorf("%s: shouldRetry = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCachedGet(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":"x"}`))
	}))
	defer srv.Close()
	c, _ := newTestClient(t, srv.URL, Options{Cache: cache.NewFIFO(10, time.Minute)})

	req := model.RequestContext{TargetPath: "/v1/details", Query: []model.QueryParam{{Key: "b", Value: "2"}, {Key: "a", Value: "1"}}, Anonymous: true}
	for i := 0; i < 3; i++ {
		if _, err := c.CachedGet(context.Background(), req); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("upstream hits = %d, want 1", hits.Load())
	}
}

func TestStatusKind(t *testing.T) {
	cases := map[int]Kind{
		401: KindUnauthorized,
		403: KindForbidden,
		404: KindNotFound,
		429: KindRateLimited,
		500: KindServer,
		502: KindBadGateway,
		503: KindUnavailable,
		504: KindServer,
		418: KindHTTP,
	}
	for status, want := range cases {
		if got := StatusKind(status); got != want {
			t.Errorf("StatusKind(%d) = %s, want %s", status, got, want)
		}
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, Factor: 3}
	want := []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 4500 * time.Millisecond}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}
