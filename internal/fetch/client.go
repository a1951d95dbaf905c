// Package fetch is the resilient HTTP client used against the gateway and
// the learning platform: offline short-circuit, timeouts, status
// classification, tolerant body parsing, retries with exponential backoff
// and the terminal handling of 401 and 403.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/sirupsen/logrus"

	"github.com/piewallah/pw-gateway/internal/cache"
	"github.com/piewallah/pw-gateway/internal/headers"
	"github.com/piewallah/pw-gateway/internal/logging"
	"github.com/piewallah/pw-gateway/internal/model"
)

// Connectivity reports whether the network is usable.
type Connectivity interface {
	Online() bool
}

// Authenticator makes sure a valid bearer exists before authenticated calls.
type Authenticator interface {
	EnsureValid(ctx context.Context) (bool, error)
	ValidToken() (string, bool)
}

// CredentialClearer drops the stored credential.
type CredentialClearer interface {
	Clear(ctx context.Context)
}

// Navigator sends the user back to the login entry point.
type Navigator interface {
	RedirectToLogin(reason string)
}

// Invalidator ends the session after the upstream rejected its bearer.
// The token lifecycle manager satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, reason string)
}

// RetryPolicy controls DoWithRetry. Delay before retry n (1-based) is
// BaseDelay * Factor^(n-1).
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Factor     float64
}

// DefaultRetryPolicy retries three times after 1s, 2s and 4s.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, Factor: 2}

// Delay returns the wait before retry n.
func (p RetryPolicy) Delay(n int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < n; i++ {
		d *= p.Factor
	}
	return time.Duration(d)
}

// Options configures a Client. Only BaseURL and Headers are required.
type Options struct {
	BaseURL      string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Headers      *headers.Synthesizer
	Connectivity Connectivity
	Store        CredentialClearer
	Navigator    Navigator
	Cache        *cache.FIFO
	Retry        RetryPolicy
	Log          logrus.FieldLogger
}

// Response is a successful, parsed reply.
type Response struct {
	Status int
	Header http.Header
	Body   any // decoded JSON, or the raw text
	JSON   bool
	Raw    []byte
}

// Decode unmarshals the raw body into v.
func (r *Response) Decode(v any) error { return json.Unmarshal(r.Raw, v) }

// Client performs requests. It is safe for concurrent use.
type Client struct {
	base    string
	timeout time.Duration
	http    *http.Client
	retrier *retry.Client
	headers *headers.Synthesizer
	net     Connectivity
	store   CredentialClearer
	nav     Navigator
	cache   *cache.FIFO
	retry   RetryPolicy
	log     logrus.FieldLogger
	auth    Authenticator
}

// New builds a Client from opts.
func New(opts Options) (*Client, error) {
	c := &Client{
		base:    opts.BaseURL,
		timeout: opts.Timeout,
		http:    opts.HTTPClient,
		headers: opts.Headers,
		net:     opts.Connectivity,
		store:   opts.Store,
		nav:     opts.Navigator,
		cache:   opts.Cache,
		retry:   opts.Retry,
		log:     opts.Log,
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.headers == nil {
		c.headers = headers.New(headers.Identity{}, nil)
	}
	if c.retry.BaseDelay <= 0 {
		c.retry = DefaultRetryPolicy
	}
	if c.retry.Factor <= 0 {
		c.retry.Factor = 2
	}
	if c.retry.MaxRetries < 0 {
		c.retry.MaxRetries = 0
	}
	if c.log == nil {
		c.log = logging.Discard()
	}

	// The retrying client bounds every attempt on its own.
	perAttempt := *c.http
	perAttempt.Timeout = c.timeout
	maxDelay := c.retry.Delay(c.retry.MaxRetries)
	if maxDelay < c.retry.BaseDelay {
		maxDelay = c.retry.BaseDelay
	}
	rc, err := retry.NewClient(
		retry.WithHTTPClient(&perAttempt),
		retry.WithMaxRetries(c.retry.MaxRetries),
		retry.WithInitialRetryDelay(c.retry.BaseDelay),
		retry.WithRetryDelayMultiple(c.retry.Factor),
		retry.WithMaxRetryDelay(maxDelay),
		retry.WithRetryableChecker(shouldRetry),
		retry.WithOnRetry(c.logRetry),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch: build retry client: %w", err)
	}
	c.retrier = rc
	return c, nil
}

// SetAuthenticator attaches the token lifecycle manager. It is separate from
// New because the manager itself uses the client for its exchanges.
func (c *Client) SetAuthenticator(a Authenticator) { c.auth = a }

// Do performs a single attempt.
func (c *Client) Do(ctx context.Context, req model.RequestContext) (*Response, error) {
	httpReq, err := c.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.http.Do(httpReq.WithContext(tctx))
	if err != nil {
		return nil, classifyTransport(err)
	}
	return c.finish(ctx, req, res)
}

// DoWithRetry repeats retryable failures up to the policy's MaxRetries.
// Non-retryable failures return after the first attempt.
func (c *Client) DoWithRetry(ctx context.Context, req model.RequestContext) (*Response, error) {
	httpReq, err := c.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := c.retrier.DoWithContext(ctx, httpReq)
	if res != nil {
		return c.finish(ctx, req, res)
	}
	if err == nil {
		return nil, &Error{Kind: KindNetwork, Message: "no response from upstream"}
	}
	return nil, classifyTransport(err)
}

// prepare runs the offline and session checks and builds the request.
func (c *Client) prepare(ctx context.Context, req model.RequestContext) (*http.Request, error) {
	if c.net != nil && !c.net.Online() {
		return nil, &Error{Kind: KindOffline, Message: "no network connection"}
	}

	token := ""
	if !req.Anonymous && c.auth != nil {
		ok, err := c.auth.EnsureValid(ctx)
		if err != nil {
			return nil, classifyTransport(err)
		}
		if !ok {
			return nil, &Error{Kind: KindUnauthorized, Message: statusMessage(KindUnauthorized, 0)}
		}
		token, _ = c.auth.ValidToken()
	}
	hdr := c.headers.BuildWithToken(token, req.ExtraHeaders)

	method := req.HTTPMethod()
	var body io.Reader
	if req.Body != nil && method != http.MethodGet && method != http.MethodHead {
		bs, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &Error{Kind: KindNetwork, Message: "encode request body: " + err.Error(), Err: err}
		}
		body = bytes.NewReader(bs)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL(c.base), body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "build request: " + err.Error(), Err: err}
	}
	httpReq.Header = hdr
	return httpReq, nil
}

// finish reads and classifies the final response.
func (c *Client) finish(ctx context.Context, req model.RequestContext, res *http.Response) (*Response, error) {
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}
	parsed, isJSON := ParseBody(res.Header.Get("Content-Type"), raw)

	if res.StatusCode >= 200 && res.StatusCode <= 299 {
		return &Response{Status: res.StatusCode, Header: res.Header, Body: parsed, JSON: isJSON, Raw: raw}, nil
	}

	k := StatusKind(res.StatusCode)
	switch {
	case k == KindUnauthorized && req.Anonymous:
		c.handleUnauthorized(ctx)
	case (k == KindUnauthorized || k == KindForbidden) && !req.Anonymous:
		c.endSession(ctx, k)
	}
	msg := messageFrom(parsed)
	if k == KindUnauthorized || msg == "" || !isJSON {
		msg = statusMessage(k, res.StatusCode)
	}
	return nil, &Error{Kind: k, Status: res.StatusCode, Message: msg, Body: parsed}
}

// handleUnauthorized clears every trace of the session before returning so
// no later call in the same flow can reuse the old token.
func (c *Client) handleUnauthorized(ctx context.Context) {
	if c.store != nil {
		c.store.Clear(context.WithoutCancel(ctx))
	}
	if c.cache != nil {
		c.cache.Clear()
	}
	c.log.Warn("fetch: upstream answered 401, session cleared")
	if c.nav != nil {
		c.nav.RedirectToLogin("unauthorized")
	}
}

// endSession handles an upstream rejecting the bearer of an authenticated
// call. The manager, when attached, ends the session so its state moves to
// unauthenticated and a forced logout is published.
func (c *Client) endSession(ctx context.Context, k Kind) {
	inv, ok := c.auth.(Invalidator)
	if !ok {
		if k == KindUnauthorized {
			c.handleUnauthorized(ctx)
		}
		return
	}
	if c.cache != nil {
		c.cache.Clear()
	}
	c.log.WithField("kind", k).Warn("fetch: upstream rejected the session")
	inv.Invalidate(context.WithoutCancel(ctx), string(k))
}

// shouldRetry applies the kind classification to one attempt.
func shouldRetry(err error, resp *http.Response) bool {
	if err != nil {
		return Retryable(classifyTransport(err))
	}
	if resp == nil || (resp.StatusCode >= 200 && resp.StatusCode <= 299) {
		return false
	}
	return (&Error{Kind: StatusKind(resp.StatusCode)}).Retryable()
}

func (c *Client) logRetry(info retry.RetryInfo) {
	fields := logrus.Fields{
		"attempt": info.Attempt,
		"delay":   info.Delay.String(),
	}
	if info.StatusCode != 0 {
		fields["kind"] = StatusKind(info.StatusCode)
	} else if info.Err != nil {
		fields["kind"] = classifyTransport(info.Err).Kind
	}
	c.log.WithFields(fields).Info("fetch: retrying")
}

// CachedGet serves GET requests from the local cache when a fresh entry
// exists and stores successful replies otherwise. Entries are scoped to the
// current token.
func (c *Client) CachedGet(ctx context.Context, req model.RequestContext) (*Response, error) {
	req.Method = http.MethodGet
	if c.cache == nil {
		return c.DoWithRetry(ctx, req)
	}
	scope := ""
	if !req.Anonymous && c.auth != nil {
		if tok, ok := c.auth.ValidToken(); ok {
			scope = logging.TokenDigest(tok)
		}
	}
	key := cache.Key(http.MethodGet, req.URL(c.base), scope)
	if v, ok := c.cache.Get(key); ok {
		if res, ok := v.(*Response); ok {
			return res, nil
		}
	}
	res, err := c.DoWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, res)
	return res, nil
}
