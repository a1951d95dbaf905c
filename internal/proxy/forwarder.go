package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/piewallah/pw-gateway/internal/cache"
	"github.com/piewallah/pw-gateway/internal/fetch"
	"github.com/piewallah/pw-gateway/internal/headers"
	"github.com/piewallah/pw-gateway/internal/logging"
)

// Error messages of the proxy envelope.
const (
	MsgNonJSON      = "Upstream API returned non-JSON response"
	MsgProxyError   = "Proxy error"
	MsgUnavailable  = "Upstream unavailable"
	MsgUnauthorized = "Authorization header missing or malformed"
	MsgMethod       = "Method not allowed"
)

// detailsLimit bounds the upstream body echoed back in the non-JSON wrapper.
const detailsLimit = 500

// Headers never copied from the caller to the CDN.
var strippedRequestHeaders = []string{"Host", "Origin", "Referer", "Accept-Encoding", "Connection", "Cookie"}

// Headers never copied from the CDN back to the caller.
var strippedResponseHeaders = []string{"Content-Encoding", "Content-Length", "Connection", "Transfer-Encoding"}

// Vendor headers a forwarding endpoint copies from the caller.
var vendorHeaders = []string{
	headers.ClientID, headers.ClientType, headers.ClientVersion,
	headers.APIVersion, headers.CorrelationID, "User-Agent",
}

// Options configures a Forwarder.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Headers    *headers.Synthesizer
	Cache      *cache.FIFO
	Breakers   *Breakers
	Log        logrus.FieldLogger
}

// Forwarder performs single forwarded requests. It never retries.
type Forwarder struct {
	http     *http.Client
	timeout  time.Duration
	headers  *headers.Synthesizer
	cache    *cache.FIFO
	breakers *Breakers
	log      logrus.FieldLogger
}

func NewForwarder(opts Options) *Forwarder {
	f := &Forwarder{
		http:     opts.HTTPClient,
		timeout:  opts.Timeout,
		headers:  opts.Headers,
		cache:    opts.Cache,
		breakers: opts.Breakers,
		log:      opts.Log,
	}
	if f.http == nil {
		f.http = &http.Client{}
	}
	if f.timeout <= 0 {
		f.timeout = 30 * time.Second
	}
	if f.headers == nil {
		f.headers = headers.New(headers.Identity{}, nil)
	}
	if f.log == nil {
		f.log = logging.Discard()
	}
	return f
}

// reply is an upstream answer as read off the wire.
type reply struct {
	status int
	header http.Header
	body   []byte
}

// errUpstreamFailure marks 5xx replies so the breaker counts them while the
// status is still passed through.
var errUpstreamFailure = errors.New("upstream answered 5xx")

func fail(c echo.Context, status int, msg string, extra ...string) error {
	body := echo.Map{"success": false, "error": msg}
	if len(extra) == 2 {
		body[extra[0]] = extra[1]
	}
	return c.JSON(status, body)
}

// Handler returns the echo handler for ep.
func (f *Forwarder) Handler(ep Endpoint) echo.HandlerFunc {
	return func(c echo.Context) error {
		SetCORS(c.Response().Header())
		req := c.Request()
		if req.Method == http.MethodOptions {
			return c.NoContent(http.StatusOK)
		}
		if len(ep.Methods) > 0 && !slices.Contains(ep.Methods, req.Method) {
			c.Response().Header().Set("Allow", strings.Join(append(slices.Clone(ep.Methods), http.MethodOptions), ", "))
			return fail(c, http.StatusMethodNotAllowed, MsgMethod)
		}

		target, missing := f.buildURL(c, ep)
		if missing != "" {
			return fail(c, http.StatusBadRequest, missing+" is required")
		}

		token, hasBearer := bearer(req.Header.Get("Authorization"))
		if ep.Auth == AuthRequired && !hasBearer {
			return fail(c, http.StatusUnauthorized, MsgUnauthorized)
		}

		log := f.log.WithFields(logrus.Fields{"family": ep.Name, "method": req.Method})
		if hasBearer {
			log = log.WithField("subject", logging.TokenDigest(token))
		}

		cacheKey := ""
		if ep.Cacheable && f.cache != nil && req.Method == http.MethodGet {
			cacheKey = cache.Key(http.MethodGet, target, logging.TokenDigest(token))
			if v, ok := f.cache.Get(cacheKey); ok {
				if r, ok := v.(*reply); ok {
					c.Response().Header().Set("X-Cache", "HIT")
					return f.write(c, ep, r)
				}
			}
		}

		var payload []byte
		if req.Body != nil && req.Method != http.MethodGet && req.Method != http.MethodHead {
			b, err := io.ReadAll(req.Body)
			if err != nil {
				return fail(c, http.StatusBadRequest, "invalid request body")
			}
			payload = b
		}

		res, err := f.breakers.Execute(ep.Name, func() (any, error) {
			r, err := f.do(req.Context(), ep, req, target, token, hasBearer, payload)
			if err == nil && r.status >= 500 {
				return r, errUpstreamFailure
			}
			return r, err
		})
		r, _ := res.(*reply)
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			log.Warn("proxy: breaker open, rejecting request")
			return fail(c, http.StatusServiceUnavailable, MsgUnavailable, "message", err.Error())
		case err != nil && !errors.Is(err, errUpstreamFailure):
			log.WithError(err).Error("proxy: upstream call failed")
			return fail(c, http.StatusInternalServerError, MsgProxyError, "message", err.Error())
		}

		log.WithField("status", r.status).Debug("proxy: forwarded")
		if cacheKey != "" && r.status >= 200 && r.status < 300 {
			f.cache.Set(cacheKey, r)
		}
		return f.write(c, ep, r)
	}
}

// buildURL resolves the upstream URL. The second result names the first
// missing required parameter.
func (f *Forwarder) buildURL(c echo.Context, ep Endpoint) (string, string) {
	for _, p := range ep.PathParams {
		if strings.TrimSpace(c.Param(p)) == "" {
			return "", p
		}
	}
	inbound := c.QueryParams()
	for _, q := range ep.Required {
		if strings.TrimSpace(inbound.Get(q)) == "" {
			return "", q
		}
	}

	consumed := map[string]bool{}
	var path string
	if ep.PathQuery != "" {
		segs := inbound[ep.PathQuery]
		joined := strings.Trim(strings.Join(segs, "/"), "/")
		if joined == "" {
			return "", ep.PathQuery
		}
		path = "/" + joined
		consumed[ep.PathQuery] = true
	} else {
		path = ep.Path
		for _, p := range ep.PathParams {
			path = strings.ReplaceAll(path, "{"+p+"}", url.PathEscape(c.Param(p)))
		}
		for _, q := range ep.Required {
			ph := "{" + q + "}"
			if strings.Contains(path, ph) {
				path = strings.ReplaceAll(path, ph, url.PathEscape(inbound.Get(q)))
				consumed[q] = true
			}
		}
	}

	out := url.Values{}
	if ep.Forward == nil {
		for k, vs := range inbound {
			if !consumed[k] {
				out[k] = vs
			}
		}
	} else {
		for _, k := range ep.Forward {
			if v := inbound.Get(k); v != "" {
				out.Set(k, v)
			}
		}
	}
	for k, v := range ep.Defaults {
		if out.Get(k) == "" {
			out.Set(k, v)
		}
	}

	target := strings.TrimRight(ep.BaseURL, "/") + path
	if q := out.Encode(); q != "" {
		target += "?" + q
	}
	return target, ""
}

func (f *Forwarder) do(ctx context.Context, ep Endpoint, in *http.Request, target, token string, hasBearer bool, payload []byte) (*reply, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	out, err := http.NewRequestWithContext(ctx, in.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	switch ep.Headers {
	case HeadersSynthesize:
		tok := ""
		if hasBearer {
			tok = token
		}
		out.Header = f.headers.BuildWithToken(tok, nil)
	case HeadersRaw:
		out.Header = in.Header.Clone()
		for _, h := range strippedRequestHeaders {
			out.Header.Del(h)
		}
	default:
		out.Header.Set("Accept", "application/json")
		out.Header.Set("Content-Type", "application/json")
		for _, h := range vendorHeaders {
			if v := in.Header.Get(h); v != "" {
				out.Header.Set(h, v)
			}
		}
		if hasBearer {
			out.Header.Set("Authorization", "Bearer "+token)
		}
	}

	res, err := f.http.Do(out)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	return &reply{status: res.StatusCode, header: res.Header, body: raw}, nil
}

// write emits an upstream reply with its status passed through.
func (f *Forwarder) write(c echo.Context, ep Endpoint, r *reply) error {
	ct := r.header.Get("Content-Type")
	if ep.Binary {
		h := c.Response().Header()
		for k, vs := range r.header {
			if slices.ContainsFunc(strippedResponseHeaders, func(s string) bool { return strings.EqualFold(s, k) }) {
				continue
			}
			if strings.HasPrefix(strings.ToLower(k), "access-control-") {
				continue
			}
			for _, v := range vs {
				h.Add(k, v)
			}
		}
		if ct == "" {
			ct = echo.MIMEOctetStream
		}
		return c.Blob(r.status, ct, r.body)
	}

	if len(bytes.TrimSpace(r.body)) == 0 {
		// 204 and 304 carry no body by definition.
		if ep.JSONOnly && r.status != http.StatusNoContent && r.status != http.StatusNotModified {
			return fail(c, http.StatusInternalServerError, MsgNonJSON, "details", "")
		}
		return c.NoContent(r.status)
	}
	parsed, isJSON := fetch.ParseBody(ct, r.body)
	if !isJSON {
		if ep.JSONOnly {
			return fail(c, http.StatusInternalServerError, MsgNonJSON, "details", truncate(string(r.body), detailsLimit))
		}
		if ct == "" {
			ct = echo.MIMETextPlainCharsetUTF8
		}
		return c.Blob(r.status, ct, r.body)
	}
	if ep.Transform != nil && r.status >= 200 && r.status < 300 {
		return c.JSON(r.status, ep.Transform(parsed))
	}
	return c.JSONBlob(r.status, bytes.TrimSpace(r.body))
}

// bearer extracts the token of a "Bearer <token>" header.
func bearer(h string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
