// Package proxy forwards browser and CLI requests to the learning platform.
// Every endpoint family is a declarative Endpoint entry; one Forwarder turns
// entries into echo handlers.
package proxy

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/piewallah/pw-gateway/internal/config"
	"github.com/piewallah/pw-gateway/internal/schedule"
)

// AuthMode says what the endpoint does with the caller's Authorization.
type AuthMode int

const (
	// AuthOptional forwards Authorization when the caller sent one.
	AuthOptional AuthMode = iota
	// AuthRequired answers 401 unless a Bearer token is present.
	AuthRequired
)

// HeaderMode selects how upstream request headers are produced.
type HeaderMode int

const (
	// HeadersForward sends JSON accept/content-type plus the caller's
	// Authorization and vendor headers.
	HeadersForward HeaderMode = iota
	// HeadersSynthesize builds the full vendor header set server side with
	// a fresh correlation id.
	HeadersSynthesize
	// HeadersRaw copies the inbound headers minus host, origin and referer.
	HeadersRaw
)

// Endpoint describes one upstream resource family.
//
// Path is a template; {name} placeholders are filled from echo path params
// first and query params second. When PathQuery is set the upstream path is
// taken from that query parameter instead (string or repeated, joined
// with "/").
type Endpoint struct {
	Name      string
	Route     string // echo route under the /api group
	BaseURL   string
	Path      string
	PathQuery string

	PathParams []string          // required echo path params
	Required   []string          // required query params
	Defaults   map[string]string // query defaults applied before forwarding
	Forward    []string          // query params sent upstream; nil sends all unconsumed
	Methods    []string          // allowed methods; nil allows any

	Auth      AuthMode
	Headers   HeaderMode
	JSONOnly  bool // non-JSON upstream bodies become a 500 wrapper
	Binary    bool // stream bytes through untouched
	Cacheable bool // serve GETs from the local FIFO cache
	Burst     int  // rate-limit bucket size; 0 uses the gateway default

	Transform func(body any) any // applied to 2xx JSON bodies
}

var readOnly = []string{http.MethodGet}

// Endpoints returns the endpoint table for the gateway.
func Endpoints(cfg config.Config) []Endpoint {
	fallback := cfg.ThumbnailFallback
	return []Endpoint{
		{
			Name:       "announcement",
			Route:      "/announcements/:batchId",
			BaseURL:    cfg.UpstreamBaseURL,
			Path:       "/announcement-api/v1/batches/{batchId}/announcement",
			PathParams: []string{"batchId"},
			Methods:    readOnly,
			Auth:       AuthOptional,
			Headers:    HeadersSynthesize,
			JSONOnly:   true,
		},
		{
			Name:      "generic",
			Route:     "/proxy",
			BaseURL:   cfg.UpstreamBaseURL,
			PathQuery: "path",
			Auth:      AuthOptional,
			Headers:   HeadersSynthesize,
			Burst:     60,
		},
		{
			Name:      "schedule-details",
			Route:     "/schedule-details",
			BaseURL:   cfg.UpstreamBaseURL,
			Path:      "/v1/batches/{batchId}/subject/{subjectId}/schedule/{scheduleId}/schedule-details",
			Required:  []string{"batchId", "subjectId", "scheduleId"},
			Forward:   []string{},
			Methods:   readOnly,
			Auth:      AuthRequired,
			Headers:   HeadersForward,
			JSONOnly:  true,
			Cacheable: true,
		},
		{
			Name:      "todays-schedule",
			Route:     "/todays-schedule",
			BaseURL:   cfg.UpstreamBaseURL,
			Path:      "/v1/batches/{batchId}/todays-schedule",
			Required:  []string{"batchId"},
			Defaults:  map[string]string{"isNewStudyMaterialFlow": "true"},
			Forward:   []string{"isNewStudyMaterialFlow"},
			Methods:   readOnly,
			Auth:      AuthRequired,
			Headers:   HeadersForward,
			JSONOnly:  true,
			Transform: func(body any) any {
				return schedule.ApplyImageFallback(body, fallback)
			},
		},
		{
			Name:     "topics",
			Route:    "/topics",
			BaseURL:  cfg.UpstreamBaseURL,
			Path:     "/v2/batches/{batchId}/subject/{subjectId}/topics",
			Required: []string{"batchId", "subjectId"},
			Defaults: map[string]string{"page": "1"},
			Forward:  []string{"page"},
			Methods:  readOnly,
			Auth:     AuthRequired,
			Headers:  HeadersSynthesize,
			JSONOnly: true,
		},
		{
			Name:     "weekly-planner",
			Route:    "/weekly-planner",
			BaseURL:  cfg.UpstreamBaseURL,
			Path:     "/v1/batches/{batchId}/weekly-planner",
			Required: []string{"batchId", "startDate"},
			Forward:  []string{"startDate"},
			Methods:  readOnly,
			Auth:     AuthRequired,
			Headers:  HeadersForward,
			JSONOnly: true,
		},
		{
			Name:      "video-content",
			Route:     "/video",
			BaseURL:   cfg.VideoAPIBaseURL,
			PathQuery: "path",
			Auth:      AuthOptional,
			Headers:   HeadersForward,
			JSONOnly:  true,
		},
		{
			Name:      "video-segment",
			Route:     "/video-segment",
			BaseURL:   cfg.CDNBaseURL,
			PathQuery: "path",
			Auth:      AuthOptional,
			Headers:   HeadersRaw,
			Binary:    true,
			Burst:     600, // players pull segments in bursts
		},
	}
}

// Find returns the endpoint with the given name.
func Find(eps []Endpoint, name string) (Endpoint, bool) {
	for _, ep := range eps {
		if ep.Name == name {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// Router is satisfied by *echo.Echo and *echo.Group.
type Router interface {
	Any(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) []*echo.Route
}

// Mount registers every endpoint on r.
func (f *Forwarder) Mount(r Router, eps []Endpoint) {
	for _, ep := range eps {
		r.Any(ep.Route, f.Handler(ep))
	}
}
