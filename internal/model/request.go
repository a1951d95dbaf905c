package model

import (
	"net/http"
	"net/url"
	"strings"
)

// QueryParam is one key/value pair of an ordered query string.
type QueryParam struct {
	Key   string
	Value string
}

// RequestContext describes a single outbound call. It is built per call and
// never persisted.
type RequestContext struct {
	Method       string
	TargetPath   string       // absolute URL or path relative to the client base URL
	Query        []QueryParam // ordered, keys unique
	Body         any          // JSON-serialized for methods other than GET/HEAD
	ExtraHeaders http.Header  // overrides applied over synthesized headers
	Anonymous    bool         // skip token validation and Authorization
}

// SetQuery sets key to value, replacing an earlier value in place so key
// order stays stable.
func (r *RequestContext) SetQuery(key, value string) {
	for i := range r.Query {
		if r.Query[i].Key == key {
			r.Query[i].Value = value
			return
		}
	}
	r.Query = append(r.Query, QueryParam{Key: key, Value: value})
}

// EncodeQuery renders the query in insertion order.
func (r RequestContext) EncodeQuery() string {
	if len(r.Query) == 0 {
		return ""
	}
	parts := make([]string, 0, len(r.Query))
	for _, p := range r.Query {
		parts = append(parts, url.QueryEscape(p.Key)+"="+url.QueryEscape(p.Value))
	}
	return strings.Join(parts, "&")
}

// URL joins base and TargetPath and appends the query. Absolute target
// paths ignore base.
func (r RequestContext) URL(base string) string {
	target := r.TargetPath
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(target, "/")
	}
	if q := r.EncodeQuery(); q != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + q
	}
	return target
}

// HTTPMethod returns the upper-cased method, defaulting to GET.
func (r RequestContext) HTTPMethod() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}
