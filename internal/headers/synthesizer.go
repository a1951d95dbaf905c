// Package headers builds the header set the learning-platform API expects
// on every call.
package headers

import (
	"net/http"

	"github.com/google/uuid"
)

// Upstream header names.
const (
	ClientID      = "client-id"
	ClientType    = "client-type"
	ClientVersion = "client-version"
	APIVersion    = "version"
	CorrelationID = "randomid"
	Authorization = "Authorization"
)

// TokenSource reports the current access token when it is still valid.
type TokenSource interface {
	ValidToken() (string, bool)
}

// Identity is the fixed client description sent with every request.
type Identity struct {
	ClientID      string
	ClientType    string
	ClientVersion string
	APIVersion    string
	UserAgent     string
}

// Synthesizer builds per-call headers. It has no side effects.
type Synthesizer struct {
	id     Identity
	tokens TokenSource
	newID  func() string
}

// New returns a Synthesizer. tokens may be nil, in which case only
// BuildWithToken attaches authorization.
func New(id Identity, tokens TokenSource) *Synthesizer {
	return &Synthesizer{id: id, tokens: tokens, newID: uuid.NewString}
}

// Build returns the baseline set plus Authorization when the token source
// holds a valid token. Overrides replace baseline values.
func (s *Synthesizer) Build(overrides http.Header) http.Header {
	token := ""
	if s.tokens != nil {
		if t, ok := s.tokens.ValidToken(); ok {
			token = t
		}
	}
	return s.BuildWithToken(token, overrides)
}

// BuildWithToken is Build with an explicit token, used when the caller
// supplied its own bearer.
func (s *Synthesizer) BuildWithToken(token string, overrides http.Header) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Content-Type", "application/json")
	h.Set(ClientID, s.id.ClientID)
	h.Set(ClientType, s.id.ClientType)
	h.Set(ClientVersion, s.id.ClientVersion)
	h.Set(APIVersion, s.id.APIVersion)
	if s.id.UserAgent != "" {
		h.Set("User-Agent", s.id.UserAgent)
	}
	// regenerated on every call, the upstream traces requests by it
	h.Set(CorrelationID, s.newID())
	if token != "" {
		h.Set(Authorization, "Bearer "+token)
	}
	for k, vals := range overrides {
		h.Del(k)
		for _, v := range vals {
			h.Add(k, v)
		}
	}
	return h
}
