package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a failure. Callers branch on kinds, never on transport
// errors.
type Kind string

const (
	KindOffline      Kind = "offline"
	KindTimeout      Kind = "timeout"
	KindNetwork      Kind = "network-error"
	KindCORS         Kind = "cors-error"
	KindCertificate  Kind = "certificate-error"
	KindCanceled     Kind = "canceled"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not-found"
	KindRateLimited  Kind = "rate-limited"
	KindServer       Kind = "server-error"
	KindBadGateway   Kind = "bad-gateway"
	KindUnavailable  Kind = "service-unavailable"
	KindHTTP         Kind = "generic-http-error"
	KindNonJSON      Kind = "upstream-non-json"
	KindProxy        Kind = "proxy-exception"
)

// Error is the only error type the client returns.
type Error struct {
	Kind    Kind
	Status  int    // HTTP status when the upstream answered, 0 otherwise
	Message string // human readable
	Body    any    // parsed error body, if any
	Err     error  // underlying cause
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same call may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindUnauthorized, KindForbidden, KindCertificate, KindCanceled:
		return false
	}
	return true
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }

// Retryable reports whether err may be retried. Errors that are not *Error
// are treated as retryable network failures.
func Retryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return err != nil && !errors.Is(err, context.Canceled)
}

// StatusKind maps a non-2xx status to a kind.
func StatusKind(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusBadGateway:
		return KindBadGateway
	case status == http.StatusServiceUnavailable:
		return KindUnavailable
	case status >= 500:
		return KindServer
	}
	return KindHTTP
}

// statusMessage is the default text for an HTTP failure kind.
func statusMessage(k Kind, status int) string {
	switch k {
	case KindUnauthorized:
		return "session expired, please log in again"
	case KindForbidden:
		return "access to this resource is not allowed"
	case KindNotFound:
		return "resource not found"
	case KindRateLimited:
		return "too many requests, slow down"
	case KindBadGateway:
		return "upstream returned a bad gateway response"
	case KindUnavailable:
		return "upstream is temporarily unavailable"
	case KindServer:
		return "upstream server error"
	}
	return fmt.Sprintf("request failed with status %d", status)
}

// classifyTransport converts an error from the HTTP round trip.
func classifyTransport(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Message: "request canceled", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	case isCertificateError(err):
		return &Error{Kind: KindCertificate, Message: "upstream certificate rejected", Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	}
	return &Error{Kind: KindNetwork, Message: "network error: " + err.Error(), Err: err}
}

func isCertificateError(err error) bool {
	var (
		unknown  x509.UnknownAuthorityError
		invalid  x509.CertificateInvalidError
		hostname x509.HostnameError
		verify   *tls.CertificateVerificationError
	)
	return errors.As(err, &unknown) || errors.As(err, &invalid) ||
		errors.As(err, &hostname) || errors.As(err, &verify)
}
