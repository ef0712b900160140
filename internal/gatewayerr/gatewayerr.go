// Package gatewayerr defines the closed error taxonomy the gateway's
// components return upward. Only the request router translates a Kind
// into an HTTP status code; every other layer just propagates *Error.
package gatewayerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the gateway's known failure modes. It is a
// closed set — new kinds are added here, never invented ad hoc at a
// call site.
type Kind string

const (
	// QuotaExceeded is a policy decision: the monthly call budget is spent.
	QuotaExceeded Kind = "quota_exceeded"
	// BreakerOpen is a policy decision: the breaker is shedding load.
	BreakerOpen Kind = "breaker_open"
	// UpstreamTransientFailure covers transport errors, 5xx, 429, timeouts,
	// and malformed bodies from the upstream provider.
	UpstreamTransientFailure Kind = "upstream_transient_failure"
	// UpstreamClientError covers upstream 4xx other than 429; passed
	// through to the caller largely as-is.
	UpstreamClientError Kind = "upstream_client_error"
	// StoreUnavailable covers KV store transport/timeout failures.
	StoreUnavailable Kind = "store_unavailable"
	// ParameterValidation covers malformed inbound query parameters.
	ParameterValidation Kind = "parameter_validation"
)

// statusByKind is the sole place HTTP status codes are chosen for a Kind.
var statusByKind = map[Kind]int{
	QuotaExceeded:            http.StatusTooManyRequests,
	BreakerOpen:              http.StatusServiceUnavailable,
	UpstreamTransientFailure: http.StatusBadGateway,
	UpstreamClientError:      0, // caller supplies the upstream's own status
	StoreUnavailable:         http.StatusServiceUnavailable,
	ParameterValidation:      http.StatusBadRequest,
}

// Error is the concrete type every gateway component returns for a
// recognized failure. Detail is a human-readable string safe to expose
// to callers; Cause, if set, is the wrapped underlying error.
type Error struct {
	Kind       Kind
	Detail     string
	Status     int // overrides statusByKind when non-zero (e.g. passthrough upstream status)
	RetryAfter string
	Cause      error

	// Body, when set, is the verbatim upstream response to forward instead
	// of the gateway's own JSON error envelope (used for UpstreamClientError,
	// where the caller wants the upstream's own 4xx body as-is).
	Body []byte
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code this error should surface as.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return statusByKind[e.Kind]
}

// New builds an *Error of the given kind with a detail string.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds an *Error of the given kind wrapping a lower-level cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// WithStatus overrides the HTTP status this error surfaces as, for
// UpstreamClientError's passthrough-the-upstream's-own-status case.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithBody attaches the verbatim upstream response body to forward
// instead of the gateway's own JSON error envelope.
func (e *Error) WithBody(body []byte) *Error {
	e.Body = body
	return e
}

// WithRetryAfter sets the RFC3339 timestamp surfaced on a BreakerOpen
// response's retry_after field.
func (e *Error) WithRetryAfter(t string) *Error {
	e.RetryAfter = t
	return e
}

// As is a thin convenience wrapper over errors.As for pulling a *Error
// out of an error chain.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
