package domain

import (
	"errors"
	"log/slog"
	"net/http"
)

// Kind classifies every failure the gateway can report to a caller.
type Kind uint8

const (
	KindInternal Kind = iota
	KindPayloadTooLarge
	KindMethodNotAllowed
	KindUnauthorized
	KindNotFound
	KindUpstreamConnection
	KindUpstreamTimeout
	KindBadRequest
)

var kindInfo = map[Kind]struct {
	name    string
	code    string
	status  int
	message string
}{
	KindInternal:           {"Internal", "internal_error", http.StatusInternalServerError, "internal server error"},
	KindPayloadTooLarge:    {"PayloadTooLarge", "payload_too_large", http.StatusRequestEntityTooLarge, "request body is too large"},
	KindMethodNotAllowed:   {"MethodNotAllowed", "method_not_allowed", http.StatusMethodNotAllowed, "method not allowed"},
	KindUnauthorized:       {"Unauthorized", "unauthorized", http.StatusUnauthorized, "invalid or missing credentials"},
	KindNotFound:           {"NotFound", "not_found", http.StatusNotFound, "no route matches the request"},
	KindUpstreamConnection: {"UpstreamConnectionError", "upstream_unavailable", http.StatusBadGateway, "upstream service is unavailable"},
	KindUpstreamTimeout:    {"UpstreamTimeoutError", "upstream_timeout", http.StatusGatewayTimeout, "upstream service timed out"},
	KindBadRequest:         {"BadRequest", "bad_request", http.StatusBadRequest, "malformed request body"},
}

func (k Kind) String() string { return kindInfo[k].name }

// Code is the machine readable value of the envelope's error.code.
func (k Kind) Code() string { return kindInfo[k].code }

func (k Kind) StatusCode() int { return kindInfo[k].status }

// Reason distinguishes Unauthorized failures. It is logged, never sent.
type Reason string

const (
	ReasonExpired         Reason = "expired"
	ReasonInvalid         Reason = "invalid"
	ReasonWrongType       Reason = "wrong_type"
	ReasonMissingSubject  Reason = "missing_subject"
	ReasonMalformedHeader Reason = "malformed_header"
	ReasonRevoked         Reason = "revoked"
)

// Error is the tagged failure propagated up to the response step.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string // generic, safe for the wire
	Err     error  // cause, for logs
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Reason != "" {
		s += "(" + string(e.Reason) + ")"
	}
	s += ": " + e.Message
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind, and on reason when the target names one, so
// errors.Is(err, ErrUnauthorized) holds for every Unauthorized reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

func (e *Error) StatusCode() int { return e.Kind.StatusCode() }

// LogValue groups kind, reason and cause under one attribute.
func (e *Error) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("kind", e.Kind.String())}
	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", string(e.Reason)))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("detail", e.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}

func (e *Error) Code() string { return e.Kind.Code() }

// WireMessage is the envelope message. Only internal errors carry detail,
// and only when exposeDetail is set.
func (e *Error) WireMessage(exposeDetail bool) string {
	if exposeDetail && e.Kind == KindInternal && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

var (
	ErrPayloadTooLarge  = newError(KindPayloadTooLarge, "", nil)
	ErrMethodNotAllowed = newError(KindMethodNotAllowed, "", nil)
	ErrNotFound         = newError(KindNotFound, "", nil)
	ErrInternal         = newError(KindInternal, "", nil)

	ErrUpstreamConnection = newError(KindUpstreamConnection, "", nil)
	ErrUpstreamTimeout    = newError(KindUpstreamTimeout, "", nil)

	// ErrBadRequest is only raised by the token endpoints.
	ErrBadRequest = newError(KindBadRequest, "", nil)

	ErrUnauthorized        = newError(KindUnauthorized, "", nil)
	ErrTokenExpired        = newError(KindUnauthorized, ReasonExpired, nil)
	ErrTokenInvalid        = newError(KindUnauthorized, ReasonInvalid, nil)
	ErrTokenWrongType      = newError(KindUnauthorized, ReasonWrongType, nil)
	ErrTokenMissingSubject = newError(KindUnauthorized, ReasonMissingSubject, nil)
	ErrMalformedHeader     = newError(KindUnauthorized, ReasonMalformedHeader, nil)
	ErrTokenRevoked        = newError(KindUnauthorized, ReasonRevoked, nil)
)

func newError(kind Kind, reason Reason, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Message: kindInfo[kind].message, Err: err}
}

func Unauthorized(reason Reason, cause error) *Error {
	return newError(KindUnauthorized, reason, cause)
}

func UpstreamConnection(cause error) *Error { return newError(KindUpstreamConnection, "", cause) }

func UpstreamTimeout(cause error) *Error { return newError(KindUpstreamTimeout, "", cause) }

func BadRequest(cause error) *Error { return newError(KindBadRequest, "", cause) }

func Internal(cause error) *Error { return newError(KindInternal, "", cause) }

// AsError returns the tagged error in err's chain, or wraps err as Internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
