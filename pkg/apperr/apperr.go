// Package apperr defines the error kinds surfaced across subsystem
// boundaries. Internal code wraps causes with fmt.Errorf and converts to an
// *Error at the point where the kind becomes known.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration is a missing or invalid setting. Fatal for the
	// affected subsystem only.
	KindConfiguration
	// KindConnection means a corpus source is unreachable; the subsystem
	// degrades to empty or mock data.
	KindConnection
	// KindQuery is a live database execution failure.
	KindQuery
	// KindSafety is a safety gate rejection. Never retryable.
	KindSafety
	// KindUpstream is an LLM failure: non-2xx, timeout, or unusable output.
	KindUpstream
	// KindInvalid is a malformed client request.
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindConnection:
		return "connection"
	case KindQuery:
		return "query"
	case KindSafety:
		return "safety_violation"
	case KindUpstream:
		return "upstream"
	case KindInvalid:
		return "invalid_request"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind      Kind
	Op        string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return e.Op
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so callers can write
// errors.Is(err, &apperr.Error{Kind: apperr.KindSafety}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Configuration(op string, err error) *Error { return New(KindConfiguration, op, err) }

func Connection(op string, err error) *Error { return New(KindConnection, op, err) }

func Query(op string, err error) *Error { return New(KindQuery, op, err) }

func Invalid(op string, err error) *Error { return New(KindInvalid, op, err) }

// Safety builds a gate rejection from a human-readable reason.
func Safety(reason string) *Error {
	return &Error{Kind: KindSafety, Err: errors.New(reason)}
}

func Upstream(op string, err error, retryable bool) *Error {
	return &Error{Kind: KindUpstream, Op: op, Err: err, Retryable: retryable}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// HTTPStatus maps an error to the status code the transport should use.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalid:
		return http.StatusBadRequest
	case KindSafety:
		return http.StatusForbidden
	case KindUpstream:
		if IsRetryable(err) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case KindConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
