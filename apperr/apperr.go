// Package apperr is the error taxonomy shared by the quest engine and its
// collaborators. Every engine operation reports failures as an *Error so that
// callers can map the Kind onto their own surface (HTTP status, voice script).
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind discriminates engine failures.
type Kind int

const (
	KindPersistenceFailure Kind = iota
	KindNotFound
	KindInvalidState
	KindInvalidCredential
	KindInvalidRequest
	KindTransportFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindInvalidRequest:
		return "invalid_request"
	case KindTransportFailure:
		return "transport_failure"
	default:
		return "persistence_failure"
	}
}

// HTTPStatus maps a Kind to the status code the REST layer answers with.
// A wrong answer is 406 so it can be counted apart from malformed requests.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusConflict
	case KindInvalidCredential:
		return http.StatusNotAcceptable
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindTransportFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, apperr.ErrInvalidState) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrInvalidCredential  = &Error{Kind: KindInvalidCredential}
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest}
	ErrTransportFailure   = &Error{Kind: KindTransportFailure}
	ErrPersistenceFailure = &Error{Kind: KindPersistenceFailure}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

func InvalidCredential(format string, args ...any) *Error {
	return New(KindInvalidCredential, format, args...)
}

func InvalidRequest(format string, args ...any) *Error {
	return New(KindInvalidRequest, format, args...)
}

// KindOf returns the Kind carried by err. Unclassified errors are treated as
// persistence failures since that is the only layer that produces them.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistenceFailure
}

// Message returns the human-readable part of err without the kind prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}
