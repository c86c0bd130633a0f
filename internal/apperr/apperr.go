// Package apperr defines the error taxonomy shared by the pipeline, the
// query service and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindPrecondition Kind = "precondition"
	KindConflict     Kind = "conflict"
	KindUpstream     Kind = "upstream"
	KindInternal     Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) error   { return newf(KindValidation, format, args...) }
func NotFoundf(format string, args ...any) error     { return newf(KindNotFound, format, args...) }
func Preconditionf(format string, args ...any) error { return newf(KindPrecondition, format, args...) }
func Conflictf(format string, args ...any) error     { return newf(KindConflict, format, args...) }

// Upstream wraps a provider failure (STT/LLM error or timeout).
func Upstream(err error, format string, args ...any) error {
	e := newf(KindUpstream, format, args...)
	e.Err = err
	return e
}

// Internal wraps an unexpected failure, usually from the datastore.
func Internal(err error, format string, args ...any) error {
	e := newf(KindInternal, format, args...)
	e.Err = err
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func IsValidation(err error) bool   { return is(err, KindValidation) }
func IsNotFound(err error) bool     { return is(err, KindNotFound) }
func IsPrecondition(err error) bool { return is(err, KindPrecondition) }
func IsConflict(err error) bool     { return is(err, KindConflict) }
func IsUpstream(err error) bool     { return is(err, KindUpstream) }

// HTTPStatus maps an error onto the status code surfaced to API clients.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPrecondition:
		return http.StatusPreconditionFailed
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage hides internal detail from clients.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal error"
}
