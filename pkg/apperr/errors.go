package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes by how a caller should react to them
type Kind string

const (
	KindUnauthorized       Kind = "unauthorized"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindInvalid            Kind = "invalid"
	KindFailedPrecondition Kind = "failed_precondition"
	KindInternal           Kind = "internal"
)

// Error is a rejected operation. Two errors are equal under errors.Is when their codes match,
// so detail added with Withf does not break comparisons against the sentinel.
type Error struct {
	Code    string
	Kind    Kind
	Message string
}

func New(kind Kind, code, message string) *Error {
	return &Error{Code: code, Kind: kind, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Withf returns a copy of e with formatted detail appended to the message
func (e *Error) Withf(format string, args ...interface{}) *Error {
	return &Error{
		Code:    e.Code,
		Kind:    e.Kind,
		Message: fmt.Sprintf("%s: %s", e.Message, fmt.Sprintf(format, args...)),
	}
}

var (
	ErrInvalidArgument = New(KindInvalid, "InvalidArgument", "invalid argument")
	ErrNotSupported    = New(KindFailedPrecondition, "NotSupported", "operation not supported")
)

// Code returns the error code carried by err, or "Internal" for foreign errors
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "Internal"
}

// HTTPStatus maps err to a response status
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindUnauthorized:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvalid:
		return http.StatusBadRequest
	case KindFailedPrecondition:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
