// Package apperr is the error taxonomy shared by the stores, the REST
// handlers and the realtime router.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindAlreadyInState
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindAlreadyInState:
		return "already_in_state"
	default:
		return "internal"
	}
}

// Error is a classified failure. Two errors match under errors.Is when their
// codes are equal, so a detailed error still matches its sentinel.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrValidation         = &Error{Kind: KindValidation, Code: "validation_error", Msg: "validation failed"}
	ErrNotFound           = &Error{Kind: KindNotFound, Code: "not_found", Msg: "not found"}
	ErrForbiddenOperation = &Error{Kind: KindForbidden, Code: "forbidden", Msg: "operation not allowed"}
	ErrNotAMember         = &Error{Kind: KindValidation, Code: "not_a_member", Msg: "not a member of this channel"}
	ErrInvalidMember      = &Error{Kind: KindValidation, Code: "invalid_member", Msg: "some members are not valid users"}
	ErrAlreadyInState     = &Error{Kind: KindAlreadyInState, Code: "already_in_state", Msg: "already in requested state"}
	ErrInternal           = &Error{Kind: KindInternal, Code: "internal", Msg: "internal server error"}
)

func newf(base *Error, format string, args ...any) error {
	return &Error{Kind: base.Kind, Code: base.Code, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error { return newf(ErrValidation, format, args...) }
func NotFound(format string, args ...any) error   { return newf(ErrNotFound, format, args...) }
func Forbidden(format string, args ...any) error  { return newf(ErrForbiddenOperation, format, args...) }
func NotAMember(format string, args ...any) error { return newf(ErrNotAMember, format, args...) }
func InvalidMember(format string, args ...any) error {
	return newf(ErrInvalidMember, format, args...)
}
func AlreadyInState(format string, args ...any) error {
	return newf(ErrAlreadyInState, format, args...)
}

// Internal wraps an infrastructure failure with a stack and context message.
func Internal(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

func as(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf classifies err; anything unclassified is internal.
func KindOf(err error) Kind {
	if e, ok := as(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Code returns the machine readable code used in error events.
func Code(err error) string {
	if e, ok := as(err); ok {
		return e.Code
	}
	return ErrInternal.Code
}

// Message returns the text safe to show to a client. Internal errors are
// never exposed verbatim.
func Message(err error) string {
	if e, ok := as(err); ok && e.Kind != KindInternal {
		return e.Msg
	}
	return ErrInternal.Msg
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindAlreadyInState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
