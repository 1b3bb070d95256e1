// Package apperr defines the error kinds surfaced by the chat services and
// their mapping onto HTTP and socket responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the caller.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindNotAuthorized
	KindNotFound
	KindConflict
)

// Error is a classified application error.
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

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, apperr.ErrAuthentication) works for any message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Kind sentinels for errors.Is.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrNotAuthorized  = &Error{Kind: KindNotAuthorized}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrConflict       = &Error{Kind: KindConflict}
)

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotAuthenticated is the message of every missing, expired or invalid
// token failure.
const NotAuthenticated = "Not authenticated"

// Authentication returns an authentication error. Callers pass the same
// message for every root cause so that responses do not leak which check
// failed; the cause is kept for logging.
func Authentication(message string, cause error) *Error {
	return &Error{Kind: KindAuthentication, Message: message, Err: cause}
}

func NotAuthorized(format string, args ...any) *Error {
	return &Error{Kind: KindNotAuthorized, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: cause}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Payload is the wire form of an error.
type Payload struct {
	Name      string `json:"name"`
	Message   string `json:"message"`
	Code      int    `json:"code"`
	ClassName string `json:"className"`
}

type wireKind struct {
	name      string
	className string
	status    int
}

var wireKinds = map[Kind]wireKind{
	KindInternal:       {"GeneralError", "general-error", http.StatusInternalServerError},
	KindValidation:     {"BadRequest", "bad-request", http.StatusBadRequest},
	KindAuthentication: {"NotAuthenticated", "not-authenticated", http.StatusUnauthorized},
	KindNotAuthorized:  {"Forbidden", "forbidden", http.StatusForbidden},
	KindNotFound:       {"NotFound", "not-found", http.StatusNotFound},
	KindConflict:       {"Conflict", "conflict", http.StatusConflict},
}

// Status returns the HTTP status for err.
func Status(err error) int {
	return wireKinds[KindOf(err)].status
}

// ToPayload converts err into its wire form. Internal errors never expose
// their message.
func ToPayload(err error) Payload {
	kind := KindOf(err)
	w := wireKinds[kind]
	msg := "Internal server error"
	var e *Error
	if kind != KindInternal && errors.As(err, &e) {
		msg = e.Message
	}
	return Payload{Name: w.name, Message: msg, Code: w.status, ClassName: w.className}
}
