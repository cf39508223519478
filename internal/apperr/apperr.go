// Package apperr defines the tagged failures shared by every layer of the API
// and the classifier that maps them onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Kind tags a failure so the classifier can dispatch on it.
type Kind int

const (
	KindUnclassified Kind = iota
	KindMissingCredential
	KindMalformedCredential
	KindExpiredCredential
	KindInvalidCredential
	KindValidation
	KindNotFound
	KindUniqueViolation
	KindReferenceViolation
	KindForbidden
)

var kindNames = map[Kind]string{
	KindUnclassified:        "unclassified",
	KindMissingCredential:   "missing_credential",
	KindMalformedCredential: "malformed_credential",
	KindExpiredCredential:   "expired_credential",
	KindInvalidCredential:   "invalid_credential",
	KindValidation:          "validation",
	KindNotFound:            "not_found",
	KindUniqueViolation:     "unique_violation",
	KindReferenceViolation:  "reference_violation",
	KindForbidden:           "forbidden",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Credential reports whether the kind belongs to the authentication family.
func (k Kind) Credential() bool {
	switch k {
	case KindMissingCredential, KindMalformedCredential, KindExpiredCredential, KindInvalidCredential:
		return true
	}
	return false
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the tagged failure value. Status overrides the kind's default
// status when non-zero.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Details any
	Err     error

	stack []uintptr
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Stack renders the call stack captured when the failure was created.
func (e *Error) Stack() string {
	if len(e.stack) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String()
}

func newError(kind Kind, status int, msg string, details any, err error) *Error {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	return &Error{Kind: kind, Status: status, Message: msg, Details: details, Err: err, stack: pcs[:n]}
}

func MissingCredential(msg string) *Error {
	return newError(KindMissingCredential, http.StatusUnauthorized, msg, nil, nil)
}

func MalformedCredential(msg string) *Error {
	return newError(KindMalformedCredential, http.StatusUnauthorized, msg, nil, nil)
}

func ExpiredCredential(msg string, err error) *Error {
	return newError(KindExpiredCredential, http.StatusUnauthorized, msg, nil, err)
}

func InvalidCredential(msg string, err error) *Error {
	return newError(KindInvalidCredential, http.StatusUnauthorized, msg, nil, err)
}

// Validation reports rejected input. The field errors become the response details.
func Validation(msg string, fields ...FieldError) *Error {
	var details any
	if len(fields) > 0 {
		details = fields
	}
	return newError(KindValidation, http.StatusBadRequest, msg, details, nil)
}

// NotFound reports a missing record of the given resource label.
func NotFound(resource string) *Error {
	return newError(KindNotFound, http.StatusNotFound, resource+" not found", nil, nil)
}

func Forbidden(msg string) *Error {
	if msg == "" {
		msg = "Forbidden"
	}
	return newError(KindForbidden, http.StatusForbidden, msg, nil, nil)
}

func UniqueViolation(err error) *Error {
	return newError(KindUniqueViolation, http.StatusConflict, "", nil, err)
}

func ReferenceViolation(err error) *Error {
	return newError(KindReferenceViolation, http.StatusBadRequest, "", nil, err)
}

// Unclassified wraps a cause whose text must never reach the client.
func Unclassified(err error) *Error {
	return newError(KindUnclassified, 0, "", nil, err)
}

// WithStatus builds an unclassified failure that carries a client-safe
// message and an explicit status.
func WithStatus(status int, msg string, err error) *Error {
	return newError(KindUnclassified, status, msg, nil, err)
}

// KindOf returns the tag of the outermost tagged failure in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnclassified
}

// Is reports whether err carries the given tag.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// StackOf returns the stack captured by the outermost tagged failure, if any.
func StackOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stack()
	}
	return ""
}
