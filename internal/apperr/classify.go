package apperr

import (
	"errors"
	"net/http"
)

const (
	MsgDuplicate    = "Duplicate entry. Record already exists."
	MsgReference    = "Referenced record does not exist."
	MsgValidation   = "Validation failed"
	MsgUnexpected   = "An unexpected error occurred"
	MsgUnauthorized = "Unauthorized"
)

// Classification is what a failure looks like to the client.
type Classification struct {
	Status  int
	Message string
	Details any
}

// Classify maps any error onto a client-facing status, message and details.
// Untagged errors always become a generic 500.
func Classify(err error) Classification {
	var e *Error
	if !errors.As(err, &e) {
		return Classification{Status: http.StatusInternalServerError, Message: MsgUnexpected}
	}
	switch {
	case e.Kind == KindUniqueViolation:
		return Classification{Status: http.StatusConflict, Message: MsgDuplicate}
	case e.Kind == KindReferenceViolation:
		return Classification{Status: http.StatusBadRequest, Message: MsgReference}
	case e.Kind.Credential():
		msg := e.Message
		if msg == "" {
			msg = MsgUnauthorized
		}
		return Classification{Status: http.StatusUnauthorized, Message: msg}
	case e.Kind == KindValidation:
		return Classification{Status: http.StatusBadRequest, Message: MsgValidation, Details: validationDetails(e)}
	}

	c := Classification{Status: e.Status, Message: e.Message, Details: e.Details}
	if c.Status == 0 {
		c.Status = http.StatusInternalServerError
	}
	if c.Message == "" {
		c.Message = MsgUnexpected
	}
	return c
}

// validationDetails falls back to the failure's own message when no field
// errors were attached.
func validationDetails(e *Error) any {
	if e.Details != nil {
		return e.Details
	}
	if e.Message != "" && e.Message != MsgValidation {
		return []FieldError{{Message: e.Message}}
	}
	return nil
}
