package analysis

import "net/http"

// ErrorKind classifies pipeline failures for external callers.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindLowAgreement ErrorKind = "low_agreement"
	KindInternal     ErrorKind = "internal_error"
)

// Error is the structured failure surfaced outside the pipeline. Messages
// never carry provider credentials or raw provider payloads.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// HTTPStatus maps the error kind onto a response code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindLowAgreement:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
