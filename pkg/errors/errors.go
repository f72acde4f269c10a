// Package errors defines the typed error carried from services to the HTTP
// layer. Each Code maps to a status, a public message and whether the
// caller may see the attached details.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeTimeout       Code = "DEPENDENCY_TIMEOUT"

	// delivery code verification
	CodeNotAssigned      Code = "NOT_ASSIGNED"
	CodeAlreadyValidated Code = "ALREADY_VALIDATED"
	CodeInvalidCode      Code = "INVALID_CODE"
	CodeAttemptsExceeded Code = "ATTEMPTS_EXCEEDED"

	// payment webhooks
	CodeInvalidSignature Code = "INVALID_SIGNATURE"
	CodeMissingMetadata  Code = "MISSING_METADATA"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

func rejected(status int, msg string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg, DetailsAllowed: details}
}

func transient(status int, msg string, details bool) Metadata {
	return Metadata{HTTPStatus: status, Retryable: true, PublicMessage: msg, DetailsAllowed: details}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    rejected(http.StatusBadRequest, "validation failed", true),
	CodeUnauthorized:  rejected(http.StatusUnauthorized, "authentication required", false),
	CodeForbidden:     rejected(http.StatusForbidden, "access denied", false),
	CodeNotFound:      rejected(http.StatusNotFound, "resource not found", false),
	CodeConflict:      rejected(http.StatusConflict, "conflict detected", true),
	CodeStateConflict: rejected(http.StatusUnprocessableEntity, "state transition disallowed", true),
	CodeRateLimit:     rejected(http.StatusTooManyRequests, "rate limit exceeded", false),
	CodeInternal:      transient(http.StatusInternalServerError, "internal server error", false),
	CodeDependency:    transient(http.StatusServiceUnavailable, "dependency unavailable", true),
	CodeTimeout:       transient(http.StatusGatewayTimeout, "dependency timed out", false),

	CodeNotAssigned:      rejected(http.StatusForbidden, "delivery not assigned to caller", false),
	CodeAlreadyValidated: rejected(http.StatusConflict, "delivery already validated", false),
	CodeInvalidCode:      rejected(http.StatusBadRequest, "invalid delivery code", true),
	CodeAttemptsExceeded: rejected(http.StatusLocked, "validation attempts exceeded", false),

	CodeInvalidSignature: rejected(http.StatusBadRequest, "invalid signature", false),
	CodeMissingMetadata:  rejected(http.StatusBadRequest, "event metadata missing", true),
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches code and message to err; a nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// IsCode reports whether the outermost typed error in err's chain has code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// Reason returns details["reason"] when the error carries a reason map.
func Reason(err error) string {
	typed := As(err)
	if typed == nil {
		return ""
	}
	m, _ := typed.details.(map[string]any)
	reason, _ := m["reason"].(string)
	return reason
}

func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
