package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried in ErrorEnvelope.Code.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInvalidTransition  = "INVALID_TRANSITION"
	ErrRateLimited        = "RATE_LIMITED"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Field error codes used by form validation.
const (
	FieldRequired    = "REQUIRED"
	FieldInvalid     = "INVALID"
	FieldInvalidUUID = "INVALID_UUID"
	FieldOutOfRange  = "OUT_OF_RANGE"
	FieldNotPositive = "NOT_POSITIVE"
	FieldInvalidEnum = "INVALID_ENUM"
	FieldInvalidDate = "INVALID_DATE"
	FieldTooFewItems = "TOO_FEW_ITEMS"
)

type codeSpec struct {
	status int
	// transient failures leave the plant backend untouched, so the same
	// submission may be replayed later.
	transient bool
	message   string
}

var codeSpecs = map[string]codeSpec{
	ErrBadRequest:         {status: http.StatusBadRequest},
	ErrUnauthorized:       {status: http.StatusUnauthorized},
	ErrForbidden:          {status: http.StatusForbidden},
	ErrNotFound:           {status: http.StatusNotFound},
	ErrConflict:           {status: http.StatusConflict},
	ErrValidationError:    {status: http.StatusUnprocessableEntity, message: "One or more fields are invalid"},
	ErrInvalidTransition:  {status: http.StatusUnprocessableEntity},
	ErrRateLimited:        {status: http.StatusTooManyRequests, message: "Too many attempts, try again shortly"},
	ErrInternalError:      {status: http.StatusInternalServerError, message: "An unexpected error occurred"},
	ErrBackendUnavailable: {status: http.StatusBadGateway, transient: true, message: "The ClamFlow backend is temporarily unavailable"},
	ErrBackendTimeout:     {status: http.StatusGatewayTimeout, transient: true, message: "The ClamFlow backend did not respond in time"},
}

// ErrorEnvelope is the error body returned to the dashboard.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Status is the HTTP status for e. Unknown codes map to 500.
func (e *ErrorEnvelope) Status() int {
	if spec, ok := codeSpecs[e.Code]; ok {
		return spec.status
	}
	return http.StatusInternalServerError
}

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HasCode reports whether err wraps an ErrorEnvelope with code.
func HasCode(err error, code string) bool {
	var ee *ErrorEnvelope
	return errors.As(err, &ee) && ee.Code == code
}

// IsTransient reports whether err is a backend outage or timeout, after
// which the same request can be retried unchanged.
func IsTransient(err error) bool {
	var ee *ErrorEnvelope
	return errors.As(err, &ee) && codeSpecs[ee.Code].transient
}

// newError builds an envelope, using the code's stock message when msg is
// empty.
func newError(code, msg string) *ErrorEnvelope {
	if msg == "" {
		msg = codeSpecs[code].message
	}
	return &ErrorEnvelope{Code: code, Message: msg}
}

func NewBadRequestError(msg string) *ErrorEnvelope   { return newError(ErrBadRequest, msg) }
func NewUnauthorizedError(msg string) *ErrorEnvelope { return newError(ErrUnauthorized, msg) }
func NewForbiddenError(msg string) *ErrorEnvelope    { return newError(ErrForbidden, msg) }
func NewNotFoundError(msg string) *ErrorEnvelope     { return newError(ErrNotFound, msg) }
func NewConflictError(msg string) *ErrorEnvelope     { return newError(ErrConflict, msg) }
func NewInternalError() *ErrorEnvelope               { return newError(ErrInternalError, "") }
func NewBackendUnavailableError() *ErrorEnvelope     { return newError(ErrBackendUnavailable, "") }
func NewBackendTimeoutError() *ErrorEnvelope         { return newError(ErrBackendTimeout, "") }
func NewRateLimitedError() *ErrorEnvelope            { return newError(ErrRateLimited, "") }

// NewValidationError wraps field failures in a single VALIDATION_ERROR.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	e := newError(ErrValidationError, "")
	e.Details = details
	return e
}

// NewFieldValidationError reports one invalid field; msg doubles as the
// envelope message.
func NewFieldValidationError(field, code, msg string) *ErrorEnvelope {
	e := newError(ErrValidationError, msg)
	e.Details = []FieldError{{Field: field, Code: code, Message: msg}}
	return e
}
