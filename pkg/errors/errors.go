// Package errors defines the typed error every layer returns. The Code
// decides the HTTP status and the public message; the wrapped cause stays
// server side.
package errors

import (
	stdErrors "errors"
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
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeInsufficientFunds      Code = "INSUFFICIENT_FUNDS"
	CodeProviderUnavailable    Code = "PROVIDER_UNAVAILABLE"
	CodeInvalidFulfillmentData Code = "INVALID_FULFILLMENT_DATA"
	CodeUnknownAttempt         Code = "UNKNOWN_ATTEMPT"
)

// Metadata is how a Code is presented to API clients.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

type flag uint8

const (
	retryable flag = 1 << iota
	withDetails
)

func describe(status int, public string, flags flag) Metadata {
	return Metadata{
		HTTPStatus:     status,
		PublicMessage:  public,
		Retryable:      flags&retryable != 0,
		DetailsAllowed: flags&withDetails != 0,
	}
}

var catalog = map[Code]Metadata{
	CodeValidation:    describe(http.StatusBadRequest, "validation failed", withDetails),
	CodeUnauthorized:  describe(http.StatusUnauthorized, "authentication required", 0),
	CodeForbidden:     describe(http.StatusForbidden, "access denied", 0),
	CodeNotFound:      describe(http.StatusNotFound, "resource not found", 0),
	CodeConflict:      describe(http.StatusConflict, "conflict detected", retryable),
	CodeStateConflict: describe(http.StatusUnprocessableEntity, "state transition disallowed", withDetails),
	CodeIdempotency:   describe(http.StatusConflict, "idempotency key reused", withDetails),
	CodeRateLimit:     describe(http.StatusTooManyRequests, "rate limit exceeded", 0),
	CodeInternal:      describe(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:    describe(http.StatusServiceUnavailable, "dependency unavailable", retryable|withDetails),

	CodeInsufficientFunds:      describe(http.StatusPaymentRequired, "insufficient wallet balance", withDetails),
	CodeProviderUnavailable:    describe(http.StatusServiceUnavailable, "delivery provider unavailable", retryable),
	CodeInvalidFulfillmentData: describe(http.StatusUnprocessableEntity, "fulfillment data rejected", withDetails),
	CodeUnknownAttempt:         describe(http.StatusNotFound, "unknown delivery attempt", 0),
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if meta, ok := catalog[code]; ok {
		return meta
	}
	return catalog[CodeInternal]
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

// Wrap attaches a code and message to cause. A nil cause behaves like New.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{code: code, message: message, cause: cause}
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

// WithDetails sets client-visible details. They are only rendered for codes
// whose metadata allows it.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.code) + ": " + e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// Is reports whether the outermost *Error in err's chain has code.
func Is(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}
