// Package errs defines the closed set of error codes surfaced to API clients.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a client-facing error code.
type Code string

const (
	Unauthorized     Code = "unauthorized"
	Blocked          Code = "blocked"
	TrialExpired     Code = "trial_expired"
	CreditsExhausted Code = "credits_exhausted"
	RateLimited      Code = "rate_limited"
	InvalidInput     Code = "invalid_input"
	NotFound         Code = "not_found"
	Internal         Code = "internal_error"
)

// GenericMessage is returned for every internal error so storage details
// never reach the client.
const GenericMessage = "internal error"

// Status returns the HTTP status for a code.
func (c Code) Status() int {
	switch c {
	case Unauthorized:
		return http.StatusUnauthorized
	case Blocked, TrialExpired:
		return http.StatusForbidden
	case CreditsExhausted:
		return http.StatusPaymentRequired
	case RateLimited:
		return http.StatusTooManyRequests
	case InvalidInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a Code, a client message and the underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap returns an Error that keeps err as its cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// InternalError hides err behind the generic message.
func InternalError(err error) *Error {
	return &Error{Code: Internal, Message: GenericMessage, Err: err}
}

// From converts any error into an *Error. Errors that carry no code become
// internal errors.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return InternalError(err)
}

// CodeOf reports the code of err, or Internal when err carries none.
func CodeOf(err error) Code {
	return From(err).Code
}
