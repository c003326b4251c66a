// Package apperr holds the error taxonomy shared by the middleware and the
// handlers. Each type knows the HTTP status it maps to; the Echo error
// handler renders them into the JSON envelope.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Auth error codes carried in the 401 envelope.
const (
	CodeMissingHeader    = "missing_header"
	CodeMalformedHeader  = "malformed_header"
	CodeInvalidSignature = "invalid_signature"
	CodeExpired          = "expired"
	CodeInvalidClaims    = "invalid_claims"
	CodeNoPermission     = "no_permission"
)

// AuthError rejects a request before any handler runs.
type AuthError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Err         error  `json:"-"`
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return e.Code + ": " + e.Description
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError builds an AuthError with the standard description for code.
func NewAuthError(code string, err error) *AuthError {
	return &AuthError{Code: code, Description: authDescriptions[code], Err: err}
}

var authDescriptions = map[string]string{
	CodeMissingHeader:    "Authorization header is expected.",
	CodeMalformedHeader:  "Authorization header must be in the format Bearer <token>.",
	CodeInvalidSignature: "Unable to verify the token signature.",
	CodeExpired:          "Token expired.",
	CodeInvalidClaims:    "Incorrect claims. Please, check the audience and issuer.",
	CodeNoPermission:     "No permission",
}

// ValidationError reports a malformed body (400) or a missing or
// ill-typed field (422).
type ValidationError struct {
	Status  int
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// BadRequest is a ValidationError for bodies that are not a JSON object.
func BadRequest(msg string) *ValidationError {
	return &ValidationError{Status: http.StatusBadRequest, Message: msg}
}

// Invalid is a ValidationError for a field that is missing or ill-typed.
func Invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Status: http.StatusUnprocessableEntity, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown id.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// ProcessingError reports a request that was well formed but could not be
// carried out: a malformed id, a constraint violation or a store failure.
type ProcessingError struct {
	Message string
	Err     error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Unprocessable wraps err in a ProcessingError with msg as the public text.
func Unprocessable(msg string, err error) *ProcessingError {
	return &ProcessingError{Message: msg, Err: err}
}

// HTTPStatus maps any error to the status code it is rendered with.
func HTTPStatus(err error) int {
	var (
		ae *AuthError
		ve *ValidationError
		ne *NotFoundError
		pe *ProcessingError
		he *echo.HTTPError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ae):
		return http.StatusUnauthorized
	case errors.As(err, &ve):
		return ve.Status
	case errors.As(err, &ne):
		return http.StatusNotFound
	case errors.As(err, &pe):
		return http.StatusUnprocessableEntity
	case errors.As(err, &he):
		return he.Code
	}
	return http.StatusInternalServerError
}

// Message returns the public message for err: a {code, description} object
// for auth failures and a short string otherwise. Internal details of
// unexpected errors never leave the process.
func Message(err error) any {
	var (
		ae *AuthError
		ve *ValidationError
		ne *NotFoundError
		pe *ProcessingError
		he *echo.HTTPError
	)
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.As(err, &ve):
		return ve.Message
	case errors.As(err, &ne):
		return "resource not found"
	case errors.As(err, &pe):
		return pe.Message
	case errors.As(err, &he):
		if s, ok := he.Message.(string); ok && s != "" {
			return strings.ToLower(s)
		}
		return strings.ToLower(http.StatusText(he.Code))
	}
	return "internal server error"
}
