// Package errors defines the error kinds the API reports and their HTTP
// status codes. Handlers wrap a sentinel in an AppError carrying the message
// shown to the client.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrDuplicate    = errors.New("document already exists")
	ErrNotFound     = errors.New("document not found")
	ErrPersistence  = errors.New("persistence failed")
	ErrInvalidInput = errors.New("invalid input")
	ErrTimeout      = errors.New("operation timed out")
)

// AppError pairs an error kind with the client-facing message.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New wraps sentinel with message; the status follows the sentinel.
func New(sentinel error, message string) *AppError {
	return &AppError{Err: sentinel, Message: message, StatusCode: statusOf(sentinel)}
}

func Newf(sentinel error, format string, args ...any) *AppError {
	return New(sentinel, fmt.Sprintf(format, args...))
}

// WithStatus returns a copy of e answering with code instead.
func (e *AppError) WithStatus(code int) *AppError {
	c := *e
	c.StatusCode = code
	return &c
}

// Persistence wraps a store failure under the client message op.
func Persistence(op string, err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %w", ErrPersistence, err),
		Message:    op,
		StatusCode: http.StatusInternalServerError,
	}
}

// HTTPStatusCode maps err to a response status. An AppError's own status
// wins over its kind.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return statusOf(err)
}

// ClientMessage is the text a client may see for err.
func ClientMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "An unexpected error occurred"
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrDuplicate), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
