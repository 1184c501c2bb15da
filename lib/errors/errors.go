// Package errors provides structured error types shared by respool packages.
//
// Errors raised by a pool or a backend manager can carry backend details such
// as connection strings or credentials. The *Error type keeps those details
// reachable for errors.Is/As and logging while exposing only a safe message
// to anything that reports errors outward (CLI output, status endpoints).
//
// This package provides:
//   - Sentinel errors for common error conditions
//   - Error codes for categorizing failures
//   - Error wrapping with context preservation
//   - Safe error messages that don't leak backend details
package errors

import (
	"errors"
	"fmt"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Error codes for categorizing errors.
const (
	CodeInternal     = 1000 // Unexpected internal failure
	CodeInvalidInput = 1001 // Invalid argument or request
	CodeTimeout      = 1002 // Deadline elapsed
	CodeClosed       = 1003 // Resource or pool closed
	CodeUnavailable  = 1004 // Service unavailable (circuit open, rate limited)
	CodeBackend      = 1005 // Backend reported a failure
	CodeConnection   = 1006 // Connection could not be established
	CodeConfig       = 1007 // Invalid configuration
	CodeState        = 1008 // Invalid state transition
	CodeUnsupported  = 1009 // Feature not available in this build
	CodeRateLimited  = 1010 // Rate limit exceeded
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrUnavailable indicates a service is unavailable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrRateLimited indicates a rate limit was exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrClosed indicates a resource is closed.
	ErrClosed = errors.New("closed")

	// ErrInvalidState indicates an invalid state transition.
	ErrInvalidState = errors.New("invalid state")

	// ErrConnection indicates a connection error.
	ErrConnection = errors.New("connection error")

	// ErrBackend indicates the backend behind a manager reported a failure.
	ErrBackend = errors.New("backend error")

	// ErrInternal indicates an internal error.
	ErrInternal = errors.New("internal error")

	// ErrConfiguration indicates a configuration error.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnsupported indicates a feature that is not available.
	ErrUnsupported = errors.New("unsupported")

	// ErrCircuitOpen indicates the circuit breaker is open.
	ErrCircuitOpen = fmt.Errorf("circuit breaker is open: %w", ErrUnavailable)
)

// Error is a structured error with a code and safe message.
// It implements the error interface and provides methods for
// error handling and reporting.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message is a safe, user-facing error message
	Message string `json:"message"`
	// Err is the underlying error (not exposed in SafeMessage)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// SafeMessage returns an error message without backend details.
func (e *Error) SafeMessage() string {
	return e.Message
}

// New creates a new structured error with the given code and message.
func New(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and safe message.
// The original error is preserved for debugging but not part of SafeMessage.
func Wrap(code int, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WrapInternal wraps an internal error with a generic message.
func WrapInternal(err error) *Error {
	if err != nil {
		log.WithError(err).Debug("wrapping internal error")
	}
	return &Error{
		Code:    CodeInternal,
		Message: "internal error",
		Err:     err,
	}
}

// FromSentinel creates a structured error from an error chain.
// The code is derived from the first recognized sentinel in the chain and
// the safe message from the code.
func FromSentinel(err error) *Error {
	if err == nil {
		return nil
	}

	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}

	code := CodeFor(err)
	return &Error{
		Code:    code,
		Message: MessageFor(code),
		Err:     err,
	}
}

// MessageFor returns the safe message reported for an error code.
func MessageFor(code int) string {
	switch code {
	case CodeInvalidInput:
		return "invalid input"
	case CodeTimeout:
		return "timed out"
	case CodeClosed:
		return "pool closed"
	case CodeUnavailable:
		return "service unavailable"
	case CodeBackend:
		return "backend error"
	case CodeConnection:
		return "connection failed"
	case CodeConfig:
		return "invalid configuration"
	case CodeState:
		return "invalid state"
	case CodeUnsupported:
		return "not supported"
	case CodeRateLimited:
		return "rate limited"
	default:
		return "internal error"
	}
}

// CodeFor maps an error chain to an error code.
func CodeFor(err error) int {
	switch {
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrClosed):
		return CodeClosed
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, ErrBackend):
		return CodeBackend
	case errors.Is(err, ErrConnection):
		return CodeConnection
	case errors.Is(err, ErrConfiguration):
		return CodeConfig
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrInvalidState):
		return CodeState
	case errors.Is(err, ErrUnsupported):
		return CodeUnsupported
	default:
		return CodeInternal
	}
}

// IsTimeout returns true if the error indicates a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsClosed returns true if the error indicates a resource is closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// IsBackend returns true if the error was reported by a backend.
func IsBackend(err error) bool {
	return errors.Is(err, ErrBackend)
}

// IsUnavailable returns true if the error indicates a service is unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsConfiguration returns true if the error indicates invalid configuration.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsInvalidInput returns true if the error indicates invalid input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// Join combines multiple errors into a single error.
// Returns nil if all errors are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target,
// and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}
