// Package domain defines core types and errors shared by the TAP client packages.
package domain

import "fmt"

// ValidationError indicates missing or conflicting arguments detected before
// any request was sent.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ProtocolError indicates a response that does not follow the TAP protocol:
// an unexpected status, a missing header or an unparseable document.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

// RemoteError indicates the service reported a failure. StatusCode is zero
// when the failure was read from a job description rather than a response.
type RemoteError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}
	if e.Message == "" {
		return fmt.Sprintf("%d %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Reason, e.Message)
}

// NotFoundError indicates a resource required by a mutating operation does
// not exist. Plain lookups return nil instead.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrProtocol creates a ProtocolError with a formatted message.
func ErrProtocol(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// ErrRemote creates a RemoteError.
func ErrRemote(status int, reason, message string) *RemoteError {
	return &RemoteError{StatusCode: status, Reason: reason, Message: message}
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}
