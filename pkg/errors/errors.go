// Package errors defines the error types returned by the analytics client.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized matches any UnauthorizedError via errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// joinParts joins error message parts with the specified separator.
func joinParts(parts []string, sep string) string {
	return strings.Join(parts, sep)
}

// ConfigError indicates a problem with the client configuration.
type ConfigError struct {
	// Field contains the name of the configuration field that caused the error
	Field string
	// Message contains the detailed error message
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// AuthError indicates that the credentials were rejected, the token exchange
// failed, or a request was still unauthorized after re-authenticating.
type AuthError struct {
	// StatusCode is the HTTP status code (if from an HTTP response)
	StatusCode int
	// Message contains the detailed error message
	Message string
	// Body contains the raw response body (if available)
	Body string
	// Err contains the underlying error if available
	Err error
}

func (e *AuthError) Error() string {
	parts := []string{"auth error"}

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status code %d", e.StatusCode))
	}

	if e.Body != "" {
		parts = append(parts, fmt.Sprintf("body: %q", e.Body))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.Err != nil {
		parts = append(parts, fmt.Sprintf("err: %v", e.Err))
	}

	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + ": " + joinParts(parts[1:], ", ")
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// UnauthorizedError is returned when the API rejects the bearer token with 401.
// The caller decides whether to re-authenticate.
type UnauthorizedError struct {
	// Path is the resource path that was rejected
	Path string
}

func (e *UnauthorizedError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("unauthorized request to %s", e.Path)
	}
	return "unauthorized request"
}

// Is reports whether target is ErrUnauthorized.
func (e *UnauthorizedError) Is(target error) bool {
	return target == ErrUnauthorized
}

// HTTPError represents a non-2xx, non-401 response for a specific resource.
type HTTPError struct {
	// Path is the resource path that failed
	Path string
	// StatusCode is the HTTP status code
	StatusCode int
	// Body contains a prefix of the response body
	Body string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("request to %s failed with status %d: %s", e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("request to %s failed with status %d", e.Path, e.StatusCode)
}

// MalformedResponseError indicates a 2xx response whose body was not valid JSON
// or did not have the expected shape.
type MalformedResponseError struct {
	// Path is the resource path whose response could not be parsed
	Path string
	// Message contains the detailed error message
	Message string
	// Err contains the underlying error if available
	Err error
}

func (e *MalformedResponseError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	if e.Path != "" {
		return fmt.Sprintf("malformed response from %s: %s", e.Path, msg)
	}
	return fmt.Sprintf("malformed response: %s", msg)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// NetworkError indicates a transport failure before any response was received.
type NetworkError struct {
	// Path is the resource path that was being requested
	Path string
	// Err contains the underlying transport error
	Err error
}

func (e *NetworkError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("network error requesting %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ResponseTooLargeError indicates a 2xx response whose body exceeded the
// configured size limit. The body was not decoded.
type ResponseTooLargeError struct {
	// Path is the resource path that was requested
	Path string
	// Limit is the maximum number of body bytes accepted
	Limit int64
}

func (e *ResponseTooLargeError) Error() string {
	return fmt.Sprintf("response from %s exceeds %d bytes", e.Path, e.Limit)
}

// StateError indicates an operation was attempted when the client is not ready.
type StateError struct {
	// Operation is the name of the operation that was attempted
	Operation string
	// Message contains the detailed error message
	Message string
}

func (e *StateError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("state error during %s: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("state error: %s", e.Message)
}

// IsIsolatable reports whether err is a failure scoped to a single resource
// (HTTP status, malformed or oversized body, transport failure). Such
// failures are converted into missing data instead of aborting a fetch run.
func IsIsolatable(err error) bool {
	var (
		httpErr      *HTTPError
		malformedErr *MalformedResponseError
		networkErr   *NetworkError
		tooLargeErr  *ResponseTooLargeError
	)
	return errors.As(err, &httpErr) || errors.As(err, &malformedErr) ||
		errors.As(err, &networkErr) || errors.As(err, &tooLargeErr)
}
