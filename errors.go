package poky

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error types carried by ClientError.Type.
const (
	ErrorTypeTransport  = "Transport"
	ErrorTypeHTTPStatus = "HTTPStatus"
	ErrorTypeDecode     = "Decode"
	ErrorTypeValidation = "Validation"
)

// Sentinel errors for common failure scenarios
var (
	// ErrInvalidQuery is returned when a list or detail query cannot be keyed.
	ErrInvalidQuery = errors.New("poky: invalid query")

	// ErrStoreClosed is reported by fetches started after the store was closed.
	ErrStoreClosed = errors.New("poky: store closed")

	// ErrNotFound is returned by Storage implementations for a missing key.
	ErrNotFound = errors.New("poky: not found")
)

// ClientError describes a failed catalog request. Transport failures carry
// no StatusCode; HTTP status failures always do.
type ClientError struct {
	Type       string
	Message    string
	Cause      error
	StatusCode int
	RequestID  string
	Method     string
	URL        string
	Endpoint   string
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.Endpoint != "" {
		info += fmt.Sprintf("Endpoint: %s\n", e.Endpoint)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not an
// HTTP status failure.
func StatusCode(err error) int {
	var clientErr *ClientError
	if errors.As(err, &clientErr) && clientErr.Type == ErrorTypeHTTPStatus {
		return clientErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the catalog.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsTransient determines if an error represents a transient failure that might
// succeed when the user retries. Transport failures, 5xx and 429 are transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		return false
	}

	switch clientErr.Type {
	case ErrorTypeTransport:
		return true
	case ErrorTypeHTTPStatus:
		return clientErr.StatusCode >= 500 || clientErr.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

func newValidationError(message string) *ClientError {
	return &ClientError{
		Type:      ErrorTypeValidation,
		Message:   message,
		Cause:     ErrInvalidQuery,
		Timestamp: time.Now(),
	}
}
