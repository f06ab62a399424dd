package apierr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Code is the taxonomy tag carried by every RequestError.
type Code string

const (
	CodeNetwork      Code = "NETWORK_ERROR"
	CodeTimeout      Code = "TIMEOUT"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeServer       Code = "SERVER_ERROR"
	CodeUnknown      Code = "UNKNOWN_ERROR"
)

var statusCodes = map[int]Code{
	http.StatusBadRequest:      CodeValidation,
	http.StatusUnauthorized:    CodeUnauthorized,
	http.StatusForbidden:       CodeForbidden,
	http.StatusNotFound:        CodeNotFound,
	http.StatusTooManyRequests: CodeRateLimited,
}

// RequestError is the normalized failure produced by the transport. Values are
// never mutated after construction.
type RequestError struct {
	status    int
	code      Code
	retryable bool
	message   string
	payload   json.RawMessage
	cause     error
}

// New constructs a RequestError. Retryability is derived from status.
func New(status int, code Code, message string, payload []byte) *RequestError {
	return &RequestError{
		status:    status,
		code:      code,
		retryable: IsRetryableStatus(status),
		message:   message,
		payload:   append(json.RawMessage(nil), payload...),
	}
}

// Network wraps a transport-level failure as NETWORK_ERROR.
func Network(cause error) *RequestError {
	return &RequestError{
		code:      CodeNetwork,
		retryable: true,
		message:   "Network error - please check your connection",
		cause:     cause,
	}
}

// Timeout reports a request aborted by its deadline.
func Timeout(cause error) *RequestError {
	return &RequestError{
		code:      CodeTimeout,
		retryable: true,
		message:   "Request timeout",
		cause:     cause,
	}
}

// Unknown wraps a failure the classifier cannot place. It is never retried.
func Unknown(cause error) *RequestError {
	msg := "Unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return &RequestError{code: CodeUnknown, message: msg, cause: cause}
}

func (e *RequestError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.status == 0 {
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
	return fmt.Sprintf("%s (status %d): %s", e.code, e.status, e.message)
}

func (e *RequestError) Unwrap() error { return e.cause }

// Status is the HTTP status, or 0 for network and timeout failures.
func (e *RequestError) Status() int { return e.status }

// Code is the taxonomy tag.
func (e *RequestError) Code() Code { return e.code }

// Retryable reports whether the failure is transient.
func (e *RequestError) Retryable() bool { return e.retryable }

// Message is the human readable description, usually supplied by the backend.
func (e *RequestError) Message() string { return e.message }

// Payload returns a copy of the raw error body, if any.
func (e *RequestError) Payload() json.RawMessage {
	return append(json.RawMessage(nil), e.payload...)
}

// IsClientError reports a 4xx response.
func (e *RequestError) IsClientError() bool { return e.status >= 400 && e.status < 500 }

// IsServerError reports a 5xx response.
func (e *RequestError) IsServerError() bool { return e.status >= 500 }

// IsNetworkError reports a failure where no response was received.
func (e *RequestError) IsNetworkError() bool { return e.status == 0 }

// IsRetryableStatus is true for network failures (0), 429 and any 5xx.
func IsRetryableStatus(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

// CodeForStatus maps an HTTP status to a taxonomy code. Unmapped statuses pass
// through the backend-provided code, or UNKNOWN_ERROR when there is none.
func CodeForStatus(status int, backendCode string) Code {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	if status >= 500 {
		return CodeServer
	}
	if backendCode != "" {
		return Code(backendCode)
	}
	return CodeUnknown
}

// Classify converts any error into a RequestError. It is idempotent: an error
// that already is, or wraps, a RequestError is returned unchanged.
func Classify(err error) *RequestError {
	if err == nil {
		return nil
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(err)
	}
	if errors.Is(err, context.Canceled) {
		return Unknown(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout(err)
		}
		return Network(err)
	}
	return Unknown(err)
}

// As is a shorthand for errors.As against *RequestError.
func As(err error) (*RequestError, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr, true
	}
	return nil, false
}

// HasCode reports whether err classifies to code.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return Classify(err).Code() == code
}
