package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotEnvelope is returned when a body does not carry the backend wrapper.
var ErrNotEnvelope = errors.New("envelope: body is not a response envelope")

// Envelope is the wrapper the HIVE backend puts around every JSON response.
type Envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	ErrorCode *string         `json:"errorCode"`
	Timestamp string          `json:"timestamp"`
}

// Code returns the backend error code, or "" when absent.
func (e *Envelope) Code() string {
	if e == nil || e.ErrorCode == nil {
		return ""
	}
	return *e.ErrorCode
}

// Decode parses body as an envelope. The "success" field is mandatory; any
// other document yields ErrNotEnvelope.
func Decode(body []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotEnvelope
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("envelope: decode: %w", err)
	}
	if _, ok := fields["success"]; !ok {
		return nil, ErrNotEnvelope
	}
	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("envelope: decode: %w", err)
	}
	return &env, nil
}

// ErrorDetails extracts a message and backend code from an error body of any
// shape. Missing values fall back to "Request failed" and "".
func ErrorDetails(body []byte) (message, code string) {
	message = "Request failed"
	var fields struct {
		Message   *string `json:"message"`
		ErrorCode *string `json:"errorCode"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &fields); err != nil {
		return message, ""
	}
	if fields.Message != nil && *fields.Message != "" {
		message = *fields.Message
	}
	if fields.ErrorCode != nil {
		code = *fields.ErrorCode
	}
	return message, code
}

// Success wraps data in a success envelope stamped with now.
func Success(data any, message string, now time.Time) ([]byte, error) {
	raw, err := encode(data)
	if err != nil {
		return nil, err
	}
	if message == "" {
		message = "OK"
	}
	return encode(Envelope{
		Success:   true,
		Message:   message,
		Data:      raw,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
}

// Failure builds an error envelope with a null data field.
func Failure(code, message string, now time.Time) ([]byte, error) {
	return encode(Envelope{
		Success:   false,
		Message:   message,
		Data:      json.RawMessage("null"),
		ErrorCode: &code,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
}

func encode(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("envelope: encode: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
