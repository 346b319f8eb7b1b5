package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrPoolExhausted is surfaced when no eligible account remains or the
// retry budget is spent.
var ErrPoolExhausted = errors.New("all available accounts failed")

// RelayError describes one failed upstream attempt. StatusCode 0 means a
// transport failure with no HTTP response.
type RelayError struct {
	StatusCode int
	ErrType    string // upstream error type when the body carried one
	Message    string
	Body       []byte // raw upstream body, kept for pass-through
}

func (e *RelayError) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}
	return fmt.Sprintf("upstream %d: %s", e.StatusCode, e.Message)
}

// transportError wraps a request error that produced no HTTP status.
func transportError(err error) *RelayError {
	return &RelayError{Message: err.Error()}
}

// upstreamError builds a RelayError from a non-2xx upstream response,
// pulling type and message out of the provider's error envelope when present.
func upstreamError(statusCode int, body []byte) *RelayError {
	re := &RelayError{StatusCode: statusCode, Message: string(body), Body: body}

	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		re.ErrType = envelope.Error.Type
		re.Message = envelope.Error.Message
	}
	return re
}
