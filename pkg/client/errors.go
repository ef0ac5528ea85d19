package client

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage is returned by SendMessage for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrStreamActive is returned when a send is attempted while a response
	// is still streaming.
	ErrStreamActive = errors.New("a response is already streaming")
	// ErrNotRetryable is returned by RetryMessage for anything other than a
	// failed assistant message while no stream is active.
	ErrNotRetryable = errors.New("message cannot be retried")
	// ErrTimeout marks a stream that went silent for longer than the
	// configured timeout.
	ErrTimeout = errors.New("stream timed out")
	// ErrCancelled marks a stream stopped by CancelStream or by the caller's
	// context.
	ErrCancelled = errors.New("stream cancelled")
)

// ErrorKind classifies why a stream failed.
type ErrorKind string

const (
	KindUpstream  ErrorKind = "upstream"
	KindTransport ErrorKind = "transport"
	KindTimeout   ErrorKind = "timeout"
	KindCancelled ErrorKind = "cancelled"
	KindStatus    ErrorKind = "status"
	KindProtocol  ErrorKind = "protocol"
)

// StreamError is the terminal error of a failed stream. Message is what the
// UI shows; for upstream failures it is the server's message verbatim.
type StreamError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Err        error
}

func (e *StreamError) Error() string {
	return e.Message
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a fresh attempt could plausibly succeed.
func (e *StreamError) Retryable() bool {
	return e.Kind != KindStatus || e.StatusCode >= 500 || e.StatusCode == 429
}

func upstreamError(message string) *StreamError {
	if message == "" {
		message = "the server reported an error"
	}
	return &StreamError{Kind: KindUpstream, Message: message}
}

func transportError(err error) *StreamError {
	return &StreamError{Kind: KindTransport, Message: fmt.Sprintf("connection failed: %v", err), Err: err}
}

func cancelledError() *StreamError {
	return &StreamError{Kind: KindCancelled, Message: "stream cancelled", Err: ErrCancelled}
}
