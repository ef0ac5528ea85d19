package chat

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a lifecycle change is not allowed
// from the message's current status.
var ErrInvalidTransition = errors.New("invalid message transition")

func transitionError(msg Message, to Status) error {
	return fmt.Errorf("%w: %s message %s cannot move from %s to %s", ErrInvalidTransition, msg.Role, msg.ID, msg.Status, to)
}

// SetContent replaces the visible content of a streaming assistant message.
func SetContent(msg Message, content string) (Message, error) {
	if !msg.IsAssistant() || !msg.IsStreaming() {
		return msg, transitionError(msg, StatusStreaming)
	}
	msg.Content = content
	return msg, nil
}

// Complete freezes a streaming assistant message.
func Complete(msg Message) (Message, error) {
	if !msg.IsAssistant() || !msg.IsStreaming() {
		return msg, transitionError(msg, StatusComplete)
	}
	msg.Status = StatusComplete
	return msg, nil
}

// Fail marks a streaming assistant message failed, keeping its partial content.
func Fail(msg Message) (Message, error) {
	if !msg.IsAssistant() || !msg.IsStreaming() {
		return msg, transitionError(msg, StatusFailed)
	}
	msg.Status = StatusFailed
	return msg, nil
}

// Restart moves a failed assistant message back to streaming with empty content.
func Restart(msg Message) (Message, error) {
	if !msg.Retryable() {
		return msg, transitionError(msg, StatusStreaming)
	}
	msg.Content = ""
	msg.Status = StatusStreaming
	return msg, nil
}
