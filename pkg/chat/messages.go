package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role accepted on the wire.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Status is the lifecycle state of a message.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
)

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// NewID returns an opaque unique message identifier.
func NewID() string {
	return uuid.NewString()
}

// NewUserMessage creates a complete user message. User messages are never
// mutated after creation.
func NewUserMessage(id, content string) Message {
	return Message{
		ID:        id,
		Role:      RoleUser,
		Content:   content,
		Status:    StatusComplete,
		Timestamp: time.Now(),
	}
}

// NewAssistantMessage creates an empty assistant message in the streaming state.
func NewAssistantMessage(id string) Message {
	return Message{
		ID:        id,
		Role:      RoleAssistant,
		Status:    StatusStreaming,
		Timestamp: time.Now(),
	}
}

func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

func (m Message) IsStreaming() bool {
	return m.Status == StatusStreaming
}

func (m Message) IsComplete() bool {
	return m.Status == StatusComplete
}

func (m Message) IsFailed() bool {
	return m.Status == StatusFailed
}

func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == ""
}

// Retryable reports whether the message can be re-streamed.
func (m Message) Retryable() bool {
	return m.IsAssistant() && m.IsFailed()
}
