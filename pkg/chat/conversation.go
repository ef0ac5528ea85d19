package chat

// Conversation is an insertion-ordered list of messages. Messages are never
// removed; helpers return copies so callers can hand snapshots to observers.
type Conversation struct {
	Messages []Message
}

func NewConversation() Conversation {
	return Conversation{Messages: make([]Message, 0)}
}

func AddMessage(conv Conversation, msgs ...Message) Conversation {
	messages := make([]Message, len(conv.Messages), len(conv.Messages)+len(msgs))
	copy(messages, conv.Messages)
	messages = append(messages, msgs...)
	return Conversation{Messages: messages}
}

func GetMessages(conv Conversation) []Message {
	result := make([]Message, len(conv.Messages))
	copy(result, conv.Messages)
	return result
}

// IndexOf returns the position of the message with the given id, or -1.
func IndexOf(conv Conversation, id string) int {
	for i, msg := range conv.Messages {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

// ReplaceAt returns a conversation with the message at i swapped for msg.
func ReplaceAt(conv Conversation, i int, msg Message) Conversation {
	messages := GetMessages(conv)
	messages[i] = msg
	return Conversation{Messages: messages}
}

// PriorTurns returns the history sent upstream for a response generated at
// position upto: every message before it except assistant turns that never
// completed.
func PriorTurns(conv Conversation, upto int) []Message {
	if upto > len(conv.Messages) {
		upto = len(conv.Messages)
	}
	turns := make([]Message, 0, upto)
	for _, msg := range conv.Messages[:upto] {
		if msg.IsAssistant() && !msg.IsComplete() {
			continue
		}
		turns = append(turns, msg)
	}
	return turns
}

// GetLastFailed returns the most recent failed assistant message.
func GetLastFailed(conv Conversation) (Message, bool) {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Retryable() {
			return conv.Messages[i], true
		}
	}
	return Message{}, false
}
