package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"

	"github.com/killallgit/streamline/pkg/chat"
)

// ValidationError rejects a request before any streaming starts.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// StreamRequest is the body of POST /api/chat/stream.
type StreamRequest struct {
	Messages []chat.Message
	Model    string
}

// wireMessage keeps fields as pointers so absent and mistyped values can be
// told apart from empty strings.
type wireMessage struct {
	ID      *string `json:"id"`
	Role    *string `json:"role"`
	Content *string `json:"content"`
}

type wireRequest struct {
	Messages []wireMessage `json:"messages"`
	Model    *string       `json:"model"`
}

// DecodeRequest reads and validates a stream request body.
func DecodeRequest(body io.Reader) (*StreamRequest, error) {
	var raw wireRequest
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		var tooLarge *http.MaxBytesError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &tooLarge):
			return nil, invalid("request body exceeds %d bytes", tooLarge.Limit)
		case errors.Is(err, io.EOF):
			return nil, invalid("request body must be a JSON object with a messages array")
		case errors.As(err, &typeErr):
			return nil, invalid("field %q must be %s, got %s", typeErr.Field, expectedType(typeErr), typeErr.Value)
		default:
			return nil, invalid("request body is not valid JSON: %v", err)
		}
	}

	if len(raw.Messages) == 0 {
		return nil, invalid("messages must be a non-empty array")
	}

	req := &StreamRequest{Messages: make([]chat.Message, 0, len(raw.Messages))}
	if raw.Model != nil {
		req.Model = *raw.Model
	}

	for i, m := range raw.Messages {
		if m.Role == nil || !chat.Role(*m.Role).Valid() {
			return nil, invalid("messages[%d].role must be \"user\" or \"assistant\"", i)
		}
		if m.Content == nil {
			return nil, invalid("messages[%d].content must be a string", i)
		}
		if m.ID == nil {
			return nil, invalid("messages[%d].id must be a string", i)
		}

		req.Messages = append(req.Messages, chat.Message{
			ID:      *m.ID,
			Role:    chat.Role(*m.Role),
			Content: *m.Content,
			Status:  chat.StatusComplete,
		})
	}

	return req, nil
}

func expectedType(err *json.UnmarshalTypeError) string {
	if err.Type == nil {
		return "a different type"
	}
	t := err.Type
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Slice:
		return "an array"
	case reflect.Struct:
		return "an object"
	case reflect.String:
		return "a string"
	default:
		return "a " + t.Kind().String()
	}
}
