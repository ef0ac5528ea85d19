package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType tags a wire event.
type EventType string

const (
	TypeChunk     EventType = "chunk"
	TypeComplete  EventType = "complete"
	TypeError     EventType = "error"
	TypeHeartbeat EventType = "heartbeat"
)

// Event is one unit of the streaming protocol. The set of implementations is
// closed: *Chunk, *Complete, *Error, *Heartbeat, plus *Unknown for tags this
// version does not understand.
type Event interface {
	Type() EventType
	isEvent()
}

// Chunk carries a new fragment for a stream. Delta and Content are pointers
// so a decoder can tell an absent field from an empty one.
type Chunk struct {
	ID      string  `json:"id,omitempty"`
	Delta   *string `json:"delta,omitempty"`
	Content *string `json:"content,omitempty"`
	Done    bool    `json:"done"`
}

type Complete struct {
	Done bool `json:"done"`
}

type Error struct {
	Message string `json:"message"`
}

// Heartbeat signals liveness. At is Unix milliseconds.
type Heartbeat struct {
	At int64 `json:"at"`
}

// Unknown holds an event whose tag is not recognized.
type Unknown struct {
	Tag EventType
	Raw json.RawMessage
}

func (*Chunk) Type() EventType     { return TypeChunk }
func (*Complete) Type() EventType  { return TypeComplete }
func (*Error) Type() EventType     { return TypeError }
func (*Heartbeat) Type() EventType { return TypeHeartbeat }
func (u *Unknown) Type() EventType { return u.Tag }

func (*Chunk) isEvent()     {}
func (*Complete) isEvent()  {}
func (*Error) isEvent()     {}
func (*Heartbeat) isEvent() {}
func (*Unknown) isEvent()   {}

// NewDelta builds a chunk carrying an incremental fragment.
func NewDelta(id, delta string) *Chunk {
	return &Chunk{ID: id, Delta: &delta}
}

// NewCumulative builds a chunk carrying the full text so far.
func NewCumulative(id, content string) *Chunk {
	return &Chunk{ID: id, Content: &content}
}

func NewComplete() *Complete {
	return &Complete{Done: true}
}

func NewError(message string) *Error {
	return &Error{Message: message}
}

func NewHeartbeat(at time.Time) *Heartbeat {
	return &Heartbeat{At: at.UnixMilli()}
}

// Marshal encodes an event as a single JSON object including its type tag.
func Marshal(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case *Chunk:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			*Chunk
		}{TypeChunk, e})
	case *Complete:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			*Complete
		}{TypeComplete, e})
	case *Error:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			*Error
		}{TypeError, e})
	case *Heartbeat:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			*Heartbeat
		}{TypeHeartbeat, e})
	case *Unknown:
		return e.Raw, nil
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}
}

// ErrMissingType is returned when a payload has no type tag.
var ErrMissingType = errors.New("event has no type")

// Unmarshal decodes a single JSON event. Unrecognized tags decode to *Unknown
// without error.
func Unmarshal(data []byte) (Event, error) {
	var tag struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}

	var ev Event
	switch tag.Type {
	case "":
		return nil, ErrMissingType
	case TypeChunk:
		ev = &Chunk{}
	case TypeComplete:
		ev = &Complete{}
	case TypeError:
		ev = &Error{}
	case TypeHeartbeat:
		ev = &Heartbeat{}
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return &Unknown{Tag: tag.Type, Raw: raw}, nil
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", tag.Type, err)
	}
	return ev, nil
}
