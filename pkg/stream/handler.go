package stream

import (
	"context"
	"strings"
)

// Handler receives fragments from a token source as they are produced.
type Handler interface {
	// OnChunk is called once per fragment, in production order.
	OnChunk(chunk []byte) error

	// OnComplete is called when the source finished with the full text.
	OnComplete(finalContent string) error

	// OnError is called when the source failed.
	OnError(err error)
}

// Callbacks adapts plain functions to Handler. Nil fields are no-ops.
type Callbacks struct {
	Chunk    func(chunk []byte) error
	Complete func(finalContent string) error
	Error    func(err error)
}

func (c Callbacks) OnChunk(chunk []byte) error {
	if c.Chunk == nil {
		return nil
	}
	return c.Chunk(chunk)
}

func (c Callbacks) OnComplete(finalContent string) error {
	if c.Complete == nil {
		return nil
	}
	return c.Complete(finalContent)
}

func (c Callbacks) OnError(err error) {
	if c.Error != nil {
		c.Error(err)
	}
}

// Collector forwards fragments to a Handler and keeps the text produced so
// far, so a source can report the full content on completion.
type Collector struct {
	handler Handler
	content strings.Builder
}

func NewCollector(handler Handler) *Collector {
	return &Collector{handler: handler}
}

// Add forwards one fragment. Empty fragments are dropped.
func (c *Collector) Add(fragment string) error {
	if fragment == "" {
		return nil
	}
	c.content.WriteString(fragment)
	return c.handler.OnChunk([]byte(fragment))
}

// StreamingFunc has the signature langchaingo expects from
// llms.WithStreamingFunc. Fragments arriving after ctx ends are refused.
func (c *Collector) StreamingFunc(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Add(string(chunk))
}

func (c *Collector) Content() string {
	return c.content.String()
}

// Complete reports the collected text to the handler.
func (c *Collector) Complete() error {
	return c.handler.OnComplete(c.content.String())
}

var _ Handler = Callbacks{}
