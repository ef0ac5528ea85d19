package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// FakeLLM implements a fake language model for testing. Responses are cut
// into fixed-size chunks and delivered through the streaming func.
type FakeLLM struct {
	mu           sync.Mutex
	responses    []string
	currentIndex int
	callCount    int
	chunkSize    int
	streaming    bool
	lastMessages []llms.MessageContent
	lastModel    string
	errorOnCall  int // If > 0, return error on this call number
	failAfter    int // If > 0, fail after this many chunks
	errorMessage string
}

// NewFakeLLM creates a new fake LLM with predefined responses
func NewFakeLLM(responses ...string) *FakeLLM {
	return &FakeLLM{
		responses: responses,
		chunkSize: 5,
		streaming: true,
	}
}

// Call implements the LLM interface
func (f *FakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

// GenerateContent implements the LLM interface for message-based generation
func (f *FakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	f.mu.Lock()
	f.callCount++
	f.lastMessages = messages
	f.lastModel = opts.Model
	call := f.callCount

	if f.errorOnCall > 0 && call == f.errorOnCall {
		f.mu.Unlock()
		return nil, f.err(call)
	}
	if len(f.responses) == 0 {
		f.mu.Unlock()
		return nil, errors.New("no responses configured")
	}

	response := f.responses[f.currentIndex]
	f.currentIndex = (f.currentIndex + 1) % len(f.responses)
	chunks := SplitChunks(response, f.chunkSize)
	streaming := f.streaming
	failAfter := f.failAfter
	f.mu.Unlock()

	if streaming && opts.StreamingFunc != nil {
		for i, chunk := range chunks {
			if failAfter > 0 && i == failAfter {
				return nil, f.err(call)
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{
				Content: response,
			},
		},
	}, nil
}

func (f *FakeLLM) err(call int) error {
	if f.errorMessage != "" {
		return errors.New(f.errorMessage)
	}
	return fmt.Errorf("fake error on call %d", call)
}

// SetChunkSize sets how many runes each streamed chunk carries
func (f *FakeLLM) SetChunkSize(size int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunkSize = size
}

// SetStreaming controls whether the streaming func is invoked at all
func (f *FakeLLM) SetStreaming(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = enabled
}

// SetErrorOnCall configures the LLM to return an error on a specific call
func (f *FakeLLM) SetErrorOnCall(callNumber int, errorMessage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errorOnCall = callNumber
	f.errorMessage = errorMessage
}

// SetFailAfter configures the LLM to fail once n chunks were streamed
func (f *FakeLLM) SetFailAfter(n int, errorMessage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAfter = n
	f.errorMessage = errorMessage
}

// GetCallCount returns the number of generations started
func (f *FakeLLM) GetCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// GetLastMessages returns the conversation passed to the last call
func (f *FakeLLM) GetLastMessages() []llms.MessageContent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMessages
}

// GetLastModel returns the model selected with llms.WithModel on the last call
func (f *FakeLLM) GetLastModel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastModel
}

// SplitChunks cuts s into pieces of at most size runes.
func SplitChunks(s string, size int) []string {
	if size <= 0 {
		return []string{s}
	}

	var chunks []string
	runes := []rune(s)
	for len(runes) > 0 {
		n := size
		if n > len(runes) {
			n = len(runes)
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}

// MessageText flattens the text parts of a langchaingo message.
func MessageText(msg llms.MessageContent) string {
	var parts []string
	for _, part := range msg.Parts {
		if text, ok := part.(llms.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var _ llms.Model = (*FakeLLM)(nil)
