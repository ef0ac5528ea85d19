package llm

import (
	"context"
	"fmt"

	"github.com/killallgit/streamline/pkg/chat"
	"github.com/killallgit/streamline/pkg/stream"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// LangChainSource streams from any langchaingo model
type LangChainSource struct {
	name string
	llm  llms.Model
}

// NewLangChainSource wraps a langchaingo model. The model id of each request
// is passed through llms.WithModel.
func NewLangChainSource(name string, llm llms.Model) *LangChainSource {
	return &LangChainSource{name: name, llm: llm}
}

// NewOllamaSource streams from an Ollama server through langchaingo.
func NewOllamaSource(serverURL, defaultModel string) (*LangChainSource, error) {
	opts := []ollama.Option{ollama.WithModel(defaultModel)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}

	client, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return NewLangChainSource("ollama", client), nil
}

func (l *LangChainSource) Name() string {
	return l.name
}

// Ready always succeeds; langchaingo reports connection problems per call.
func (l *LangChainSource) Ready() error {
	return nil
}

func (l *LangChainSource) Stream(ctx context.Context, req Request, handler stream.Handler) error {
	collector := stream.NewCollector(handler)

	opts := []llms.CallOption{llms.WithStreamingFunc(collector.StreamingFunc)}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}

	response, err := l.llm.GenerateContent(ctx, toLangChain(req.Messages), opts...)
	if err != nil {
		return fail(handler, fmt.Errorf("%s stream failed: %w", l.name, err))
	}

	// Some models ignore the streaming func; deliver their answer as one chunk
	if collector.Content() == "" && response != nil && len(response.Choices) > 0 {
		if err := collector.Add(response.Choices[0].Content); err != nil {
			return fail(handler, err)
		}
	}

	return collector.Complete()
}

func toLangChain(messages []chat.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		messageType := llms.ChatMessageTypeHuman
		if msg.Role == chat.RoleAssistant {
			messageType = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(messageType, msg.Content))
	}
	return out
}

var _ Source = (*LangChainSource)(nil)
