package llm

import (
	"context"
	"fmt"

	"github.com/killallgit/streamline/pkg/chat"
	"github.com/killallgit/streamline/pkg/stream"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAISource streams chat completions from the OpenAI API.
type OpenAISource struct {
	client openai.Client
	apiKey string
}

func NewOpenAISource(apiKey, baseURL string) *OpenAISource {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAISource{
		client: openai.NewClient(opts...),
		apiKey: apiKey,
	}
}

func (o *OpenAISource) Name() string {
	return "openai"
}

func (o *OpenAISource) Ready() error {
	if o.apiKey == "" {
		return fmt.Errorf("openai: %w", ErrMissingCredentials)
	}
	return nil
}

func (o *OpenAISource) Stream(ctx context.Context, req Request, handler stream.Handler) error {
	if err := o.Ready(); err != nil {
		return fail(handler, err)
	}

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: toOpenAI(req.Messages),
	}

	completion := o.client.Chat.Completions.NewStreaming(ctx, params)
	defer completion.Close()

	collector := stream.NewCollector(handler)
	for completion.Next() {
		chunk := completion.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if err := collector.Add(chunk.Choices[0].Delta.Content); err != nil {
			return fail(handler, err)
		}
	}

	if err := completion.Err(); err != nil {
		return fail(handler, fmt.Errorf("openai stream failed: %w", err))
	}
	return collector.Complete()
}

func toOpenAI(messages []chat.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

var _ Source = (*OpenAISource)(nil)
