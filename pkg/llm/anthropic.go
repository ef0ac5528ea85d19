package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/killallgit/streamline/pkg/chat"
	"github.com/killallgit/streamline/pkg/stream"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicSource streams from the Anthropic Messages API.
type AnthropicSource struct {
	client    anthropic.Client
	apiKey    string
	maxTokens int
}

func NewAnthropicSource(apiKey, baseURL string, maxTokens int) *AnthropicSource {
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicSource{
		client:    anthropic.NewClient(opts...),
		apiKey:    apiKey,
		maxTokens: maxTokens,
	}
}

func (a *AnthropicSource) Name() string {
	return "anthropic"
}

func (a *AnthropicSource) Ready() error {
	if a.apiKey == "" {
		return fmt.Errorf("anthropic: %w", ErrMissingCredentials)
	}
	return nil
}

func (a *AnthropicSource) Stream(ctx context.Context, req Request, handler stream.Handler) error {
	if err := a.Ready(); err != nil {
		return fail(handler, err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(a.maxTokens),
		Messages:  toAnthropic(req.Messages),
	}

	events := a.client.Messages.NewStreaming(ctx, params)
	defer events.Close()

	collector := stream.NewCollector(handler)
	for events.Next() {
		event := events.Current()
		if event.Type != "content_block_delta" || event.Delta.Type != "text_delta" {
			continue
		}
		if err := collector.Add(event.Delta.Text); err != nil {
			return fail(handler, err)
		}
	}

	if err := events.Err(); err != nil {
		return fail(handler, fmt.Errorf("anthropic stream failed: %w", err))
	}
	return collector.Complete()
}

func toAnthropic(messages []chat.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		role := anthropic.MessageParamRoleUser
		if msg.Role == chat.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}
	return out
}

var _ Source = (*AnthropicSource)(nil)
