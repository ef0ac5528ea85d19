// Package tokens estimates how many model tokens a text takes.
package tokens

import (
	"strings"
	"sync"

	"github.com/killallgit/streamline/pkg/logger"
	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// Counter counts tokens with a BPE encoding, or estimates them when no
// encoding could be loaded.
type Counter struct {
	mu      sync.Mutex
	encoder *tiktoken.Tiktoken
}

// NewCounter picks the encoding for model. Loading may need network access
// the first time; if it fails the counter estimates instead.
func NewCounter(model string) *Counter {
	encoder, err := tiktoken.GetEncoding(encodingFor(model))
	if err != nil {
		logger.Debug("Token encoding for %s unavailable, estimating: %v", model, err)
		return &Counter{}
	}
	return &Counter{encoder: encoder}
}

// Exact reports whether counts come from a real encoding.
func (c *Counter) Exact() bool {
	return c.encoder != nil
}

func (c *Counter) Count(text string) int {
	if c.encoder == nil {
		return Estimate(text)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoder.Encode(text, nil, nil))
}

func encodingFor(model string) string {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "davinci") || strings.Contains(lower, "curie") {
		return "p50k_base"
	}
	return defaultEncoding
}

// Estimate approximates a token count as the larger of the word count and a
// quarter of the byte length.
func Estimate(text string) int {
	words := len(strings.Fields(text))
	chars := len(text) / 4
	if words > chars {
		return words
	}
	return chars
}
