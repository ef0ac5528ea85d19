package client

import (
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/killallgit/streamline/pkg/chat"
	"github.com/killallgit/streamline/pkg/config"
)

// StreamConfig tunes the consumer. It is fixed for the client's lifetime.
type StreamConfig struct {
	// Debounce is the minimum spacing between observable content changes.
	// Zero or less publishes every chunk.
	Debounce time.Duration
	// Timeout fails a stream that receives no event for this long. Zero
	// disables it.
	Timeout time.Duration
	// RetryAttempts is how many extra connection attempts follow a failed one.
	RetryAttempts int
	// RetryDelay is the wait before the first retry; it doubles per attempt.
	RetryDelay time.Duration
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Debounce:      50 * time.Millisecond,
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
	}
}

// ConfigFrom maps the client settings section onto a StreamConfig.
func ConfigFrom(c config.ClientConfig) StreamConfig {
	return StreamConfig{
		Debounce:      c.Debounce,
		Timeout:       c.Timeout,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
	}
}

// retryPolicy is the connection retry schedule: RetryDelay, doubling per
// attempt, for at most RetryAttempts retries.
func (c StreamConfig) retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.RetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(max(c.RetryAttempts, 0)))
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithClock(clk clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// WithModel selects the model id sent with every request.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(c *Client) {
		c.newID = newID
	}
}

var defaultIDGenerator = chat.NewID
