package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/killallgit/streamline/pkg/chat"
	"github.com/killallgit/streamline/pkg/logger"
)

const maxErrorBody = 64 << 10

type requestBody struct {
	Messages []chat.Message `json:"messages"`
	Model    string         `json:"model,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// connect opens the stream, retrying transport failures with exponential
// backoff. Responses are never retried: a non-2xx status fails at once. A nil
// response with a nil error means the session ended while connecting.
func (c *Client) connect(s *session, history []chat.Message) (*http.Response, error) {
	payload, err := json.Marshal(requestBody{Messages: history, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	policy := c.cfg.retryPolicy()
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err == nil {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}
			return nil, statusError(resp)
		}

		if s.ctx.Err() != nil {
			return nil, nil
		}
		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			return nil, transportError(err)
		}

		c.mu.Lock()
		c.retries++
		c.changedLocked()
		c.mu.Unlock()
		c.publish()
		logger.Warn("Stream request attempt %d failed: %v; retrying in %s", attempt, err, delay)

		if !c.wait(s, delay) {
			return nil, nil
		}
	}
}

// wait sleeps on the client clock. It reports false if the session ended
// first.
func (c *Client) wait(s *session, delay time.Duration) bool {
	done := make(chan struct{})
	timer := c.clock.AfterFunc(delay, func() { close(done) })

	select {
	case <-done:
		return true
	case <-s.ctx.Done():
		timer.Stop()
		return false
	}
}

// statusError turns a non-2xx response into a StreamError carrying the
// server's {error} message when there is one.
func statusError(resp *http.Response) *StreamError {
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	message := ""
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		message = body.Error
	} else if text := strings.TrimSpace(string(data)); text != "" {
		message = text
	} else {
		message = http.StatusText(resp.StatusCode)
	}

	return &StreamError{
		Kind:       KindStatus,
		Message:    message,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
	}
}
