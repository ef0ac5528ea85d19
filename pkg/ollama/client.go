package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client talks to the parts of the Ollama HTTP API that are not covered by
// langchaingo: listing installed and loaded models.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Tags lists the models installed on the server.
func (c *Client) Tags(ctx context.Context) (*TagsResponse, error) {
	var tags TagsResponse
	if err := c.get(ctx, "/api/tags", &tags); err != nil {
		return nil, fmt.Errorf("failed to get tags: %w", err)
	}
	return &tags, nil
}

// Ps lists the models currently loaded into memory.
func (c *Client) Ps(ctx context.Context) (*PsResponse, error) {
	var ps PsResponse
	if err := c.get(ctx, "/api/ps", &ps); err != nil {
		return nil, fmt.Errorf("failed to get ps: %w", err)
	}
	return &ps, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// StatusError reports a non-200 response from the server.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status: %d", e.StatusCode)
}
