package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/killallgit/streamline/pkg/logger"
)

// HealthStatus represents the health status of Ollama service
type HealthStatus struct {
	Available bool    `json:"available"`
	Error     string  `json:"error,omitempty"`
	Models    []Model `json:"-"`
}

// CheckHealth reports whether the server answers the tags endpoint. A down
// server is reported through the status, not the error.
func (c *Client) CheckHealth(ctx context.Context) *HealthStatus {
	logger.Debug("Checking Ollama health at %s", c.baseURL)

	tags, err := c.Tags(ctx)
	if err != nil {
		logger.Warn("Ollama at %s is unavailable: %v", c.baseURL, err)
		return &HealthStatus{
			Available: false,
			Error:     fmt.Sprintf("cannot reach Ollama at %s: %v", c.baseURL, err),
		}
	}

	logger.Debug("Ollama health check successful, %d models installed", len(tags.Models))
	return &HealthStatus{
		Available: true,
		Models:    tags.Models,
	}
}

// CheckModel checks if a specific model is installed. A name without a tag
// matches the :latest tag, as it does for ollama pull.
func (c *Client) CheckModel(ctx context.Context, modelName string) (bool, error) {
	tags, err := c.Tags(ctx)
	if err != nil {
		return false, err
	}

	want := modelName
	if !strings.Contains(want, ":") {
		want += ":latest"
	}
	for _, model := range tags.Models {
		for _, name := range []string{model.Name, model.Model} {
			if name == modelName || name == want {
				return true, nil
			}
		}
	}
	return false, nil
}
