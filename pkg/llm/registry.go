package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/killallgit/streamline/pkg/config"
)

// Factory builds a Source from the application configuration.
type Factory func(cfg *config.Config) (Source, error)

// ProviderRegistry maps provider names to source factories
type ProviderRegistry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty provider registry
func NewRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry returns a registry with the built-in providers.
func DefaultRegistry() *ProviderRegistry {
	r := NewRegistry()
	r.MustRegister("ollama", func(cfg *config.Config) (Source, error) {
		return NewOllamaSource(cfg.Ollama.URL, cfg.Models.Default)
	})
	r.MustRegister("openai", func(cfg *config.Config) (Source, error) {
		return NewOpenAISource(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL), nil
	})
	r.MustRegister("anthropic", func(cfg *config.Config) (Source, error) {
		return NewAnthropicSource(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, cfg.Anthropic.MaxTokens), nil
	})
	return r
}

// Register registers a new provider
func (r *ProviderRegistry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}

	r.factories[name] = factory
	return nil
}

// MustRegister is like Register but panics if name is already taken.
func (r *ProviderRegistry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// New builds the named provider's source
func (r *ProviderRegistry) New(name string, cfg *config.Config) (Source, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("provider %s not found", name)
	}

	source, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s source: %w", name, err)
	}
	return source, nil
}

// List returns all registered provider names, sorted
func (r *ProviderRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
