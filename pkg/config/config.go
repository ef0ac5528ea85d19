package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable that maps onto a config key,
// e.g. STREAMLINE_CLIENT_TIMEOUT for client.timeout.
const EnvPrefix = "STREAMLINE"

// Providers lists the token source names the server can be configured with.
var Providers = []string{"ollama", "openai", "anthropic"}

// Config represents the application configuration
type Config struct {
	Provider  string          `mapstructure:"provider"`
	Server    ServerConfig    `mapstructure:"server"`
	Models    ModelsConfig    `mapstructure:"models"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Client    ClientConfig    `mapstructure:"client"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the stream producer settings
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	AllowOrigin       string        `mapstructure:"allow_origin"`
}

// ModelsConfig lists the model ids requests may ask for. Anything else is
// replaced by Default.
type ModelsConfig struct {
	Default string   `mapstructure:"default"`
	Allowed []string `mapstructure:"allowed"`
}

// OllamaConfig holds Ollama-specific configuration
type OllamaConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OpenAIConfig holds OpenAI-specific configuration
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"` // For Azure or custom endpoints
}

// AnthropicConfig holds Anthropic-specific configuration
type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// ClientConfig holds the stream consumer settings used by the chat command
type ClientConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	Model         string        `mapstructure:"model"`
	Debounce      time.Duration `mapstructure:"debounce"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	ShowThinking  bool          `mapstructure:"show_thinking"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile  string `mapstructure:"log_file"`
	Preserve bool   `mapstructure:"preserve"`
	Level    string `mapstructure:"level"`
}

var (
	// Global config instance
	cfg *Config
)

// Get returns the global config instance
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// Load loads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome == "" {
			xdgConfigHome = filepath.Join(home, ".config")
		}

		viper.AddConfigPath("./.streamline") // Check project directory first
		viper.AddConfigPath(filepath.Join(xdgConfigHome, "streamline"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	bindEnvironmentVariables()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := loaded.Validate(); err != nil {
		return nil, err
	}

	cfg = loaded
	return cfg, nil
}

// Validate rejects settings the server or client cannot run with.
func (c *Config) Validate() error {
	known := false
	for _, p := range Providers {
		if c.Provider == p {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown provider %q (expected one of %s)", c.Provider, strings.Join(Providers, ", "))
	}

	if c.Models.Default == "" {
		return errors.New("models.default must be set")
	}

	durations := map[string]time.Duration{
		"server.heartbeat_interval": c.Server.HeartbeatInterval,
		"server.shutdown_timeout":   c.Server.ShutdownTimeout,
		"client.debounce":           c.Client.Debounce,
		"client.timeout":            c.Client.Timeout,
		"client.retry_delay":        c.Client.RetryDelay,
	}
	for key, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", key, d)
		}
	}

	if c.Client.RetryAttempts < 0 {
		return fmt.Errorf("client.retry_attempts must not be negative, got %d", c.Client.RetryAttempts)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes)
	}
	return nil
}

// defaults is shared by setDefaults and WriteDefaults.
var defaults = map[string]any{
	"provider": "ollama",

	"server.addr":               ":8080",
	"server.heartbeat_interval": "15s",
	"server.max_body_bytes":     1 << 20,
	"server.shutdown_timeout":   "10s",
	"server.allow_origin":       "*",

	"models.default": "llama3.2",
	"models.allowed": []string{"llama3.2", "qwen3:latest", "gpt-4o-mini", "claude-sonnet-4-20250514"},

	"ollama.url":     "http://localhost:11434",
	"ollama.timeout": "90s",

	"openai.api_key":  "",
	"openai.base_url": "",

	"anthropic.api_key":    "",
	"anthropic.base_url":   "",
	"anthropic.max_tokens": 4096,

	"client.endpoint":       "http://localhost:8080/api/chat/stream",
	"client.model":          "",
	"client.debounce":       "50ms",
	"client.timeout":        "30s",
	"client.retry_attempts": 3,
	"client.retry_delay":    "1s",
	"client.show_thinking":  true,

	"logging.log_file": "",
	"logging.preserve": false,
	"logging.level":    "info",
}

// setDefaults sets all default configuration values
func setDefaults() {
	for key, value := range defaults {
		viper.SetDefault(key, value)
	}
}

// bindEnvironmentVariables binds the conventional provider variables to
// Viper keys for explicit mapping
func bindEnvironmentVariables() {
	viper.BindEnv("openai.api_key", EnvPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY")
	viper.BindEnv("anthropic.api_key", EnvPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	viper.BindEnv("ollama.url", EnvPrefix+"_OLLAMA_URL", "OLLAMA_HOST")
}

// GetConfigFileUsed returns the path to the config file being used
func GetConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// WriteDefaults writes a settings.yaml with every default into dir unless one
// already exists. It returns the path of the settings file.
func WriteDefaults(dir string) (string, error) {
	path := filepath.Join(dir, "settings.yaml")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("failed to write settings file: %w", err)
	}
	return path, nil
}
