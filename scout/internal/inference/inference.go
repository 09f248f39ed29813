// Package inference provides the text-generation clients used by the
// enrichment pipeline. One operation, Generate, plus a cheap Health probe
// that decides whether enrichment runs at all for a batch.
//
// Usage:
//
//	c, err := inference.New(inference.Config{
//	    Backend: inference.BackendOllama,
//	    BaseURL: "http://localhost:11434",
//	    Model:   "qwen2.5:7b",
//	})
//	out, err := c.Generate(ctx, prompt, 0.1, 512)
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Client generates text from a prompt.
type Client interface {
	Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error)
	// Health returns nil when the service is reachable and serving.
	Health(ctx context.Context) error
	// Model returns the model identifier recorded with each enrichment.
	Model() string
}

// Backend names an inference service flavour.
type Backend string

const (
	BackendOllama    Backend = "ollama"
	BackendAnthropic Backend = "anthropic"
)

// ErrNoAPIKey is returned when the anthropic backend has no key.
var ErrNoAPIKey = errors.New("inference: api key not set")

// Config configures a Client.
type Config struct {
	Backend Backend `json:"backend" yaml:"backend"`

	// Model is the model name sent with each request.
	Model string `json:"model" yaml:"model"`

	// BaseURL overrides the service endpoint. Ollama defaults to
	// http://localhost:11434; anthropic uses the SDK default.
	BaseURL string `json:"base_url" yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	// Default: ANTHROPIC_API_KEY.
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`

	Temperature float64       `json:"temperature" yaml:"temperature"`
	MaxTokens   int           `json:"max_tokens" yaml:"max_tokens"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`

	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit. 0 disables the breaker.
	BreakerThreshold int           `json:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerReset     time.Duration `json:"breaker_reset" yaml:"breaker_reset"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Backend == "" {
		c.Backend = BackendOllama
	}
	if c.Backend == BackendOllama && c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Model == "" {
		switch c.Backend {
		case BackendAnthropic:
			c.Model = "claude-3-5-haiku-latest"
		default:
			c.Model = "qwen2.5:7b"
		}
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 512
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New builds the configured backend, wrapped in a circuit breaker when
// BreakerThreshold > 0.
func New(cfg Config) (Client, error) {
	cfg.defaults()
	var c Client
	switch cfg.Backend {
	case BackendOllama:
		c = NewOllama(cfg.BaseURL, cfg.Model, cfg.Timeout, cfg.Logger)
	case BackendAnthropic:
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("%w: $%s", ErrNoAPIKey, cfg.APIKeyEnv)
		}
		c = NewAnthropic(key, cfg.Model, cfg.BaseURL, cfg.Timeout, cfg.Logger)
	default:
		return nil, fmt.Errorf("inference: unknown backend %q", cfg.Backend)
	}
	if cfg.BreakerThreshold > 0 {
		cb := NewCircuitBreaker(
			WithBreakerThreshold(cfg.BreakerThreshold),
			WithBreakerResetTimeout(cfg.BreakerReset),
			WithBreakerHalfOpenMax(1),
		)
		c = WithBreaker(c, cb, cfg.Logger)
	}
	return c, nil
}

// Probe runs Health bounded by timeout and logs the outcome.
func Probe(ctx context.Context, c Client, timeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	err := c.Health(pctx)
	if err != nil {
		logger.Warn("inference: health probe failed", "model", c.Model(), "error", err)
		return err
	}
	logger.Debug("inference: health ok", "model", c.Model(), "duration", time.Since(start))
	return nil
}
