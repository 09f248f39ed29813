package inference

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic generates through the Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
	logger *slog.Logger
}

// NewAnthropic creates a Messages API client. An empty baseURL keeps the SDK
// default.
func NewAnthropic(apiKey, model, baseURL string, timeout time.Duration, logger *slog.Logger, extra ...option.RequestOption) *Anthropic {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	opts = append(opts, extra...)
	return &Anthropic{client: anthropic.NewClient(opts...), model: model, logger: logger}
}

// Generate sends a single user turn and concatenates the text blocks of the
// reply.
func (a *Anthropic) Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	start := time.Now()
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("inference: anthropic messages: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	a.logger.Debug("inference: generate", "backend", "anthropic", "model", a.model,
		"input_tokens", msg.Usage.InputTokens, "output_tokens", msg.Usage.OutputTokens,
		"duration", time.Since(start))
	return b.String(), nil
}

// Health lists one model; a bad key or unreachable API fails here.
func (a *Anthropic) Health(ctx context.Context) error {
	if _, err := a.client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)}); err != nil {
		return fmt.Errorf("inference: anthropic health: %w", err)
	}
	return nil
}

// Model returns the model name.
func (a *Anthropic) Model() string { return a.model }
