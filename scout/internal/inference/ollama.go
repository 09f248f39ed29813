package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/signalscout/scout/internal/httpx"
)

// Ollama talks to an Ollama server's /api/generate endpoint.
type Ollama struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *slog.Logger
}

// NewOllama creates an Ollama client.
func NewOllama(endpoint, model string, timeout time.Duration, logger *slog.Logger) *Ollama {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ollama{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   httpx.NewClient(timeout),
		logger:   logger,
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Generate sends one non-streaming completion request.
func (o *Ollama) Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Options: generateOptions{Temperature: temperature, NumPredict: maxTokens},
	})
	if err != nil {
		return "", fmt.Errorf("inference: marshal request: %w", err)
	}

	url := o.endpoint + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("inference: POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if err := httpx.CheckStatus("ollama", resp); err != nil {
		return "", err
	}
	raw, err := httpx.LimitedReadAll(resp.Body, httpx.MaxResponseBody)
	if err != nil {
		return "", fmt.Errorf("inference: read response: %w", err)
	}
	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("inference: decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("inference: ollama: %s", out.Error)
	}

	o.logger.Debug("inference: generate", "backend", "ollama", "model", o.model,
		"prompt_len", len(prompt), "output_len", len(out.Response), "duration", time.Since(start))
	return out.Response, nil
}

// Health lists local models and checks the configured one is present.
func (o *Ollama) Health(ctx context.Context) error {
	url := o.endpoint + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("inference: GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if err := httpx.CheckStatus("ollama", resp); err != nil {
		return err
	}

	var tags struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}
	raw, err := httpx.LimitedReadAll(resp.Body, httpx.MaxResponseBody)
	if err != nil {
		return fmt.Errorf("inference: read tags: %w", err)
	}
	if err := json.Unmarshal(raw, &tags); err != nil {
		return fmt.Errorf("inference: decode tags: %w", err)
	}
	for _, m := range tags.Models {
		if m.Name == o.model || m.Model == o.model || strings.TrimSuffix(m.Name, ":latest") == o.model {
			return nil
		}
	}
	return fmt.Errorf("inference: model %q not pulled on %s", o.model, o.endpoint)
}

// Model returns the model name.
func (o *Ollama) Model() string { return o.model }
