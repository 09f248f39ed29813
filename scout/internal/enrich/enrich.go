// Package enrich turns post text into sentiment, validated tickers, tags,
// a summary and a trading signal through one inference call.
//
// Analyze is total: whatever the model returns (prose, truncated JSON,
// an error, a panic deep in parsing), the caller gets a well-formed Result.
// Failures carry Status "failed" and the reasoning "Analysis failed" so the
// Backfill scan can retry them later.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/signalscout/scout/internal/inference"
)

// Pipeline analyzes posts. Safe for sequential use from one goroutine.
type Pipeline struct {
	client      inference.Client
	validator   Validator
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithValidator sets the ticker validator. Without one, no ticker can be
// confirmed and every candidate is rejected.
func WithValidator(v Validator) Option { return func(p *Pipeline) { p.validator = v } }

// WithSampling sets temperature and the output token budget.
func WithSampling(temperature float64, maxTokens int) Option {
	return func(p *Pipeline) {
		p.temperature = temperature
		if maxTokens > 0 {
			p.maxTokens = maxTokens
		}
	}
}

// WithTimeout bounds each inference call.
func WithTimeout(d time.Duration) Option { return func(p *Pipeline) { p.timeout = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithClock sets the AnalyzedAt clock.
func WithClock(fn func() time.Time) Option { return func(p *Pipeline) { p.now = fn } }

// New creates a Pipeline over client.
func New(client inference.Client, opts ...Option) *Pipeline {
	p := &Pipeline{
		client:      client,
		temperature: 0.1,
		maxTokens:   512,
		timeout:     90 * time.Second,
		now:         time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Model returns the model id stamped on results.
func (p *Pipeline) Model() string {
	if p.client == nil {
		return ""
	}
	return p.client.Model()
}

// Analyze never fails; see the package doc.
func (p *Pipeline) Analyze(ctx context.Context, text string) (res Result) {
	model := p.Model()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("enrich: analyze panic", "panic", fmt.Sprint(r))
			res = NeutralResult(model, FailedReasoning, p.now().UTC())
		}
	}()

	if strings.TrimSpace(text) == "" {
		res = NeutralResult(model, "Empty content", p.now().UTC())
		res.Status = StatusOK
		return res
	}
	if p.client == nil {
		return NeutralResult(model, FailedReasoning, p.now().UTC())
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	start := time.Now()
	raw, err := p.client.Generate(cctx, BuildPrompt(text), p.temperature, p.maxTokens)
	if err != nil {
		if errors.Is(err, inference.ErrCircuitOpen) {
			p.logger.Debug("enrich: skipped, circuit open")
		} else {
			p.logger.Warn("enrich: generate failed", "model", model, "error", err)
		}
		return NeutralResult(model, FailedReasoning, p.now().UTC())
	}

	parsed, err := parseOutput(raw)
	if err != nil {
		p.logger.Warn("enrich: unparseable output", "model", model, "error", err, "output_len", len(raw))
		return NeutralResult(model, FailedReasoning, p.now().UTC())
	}

	p.finishTickers(ctx, &parsed)
	parsed.ModelID = model
	parsed.AnalyzedAt = p.now().UTC()
	parsed.Status = StatusOK
	p.logger.Debug("enrich: analyzed", "sentiment", parsed.Sentiment.Category,
		"tickers", len(parsed.Tickers), "duration", time.Since(start))
	return parsed
}

// finishTickers cleans the model's symbols and keeps only validated ones.
// A validator error rejects every candidate of this call.
func (p *Pipeline) finishTickers(ctx context.Context, r *Result) {
	cands := CleanTickers(append(append([]string{}, r.Tickers...), r.TradingSignal.Tickers...))
	signal := CleanTickers(r.TradingSignal.Tickers)

	ok := make(map[string]bool, len(cands))
	switch {
	case len(cands) == 0:
	case p.validator == nil:
		p.logger.Debug("enrich: no ticker validator, rejecting candidates", "candidates", strings.Join(cands, ","))
	default:
		verdict, err := p.validator.Validate(ctx, cands)
		if err != nil {
			p.logger.Warn("enrich: ticker validation failed, rejecting all", "candidates", strings.Join(cands, ","), "error", err)
		}
		for s, v := range verdict {
			ok[s] = v && err == nil
		}
	}

	r.Tickers = keep(cands, ok)
	r.TradingSignal.Tickers = keep(signal, ok)
	if len(r.TradingSignal.Tickers) == 0 && r.TradingSignal.Action != "" {
		r.TradingSignal.Tickers = append([]string{}, r.Tickers...)
	}
}

func keep(in []string, ok map[string]bool) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if ok[s] {
			out = append(out, s)
		}
	}
	return out
}
