// Package marketdata fetches recent daily closes from the Yahoo Finance
// chart API and caches per-symbol validation verdicts.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/signalscout/scout/internal/httpx"
)

// DefaultBaseURL is the public chart API host.
const DefaultBaseURL = "https://query1.finance.yahoo.com"

// Config configures the Yahoo client.
type Config struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	RPS     float64       `json:"rps" yaml:"rps"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// UserAgent is sent on every request; the chart API rejects empty ones.
	UserAgent string       `json:"user_agent" yaml:"user_agent"`
	Logger    *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.RPS <= 0 {
		c.RPS = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Yahoo is a rate-limited chart API client.
type Yahoo struct {
	base    string
	ua      string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Yahoo client.
func New(cfg Config) *Yahoo {
	cfg.defaults()
	return &Yahoo{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		ua:      cfg.UserAgent,
		client:  httpx.NewClient(cfg.Timeout),
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		logger:  cfg.Logger,
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// RecentPrices returns the daily closes of each symbol over the last days
// trading days. Unknown symbols are absent from the map. Throttling,
// server errors and transport failures fail the whole call.
func (y *Yahoo) RecentPrices(ctx context.Context, symbols []string, days int) (map[string][]*float64, error) {
	if days <= 0 {
		days = 5
	}
	out := make(map[string][]*float64, len(symbols))
	for _, sym := range symbols {
		closes, found, err := y.closes(ctx, sym, days)
		if err != nil {
			return nil, fmt.Errorf("marketdata: %s: %w", sym, err)
		}
		if found {
			out[sym] = closes
		}
	}
	return out, nil
}

func (y *Yahoo) closes(ctx context.Context, sym string, days int) ([]*float64, bool, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}
	u := fmt.Sprintf("%s/v8/finance/chart/%s?range=%dd&interval=1d", y.base, url.PathEscape(sym), days)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", y.ua)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := y.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		y.logger.Debug("marketdata: unknown symbol", "symbol", sym)
		return nil, false, nil
	}
	if err := httpx.CheckStatus("marketdata", resp); err != nil {
		return nil, false, err
	}
	raw, err := httpx.LimitedReadAll(resp.Body, httpx.MaxResponseBody)
	if err != nil {
		return nil, false, err
	}
	var cr chartResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, false, fmt.Errorf("decode chart: %w", err)
	}
	if len(cr.Chart.Result) == 0 || len(cr.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, false, nil
	}
	closes := cr.Chart.Result[0].Indicators.Quote[0].Close
	y.logger.Debug("marketdata: chart", "symbol", sym, "points", len(closes), "duration", time.Since(start))
	return closes, true, nil
}
