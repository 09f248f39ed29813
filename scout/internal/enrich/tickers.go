package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Ticker length bounds after normalisation.
const (
	MinTickerLen = 1
	MaxTickerLen = 6
)

// blacklist holds tokens models routinely mistake for tickers: currency
// codes, corporate and market acronyms, and internet slang.
var blacklist = map[string]struct{}{}

func init() {
	for _, s := range []string{
		// currencies
		"USD", "EUR", "GBP", "JPY", "CNY", "RMB", "HKD", "CAD", "AUD", "CHF", "KRW", "INR", "SGD", "TWD",
		// titles and corporate
		"CEO", "CFO", "CTO", "COO", "CIO", "VP", "IR", "PR", "HR", "LLC", "INC", "LTD", "CORP",
		// market and macro
		"ETF", "IPO", "NYSE", "NASDAQ", "SEC", "FED", "FOMC", "GDP", "CPI", "PPI", "PMI", "EPS", "PE",
		"ATH", "ATL", "YTD", "QOQ", "YOY", "EOD", "AH", "PM", "OTC", "SPAC", "DCF", "ROI", "ROE",
		"Q1", "Q2", "Q3", "Q4", "H1", "H2", "FY",
		// places and generic
		"US", "USA", "UK", "EU", "CN", "HK", "AI", "API", "IT", "TV", "OK", "AM", "A", "I",
		// slang
		"LOL", "LMAO", "OMG", "WTF", "IMO", "IMHO", "FYI", "TLDR", "DD", "FOMO", "YOLO", "HODL",
		"BTFD", "MOASS", "GG", "RIP", "NFA", "DYOR", "TBH", "IDK", "BRB", "ICYMI",
	} {
		blacklist[s] = struct{}{}
	}
}

// Blacklisted reports whether sym is a known false positive.
func Blacklisted(sym string) bool {
	_, ok := blacklist[strings.ToUpper(sym)]
	return ok
}

// NormalizeTicker uppercases s and drops every rune outside [A-Z0-9], so
// "$brk.b" becomes "BRKB".
func NormalizeTicker(s string) string {
	s = strings.ToUpper(strings.TrimLeft(strings.TrimSpace(s), "$"))
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, s)
}

// validTicker applies the length, charset, numeric and blacklist filters to
// a normalised symbol.
func validTicker(s string) bool {
	if len(s) < MinTickerLen || len(s) > MaxTickerLen {
		return false
	}
	letter := false
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			letter = true
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	if !letter {
		return false
	}
	_, bad := blacklist[s]
	return !bad
}

// CleanTickers normalises, filters and dedupes raw candidates, preserving
// first-seen order. The result is never nil.
func CleanTickers(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		s := NormalizeTicker(r)
		if !validTicker(s) {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Validator confirms cleaned symbols against an external source. Any error
// means the whole batch is unvalidated.
type Validator interface {
	Validate(ctx context.Context, symbols []string) (map[string]bool, error)
}

// PriceSource fetches recent daily closes; nil entries are missing closes.
// A symbol absent from the map does not exist.
type PriceSource interface {
	RecentPrices(ctx context.Context, symbols []string, days int) (map[string][]*float64, error)
}

// Cache remembers validation verdicts. Implementations own the TTL.
type Cache interface {
	Get(ctx context.Context, symbol string) (valid, found bool, err error)
	Set(ctx context.Context, symbol string, valid bool) error
}

// DefaultWindowDays is the lookback for the "has traded recently" test.
const DefaultWindowDays = 5

// MarketValidator accepts a symbol when it has at least one non-null close
// in the lookback window.
type MarketValidator struct {
	src    PriceSource
	cache  Cache
	days   int
	logger *slog.Logger
}

// NewMarketValidator creates a validator. cache may be nil.
func NewMarketValidator(src PriceSource, cache Cache, days int, logger *slog.Logger) *MarketValidator {
	if days <= 0 {
		days = DefaultWindowDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketValidator{src: src, cache: cache, days: days, logger: logger}
}

// Validate answers from cache where possible and fetches the rest in one call.
// Cache failures degrade to a fetch.
func (v *MarketValidator) Validate(ctx context.Context, symbols []string) (map[string]bool, error) {
	out := make(map[string]bool, len(symbols))
	var miss []string
	for _, s := range symbols {
		if v.cache != nil {
			valid, found, err := v.cache.Get(ctx, s)
			if err != nil {
				v.logger.Warn("enrich: ticker cache get", "symbol", s, "error", err)
			} else if found {
				out[s] = valid
				continue
			}
		}
		miss = append(miss, s)
	}
	if len(miss) == 0 {
		return out, nil
	}

	prices, err := v.src.RecentPrices(ctx, miss, v.days)
	if err != nil {
		return nil, fmt.Errorf("enrich: validate tickers: %w", err)
	}
	for _, s := range miss {
		ok := hasClose(prices[s])
		out[s] = ok
		if v.cache != nil {
			if err := v.cache.Set(ctx, s, ok); err != nil {
				v.logger.Warn("enrich: ticker cache set", "symbol", s, "error", err)
			}
		}
	}
	return out, nil
}

func hasClose(closes []*float64) bool {
	for _, c := range closes {
		if c != nil {
			return true
		}
	}
	return false
}
