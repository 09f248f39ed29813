package enrich

import "time"

// Sentiment categories.
const (
	Bullish = "bullish"
	Bearish = "bearish"
	Neutral = "neutral"
)

// Trading actions. The empty string is "no signal".
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionHold = "hold"
)

// Result statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// FailedReasoning marks a neutral default produced by a failed analysis.
const FailedReasoning = "Analysis failed"

type Sentiment struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

type TradingSignal struct {
	Action     string   `json:"action,omitempty"`
	Tickers    []string `json:"tickers"`
	Confidence float64  `json:"confidence"`
}

type StockRelated struct {
	Flag       bool    `json:"flag"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Result is attached 1:1 to a content record. Re-analysis overwrites it.
type Result struct {
	Sentiment     Sentiment     `json:"sentiment"`
	Tickers       []string      `json:"tickers"`
	Tags          []string      `json:"tags"`
	Summary       string        `json:"summary"`
	TradingSignal TradingSignal `json:"trading_signal"`
	StockRelated  StockRelated  `json:"stock_related"`
	AnalyzedAt    time.Time     `json:"analyzed_at"`
	ModelID       string        `json:"model_id"`
	Status        string        `json:"status"`
}

// OK reports a successful analysis.
func (r Result) OK() bool { return r.Status == StatusOK }

// NeutralResult is the default returned whenever analysis cannot complete.
func NeutralResult(model, reasoning string, at time.Time) Result {
	return Result{
		Sentiment:     Sentiment{Category: Neutral, Confidence: 0, Reasoning: reasoning},
		Tickers:       []string{},
		Tags:          []string{},
		TradingSignal: TradingSignal{Tickers: []string{}},
		AnalyzedAt:    at,
		ModelID:       model,
		Status:        StatusFailed,
	}
}

// Pending is a persisted record awaiting (re-)analysis.
type Pending struct {
	Cursor      int64
	Fingerprint string
	Text        string
}

// PendingQuery pages through records with no analysis or a failed one.
type PendingQuery struct {
	After       int64
	Limit       int
	MaxAttempts int
	// CreatedAfter excludes records that have aged past the freshness window.
	CreatedAfter time.Time
}
