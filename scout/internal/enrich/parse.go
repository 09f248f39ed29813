package enrich

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// errNoObject is returned when the model output holds no JSON object.
var errNoObject = errors.New("enrich: no json object in output")

// Qwen-style reasoning models wrap their scratchpad in think tags.
var thinkRe = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)

// FindJSONObject returns the first balanced-brace substring of s that is
// valid JSON. Braces inside string literals are ignored.
func FindJSONObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end, ok := matchBrace(s, start); ok {
			cand := s[start : end+1]
			if json.Valid([]byte(cand)) {
				return cand, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index of the brace closing s[start].
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// analysis is the decoded model answer before normalisation. Values stay
// loose because models quote numbers and booleans unpredictably.
type analysis struct {
	StockRelated      any `json:"is_stock_related"`
	StockConfidence   any `json:"stock_related_confidence"`
	StockReason       any `json:"stock_related_reason"`
	Sentiment         any `json:"sentiment"`
	SentimentConf     any `json:"sentiment_confidence"`
	Reasoning         any `json:"reasoning"`
	Tickers           any `json:"tickers"`
	Tags              any `json:"tags"`
	Summary           any `json:"summary"`
	TradingAction     any `json:"trading_action"`
	TradingTickers    any `json:"trading_tickers"`
	TradingConfidence any `json:"trading_confidence"`
}

// parseOutput turns raw model text into a Result with unvalidated tickers.
// Missing sentiment or stock-relatedness is an error.
func parseOutput(raw string) (Result, error) {
	obj, ok := FindJSONObject(thinkRe.ReplaceAllString(raw, ""))
	if !ok {
		return Result{}, errNoObject
	}
	var a analysis
	if err := json.Unmarshal([]byte(obj), &a); err != nil {
		return Result{}, fmt.Errorf("enrich: decode: %w", err)
	}

	var res Result
	sent, conf, reasoning, ok := sentimentOf(a.Sentiment)
	if !ok {
		return Result{}, fmt.Errorf("enrich: missing or invalid sentiment %v", a.Sentiment)
	}
	if conf < 0 {
		conf = looseFloat(a.SentimentConf)
	}
	if reasoning == "" {
		reasoning = looseString(a.Reasoning)
	}
	res.Sentiment = Sentiment{Category: sent, Confidence: clamp01(conf), Reasoning: reasoning}

	flag, ok := looseBool(a.StockRelated)
	if !ok {
		return Result{}, fmt.Errorf("enrich: missing is_stock_related")
	}
	res.StockRelated = StockRelated{
		Flag:       flag,
		Confidence: clamp01(looseFloat(a.StockConfidence)),
		Reason:     looseString(a.StockReason),
	}

	res.Tickers = looseStrings(a.Tickers)
	res.Tags = normalizeTags(looseStrings(a.Tags))
	res.Summary = looseString(a.Summary)
	res.TradingSignal = TradingSignal{
		Action:     normalizeAction(looseString(a.TradingAction)),
		Tickers:    looseStrings(a.TradingTickers),
		Confidence: clamp01(looseFloat(a.TradingConfidence)),
	}
	return res, nil
}

// sentimentOf accepts either a bare category string or an object
// {category|label, confidence, reasoning}. conf is -1 when absent.
func sentimentOf(v any) (cat string, conf float64, reasoning string, ok bool) {
	conf = -1
	switch t := v.(type) {
	case string:
		cat, ok = normalizeSentiment(t)
	case map[string]any:
		label := t["category"]
		if label == nil {
			label = t["label"]
		}
		cat, ok = normalizeSentiment(looseString(label))
		if c, present := t["confidence"]; present {
			conf = looseFloat(c)
		}
		reasoning = looseString(t["reasoning"])
	}
	return cat, conf, reasoning, ok
}

func normalizeSentiment(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case Bullish, "positive", "看多", "看涨":
		return Bullish, true
	case Bearish, "negative", "看空", "看跌":
		return Bearish, true
	case Neutral, "mixed", "中性":
		return Neutral, true
	}
	return "", false
}

func normalizeAction(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ActionBuy, "long":
		return ActionBuy
	case ActionSell, "short":
		return ActionSell
	case ActionHold:
		return ActionHold
	}
	return ""
}

const maxTags = 10

func normalizeTags(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#")))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == maxTags {
			break
		}
	}
	return out
}

func looseString(v any) string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
			return ""
		}
		return s
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func looseStrings(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s := looseString(e); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	}
	return []string{}
}

func looseBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	case float64:
		return t != 0, true
	}
	return false, false
}

// looseFloat reads numbers, numeric strings and percentages. Unparseable
// input is 0.
func looseFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		s := strings.TrimSpace(t)
		pct := strings.HasSuffix(s, "%")
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0
		}
		if pct {
			f /= 100
		}
		return f
	}
	return 0
}

// clamp01 maps a confidence into [0,1]; values in (1,100] are read as
// percentages.
func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f <= 1:
		return f
	case f <= 100:
		return f / 100
	}
	return 1
}
