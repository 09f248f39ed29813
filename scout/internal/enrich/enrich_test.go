package enrich

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

type scriptedClient struct {
	out     string
	err     error
	prompts []string
}

func (c *scriptedClient) Generate(_ context.Context, prompt string, _ float64, _ int) (string, error) {
	c.prompts = append(c.prompts, prompt)
	return c.out, c.err
}
func (c *scriptedClient) Health(context.Context) error { return nil }
func (c *scriptedClient) Model() string                { return "test-model" }

type mapValidator struct {
	known map[string]bool
	err   error
	calls [][]string
}

func (v *mapValidator) Validate(_ context.Context, syms []string) (map[string]bool, error) {
	v.calls = append(v.calls, syms)
	if v.err != nil {
		return nil, v.err
	}
	out := make(map[string]bool, len(syms))
	for _, s := range syms {
		out[s] = v.known[s]
	}
	return out, nil
}

var fixedNow = time.Date(2024, 5, 13, 4, 0, 0, 0, time.UTC)

func newTestPipeline(c *scriptedClient, v Validator) *Pipeline {
	opts := []Option{WithClock(func() time.Time { return fixedNow })}
	if v != nil {
		opts = append(opts, WithValidator(v))
	}
	return New(c, opts...)
}

const scenarioAOutput = `Sure, here is the analysis:
{"is_stock_related": true, "stock_related_confidence": 0.95, "stock_related_reason": "mentions Apple stock",
 "sentiment": "bullish", "sentiment_confidence": 0.8, "reasoning": "expects price rise",
 "tickers": ["AAPL", "CEO"], "tags": ["Apple", "#momentum", "apple"], "summary": "Author expects AAPL to rise.",
 "trading_action": "buy", "trading_tickers": ["$AAPL"], "trading_confidence": "70%"}
Let me know if you need more.`

func TestAnalyze_ScenarioA(t *testing.T) {
	// WHAT: Raw tickers ["AAPL","CEO"] come out as ["AAPL"]: CEO is
	// blacklisted, AAPL passes market-data validation.
	// WHY: Acronyms are the dominant false-positive source for tickers.
	c := &scriptedClient{out: scenarioAOutput}
	v := &mapValidator{known: map[string]bool{"AAPL": true}}
	res := newTestPipeline(c, v).Analyze(context.Background(), "AAPL going up $AAPL CEO said")

	if !res.OK() {
		t.Fatalf("status = %q", res.Status)
	}
	if !reflect.DeepEqual(res.Tickers, []string{"AAPL"}) {
		t.Errorf("tickers = %v, want [AAPL]", res.Tickers)
	}
	if len(v.calls) != 1 || !reflect.DeepEqual(v.calls[0], []string{"AAPL"}) {
		t.Errorf("validator saw %v; CEO must be filtered before validation", v.calls)
	}
	if res.Sentiment.Category != Bullish || res.Sentiment.Confidence != 0.8 {
		t.Errorf("sentiment = %+v", res.Sentiment)
	}
	if !res.StockRelated.Flag || res.StockRelated.Confidence != 0.95 {
		t.Errorf("stock_related = %+v", res.StockRelated)
	}
	if res.TradingSignal.Action != ActionBuy || res.TradingSignal.Confidence != 0.7 ||
		!reflect.DeepEqual(res.TradingSignal.Tickers, []string{"AAPL"}) {
		t.Errorf("trading signal = %+v", res.TradingSignal)
	}
	if !reflect.DeepEqual(res.Tags, []string{"apple", "momentum"}) {
		t.Errorf("tags = %v", res.Tags)
	}
	if res.ModelID != "test-model" || !res.AnalyzedAt.Equal(fixedNow) {
		t.Errorf("model/at = %q %v", res.ModelID, res.AnalyzedAt)
	}
	if !strings.Contains(c.prompts[0], "AAPL going up $AAPL CEO said") {
		t.Error("prompt must embed the post text")
	}
}

func TestAnalyze_ScenarioC(t *testing.T) {
	// WHAT: Plain prose with no JSON yields the neutral default.
	// WHY: Analyze must be total; a refusal is data, not a crash.
	c := &scriptedClient{out: "I cannot analyze this."}
	res := newTestPipeline(c, nil).Analyze(context.Background(), "some post")

	if res.Status != StatusFailed {
		t.Errorf("status = %q, want failed", res.Status)
	}
	if res.Sentiment.Category != Neutral || res.Sentiment.Confidence != 0 || res.Sentiment.Reasoning != FailedReasoning {
		t.Errorf("sentiment = %+v", res.Sentiment)
	}
	if res.Tickers == nil || len(res.Tickers) != 0 || res.Tags == nil {
		t.Errorf("tickers/tags must be empty, non-nil: %v %v", res.Tickers, res.Tags)
	}
	if res.StockRelated.Flag {
		t.Error("stock_related.flag must be false")
	}
}

func TestAnalyze_Totality(t *testing.T) {
	// WHAT: Every malformed output shape returns a well-formed failed result.
	// WHY: Models truncate, hallucinate fields and wrap JSON in prose.
	cases := map[string]string{
		"empty":             "",
		"truncated":         `{"sentiment": "bullish", "is_stock_related": tr`,
		"missing sentiment": `{"is_stock_related": true, "tickers": ["AAPL"]}`,
		"missing stock":     `{"sentiment": "bearish"}`,
		"bad category":      `{"sentiment": "ecstatic", "is_stock_related": true}`,
		"array":             `["bullish"]`,
		"wrong types":       `{"sentiment": 42, "is_stock_related": {"a": 1}}`,
	}
	for name, out := range cases {
		t.Run(name, func(t *testing.T) {
			res := newTestPipeline(&scriptedClient{out: out}, nil).Analyze(context.Background(), "post")
			if res.Status != StatusFailed || res.Sentiment.Reasoning != FailedReasoning {
				t.Errorf("got %+v", res)
			}
			if res.Tickers == nil || res.Tags == nil || res.TradingSignal.Tickers == nil {
				t.Error("slices must be non-nil")
			}
		})
	}
}

func TestAnalyze_GenerateError(t *testing.T) {
	// WHAT: An inference error becomes a failed neutral result.
	// WHY: The record is still persisted and picked up by backfill.
	res := newTestPipeline(&scriptedClient{err: errors.New("connection refused")}, nil).
		Analyze(context.Background(), "post")
	if res.Status != StatusFailed || res.ModelID != "test-model" {
		t.Errorf("got %+v", res)
	}
}

func TestAnalyze_EmptyText(t *testing.T) {
	// WHAT: Empty text is not sent to the model and counts as analyzed.
	// WHY: Media-only posts would otherwise be retried by every backfill.
	c := &scriptedClient{}
	res := newTestPipeline(c, nil).Analyze(context.Background(), "  \n ")
	if len(c.prompts) != 0 {
		t.Error("model must not be called")
	}
	if res.Status != StatusOK || res.Sentiment.Category != Neutral {
		t.Errorf("got %+v", res)
	}
}

func TestAnalyze_ValidatorErrorRejectsAll(t *testing.T) {
	// WHAT: When the market-data call fails no ticker survives.
	// WHY: Unvalidated symbols would pollute downstream signals.
	v := &mapValidator{err: errors.New("http 429")}
	res := newTestPipeline(&scriptedClient{out: scenarioAOutput}, v).Analyze(context.Background(), "post")
	if !res.OK() {
		t.Fatalf("status = %q; validation failure must not fail the analysis", res.Status)
	}
	if len(res.Tickers) != 0 || len(res.TradingSignal.Tickers) != 0 {
		t.Errorf("tickers = %v / %v, want none", res.Tickers, res.TradingSignal.Tickers)
	}
}

func TestAnalyze_UnknownTickerDropped(t *testing.T) {
	// WHAT: Symbols without recent closes are dropped, others kept.
	// WHY: Models invent plausible-looking symbols.
	out := `{"sentiment": {"category": "bearish", "confidence": 65, "reasoning": "weak guide"},
		"is_stock_related": "yes", "tickers": "TSLA, ZZZZZ"}`
	v := &mapValidator{known: map[string]bool{"TSLA": true}}
	res := newTestPipeline(&scriptedClient{out: out}, v).Analyze(context.Background(), "post")
	if !reflect.DeepEqual(res.Tickers, []string{"TSLA"}) {
		t.Errorf("tickers = %v", res.Tickers)
	}
	if res.Sentiment.Category != Bearish || res.Sentiment.Confidence != 0.65 || res.Sentiment.Reasoning != "weak guide" {
		t.Errorf("sentiment = %+v", res.Sentiment)
	}
	if !res.StockRelated.Flag {
		t.Error(`"yes" must read as true`)
	}
	if res.TradingSignal.Action != "" {
		t.Errorf("action = %q, want none", res.TradingSignal.Action)
	}
}

func TestFindJSONObject(t *testing.T) {
	// WHAT: The first valid balanced object is found past prose, braces in
	// strings and think blocks.
	// WHY: Reasoning models emit scratchpads before the answer.
	cases := []struct {
		in, want string
		ok       bool
	}{
		{`prefix {"a": 1} suffix`, `{"a": 1}`, true},
		{`{"a": "}{"} tail`, `{"a": "}{"}`, true},
		{`{"a": {"b": 2}}`, `{"a": {"b": 2}}`, true},
		{`note {not json} then {"x": "y\"}"}`, `{"x": "y\"}"}`, true},
		{`no object here`, "", false},
		{`{"open": 1`, "", false},
	}
	for _, tc := range cases {
		got, ok := FindJSONObject(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("FindJSONObject(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}

	res, err := parseOutput("<think>maybe {\"sentiment\": \"bearish\"}</think>\n{\"sentiment\": \"bullish\", \"is_stock_related\": false}")
	if err != nil || res.Sentiment.Category != Bullish {
		t.Errorf("think block not stripped: %+v, %v", res, err)
	}
}

func TestCleanTickers_Totality(t *testing.T) {
	// WHAT: Whatever goes in, only 1-6 char uppercase alphanumeric,
	// non-numeric, non-blacklisted, unique symbols come out.
	// WHY: Downstream storage and validation assume this shape.
	in := []string{"$aapl", "AAPL", " msft ", "CEO", "usd", "123456", "TOOLONGX", "", "$", "BRK.B",
		"nvda,", "(TSM)", "lol", "600519", "9988", "A", "I", "x1", "日本", "#GME"}
	got := CleanTickers(in)
	want := []string{"AAPL", "MSFT", "BRKB", "NVDA", "TSM", "X1", "GME"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CleanTickers = %v, want %v", got, want)
	}
	for _, s := range got {
		if !validTicker(s) || Blacklisted(s) {
			t.Errorf("%q escaped the filter", s)
		}
	}
	if CleanTickers(nil) == nil {
		t.Error("result must be non-nil")
	}
}

func TestAnalyze_NoValidatorRejectsTickers(t *testing.T) {
	// WHAT: Without a validator, cleaned tickers are dropped from both the
	// ticker list and the trading signal.
	// WHY: An unconfirmed symbol is treated like a failed lookup.
	res := newTestPipeline(&scriptedClient{out: scenarioAOutput}, nil).Analyze(context.Background(), "post")
	if res.Status != StatusOK {
		t.Fatalf("status = %q", res.Status)
	}
	if len(res.Tickers) != 0 || len(res.TradingSignal.Tickers) != 0 {
		t.Errorf("tickers = %v, signal = %v, want none", res.Tickers, res.TradingSignal.Tickers)
	}
	if res.Tickers == nil || res.TradingSignal.Tickers == nil {
		t.Error("slices must be non-nil")
	}
}

func TestCleanTickers_InnerPunctuation(t *testing.T) {
	// WHAT: Punctuation inside a symbol is removed, not a reason to drop it.
	// WHY: Share classes are written BRK.B or BF-B in posts.
	got := CleanTickers([]string{"BRK.B", "$BF-B", "A-A-P-L", "$brk/b", "C.E.O"})
	want := []string{"BRKB", "BFB", "AAPL"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CleanTickers = %v, want %v", got, want)
	}
	if got := NormalizeTicker(" $nvda. "); got != "NVDA" {
		t.Errorf("NormalizeTicker = %q", got)
	}
}

type memCache struct {
	m    map[string]bool
	gets int
}

func (c *memCache) Get(_ context.Context, s string) (bool, bool, error) {
	c.gets++
	v, ok := c.m[s]
	return v, ok, nil
}
func (c *memCache) Set(_ context.Context, s string, v bool) error { c.m[s] = v; return nil }

type priceFunc func(ctx context.Context, syms []string, days int) (map[string][]*float64, error)

func (f priceFunc) RecentPrices(ctx context.Context, syms []string, days int) (map[string][]*float64, error) {
	return f(ctx, syms, days)
}

func TestMarketValidator(t *testing.T) {
	// WHAT: A symbol is valid with one non-null close; cached verdicts skip
	// the fetch on the next call.
	// WHY: Market-data APIs are rate limited; hot tickers repeat constantly.
	px := 187.5
	var fetched [][]string
	src := priceFunc(func(_ context.Context, syms []string, days int) (map[string][]*float64, error) {
		fetched = append(fetched, syms)
		if days != 5 {
			t.Errorf("days = %d", days)
		}
		return map[string][]*float64{
			"AAPL": {nil, &px, nil},
			"DEAD": {nil, nil},
		}, nil
	})
	cache := &memCache{m: map[string]bool{}}
	v := NewMarketValidator(src, cache, 0, nil)

	got, err := v.Validate(context.Background(), []string{"AAPL", "DEAD", "NOPE"})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"AAPL": true, "DEAD": false, "NOPE": false}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("verdict = %v", got)
	}
	if _, err := v.Validate(context.Background(), []string{"AAPL", "NOPE"}); err != nil {
		t.Fatal(err)
	}
	if len(fetched) != 1 {
		t.Errorf("fetches = %d, want 1 (second call cached)", len(fetched))
	}

	failing := NewMarketValidator(priceFunc(func(context.Context, []string, int) (map[string][]*float64, error) {
		return nil, errors.New("timeout")
	}), nil, 5, nil)
	if _, err := failing.Validate(context.Background(), []string{"AAPL"}); err == nil {
		t.Error("source error must surface")
	}
}

type fakePending struct {
	items    []Pending
	attached map[string]Result
	attempts map[string]int
}

func (f *fakePending) PendingAnalysis(_ context.Context, q PendingQuery) ([]Pending, error) {
	var out []Pending
	for _, it := range f.items {
		if it.Cursor <= q.After {
			continue
		}
		if r, done := f.attached[it.Fingerprint]; done && (r.OK() || f.attempts[it.Fingerprint] >= q.MaxAttempts) {
			continue
		}
		out = append(out, it)
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakePending) AttachEnrichment(_ context.Context, fp string, r Result) error {
	f.attached[fp] = r
	f.attempts[fp]++
	return nil
}

func TestBackfill(t *testing.T) {
	// WHAT: Backfill visits every pending record once across pages,
	// overwriting results and counting failures.
	// WHY: Keyset paging must not loop forever on records that fail again.
	st := &fakePending{attached: map[string]Result{}, attempts: map[string]int{}}
	for i := 1; i <= 5; i++ {
		st.items = append(st.items, Pending{Cursor: int64(i), Fingerprint: string(rune('a' + i)), Text: "post"})
	}
	c := &scriptedClient{out: "not json"}
	p := newTestPipeline(c, nil)

	stats, err := p.Backfill(context.Background(), st, BackfillOptions{BatchSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Scanned != 5 || stats.Failed != 5 || stats.Analyzed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if len(c.prompts) != 5 {
		t.Errorf("generate calls = %d, want 5", len(c.prompts))
	}

	c.out = `{"sentiment":"neutral","is_stock_related":false}`
	stats, err = p.Backfill(context.Background(), st, BackfillOptions{BatchSize: 10, Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Scanned != 3 || stats.Analyzed != 3 {
		t.Errorf("limited stats = %+v", stats)
	}
	if !st.attached["b"].OK() {
		t.Error("re-analysis must overwrite the failed result")
	}
}
