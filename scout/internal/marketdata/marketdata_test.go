package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hazyhaar/signalscout/scout/internal/enrich"
	"github.com/hazyhaar/signalscout/scout/internal/httpx"
)

func chartServer(t *testing.T, status map[string]int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sym := strings.TrimPrefix(r.URL.Path, "/v8/finance/chart/")
		if r.URL.Query().Get("range") != "5d" || r.URL.Query().Get("interval") != "1d" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent")
		}
		if code, ok := status[sym]; ok {
			http.Error(w, `{"chart":{"result":null,"error":{"code":"Not Found"}}}`, code)
			return
		}
		switch sym {
		case "AAPL":
			w.Write([]byte(`{"chart":{"result":[{"indicators":{"quote":[{"close":[null,189.5,190.25]}]}}],"error":null}}`))
		case "HALT":
			w.Write([]byte(`{"chart":{"result":[{"indicators":{"quote":[{"close":[null,null]}]}}],"error":null}}`))
		default:
			w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestYahoo_RecentPrices(t *testing.T) {
	// WHAT: Known symbols map to their closes, unknown ones are absent.
	// WHY: Absence is how the validator tells "no such ticker" from
	// "service down".
	srv := chartServer(t, map[string]int{"GONE": http.StatusNotFound})
	y := New(Config{BaseURL: srv.URL, RPS: 1000})

	got, err := y.RecentPrices(context.Background(), []string{"AAPL", "HALT", "FAKE", "GONE"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if c := got["AAPL"]; len(c) != 3 || c[0] != nil || *c[2] != 190.25 {
		t.Errorf("AAPL closes = %v", c)
	}
	if c, ok := got["HALT"]; !ok || len(c) != 2 {
		t.Errorf("HALT = %v, %v", c, ok)
	}
	if _, ok := got["FAKE"]; ok {
		t.Error("null result must be absent")
	}
	if _, ok := got["GONE"]; ok {
		t.Error("404 must be absent")
	}
}

func TestYahoo_ThrottleFailsCall(t *testing.T) {
	// WHAT: A 429 on any symbol fails the whole call.
	// WHY: The pipeline then rejects every candidate instead of treating
	// throttled symbols as nonexistent.
	srv := chartServer(t, map[string]int{"MSFT": http.StatusTooManyRequests})
	y := New(Config{BaseURL: srv.URL, RPS: 1000})
	_, err := y.RecentPrices(context.Background(), []string{"AAPL", "MSFT"}, 5)
	if !httpx.HasStatus(err, http.StatusTooManyRequests) {
		t.Fatalf("got %v, want 429 status error", err)
	}
}

func TestYahoo_WithValidator(t *testing.T) {
	// WHAT: The Yahoo client plugs into the enrichment validator.
	// WHY: Only symbols with a non-null close inside the window pass.
	srv := chartServer(t, nil)
	v := enrich.NewMarketValidator(New(Config{BaseURL: srv.URL, RPS: 1000}), NewMemoryCache(time.Hour), 5, nil)
	got, err := v.Validate(context.Background(), []string{"AAPL", "HALT", "FAKE"})
	if err != nil {
		t.Fatal(err)
	}
	if !got["AAPL"] || got["HALT"] || got["FAKE"] {
		t.Errorf("verdicts = %v", got)
	}
}

func TestMemoryCache_TTL(t *testing.T) {
	// WHAT: Entries expire exactly at their TTL.
	// WHY: A delisted ticker must eventually be re-checked.
	c := NewMemoryCache(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "AAPL", true)
	if v, ok, _ := c.Get(ctx, "AAPL"); !ok || !v {
		t.Fatal("fresh entry missing")
	}
	now = now.Add(time.Minute)
	if _, ok, _ := c.Get(ctx, "AAPL"); ok {
		t.Error("entry must expire at TTL")
	}
}

func TestRedisCache(t *testing.T) {
	// WHAT: Verdicts round-trip through Redis with TTL; a missing key is a
	// miss, not an error.
	// WHY: go-redis reports absent keys as redis.Nil.
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	c := NewRedisCache(rdb, "", time.Hour)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "AAPL"); ok || err != nil {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, "AAPL", true); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, "FAKE", false); err != nil {
		t.Fatal(err)
	}
	if v, ok, err := c.Get(ctx, "AAPL"); !ok || !v || err != nil {
		t.Errorf("AAPL = %v %v %v", v, ok, err)
	}
	if v, ok, _ := c.Get(ctx, "FAKE"); !ok || v {
		t.Errorf("FAKE = %v %v", v, ok)
	}
	if ttl := mr.TTL("scout:ticker:AAPL"); ttl != time.Hour {
		t.Errorf("ttl = %v", ttl)
	}
	mr.FastForward(time.Hour)
	if _, ok, _ := c.Get(ctx, "AAPL"); ok {
		t.Error("expired key must miss")
	}
}

func TestDialRedis(t *testing.T) {
	// WHAT: DialRedis pings before returning.
	// WHY: A misconfigured cache address should fail at startup.
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	rdb, err := DialRedis(context.Background(), addr, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	rdb.Close()
	mr.Close()
	if _, err := DialRedis(context.Background(), addr, "", 0); err == nil {
		t.Error("closed server must fail")
	}
}
