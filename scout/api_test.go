package scout

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAPI_Records(t *testing.T) {
	// WHAT: Records list as JSON, filter by author and render as markdown.
	// WHY: The inspection API is the operator's window on collected data.
	svc := newTestService(t)
	seed(t, svc)
	h := svc.Handler()

	rec := get(t, h, "/api/records?author=NVWATCH")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var recs []Record
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Enrichment == nil || recs[0].Enrichment.Sentiment.Category != "bullish" {
		t.Errorf("records = %+v", recs)
	}

	rec = get(t, h, "/api/records?author=someone_else")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty filter body = %q, want []", rec.Body)
	}

	rec = get(t, h, "/api/records?format=markdown")
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("content-type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "### @nvwatch") {
		t.Errorf("markdown body = %q", rec.Body)
	}

	if rec = get(t, h, "/api/records?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
}

func TestAPI_LookupsAndNotFound(t *testing.T) {
	// WHAT: Single-item routes return the item or a JSON 404.
	// WHY: Clients branch on status, not on body text.
	svc := newTestService(t)
	seed(t, svc)
	h := svc.Handler()

	for path, want := range map[string]int{
		"/api/records/fp-1":        http.StatusOK,
		"/api/records/missing":     http.StatusNotFound,
		"/api/tasks/task-1":        http.StatusOK,
		"/api/tasks/missing":       http.StatusNotFound,
		"/api/profiles/nvwatch":    http.StatusOK,
		"/api/profiles/missing":    http.StatusNotFound,
		"/api/stats":               http.StatusOK,
		"/api/tasks":               http.StatusOK,
		"/health":                  http.StatusOK,
		"/api/nothing-lives-here":  http.StatusNotFound,
	} {
		if rec := get(t, h, path); rec.Code != want {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, want)
		}
	}

	var d struct {
		ID   string `json:"id"`
		Runs []struct {
			Target string `json:"target"`
		} `json:"runs"`
	}
	if err := json.Unmarshal(get(t, h, "/api/tasks/task-1").Body.Bytes(), &d); err != nil {
		t.Fatal(err)
	}
	if d.ID != "task-1" || len(d.Runs) != 1 {
		t.Errorf("task detail = %+v", d)
	}
}

func TestAPI_HeadersAndMetrics(t *testing.T) {
	// WHAT: Responses carry the security headers and a trace id; /metrics
	// serves the Prometheus exposition.
	// WHY: The API may be exposed beyond localhost.
	svc := newTestService(t)
	h := svc.Handler()

	rec := get(t, h, "/api/stats")
	if rec.Header().Get("X-Frame-Options") != "DENY" || rec.Header().Get("X-Trace-ID") == "" {
		t.Errorf("headers = %v", rec.Header())
	}
	rec = get(t, h, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics = %d", rec.Code)
	}
}

func TestServe_Shutdown(t *testing.T) {
	// WHAT: serve answers HTTP and returns nil once its context ends.
	// WHY: SIGTERM on `scout serve` must be a clean exit.
	svc := newTestService(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Errorf("health = %d %s", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not return")
	}
}
