package scout

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "scout-test", Version: "0.1.0"}

func mcpSession(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty content")
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return tc.Text
}

func TestMCP_Stats(t *testing.T) {
	// WHAT: scout_stats returns the store counts as JSON.
	// WHY: Agents poll it to see whether a run produced anything.
	svc := newTestService(t)
	seed(t, svc)
	res := mcpCall(t, mcpSession(t, svc), "scout_stats", map[string]any{})
	if res.IsError {
		t.Fatalf("tool error: %s", text(t, res))
	}
	var st Stats
	if err := json.Unmarshal([]byte(text(t, res)), &st); err != nil {
		t.Fatal(err)
	}
	if st.Records != 1 || st.Sentiment["bullish"] != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestMCP_Records(t *testing.T) {
	// WHAT: scout_records filters and can render markdown.
	// WHY: Markdown is the compact form LLM clients consume.
	svc := newTestService(t)
	seed(t, svc)
	session := mcpSession(t, svc)

	var recs []Record
	res := mcpCall(t, session, "scout_records", map[string]any{"sentiment": "bullish"})
	if err := json.Unmarshal([]byte(text(t, res)), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Fingerprint != "fp-1" {
		t.Errorf("records = %+v", recs)
	}

	res = mcpCall(t, session, "scout_records", map[string]any{"format": "markdown"})
	if md := text(t, res); !strings.Contains(md, "**closely**") {
		t.Errorf("markdown = %q", md)
	}
}

func TestMCP_Tasks(t *testing.T) {
	// WHAT: scout_tasks lists tasks, or returns one with its run log.
	// WHY: The run log is where failed targets are diagnosed.
	svc := newTestService(t)
	seed(t, svc)
	session := mcpSession(t, svc)

	res := mcpCall(t, session, "scout_tasks", map[string]any{"id": "task-1"})
	if !strings.Contains(text(t, res), `"runs":[`) {
		t.Errorf("task = %s", text(t, res))
	}
	res = mcpCall(t, session, "scout_tasks", map[string]any{"id": "missing"})
	if !res.IsError {
		t.Error("want tool error for missing task")
	}
}

func TestMCP_BackfillUnavailable(t *testing.T) {
	// WHAT: scout_backfill without a backend is a tool error, not a
	// protocol failure.
	// WHY: The MCP session must survive a misconfigured backend.
	svc := newTestService(t)
	svc.enricher = nil
	res := mcpCall(t, mcpSession(t, svc), "scout_backfill", map[string]any{"limit": 5})
	if !res.IsError || !strings.Contains(text(t, res), "enrichment unavailable") {
		t.Errorf("result = %+v", res)
	}
}
