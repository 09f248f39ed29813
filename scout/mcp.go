package scout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the scout tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerStats(srv)
	s.registerRecords(srv)
	s.registerTasks(srv)
	s.registerBackfill(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sch := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sch["required"] = required
	}
	return sch
}

// registerTool decodes the arguments into a fresh P, runs fn and returns its
// result as JSON text. Failures become tool errors, not protocol errors.
func registerTool[P any](srv *mcp.Server, tool *mcp.Tool, fn func(ctx context.Context, p *P) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var p P
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &p); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}
		out, err := fn(ctx, &p)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}
		text, ok := out.(string)
		if !ok {
			data, err := json.Marshal(out)
			if err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("marshal: %w", err))
				return &res, nil
			}
			text = string(data)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil
	})
}

func (s *Service) registerStats(srv *mcp.Server) {
	type req struct{}
	registerTool(srv, &mcp.Tool{
		Name:        "scout_stats",
		Description: "Record, enrichment, profile and task counts of the scout store",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, func(ctx context.Context, _ *req) (any, error) {
		return s.Stats(ctx)
	})
}

func (s *Service) registerRecords(srv *mcp.Server) {
	type req struct {
		Author    string `json:"author"`
		Sentiment string `json:"sentiment"`
		Limit     int    `json:"limit"`
		Offset    int    `json:"offset"`
		Format    string `json:"format"`
	}
	registerTool(srv, &mcp.Tool{
		Name:        "scout_records",
		Description: "List collected records, newest first, with their AI enrichment",
		InputSchema: inputSchema(map[string]any{
			"author":    map[string]any{"type": "string", "description": "Author handle (case-insensitive)"},
			"sentiment": map[string]any{"type": "string", "description": "bullish, bearish or neutral"},
			"limit":     map[string]any{"type": "integer", "description": "Max records (default 50, max 500)"},
			"offset":    map[string]any{"type": "integer", "description": "Records to skip"},
			"format":    map[string]any{"type": "string", "description": "json (default) or markdown"},
		}, nil),
	}, func(ctx context.Context, p *req) (any, error) {
		recs, err := s.Records(ctx, RecordFilter{Author: p.Author, Sentiment: p.Sentiment, Limit: p.Limit, Offset: p.Offset})
		if err != nil {
			return nil, err
		}
		if p.Format != "markdown" {
			if recs == nil {
				recs = []*Record{}
			}
			return recs, nil
		}
		var out string
		for i, r := range recs {
			md, err := RenderMarkdown(r)
			if err != nil {
				return nil, err
			}
			if i > 0 {
				out += "\n---\n\n"
			}
			out += md
		}
		return out, nil
	})
}

func (s *Service) registerTasks(srv *mcp.Server) {
	type req struct {
		ID    string `json:"id"`
		Limit int    `json:"limit"`
	}
	registerTool(srv, &mcp.Tool{
		Name:        "scout_tasks",
		Description: "List recent collection tasks, or one task with its per-target log when id is set",
		InputSchema: inputSchema(map[string]any{
			"id":    map[string]any{"type": "string", "description": "Task ID"},
			"limit": map[string]any{"type": "integer", "description": "Max tasks (default 20)"},
		}, nil),
	}, func(ctx context.Context, p *req) (any, error) {
		if p.ID != "" {
			return s.Task(ctx, p.ID)
		}
		tasks, err := s.Tasks(ctx, p.Limit)
		if tasks == nil && err == nil {
			tasks = []*Task{}
		}
		return tasks, err
	})
}

func (s *Service) registerBackfill(srv *mcp.Server) {
	type req struct {
		Limit int `json:"limit"`
	}
	registerTool(srv, &mcp.Tool{
		Name:        "scout_backfill",
		Description: "Analyze records that have no enrichment or a failed one",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max records to analyze (0 = all pending)"},
		}, nil),
	}, func(ctx context.Context, p *req) (any, error) {
		return s.Backfill(ctx, p.Limit)
	})
}
