// Command scout collects social posts from logged-in sessions, deduplicates
// them and enriches them with AI sentiment and validated tickers.
//
// Usage:
//
//	scout [-config scout.yaml] login                 # interactive login, saves the session
//	scout [-config scout.yaml] run [@handle q:expr]  # one collection batch
//	scout [-config scout.yaml] enrich [-limit N]     # backfill missing/failed enrichment
//	scout [-config scout.yaml] stats                 # counts and recent tasks as JSON
//	scout [-config scout.yaml] serve                 # inspection API + cron schedule
//	scout [-config scout.yaml] mcp                   # MCP tools over stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/signalscout/scout"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to scout.yaml (default: built-in defaults)")
	envPath := flag.String("env", ".env", "dotenv file loaded before the config")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Usage = usage
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *envPath, *configPath, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.Error("scout: fatal", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: scout [-config file] [-env file] [-log-level level] <login|run|enrich|stats|serve|mcp> [args]\n")
	flag.PrintDefaults()
}

func run(ctx context.Context, logger *slog.Logger, envPath, configPath, cmd string, args []string) error {
	if err := scout.LoadEnv(envPath); err != nil {
		return err
	}
	cfg := scout.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = scout.LoadConfigFile(configPath); err != nil {
			return err
		}
	}

	switch cmd {
	case "login", "run", "enrich", "stats", "serve", "mcp":
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	svc, err := scout.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	switch cmd {
	case "login":
		return svc.Login(ctx)
	case "run":
		return runBatch(ctx, svc, args)
	case "enrich":
		return runEnrich(ctx, svc, args)
	case "stats":
		return runStats(ctx, svc)
	case "serve":
		return svc.Serve(ctx)
	default:
		return runMCP(ctx, svc)
	}
}

func runBatch(ctx context.Context, svc *scout.Service, targets []string) error {
	task, err := svc.Run(ctx, targets)
	if task != nil {
		printJSON(task)
	}
	return err
}

func runEnrich(ctx context.Context, svc *scout.Service, args []string) error {
	fs := flag.NewFlagSet("enrich", flag.ContinueOnError)
	limit := fs.Int("limit", 0, "max records to analyze (0 = all pending)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	stats, err := svc.Backfill(ctx, *limit)
	printJSON(stats)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runStats(ctx context.Context, svc *scout.Service) error {
	st, err := svc.Stats(ctx)
	if err != nil {
		return err
	}
	tasks, err := svc.Tasks(ctx, 10)
	if err != nil {
		return err
	}
	printJSON(struct {
		*scout.Stats
		RecentTasks []*scout.Task `json:"recent_tasks"`
	}{st, tasks})
	return nil
}

func runMCP(ctx context.Context, svc *scout.Service) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "scout", Version: version}, nil)
	svc.RegisterMCP(srv)
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
