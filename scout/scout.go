// Package scout wires the acquisition pipeline into one service: session
// restore, adapter-driven collection, dedup, inline AI enrichment with
// ticker validation, and the read-only views served by the CLI, the HTTP
// inspection API and the MCP tools.
//
// Usage:
//
//	cfg, _ := scout.LoadConfigFile("scout.yaml")
//	svc, err := scout.New(ctx, cfg, logger)
//	defer svc.Close()
//	task, err := svc.Run(ctx, nil) // targets from cfg
package scout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/signalscout/scout/internal/browser"
	"github.com/hazyhaar/signalscout/scout/internal/dbopen"
	"github.com/hazyhaar/signalscout/scout/internal/dedup"
	"github.com/hazyhaar/signalscout/scout/internal/engine"
	"github.com/hazyhaar/signalscout/scout/internal/enrich"
	"github.com/hazyhaar/signalscout/scout/internal/inference"
	"github.com/hazyhaar/signalscout/scout/internal/marketdata"
	"github.com/hazyhaar/signalscout/scout/internal/metrics"
	"github.com/hazyhaar/signalscout/scout/internal/orchestrator"
	"github.com/hazyhaar/signalscout/scout/internal/session"
	"github.com/hazyhaar/signalscout/scout/internal/site"
	"github.com/hazyhaar/signalscout/scout/internal/site/xcom"
	"github.com/hazyhaar/signalscout/scout/internal/site/xueqiu"
	"github.com/hazyhaar/signalscout/scout/internal/store"
)

// ErrNoEnricher is returned by Backfill when no inference backend could be
// configured.
var ErrNoEnricher = errors.New("scout: enrichment unavailable")

// ErrNotFound is returned by the single-item lookups.
var ErrNotFound = store.ErrNotFound

// ErrNoTargets is returned by Run when neither the call nor the config
// names a target.
var ErrNoTargets = errors.New("scout: no targets")

// Service is one configured pipeline over one platform.
type Service struct {
	cfg      *Config
	db       *sql.DB
	store    *store.Store
	adapter  site.Adapter
	sessions *session.Manager
	enricher *enrich.Pipeline
	infer    inference.Client
	orch     *orchestrator.Orchestrator
	metrics  *metrics.Metrics
	rdb      *redis.Client
	browser  browser.Config
	logger   *slog.Logger
}

// New opens the store and builds every collaborator. Nothing here touches
// the browser or the inference service; a missing API key only disables
// enrichment.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	adapter, err := newAdapter(cfg.Platform)
	if err != nil {
		return nil, err
	}
	stealth, err := browser.ParseStealth(cfg.Browser.Stealth)
	if err != nil {
		return nil, err
	}

	db, err := dbopen.Open(cfg.Store.Path,
		dbopen.WithMkdirAll(),
		dbopen.WithBusyTimeout(cfg.Store.BusyTimeoutMS),
		dbopen.WithSchema(store.Schema))
	if err != nil {
		return nil, fmt.Errorf("scout: open store: %w", err)
	}

	s := &Service{
		cfg:     cfg,
		db:      db,
		store:   store.NewStore(db),
		adapter: adapter,
		metrics: metrics.New(),
		logger:  logger,
		browser: browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			Bin:              cfg.Browser.Bin,
			MemoryLimit:      cfg.Browser.MemoryLimit,
			RecycleInterval:  cfg.Browser.RecycleInterval,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			Stealth:          stealth,
			XvfbDisplay:      cfg.Browser.XvfbDisplay,
			NavigateTimeout:  cfg.Browser.NavigateTimeout,
			Logger:           logger,
		},
	}

	sessOpts := []session.Option{session.WithLogger(logger)}
	if key := cfg.SessionKey(); key != nil {
		sessOpts = append(sessOpts, session.WithKey(key))
	}
	s.sessions = session.New(cfg.Session.Path, cfg.Platform, sessOpts...)

	s.buildEnricher(ctx)

	eng := engine.New(adapter, engine.Config{
		DefaultCap:      cfg.Collect.PerTargetCap,
		MaxScrolls:      cfg.Collect.MaxScrolls,
		StagnationLimit: cfg.Collect.StagnationLimit,
		ContentTimeout:  cfg.Collect.ContentTimeout,
		SettleTimeout:   cfg.Collect.SettleTimeout,
		ScrollDelay:     cfg.Collect.ScrollDelay,
	}, engine.WithLogger(logger))

	deps := orchestrator.Deps{
		Engine:   eng,
		Sessions: s.sessions,
		Launch:   s.launch,
		Store:    s.store,
		Dedup:    dedup.New(s.store, cfg.Platform, cfg.Collect.MaxAgeDays, dedup.WithLogger(logger)),
		Enricher: s.enricher,
		Metrics:  s.metrics,
		Logger:   logger,
	}
	if s.infer != nil {
		deps.Health = func(ctx context.Context) error {
			return inference.Probe(ctx, s.infer, 10*time.Second, logger)
		}
	}
	s.orch = orchestrator.New(orchestrator.Config{
		PerTargetCap: cfg.Collect.PerTargetCap,
		TargetDelay:  cfg.Collect.TargetDelay,
		InlineEnrich: cfg.Enrich.InlineEnabled(),
	}, deps)
	return s, nil
}

func newAdapter(platform string) (site.Adapter, error) {
	switch platform {
	case "x":
		return xcom.New(), nil
	case "xueqiu":
		return xueqiu.New(), nil
	}
	return nil, fmt.Errorf("scout: unsupported platform %q", platform)
}

// buildEnricher leaves s.enricher nil when the backend cannot be built.
func (s *Service) buildEnricher(ctx context.Context) {
	icfg := s.cfg.Inference
	icfg.Logger = s.logger
	client, err := inference.New(icfg)
	if err != nil {
		s.logger.Warn("scout: inference disabled", "backend", icfg.Backend, "error", err)
		return
	}
	s.infer = client

	temp := icfg.Temperature
	if temp <= 0 {
		temp = 0.1
	}
	opts := []enrich.Option{
		enrich.WithSampling(temp, icfg.MaxTokens),
		enrich.WithLogger(s.logger),
	}
	if icfg.Timeout > 0 {
		opts = append(opts, enrich.WithTimeout(icfg.Timeout))
	}
	if v := s.buildValidator(ctx); v != nil {
		opts = append(opts, enrich.WithValidator(v))
	}
	s.enricher = enrich.New(client, opts...)
}

func (s *Service) buildValidator(ctx context.Context) *enrich.MarketValidator {
	md := s.cfg.MarketData
	if md.Disabled {
		return nil
	}
	src := marketdata.New(marketdata.Config{BaseURL: md.BaseURL, RPS: md.RPS, Logger: s.logger})

	var cache enrich.Cache = marketdata.NewMemoryCache(md.CacheTTL)
	if md.RedisAddr != "" {
		var password string
		if md.RedisPasswordEnv != "" {
			password = os.Getenv(md.RedisPasswordEnv)
		}
		rdb, err := marketdata.DialRedis(ctx, md.RedisAddr, password, md.RedisDB)
		if err != nil {
			s.logger.Warn("scout: redis unavailable, using memory cache", "addr", md.RedisAddr, "error", err)
		} else {
			s.rdb = rdb
			cache = marketdata.NewRedisCache(rdb, "scout:ticker:", md.CacheTTL)
		}
	}
	return enrich.NewMarketValidator(src, cache, md.WindowDays, s.logger)
}

func (s *Service) launch(ctx context.Context) (orchestrator.BrowserSession, error) {
	b, err := browser.Launch(ctx, s.browser)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Platform is the configured platform key.
func (s *Service) Platform() string { return s.adapter.Platform() }

// Login opens a visible browser on the platform login page and saves the
// session once the operator has signed in.
func (s *Service) Login(ctx context.Context) error {
	launch := func(ctx context.Context) (session.LoginBrowser, error) {
		b, err := browser.LaunchVisible(ctx, s.browser)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	a, err := s.sessions.InteractiveLogin(ctx, launch, s.adapter, s.cfg.Browser.LoginTimeout)
	if err != nil {
		return err
	}
	s.logger.Info("scout: session saved", "path", s.sessions.Path(), "cookies", len(a.Cookies))
	return nil
}

// Run collects the given targets ("@handle" or "q:expr"), or the configured
// ones when targets is empty. The returned task is non-nil whenever the
// task was created, even on error.
func (s *Service) Run(ctx context.Context, targets []string) (*Task, error) {
	if len(targets) == 0 {
		targets = s.cfg.Targets
	}
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	parsed := make([]site.Target, 0, len(targets))
	for _, raw := range targets {
		t, err := site.ParseTarget(raw)
		if err != nil {
			return nil, fmt.Errorf("scout: %w", err)
		}
		parsed = append(parsed, t)
	}
	return s.orch.Run(ctx, parsed)
}

// Backfill analyzes records with no or a failed enrichment. limit <= 0
// means no cap.
func (s *Service) Backfill(ctx context.Context, limit int) (BackfillStats, error) {
	if s.enricher == nil {
		return BackfillStats{}, ErrNoEnricher
	}
	opt := enrich.BackfillOptions{
		BatchSize:   s.cfg.Enrich.BatchSize,
		MaxAttempts: s.cfg.Enrich.MaxAttempts,
		Limit:       limit,
	}
	if s.cfg.Collect.MaxAgeDays > 0 {
		opt.MaxAge = time.Duration(s.cfg.Collect.MaxAgeDays) * 24 * time.Hour
	}
	stats, err := s.enricher.Backfill(ctx, s.store, opt)
	s.metrics.BackfillDone(stats.Analyzed, stats.Failed)
	return stats, err
}

// Stats returns aggregate counts.
func (s *Service) Stats(ctx context.Context) (*Stats, error) { return s.store.Stats(ctx) }

// Records lists records, newest first.
func (s *Service) Records(ctx context.Context, f RecordFilter) ([]*Record, error) {
	return s.store.ListRecords(ctx, f)
}

// Record returns one record by fingerprint.
func (s *Service) Record(ctx context.Context, fingerprint string) (*Record, error) {
	return s.store.GetRecord(ctx, fingerprint)
}

// Tasks lists the most recent tasks.
func (s *Service) Tasks(ctx context.Context, limit int) ([]*Task, error) {
	return s.store.ListTasks(ctx, limit)
}

// TaskDetail is a task with its per-target run log.
type TaskDetail struct {
	*Task
	Runs []*TargetRun `json:"runs"`
}

// Task returns a task and its target runs.
func (s *Service) Task(ctx context.Context, id string) (*TaskDetail, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	runs, err := s.store.ListTargetRuns(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TaskDetail{Task: t, Runs: runs}, nil
}

// Profile returns the last captured profile of an author on this platform.
func (s *Service) Profile(ctx context.Context, username string) (*AuthorProfile, error) {
	return s.store.GetProfile(ctx, s.Platform(), username)
}

// Close releases the store and the optional Redis client.
func (s *Service) Close() error {
	var errs []error
	if s.rdb != nil {
		errs = append(errs, s.rdb.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}
