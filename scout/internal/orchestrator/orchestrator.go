// Package orchestrator runs one collection batch: it restores the session
// into a browser, walks the targets sequentially with randomized pauses,
// records a per-target log and final stats on the task, and always saves
// the refreshed session before releasing the browser.
//
// Task states move PENDING -> RUNNING -> COMPLETED | FAILED. A failing
// target is logged and skipped; only a missing session, a browser that
// cannot start, an engine fatal fault or an interruption fail the task.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/hazyhaar/signalscout/scout/internal/dedup"
	"github.com/hazyhaar/signalscout/scout/internal/engine"
	"github.com/hazyhaar/signalscout/scout/internal/enrich"
	"github.com/hazyhaar/signalscout/scout/internal/idgen"
	"github.com/hazyhaar/signalscout/scout/internal/metrics"
	"github.com/hazyhaar/signalscout/scout/internal/session"
	"github.com/hazyhaar/signalscout/scout/internal/site"
	"github.com/hazyhaar/signalscout/scout/internal/store"
)

// BrowserSession is the page a run drives plus the cookie and lifecycle
// hooks the orchestrator needs around it.
type BrowserSession interface {
	engine.Page
	Cookies(ctx context.Context) ([]session.Cookie, error)
	SetCookies(ctx context.Context, cookies []session.Cookie) error
	// Checkpoint runs between targets; it may restart the browser.
	Checkpoint(ctx context.Context) error
	Close() error
}

// Launcher starts the browser for one run.
type Launcher func(ctx context.Context) (BrowserSession, error)

// Config tunes a run.
type Config struct {
	PerTargetCap int
	TargetDelay  engine.Delay
	// InlineEnrich analyzes each new record before the next scroll.
	InlineEnrich bool
	// CleanupTimeout bounds the session save and final stats flush, which
	// run on a fresh context after cancellation. Default: 30s.
	CleanupTimeout time.Duration
}

// Deps are the collaborators of a run. Enricher, Health and Metrics are
// optional.
type Deps struct {
	Engine   *engine.Engine
	Sessions *session.Manager
	Launch   Launcher
	Store    *store.Store
	Dedup    *dedup.Deduplicator
	Enricher *enrich.Pipeline
	// Health probes the inference service once per run.
	Health  func(ctx context.Context) error
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Orchestrator runs batches for one platform.
type Orchestrator struct {
	cfg       Config
	deps      Deps
	log       *slog.Logger
	rand      *rand.Rand
	newTaskID idgen.Generator
	newRunID  idgen.Generator
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRand pins the target delay source.
func WithRand(r *rand.Rand) Option { return func(o *Orchestrator) { o.rand = r } }

// WithIDGenerator replaces the id source behind task ("task_") and target
// run ("run_") ids.
func WithIDGenerator(g idgen.Generator) Option {
	return func(o *Orchestrator) {
		o.newTaskID = idgen.Prefixed("task_", g)
		o.newRunID = idgen.Prefixed("run_", g)
	}
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option { return func(o *Orchestrator) { o.now = fn } }

// New creates an Orchestrator.
func New(cfg Config, deps Deps, opts ...Option) *Orchestrator {
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = 30 * time.Second
	}
	o := &Orchestrator{cfg: cfg, deps: deps, log: deps.Logger, now: time.Now}
	WithIDGenerator(idgen.Default)(o)
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// Platform is the adapter key of every record this orchestrator stores.
func (o *Orchestrator) Platform() string { return o.deps.Engine.Adapter().Platform() }

// Run executes one batch over targets and returns the finished task. The
// error is non-nil when the task FAILED.
func (o *Orchestrator) Run(ctx context.Context, targets []site.Target) (*store.Task, error) {
	started := o.now()
	task := &store.Task{
		ID:           o.newTaskID(),
		Platform:     o.Platform(),
		Targets:      targets,
		PerTargetCap: o.cfg.PerTargetCap,
		State:        store.TaskPending,
	}
	if err := o.deps.Store.CreateTask(ctx, task); err != nil {
		return nil, engine.Fatal(err)
	}
	log := o.log.With("task_id", task.ID, "platform", task.Platform)
	log.Info("orchestrator: task created", "targets", len(targets), "per_target_cap", task.PerTargetCap)

	err := o.run(ctx, log, task)

	task.State = store.TaskCompleted
	reason := ""
	if err != nil {
		task.State = store.TaskFailed
		reason = err.Error()
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			reason = "interrupted: " + reason
		}
	}
	fctx, cancel := o.cleanupContext(ctx)
	defer cancel()
	if ferr := o.deps.Store.FinishTask(fctx, task.ID, task.State, task.Stats, reason); ferr != nil {
		log.Error("orchestrator: finish task", "error", ferr)
	}
	task.Error = reason
	o.deps.Metrics.RunFinished(task.State, o.now().Sub(started))

	s := task.Stats
	log.Info("orchestrator: task finished", "state", task.State,
		"targets_processed", s.TargetsProcessed, "targets_failed", s.TargetsFailed,
		"records_scraped", s.RecordsScraped, "records_new", s.RecordsNew,
		"records_duplicate", s.RecordsDuplicate, "records_stale", s.RecordsStale,
		"records_enriched", s.RecordsEnriched, "duration", o.now().Sub(started))
	return task, err
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, task *store.Task) error {
	if err := o.deps.Store.StartTask(ctx, task.ID); err != nil {
		return engine.Fatal(err)
	}
	task.State = store.TaskRunning

	art, err := o.deps.Sessions.Require()
	if err != nil {
		return err
	}

	page, err := o.deps.Launch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return engine.Fatal(fmt.Errorf("orchestrator: launch browser: %w", err))
	}
	verified := false
	defer func() {
		cctx, cancel := o.cleanupContext(ctx)
		defer cancel()
		if verified {
			o.saveSession(cctx, log, page)
		}
		if err := page.Close(); err != nil {
			log.Warn("orchestrator: close browser", "error", err)
		}
	}()

	if err := page.SetCookies(ctx, art.Cookies); err != nil {
		return engine.Fatal(err)
	}
	if err := o.deps.Engine.CheckSession(ctx, page); err != nil {
		if errors.Is(err, engine.ErrAuthRequired) {
			return fmt.Errorf("%w: %w", session.ErrNotAuthenticated, err)
		}
		return err
	}
	verified = true
	log.Info("orchestrator: session verified", "cookies", len(art.Cookies))

	sink := &Ingestor{
		Store:    o.deps.Store,
		Dedup:    o.deps.Dedup,
		Enricher: o.deps.Enricher,
		Inline:   o.inlineEnabled(ctx, log),
		Platform: task.Platform,
		TaskID:   task.ID,
		Metrics:  o.deps.Metrics,
		Logger:   log,
	}

	for i, t := range task.Targets {
		if i > 0 {
			if err := engine.Sleep(ctx, o.cfg.TargetDelay.Pick(o.rand)); err != nil {
				return err
			}
			if err := page.Checkpoint(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return engine.Fatal(fmt.Errorf("orchestrator: browser checkpoint: %w", err))
			}
			o.deps.Metrics.Checkpoint()
		}
		if t.Cap <= 0 {
			t.Cap = o.cfg.PerTargetCap
		}

		begin := o.now()
		res, cerr := o.deps.Engine.Collect(ctx, page, t, sink)
		o.account(ctx, log, task, t, res, cerr, begin)

		if cerr != nil && (engine.IsFatal(cerr) || ctx.Err() != nil) {
			return cerr
		}
	}
	return nil
}

// inlineEnabled runs the once-per-run health probe.
func (o *Orchestrator) inlineEnabled(ctx context.Context, log *slog.Logger) bool {
	if !o.cfg.InlineEnrich || o.deps.Enricher == nil {
		return false
	}
	if o.deps.Health == nil {
		return true
	}
	if err := o.deps.Health(ctx); err != nil {
		log.Warn("orchestrator: inference unhealthy, inline enrichment disabled for this run", "error", err)
		return false
	}
	return true
}

// account folds one target's counters into the task and persists its run
// log entry together with the running stats.
func (o *Orchestrator) account(ctx context.Context, log *slog.Logger, task *store.Task, t site.Target, res *engine.Result, cerr error, begin time.Time) {
	if res == nil {
		res = &engine.Result{Target: t}
	}
	s := &task.Stats
	s.TargetsProcessed++
	s.RecordsScraped += res.Scraped
	s.RecordsNew += res.New
	s.RecordsDuplicate += res.Duplicate
	s.RecordsStale += res.Stale
	s.RecordsEnriched += res.Enriched

	run := &store.TargetRun{
		ID:         o.newRunID(),
		TaskID:     task.ID,
		Target:     t.String(),
		Status:     store.RunOK,
		StopReason: string(res.StopReason),
		Passes:     res.Passes,
		Scraped:    res.Scraped,
		New:        res.New,
		Duplicate:  res.Duplicate,
		Stale:      res.Stale,
		Enriched:   res.Enriched,
		StartedAt:  begin,
		FinishedAt: o.now(),
	}
	if cerr != nil {
		run.Status = store.RunFailed
		run.Error = cerr.Error()
		if ctx.Err() == nil || !errors.Is(cerr, ctx.Err()) {
			s.TargetsFailed++
			run.FailureClass = string(engine.ClassOf(cerr))
			log.Warn("orchestrator: target failed", "target", t.String(), "class", run.FailureClass, "error", cerr)
		}
	}
	o.deps.Metrics.TargetFinished(run.Status, run.FailureClass)

	wctx, cancel := o.cleanupContext(ctx)
	defer cancel()
	if err := o.deps.Store.RecordTargetRun(wctx, run, task.Stats); err != nil {
		log.Warn("orchestrator: target run log", "target", t.String(), "error", err)
	}
}

// saveSession exports the browser cookies for the platform domain and
// replaces the artifact.
func (o *Orchestrator) saveSession(ctx context.Context, log *slog.Logger, page BrowserSession) {
	raw, err := page.Cookies(ctx)
	if err != nil {
		log.Warn("orchestrator: export cookies", "error", err)
		return
	}
	u, err := url.Parse(o.deps.Engine.Adapter().BaseURL())
	if err != nil {
		log.Warn("orchestrator: base url", "error", err)
		return
	}
	cookies, err := session.FilterDomain(raw, u.Hostname())
	if err != nil {
		log.Warn("orchestrator: scope cookies", "error", err)
		return
	}
	if len(cookies) == 0 {
		log.Warn("orchestrator: browser returned no platform cookies, keeping previous session")
		return
	}
	a := &session.Artifact{Platform: o.Platform(), SavedAt: o.now().UTC(), Cookies: cookies}
	if err := o.deps.Sessions.Save(a); err != nil {
		log.Error("orchestrator: save session", "error", err)
	}
}

// cleanupContext is detached from cancellation so the final writes still
// happen after an interrupt.
func (o *Orchestrator) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CleanupTimeout)
}
