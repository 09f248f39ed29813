// Package engine drives one browser page through a target: navigate, wait
// for content, then scroll-and-extract until the cap, stagnation or the
// hard scroll limit stops it.
//
// Each pass takes exactly one HTML snapshot and extracts every visible
// record from it; the adapter never sees live element handles. Records are
// handed to the Sink synchronously, so persistence and inline enrichment
// complete before the next scroll.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/signalscout/scout/internal/dedup"
	"github.com/hazyhaar/signalscout/scout/internal/site"
)

// Page is the browser surface the engine drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	Scroll(ctx context.Context) error
	// WaitSettle waits for network idle, bounded by timeout. A timeout is
	// not an error; the pass proceeds with whatever rendered.
	WaitSettle(ctx context.Context, timeout time.Duration) error
}

// Outcome is what the sink did with one record.
type Outcome int

const (
	OutcomeNew Outcome = iota
	OutcomeDuplicate
	OutcomeStale
)

// SinkResult reports one ingested record.
type SinkResult struct {
	Outcome  Outcome
	Enriched bool
}

// Sink receives every unseen record of a pass. Errors wrapped with
// ErrFatal abort the run; any other error is counted and skipped.
type Sink interface {
	Ingest(ctx context.Context, t site.Target, rec site.RawRecord, fingerprint string) (SinkResult, error)
}

// ProfileSink is implemented by sinks that persist author headers.
type ProfileSink interface {
	UpsertProfile(ctx context.Context, p site.AuthorProfile) error
}

// StopReason explains why a target's loop ended.
type StopReason string

const (
	StopCap        StopReason = "cap"
	StopStagnation StopReason = "stagnation"
	StopMaxScrolls StopReason = "max_scrolls"
	StopCancelled  StopReason = "cancelled"
)

// Result are the per-target counters.
type Result struct {
	Target     site.Target
	Passes     int
	Scraped    int
	New        int
	Duplicate  int
	Stale      int
	Enriched   int
	Errors     int
	StopReason StopReason
	Profile    *site.AuthorProfile
}

// Config bounds the loop.
type Config struct {
	DefaultCap      int
	MaxScrolls      int
	StagnationLimit int
	ContentTimeout  time.Duration
	SettleTimeout   time.Duration
	PollInterval    time.Duration
	ScrollDelay     Delay
}

func (c *Config) applyDefaults() {
	if c.DefaultCap <= 0 {
		c.DefaultCap = 100
	}
	if c.MaxScrolls <= 0 {
		c.MaxScrolls = 50
	}
	if c.StagnationLimit <= 0 {
		c.StagnationLimit = 2
	}
	if c.ContentTimeout <= 0 {
		c.ContentTimeout = 20 * time.Second
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = 3 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
}

// Engine is parameterised by a site adapter; one engine serves every target
// of a platform.
type Engine struct {
	adapter site.Adapter
	cfg     Config
	logger  *slog.Logger
	rand    *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithRand pins the delay source.
func WithRand(r *rand.Rand) Option { return func(e *Engine) { e.rand = r } }

// New creates an Engine.
func New(adapter site.Adapter, cfg Config, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{adapter: adapter, cfg: cfg}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Adapter returns the site adapter the engine drives.
func (e *Engine) Adapter() site.Adapter { return e.adapter }

// CheckSession navigates to the platform home and waits for either the
// signed-in marker or the login wall. Anything short of a positive marker
// within the content timeout is ErrAuthRequired.
func (e *Engine) CheckSession(ctx context.Context, page Page) error {
	if err := page.Navigate(ctx, e.adapter.BaseURL()); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("engine: session probe: %w", err)
	}
	wctx, cancel := context.WithTimeout(ctx, e.cfg.ContentTimeout)
	defer cancel()
	for {
		if doc, err := e.snapshot(wctx, page); err == nil {
			if e.adapter.IsAuthenticated(doc) {
				return nil
			}
			if e.adapter.LoginRequired(doc) {
				return ErrAuthRequired
			}
		}
		if err := Sleep(wctx, e.cfg.PollInterval); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: no signed-in marker within %s", ErrAuthRequired, e.cfg.ContentTimeout)
		}
	}
}

// Collect runs the scroll loop for one target. On cancellation the partial
// Result is returned with StopCancelled and the context error.
func (e *Engine) Collect(ctx context.Context, page Page, t site.Target, sink Sink) (*Result, error) {
	res := &Result{Target: t}
	limit := t.Cap
	if limit <= 0 {
		limit = e.cfg.DefaultCap
	}
	log := e.logger.With("target", t.String(), "platform", e.adapter.Platform())

	url, err := e.adapter.TargetURL(t)
	if err != nil {
		return res, &TargetError{Target: t, Class: ClassUnknown, Err: err}
	}
	log.Info("engine: target start", "url", url, "cap", limit)

	if err := page.Navigate(ctx, url); err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx, res)
		}
		return res, &TargetError{Target: t, Class: Classify(err), Err: fmt.Errorf("navigate: %w", err)}
	}

	doc, err := e.waitForContent(ctx, page, t)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx, res)
		}
		return res, err
	}

	if t.Kind == site.KindAuthor {
		if err := e.captureProfile(ctx, doc, sink, res); err != nil {
			return res, err
		}
	}

	seen := make(map[string]struct{})
	idle := 0
	for {
		res.Passes++
		if res.Passes > 1 {
			doc, err = e.snapshot(ctx, page)
			if err != nil {
				if ctx.Err() != nil {
					return cancelled(ctx, res)
				}
				return res, &TargetError{Target: t, Class: Classify(err), Err: fmt.Errorf("snapshot: %w", err)}
			}
			if e.adapter.LoginRequired(doc) {
				return res, &TargetError{Target: t, Class: ClassAuth, Err: ErrAuthRequired}
			}
		}

		unseen := 0
		for _, rec := range e.adapter.ExtractRecords(doc) {
			fp := dedup.Fingerprint(rec.AuthorID, rec.Text)
			if _, ok := seen[fp]; ok {
				continue
			}
			seen[fp] = struct{}{}
			unseen++
			res.Scraped++

			out, err := sink.Ingest(ctx, t, rec, fp)
			switch {
			case err != nil && IsFatal(err):
				return res, err
			case err != nil && ctx.Err() != nil:
				return cancelled(ctx, res)
			case err != nil:
				res.Errors++
				log.Warn("engine: ingest failed", "native_id", rec.NativeID, "error", err)
			default:
				switch out.Outcome {
				case OutcomeNew:
					res.New++
				case OutcomeDuplicate:
					res.Duplicate++
				case OutcomeStale:
					res.Stale++
				}
				if out.Enriched {
					res.Enriched++
				}
			}

			if res.Scraped >= limit {
				res.StopReason = StopCap
				log.Info("engine: target done", resultAttrs(res)...)
				return res, nil
			}
		}

		if unseen == 0 {
			idle++
		} else {
			idle = 0
		}
		log.Debug("engine: scroll pass", "pass", res.Passes, "unseen", unseen, "scraped", res.Scraped, "idle", idle)

		if idle >= e.cfg.StagnationLimit {
			res.StopReason = StopStagnation
			break
		}
		if res.Passes >= e.cfg.MaxScrolls {
			res.StopReason = StopMaxScrolls
			break
		}

		if err := page.Scroll(ctx); err != nil {
			if ctx.Err() != nil {
				return cancelled(ctx, res)
			}
			return res, &TargetError{Target: t, Class: Classify(err), Err: fmt.Errorf("scroll: %w", err)}
		}
		if err := page.WaitSettle(ctx, e.cfg.SettleTimeout); err != nil && ctx.Err() == nil {
			log.Debug("engine: settle", "error", err)
		}
		if err := Sleep(ctx, e.cfg.ScrollDelay.Pick(e.rand)); err != nil {
			return cancelled(ctx, res)
		}
	}

	log.Info("engine: target done", resultAttrs(res)...)
	return res, nil
}

func cancelled(ctx context.Context, res *Result) (*Result, error) {
	res.StopReason = StopCancelled
	return res, ctx.Err()
}

func resultAttrs(r *Result) []any {
	return []any{
		"passes", r.Passes, "scraped", r.Scraped, "records_new", r.New,
		"records_duplicate", r.Duplicate, "records_stale", r.Stale,
		"records_enriched", r.Enriched, "stop_reason", string(r.StopReason),
	}
}

// waitForContent polls snapshots until the adapter sees content, a login
// wall, or a definitive failure page, bounded by ContentTimeout.
func (e *Engine) waitForContent(ctx context.Context, page Page, t site.Target) (*goquery.Document, error) {
	wctx, cancel := context.WithTimeout(ctx, e.cfg.ContentTimeout)
	defer cancel()

	var last *goquery.Document
	for {
		if doc, err := e.snapshot(wctx, page); err == nil {
			last = doc
			if e.adapter.LoginRequired(doc) {
				return nil, &TargetError{Target: t, Class: ClassAuth, Err: ErrAuthRequired}
			}
			if e.adapter.ContentLoaded(doc) {
				return doc, nil
			}
			if c := e.adapter.Diagnose(doc); c != site.ConditionUnknown {
				return nil, &TargetError{Target: t, Class: classFromCondition(c), Err: fmt.Errorf("%w: %s", ErrContentTimeout, c)}
			}
		}
		if err := Sleep(wctx, e.cfg.PollInterval); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			break
		}
	}

	class := ClassTimeout
	if last != nil {
		class = classFromCondition(e.adapter.Diagnose(last))
	}
	return nil, &TargetError{Target: t, Class: class, Err: ErrContentTimeout}
}

func (e *Engine) captureProfile(ctx context.Context, doc *goquery.Document, sink Sink, res *Result) error {
	p, ok := e.adapter.ExtractProfile(doc)
	if !ok {
		return nil
	}
	res.Profile = &p
	ps, ok := sink.(ProfileSink)
	if !ok {
		return nil
	}
	if err := ps.UpsertProfile(ctx, p); err != nil {
		if IsFatal(err) {
			return err
		}
		e.logger.Warn("engine: profile upsert failed", "username", p.Username, "error", err)
	}
	return nil
}

func (e *Engine) snapshot(ctx context.Context, page Page) (*goquery.Document, error) {
	h, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(h))
}
