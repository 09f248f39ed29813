package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/signalscout/scout/internal/dedup"
	"github.com/hazyhaar/signalscout/scout/internal/engine"
	"github.com/hazyhaar/signalscout/scout/internal/enrich"
	"github.com/hazyhaar/signalscout/scout/internal/metrics"
	"github.com/hazyhaar/signalscout/scout/internal/site"
	"github.com/hazyhaar/signalscout/scout/internal/store"
)

// pingTimeout bounds the reachability check after a store error.
const pingTimeout = 5 * time.Second

// Ingestor is the engine sink of one run: dedup, persist, then analyze
// inline when enabled.
type Ingestor struct {
	Store    *store.Store
	Dedup    *dedup.Deduplicator
	Enricher *enrich.Pipeline
	// Inline is false when no enricher is configured or its health probe
	// failed for this run; records then wait for backfill.
	Inline   bool
	Platform string
	TaskID   string
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

var (
	_ engine.Sink        = (*Ingestor)(nil)
	_ engine.ProfileSink = (*Ingestor)(nil)
)

// Ingest handles one unseen record. A conflicting insert is a duplicate.
func (in *Ingestor) Ingest(ctx context.Context, t site.Target, rec site.RawRecord, fp string) (engine.SinkResult, error) {
	v, err := in.Dedup.ShouldIngest(ctx, rec, fp)
	if err != nil {
		return engine.SinkResult{}, in.storeFault(ctx, err)
	}
	switch v {
	case dedup.Stale:
		in.Metrics.RecordOutcome("stale")
		return engine.SinkResult{Outcome: engine.OutcomeStale}, nil
	case dedup.Duplicate:
		in.Metrics.RecordOutcome("duplicate")
		return engine.SinkResult{Outcome: engine.OutcomeDuplicate}, nil
	}

	r := &store.Record{
		Fingerprint: fp,
		Platform:    in.Platform,
		Raw:         rec,
		Target:      t.String(),
		TaskID:      in.TaskID,
	}
	if err := in.Store.InsertRecord(ctx, r); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			in.Metrics.RecordOutcome("duplicate")
			return engine.SinkResult{Outcome: engine.OutcomeDuplicate}, nil
		}
		return engine.SinkResult{}, in.storeFault(ctx, err)
	}
	in.Metrics.RecordOutcome("new")

	out := engine.SinkResult{Outcome: engine.OutcomeNew}
	if !in.Inline || in.Enricher == nil {
		return out, nil
	}
	res := in.Enricher.Analyze(ctx, rec.Text)
	if err := in.Store.AttachEnrichment(ctx, fp, res); err != nil {
		in.logger().Warn("orchestrator: attach enrichment", "fingerprint", fp, "error", err)
		return out, nil
	}
	in.Metrics.Enriched(res.Status)
	out.Enriched = res.OK()
	return out, nil
}

// UpsertProfile stores the author header of a timeline target.
func (in *Ingestor) UpsertProfile(ctx context.Context, p site.AuthorProfile) error {
	if err := in.Store.UpsertProfile(ctx, in.Platform, p); err != nil {
		return in.storeFault(ctx, err)
	}
	return nil
}

// storeFault escalates err to a run-aborting fault when the database no
// longer answers a ping.
func (in *Ingestor) storeFault(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if perr := in.Store.Ping(pctx); perr != nil {
		return engine.Fatal(fmt.Errorf("orchestrator: store unreachable: %w", errors.Join(err, perr)))
	}
	return err
}

func (in *Ingestor) logger() *slog.Logger {
	if in.Logger == nil {
		return slog.Default()
	}
	return in.Logger
}
