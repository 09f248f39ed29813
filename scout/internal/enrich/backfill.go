package enrich

import (
	"context"
	"fmt"
	"time"
)

// PendingStore is the persistence surface Backfill needs.
type PendingStore interface {
	PendingAnalysis(ctx context.Context, q PendingQuery) ([]Pending, error)
	AttachEnrichment(ctx context.Context, fingerprint string, res Result) error
}

// BackfillOptions bounds one catch-up scan.
type BackfillOptions struct {
	BatchSize   int
	MaxAttempts int
	// MaxAge skips records older than the freshness window. 0 disables.
	MaxAge time.Duration
	// Limit caps records analyzed in this scan. 0 means no cap.
	Limit int
}

// BackfillStats counts one scan.
type BackfillStats struct {
	Scanned  int `json:"scanned"`
	Analyzed int `json:"analyzed"`
	Failed   int `json:"failed"`
}

// Backfill walks every record with no enrichment or a failed one and
// (re-)analyzes it, overwriting the stored result. Each record is visited
// at most once per scan. Storage errors stop the scan; inference failures
// are stored as failed results and counted.
func (p *Pipeline) Backfill(ctx context.Context, st PendingStore, opt BackfillOptions) (BackfillStats, error) {
	var stats BackfillStats
	if opt.BatchSize <= 0 {
		opt.BatchSize = 50
	}
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = 3
	}
	q := PendingQuery{Limit: opt.BatchSize, MaxAttempts: opt.MaxAttempts}
	if opt.MaxAge > 0 {
		q.CreatedAfter = p.now().Add(-opt.MaxAge)
	}

	p.logger.Info("enrich: backfill start", "model", p.Model(), "batch_size", opt.BatchSize, "max_attempts", opt.MaxAttempts)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		batch, err := st.PendingAnalysis(ctx, q)
		if err != nil {
			return stats, fmt.Errorf("enrich: backfill: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, item := range batch {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Scanned++
			res := p.Analyze(ctx, item.Text)
			if err := st.AttachEnrichment(ctx, item.Fingerprint, res); err != nil {
				return stats, fmt.Errorf("enrich: backfill attach %s: %w", item.Fingerprint, err)
			}
			if res.OK() {
				stats.Analyzed++
			} else {
				stats.Failed++
			}
			q.After = item.Cursor
			if opt.Limit > 0 && stats.Scanned >= opt.Limit {
				p.logger.Info("enrich: backfill done", "scanned", stats.Scanned, "analyzed", stats.Analyzed, "failed", stats.Failed, "limited", true)
				return stats, nil
			}
		}
	}
	p.logger.Info("enrich: backfill done", "scanned", stats.Scanned, "analyzed", stats.Analyzed, "failed", stats.Failed)
	return stats, nil
}
