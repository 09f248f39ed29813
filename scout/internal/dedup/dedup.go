// Package dedup decides whether an extracted record is new content.
//
// Identity is a content fingerprint: hex SHA-256 over the lowercased author
// id and the first 100 runes of the normalized text. Timestamps and
// engagement counters are excluded so a re-scraped record with fresh
// counters maps to the same fingerprint.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/hazyhaar/signalscout/scout/internal/site"
)

// PrefixRunes is how much normalized text participates in the fingerprint.
const PrefixRunes = 100

// Normalize applies NFKC, lowercases, collapses whitespace runs and trims.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Fingerprint is deterministic in (authorID, text).
func Fingerprint(authorID, text string) string {
	n := []rune(Normalize(text))
	if len(n) > PrefixRunes {
		n = n[:PrefixRunes]
	}
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(authorID))))
	h.Write([]byte{0})
	h.Write([]byte(string(n)))
	return hex.EncodeToString(h.Sum(nil))
}

// Verdict is the outcome of ShouldIngest.
type Verdict int

const (
	Ingest Verdict = iota
	Duplicate
	Stale
)

func (v Verdict) String() string {
	switch v {
	case Ingest:
		return "ingest"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Store answers existence queries against persisted content.
type Store interface {
	FingerprintExists(ctx context.Context, fp string) (bool, error)
	NativeIDExists(ctx context.Context, platform, nativeID string) (bool, error)
}

// Deduplicator applies the age policy, then existence checks.
type Deduplicator struct {
	store    Store
	platform string
	maxAge   time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(d *Deduplicator) { d.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Deduplicator) { d.logger = l } }

// New creates a Deduplicator. maxAgeDays <= 0 disables the age policy.
func New(st Store, platform string, maxAgeDays int, opts ...Option) *Deduplicator {
	d := &Deduplicator{
		store:    st,
		platform: platform,
		maxAge:   time.Duration(maxAgeDays) * 24 * time.Hour,
		now:      time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// IsStale reports whether rec is older than the maximum age. A record
// exactly max_age_days old is kept. Records without a parsed timestamp are
// treated as fresh.
func (d *Deduplicator) IsStale(rec site.RawRecord) bool {
	if d.maxAge <= 0 || rec.CreatedAt == nil {
		return false
	}
	return d.now().Sub(*rec.CreatedAt) > d.maxAge
}

// Cutoff is the oldest creation time still considered fresh; zero when the
// age policy is disabled.
func (d *Deduplicator) Cutoff() time.Time {
	if d.maxAge <= 0 {
		return time.Time{}
	}
	return d.now().Add(-d.maxAge)
}

func (d *Deduplicator) ExistsFingerprint(ctx context.Context, fp string) (bool, error) {
	ok, err := d.store.FingerprintExists(ctx, fp)
	if err != nil {
		return false, fmt.Errorf("dedup: fingerprint lookup: %w", err)
	}
	return ok, nil
}

func (d *Deduplicator) ExistsNativeID(ctx context.Context, nativeID string) (bool, error) {
	if nativeID == "" {
		return false, nil
	}
	ok, err := d.store.NativeIDExists(ctx, d.platform, nativeID)
	if err != nil {
		return false, fmt.Errorf("dedup: native id lookup: %w", err)
	}
	return ok, nil
}

// ShouldIngest runs the age policy first, then the native-id pre-filter,
// then the fingerprint check. Reposts skip the native-id pre-filter: their
// id is the original status's, and the reposter's copy is a record of its
// own, told apart by fingerprint.
func (d *Deduplicator) ShouldIngest(ctx context.Context, rec site.RawRecord, fp string) (Verdict, error) {
	if d.IsStale(rec) {
		d.logger.Debug("dedup: stale record", "author", rec.AuthorID, "created_at", rec.CreatedAt)
		return Stale, nil
	}
	if !rec.IsRepost {
		if ok, err := d.ExistsNativeID(ctx, rec.NativeID); err != nil {
			return Ingest, err
		} else if ok {
			return Duplicate, nil
		}
	}
	ok, err := d.ExistsFingerprint(ctx, fp)
	if err != nil {
		return Ingest, err
	}
	if ok {
		return Duplicate, nil
	}
	return Ingest, nil
}
