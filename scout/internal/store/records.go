package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/signalscout/scout/internal/dbopen"
	"github.com/hazyhaar/signalscout/scout/internal/enrich"
	"github.com/hazyhaar/signalscout/scout/internal/site"
)

// InsertRecord persists a new record. A uniqueness conflict on fingerprint,
// or on (platform, native_id) between non-repost records, returns
// ErrDuplicate.
func (s *Store) InsertRecord(ctx context.Context, r *Record) error {
	if r.ScrapedAt.IsZero() {
		r.ScrapedAt = s.now().UTC()
	}
	media := r.Raw.Media
	if media == nil {
		media = []site.Media{}
	}
	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return fmt.Errorf("store: marshal media: %w", err)
	}
	raw := r.Raw
	_, err = dbopen.Exec(ctx, s.DB, `
		INSERT INTO content_records
			(fingerprint, platform, native_id, author_id, text, text_html,
			 created_at, created_at_raw, permalink, media_json, is_repost, original_author,
			 likes, replies, reposts, bookmarks, views, target, task_id, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Fingerprint, r.Platform, nullString(raw.NativeID), raw.AuthorID, raw.Text, raw.TextHTML,
		nullMillis(raw.CreatedAt), raw.CreatedAtRaw, raw.Permalink, string(mediaJSON),
		boolInt(raw.IsRepost), raw.OriginalAuthor,
		raw.Likes, raw.Replies, raw.Reposts, raw.Bookmarks, raw.Views,
		r.Target, r.TaskID, toMillis(r.ScrapedAt),
	)
	if err != nil {
		if dbopen.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: insert record: %w", err)
	}
	return nil
}

// FingerprintExists reports whether a record with fp is persisted.
func (s *Store) FingerprintExists(ctx context.Context, fp string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx,
		`SELECT 1 FROM content_records WHERE fingerprint = ?`, fp).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// NativeIDExists reports whether an original (non-repost) record with the
// platform status id is persisted.
func (s *Store) NativeIDExists(ctx context.Context, platform, nativeID string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx,
		`SELECT 1 FROM content_records WHERE platform = ? AND native_id = ? AND is_repost = 0`, platform, nativeID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AttachEnrichment stores (or overwrites) the enrichment of a record and
// counts the attempt.
func (s *Store) AttachEnrichment(ctx context.Context, fp string, res enrich.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("store: marshal enrichment: %w", err)
	}
	var analyzed *time.Time
	if !res.AnalyzedAt.IsZero() {
		analyzed = &res.AnalyzedAt
	}
	result, err := dbopen.Exec(ctx, s.DB, `
		UPDATE content_records SET
			analysis_status = ?, analysis_attempts = analysis_attempts + 1,
			sentiment = ?, stock_related = ?, enrichment_json = ?,
			model_id = ?, analyzed_at = ?
		WHERE fingerprint = ?`,
		res.Status, res.Sentiment.Category, boolInt(res.StockRelated.Flag), string(data),
		res.ModelID, nullMillis(analyzed), fp,
	)
	if err != nil {
		return fmt.Errorf("store: attach enrichment: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingAnalysis pages through records that have no enrichment or a
// failed one, in insertion order. The cursor is the SQLite rowid.
func (s *Store) PendingAnalysis(ctx context.Context, q enrich.PendingQuery) ([]enrich.Pending, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	maxAttempts := q.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1 << 30
	}
	var cutoff sql.NullInt64
	if !q.CreatedAfter.IsZero() {
		cutoff = sql.NullInt64{Int64: q.CreatedAfter.UnixMilli(), Valid: true}
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT rowid, fingerprint, text FROM content_records
		WHERE rowid > ?
		  AND (analysis_status IS NULL OR (analysis_status = 'failed' AND analysis_attempts < ?))
		  AND (? IS NULL OR created_at IS NULL OR created_at >= ?)
		ORDER BY rowid
		LIMIT ?`,
		q.After, maxAttempts, cutoff, cutoff, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("store: pending analysis: %w", err)
	}
	defer rows.Close()

	var out []enrich.Pending
	for rows.Next() {
		var p enrich.Pending
		if err := rows.Scan(&p.Cursor, &p.Fingerprint, &p.Text); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const recordColumns = `fingerprint, platform, native_id, author_id, text, text_html,
	created_at, created_at_raw, permalink, media_json, is_repost, original_author,
	likes, replies, reposts, bookmarks, views, target, task_id, scraped_at,
	analysis_attempts, enrichment_json`

type scanner interface{ Scan(dest ...any) error }

func scanRecord(sc scanner) (*Record, error) {
	var (
		r          Record
		nativeID   sql.NullString
		createdAt  sql.NullInt64
		mediaJSON  string
		isRepost   int
		scrapedAt  int64
		enrichJSON sql.NullString
	)
	err := sc.Scan(&r.Fingerprint, &r.Platform, &nativeID, &r.Raw.AuthorID, &r.Raw.Text, &r.Raw.TextHTML,
		&createdAt, &r.Raw.CreatedAtRaw, &r.Raw.Permalink, &mediaJSON, &isRepost, &r.Raw.OriginalAuthor,
		&r.Raw.Likes, &r.Raw.Replies, &r.Raw.Reposts, &r.Raw.Bookmarks, &r.Raw.Views,
		&r.Target, &r.TaskID, &scrapedAt, &r.Attempts, &enrichJSON)
	if err != nil {
		return nil, err
	}
	r.Raw.NativeID = nativeID.String
	r.Raw.CreatedAt = fromNullMillis(createdAt)
	r.Raw.IsRepost = isRepost != 0
	r.ScrapedAt = fromMillis(scrapedAt)
	if err := json.Unmarshal([]byte(mediaJSON), &r.Raw.Media); err != nil {
		return nil, fmt.Errorf("store: decode media: %w", err)
	}
	if enrichJSON.Valid && enrichJSON.String != "" {
		var res enrich.Result
		if err := json.Unmarshal([]byte(enrichJSON.String), &res); err != nil {
			return nil, fmt.Errorf("store: decode enrichment: %w", err)
		}
		r.Enrichment = &res
	}
	return &r, nil
}

// GetRecord returns one record by fingerprint.
func (s *Store) GetRecord(ctx context.Context, fp string) (*Record, error) {
	r, err := scanRecord(s.DB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM content_records WHERE fingerprint = ?`, fp))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get record: %w", err)
	}
	return r, nil
}

// RecordFilter narrows ListRecords.
type RecordFilter struct {
	Author    string
	Sentiment string
	Limit     int
	Offset    int
}

// ListRecords returns the most recently scraped records first.
func (s *Store) ListRecords(ctx context.Context, f RecordFilter) ([]*Record, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	query := `SELECT ` + recordColumns + ` FROM content_records WHERE 1=1`
	var args []any
	if f.Author != "" {
		query += ` AND author_id = ? COLLATE NOCASE`
		args = append(args, f.Author)
	}
	if f.Sentiment != "" {
		query += ` AND sentiment = ?`
		args = append(args, f.Sentiment)
	}
	query += ` ORDER BY scraped_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
