package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/signalscout/scout/internal/dbopen"
	"github.com/hazyhaar/signalscout/scout/internal/site"
)

// CreateTask inserts a task in PENDING state.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	targets := t.Targets
	if targets == nil {
		targets = []site.Target{}
	}
	tj, err := json.Marshal(targets)
	if err != nil {
		return fmt.Errorf("store: marshal targets: %w", err)
	}
	sj, _ := json.Marshal(t.Stats)
	if t.State == "" {
		t.State = TaskPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	_, err = dbopen.Exec(ctx, s.DB, `
		INSERT INTO collection_tasks (id, platform, targets_json, per_target_cap, state, stats_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Platform, string(tj), t.PerTargetCap, t.State, string(sj), toMillis(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: create task: %w", err)
	}
	return nil
}

// StartTask moves a task to RUNNING.
func (s *Store) StartTask(ctx context.Context, id string) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE collection_tasks SET state = ?, started_at = ? WHERE id = ?`,
		TaskRunning, toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("store: start task: %w", err)
	}
	return nil
}

// FinishTask records the terminal state, final stats and failure reason.
func (s *Store) FinishTask(ctx context.Context, id, state string, stats TaskStats, reason string) error {
	sj, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("store: marshal stats: %w", err)
	}
	_, err = dbopen.Exec(ctx, s.DB, `
		UPDATE collection_tasks SET state = ?, stats_json = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		state, string(sj), reason, toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("store: finish task: %w", err)
	}
	return nil
}

const taskColumns = `id, platform, targets_json, per_target_cap, state, stats_json, error,
	created_at, started_at, finished_at`

func scanTask(sc scanner) (*Task, error) {
	var (
		t        Task
		tj, sj   string
		created  int64
		started  sql.NullInt64
		finished sql.NullInt64
	)
	if err := sc.Scan(&t.ID, &t.Platform, &tj, &t.PerTargetCap, &t.State, &sj, &t.Error,
		&created, &started, &finished); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tj), &t.Targets); err != nil {
		return nil, fmt.Errorf("store: decode targets: %w", err)
	}
	if err := json.Unmarshal([]byte(sj), &t.Stats); err != nil {
		return nil, fmt.Errorf("store: decode stats: %w", err)
	}
	t.CreatedAt = fromMillis(created)
	t.StartedAt = fromNullMillis(started)
	t.FinishedAt = fromNullMillis(finished)
	return &t, nil
}

// GetTask returns one task.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	t, err := scanTask(s.DB.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM collection_tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task: %w", err)
	}
	return t, nil
}

// ListTasks returns the most recent tasks first.
func (s *Store) ListTasks(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM collection_tasks ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertTargetRun appends a per-target outcome to a task's log.
func (s *Store) InsertTargetRun(ctx context.Context, r *TargetRun) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		return insertTargetRun(ctx, tx, r)
	})
}

// RecordTargetRun appends r to the task's log and flushes the task's
// running stats in one transaction, so the log and the counters never
// disagree.
func (s *Store) RecordTargetRun(ctx context.Context, r *TargetRun, stats TaskStats) error {
	sj, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("store: marshal stats: %w", err)
	}
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := insertTargetRun(ctx, tx, r); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE collection_tasks SET stats_json = ? WHERE id = ?`, string(sj), r.TaskID)
		if err != nil {
			return fmt.Errorf("store: save task stats: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("store: save task stats %s: %w", r.TaskID, ErrNotFound)
		}
		return nil
	})
}

func insertTargetRun(ctx context.Context, ex execer, r *TargetRun) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO target_runs
			(id, task_id, target, status, failure_class, error, stop_reason,
			 passes, scraped, new, duplicate, stale, enriched, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, r.Target, r.Status, r.FailureClass, r.Error, r.StopReason,
		r.Passes, r.Scraped, r.New, r.Duplicate, r.Stale, r.Enriched,
		toMillis(r.StartedAt), toMillis(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("store: insert target run: %w", err)
	}
	return nil
}

// ListTargetRuns returns a task's per-target log in execution order.
func (s *Store) ListTargetRuns(ctx context.Context, taskID string) ([]*TargetRun, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, task_id, target, status, failure_class, error, stop_reason,
		       passes, scraped, new, duplicate, stale, enriched, started_at, finished_at
		FROM target_runs WHERE task_id = ? ORDER BY started_at, rowid`, taskID)
	if err != nil {
		return nil, fmt.Errorf("store: list target runs: %w", err)
	}
	defer rows.Close()
	var out []*TargetRun
	for rows.Next() {
		var (
			r                 TargetRun
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Target, &r.Status, &r.FailureClass, &r.Error, &r.StopReason,
			&r.Passes, &r.Scraped, &r.New, &r.Duplicate, &r.Stale, &r.Enriched, &started, &finished); err != nil {
			return nil, err
		}
		r.StartedAt = fromMillis(started)
		r.FinishedAt = fromMillis(finished)
		out = append(out, &r)
	}
	return out, rows.Err()
}
