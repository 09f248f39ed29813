package store

import "database/sql"

// Schema is the complete scout schema. Timestamps are unix milliseconds.
const Schema = `
-- Extracted content. One row per fingerprint; enrichment columns are
-- filled after insertion and overwritten on re-analysis.
CREATE TABLE IF NOT EXISTS content_records (
    fingerprint       TEXT PRIMARY KEY,
    platform          TEXT NOT NULL,
    native_id         TEXT,
    author_id         TEXT NOT NULL,
    text              TEXT NOT NULL,
    text_html         TEXT NOT NULL DEFAULT '',
    created_at        INTEGER,
    created_at_raw    TEXT NOT NULL DEFAULT '',
    permalink         TEXT NOT NULL DEFAULT '',
    media_json        TEXT NOT NULL DEFAULT '[]',
    is_repost         INTEGER NOT NULL DEFAULT 0,
    original_author   TEXT NOT NULL DEFAULT '',
    likes             INTEGER NOT NULL DEFAULT 0,
    replies           INTEGER NOT NULL DEFAULT 0,
    reposts           INTEGER NOT NULL DEFAULT 0,
    bookmarks         INTEGER NOT NULL DEFAULT 0,
    views             INTEGER NOT NULL DEFAULT 0,
    target            TEXT NOT NULL DEFAULT '',
    task_id           TEXT NOT NULL DEFAULT '',
    scraped_at        INTEGER NOT NULL,

    analysis_status   TEXT,
    analysis_attempts INTEGER NOT NULL DEFAULT 0,
    sentiment         TEXT,
    stock_related     INTEGER,
    enrichment_json   TEXT,
    model_id          TEXT,
    analyzed_at       INTEGER
);
-- Reposts carry the original status id, so only originals are unique on it.
CREATE UNIQUE INDEX IF NOT EXISTS idx_records_native
    ON content_records(platform, native_id) WHERE native_id IS NOT NULL AND is_repost = 0;
CREATE INDEX IF NOT EXISTS idx_records_author ON content_records(platform, author_id);
CREATE INDEX IF NOT EXISTS idx_records_analysis ON content_records(analysis_status);
CREATE INDEX IF NOT EXISTS idx_records_scraped ON content_records(scraped_at DESC);

-- Author headers, most recent extraction wins.
CREATE TABLE IF NOT EXISTS author_profiles (
    platform      TEXT NOT NULL,
    username      TEXT NOT NULL,
    display_name  TEXT NOT NULL DEFAULT '',
    verified      TEXT NOT NULL DEFAULT 'none',
    followers     INTEGER NOT NULL DEFAULT 0,
    following     INTEGER NOT NULL DEFAULT 0,
    posts         INTEGER NOT NULL DEFAULT 0,
    bio           TEXT NOT NULL DEFAULT '',
    avatar_url    TEXT NOT NULL DEFAULT '',
    banner_url    TEXT NOT NULL DEFAULT '',
    joined_at     INTEGER,
    location      TEXT NOT NULL DEFAULT '',
    website       TEXT NOT NULL DEFAULT '',
    updated_at    INTEGER NOT NULL,
    PRIMARY KEY (platform, username)
);

-- Collection batches.
CREATE TABLE IF NOT EXISTS collection_tasks (
    id              TEXT PRIMARY KEY,
    platform        TEXT NOT NULL,
    targets_json    TEXT NOT NULL DEFAULT '[]',
    per_target_cap  INTEGER NOT NULL DEFAULT 0,
    state           TEXT NOT NULL DEFAULT 'PENDING',
    stats_json      TEXT NOT NULL DEFAULT '{}',
    error           TEXT NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL,
    started_at      INTEGER,
    finished_at     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_tasks_created ON collection_tasks(created_at DESC);

-- One row per target attempted within a task.
CREATE TABLE IF NOT EXISTS target_runs (
    id             TEXT PRIMARY KEY,
    task_id        TEXT NOT NULL REFERENCES collection_tasks(id) ON DELETE CASCADE,
    target         TEXT NOT NULL,
    status         TEXT NOT NULL,
    failure_class  TEXT NOT NULL DEFAULT '',
    error          TEXT NOT NULL DEFAULT '',
    stop_reason    TEXT NOT NULL DEFAULT '',
    passes         INTEGER NOT NULL DEFAULT 0,
    scraped        INTEGER NOT NULL DEFAULT 0,
    new            INTEGER NOT NULL DEFAULT 0,
    duplicate      INTEGER NOT NULL DEFAULT 0,
    stale          INTEGER NOT NULL DEFAULT 0,
    enriched       INTEGER NOT NULL DEFAULT 0,
    started_at     INTEGER NOT NULL,
    finished_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_target_runs_task ON target_runs(task_id, started_at);
`

// ApplySchema creates all tables if they don't exist.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
