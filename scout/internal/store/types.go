package store

import (
	"time"

	"github.com/hazyhaar/signalscout/scout/internal/enrich"
	"github.com/hazyhaar/signalscout/scout/internal/site"
)

// Record is a persisted content record.
type Record struct {
	Fingerprint string         `json:"fingerprint"`
	Platform    string         `json:"platform"`
	Raw         site.RawRecord `json:"record"`
	Target      string         `json:"target"`
	TaskID      string         `json:"task_id"`
	ScrapedAt   time.Time      `json:"scraped_at"`
	Attempts    int            `json:"analysis_attempts"`
	Enrichment  *enrich.Result `json:"enrichment,omitempty"`
}

// Task states.
const (
	TaskPending   = "PENDING"
	TaskRunning   = "RUNNING"
	TaskCompleted = "COMPLETED"
	TaskFailed    = "FAILED"
)

// TaskStats are the counters a task accumulates.
type TaskStats struct {
	TargetsProcessed int `json:"targets_processed"`
	TargetsFailed    int `json:"targets_failed"`
	RecordsScraped   int `json:"records_scraped"`
	RecordsNew       int `json:"records_new"`
	RecordsDuplicate int `json:"records_duplicate"`
	RecordsStale     int `json:"records_stale"`
	RecordsEnriched  int `json:"records_enriched"`
}

// Task is one collection batch.
type Task struct {
	ID           string        `json:"id"`
	Platform     string        `json:"platform"`
	Targets      []site.Target `json:"targets"`
	PerTargetCap int           `json:"per_target_cap"`
	State        string        `json:"state"`
	Stats        TaskStats     `json:"stats"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// Target run statuses.
const (
	RunOK     = "ok"
	RunFailed = "failed"
)

// TargetRun is the outcome of one target within a task.
type TargetRun struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	Target       string    `json:"target"`
	Status       string    `json:"status"`
	FailureClass string    `json:"failure_class,omitempty"`
	Error        string    `json:"error,omitempty"`
	StopReason   string    `json:"stop_reason,omitempty"`
	Passes       int       `json:"passes"`
	Scraped      int       `json:"scraped"`
	New          int       `json:"new"`
	Duplicate    int       `json:"duplicate"`
	Stale        int       `json:"stale"`
	Enriched     int       `json:"enriched"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Stats is the aggregate view served by `scout stats` and the API.
type Stats struct {
	Records      int            `json:"records"`
	Analyzed     int            `json:"analyzed"`
	Failed       int            `json:"analysis_failed"`
	Pending      int            `json:"analysis_pending"`
	StockRelated int            `json:"stock_related"`
	Profiles     int            `json:"profiles"`
	Sentiment    map[string]int `json:"sentiment"`
	Tasks        map[string]int `json:"tasks"`
	LastScraped  *time.Time     `json:"last_scraped,omitempty"`
}
