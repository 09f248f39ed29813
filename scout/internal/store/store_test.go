package store

import (
	"context"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/signalscout/scout/internal/dbopen"
	"github.com/hazyhaar/signalscout/scout/internal/enrich"
	"github.com/hazyhaar/signalscout/scout/internal/site"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func sampleRecord(fp, nativeID string) *Record {
	created := time.Date(2024, 5, 13, 14, 0, 0, 0, time.UTC)
	return &Record{
		Fingerprint: fp,
		Platform:    "x",
		Target:      "@nvwatch",
		TaskID:      "task-1",
		Raw: site.RawRecord{
			NativeID:  nativeID,
			AuthorID:  "nvwatch",
			Text:      "$NVDA beat",
			CreatedAt: &created,
			Media:     []site.Media{{Type: site.MediaPhoto, URL: "https://p/1.jpg"}},
			Likes:     10,
			Views:     1000,
		},
	}
}

func TestApplySchema(t *testing.T) {
	// WHAT: Schema creates all tables.
	// WHY: Schema is the foundation; if it fails, nothing works.
	s := openTestStore(t)
	for _, table := range []string{"content_records", "author_profiles", "collection_tasks", "target_runs"} {
		var name string
		err := s.DB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestInsertRecord_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.InsertRecord(ctx, sampleRecord("fp1", "100")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.GetRecord(ctx, "fp1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Raw.NativeID != "100" || got.Raw.Likes != 10 || len(got.Raw.Media) != 1 {
		t.Fatalf("got %+v", got.Raw)
	}
	if got.Raw.CreatedAt == nil || got.Raw.CreatedAt.Year() != 2024 {
		t.Fatalf("created_at: got %v", got.Raw.CreatedAt)
	}
	if got.Enrichment != nil {
		t.Fatal("fresh record should have no enrichment")
	}
}

func TestInsertRecord_Duplicates(t *testing.T) {
	// WHAT: Fingerprint and native-id conflicts surface as ErrDuplicate.
	// WHY: A race between the existence check and insert must read as a duplicate.
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.InsertRecord(ctx, sampleRecord("fp1", "100")); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertRecord(ctx, sampleRecord("fp1", "")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("same fingerprint: got %v", err)
	}
	if err := s.InsertRecord(ctx, sampleRecord("fp2", "100")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("same native id: got %v", err)
	}
	// Records without a native id never collide on it.
	if err := s.InsertRecord(ctx, sampleRecord("fp3", "")); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertRecord(ctx, sampleRecord("fp4", "")); err != nil {
		t.Fatal(err)
	}

	ok, err := s.FingerprintExists(ctx, "fp1")
	if err != nil || !ok {
		t.Fatalf("FingerprintExists: %v %v", ok, err)
	}
	ok, _ = s.NativeIDExists(ctx, "x", "100")
	if !ok {
		t.Fatal("NativeIDExists: want true")
	}
	ok, _ = s.NativeIDExists(ctx, "xueqiu", "100")
	if ok {
		t.Fatal("native ids are scoped per platform")
	}
}

func TestInsertRecord_RepostSharesNativeID(t *testing.T) {
	// WHAT: A repost may share its status id with the stored original, and
	// does not make that id look taken.
	// WHY: Reposts surface the original's id; they are separate records.
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.InsertRecord(ctx, sampleRecord("fp1", "100")); err != nil {
		t.Fatal(err)
	}
	repost := sampleRecord("fp2", "100")
	repost.Raw.AuthorID = "kol"
	repost.Raw.IsRepost = true
	repost.Raw.OriginalAuthor = "nvwatch"
	if err := s.InsertRecord(ctx, repost); err != nil {
		t.Fatalf("repost: %v", err)
	}

	other := sampleRecord("fp3", "200")
	other.Raw.IsRepost = true
	if err := s.InsertRecord(ctx, other); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.NativeIDExists(ctx, "x", "200"); ok {
		t.Error("a repost alone must not mark the status id as stored")
	}
	if err := s.InsertRecord(ctx, sampleRecord("fp4", "200")); err != nil {
		t.Errorf("original after its repost: %v", err)
	}
}

func TestEnrichment_PendingAndOverwrite(t *testing.T) {
	// WHAT: Pending lists unanalyzed and failed records; attach overwrites.
	// WHY: Backfill relies on this to retry failures exactly until they succeed.
	s := openTestStore(t)
	ctx := context.Background()
	for _, fp := range []string{"a", "b", "c"} {
		if err := s.InsertRecord(ctx, sampleRecord(fp, "")); err != nil {
			t.Fatal(err)
		}
	}
	now := time.Now().UTC()
	ok := enrich.Result{Sentiment: enrich.Sentiment{Category: enrich.Bullish, Confidence: 0.8}, Status: enrich.StatusOK, AnalyzedAt: now, ModelID: "m"}
	failed := enrich.NeutralResult("m", enrich.FailedReasoning, now)

	if err := s.AttachEnrichment(ctx, "a", ok); err != nil {
		t.Fatal(err)
	}
	if err := s.AttachEnrichment(ctx, "b", failed); err != nil {
		t.Fatal(err)
	}

	pending, err := s.PendingAnalysis(ctx, enrich.PendingQuery{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].Fingerprint != "b" || pending[1].Fingerprint != "c" {
		t.Fatalf("pending: got %+v", pending)
	}

	// Attempt cap excludes b after one failed attempt.
	pending, _ = s.PendingAnalysis(ctx, enrich.PendingQuery{Limit: 10, MaxAttempts: 1})
	if len(pending) != 1 || pending[0].Fingerprint != "c" {
		t.Fatalf("capped pending: got %+v", pending)
	}

	// Keyset pagination.
	page, _ := s.PendingAnalysis(ctx, enrich.PendingQuery{Limit: 1})
	next, _ := s.PendingAnalysis(ctx, enrich.PendingQuery{After: page[0].Cursor, Limit: 1})
	if len(next) != 1 || next[0].Fingerprint != "c" {
		t.Fatalf("second page: got %+v", next)
	}

	if err := s.AttachEnrichment(ctx, "b", ok); err != nil {
		t.Fatal(err)
	}
	rec, _ := s.GetRecord(ctx, "b")
	if rec.Enrichment == nil || rec.Enrichment.Status != enrich.StatusOK || rec.Attempts != 2 {
		t.Fatalf("overwrite: got %+v attempts=%d", rec.Enrichment, rec.Attempts)
	}

	if err := s.AttachEnrichment(ctx, "missing", ok); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing record: got %v", err)
	}
}

func TestPendingAnalysis_CreatedAfter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	old := sampleRecord("old", "")
	tOld := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	old.Raw.CreatedAt = &tOld
	undated := sampleRecord("undated", "")
	undated.Raw.CreatedAt = nil
	for _, r := range []*Record{old, undated, sampleRecord("new", "")} {
		if err := s.InsertRecord(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.PendingAnalysis(ctx, enrich.PendingQuery{Limit: 10, CreatedAfter: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Fingerprint != "undated" || got[1].Fingerprint != "new" {
		t.Fatalf("got %+v", got)
	}
}

func TestUpsertProfile(t *testing.T) {
	// WHAT: Profiles upsert by username; the latest extraction wins.
	s := openTestStore(t)
	ctx := context.Background()
	p := site.AuthorProfile{Username: "nvwatch", DisplayName: "Old", Followers: 10, Verified: site.VerifiedBlue}
	if err := s.UpsertProfile(ctx, "x", p); err != nil {
		t.Fatal(err)
	}
	p.DisplayName, p.Followers = "New", 20
	if err := s.UpsertProfile(ctx, "x", p); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetProfile(ctx, "x", "NVWATCH")
	if err != nil {
		t.Fatal(err)
	}
	if got.DisplayName != "New" || got.Followers != 20 || got.Verified != site.VerifiedBlue {
		t.Fatalf("got %+v", got)
	}
	var n int
	s.DB.QueryRow(`SELECT COUNT(*) FROM author_profiles`).Scan(&n)
	if n != 1 {
		t.Fatalf("rows: got %d, want 1", n)
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task := &Task{ID: "t1", Platform: "x", PerTargetCap: 50,
		Targets: []site.Target{{Kind: site.KindAuthor, Value: "nvwatch"}}}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	if err := s.StartTask(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	run := &TargetRun{ID: "r1", TaskID: "t1", Target: "@nvwatch", Status: RunOK, New: 3,
		StartedAt: time.Now(), FinishedAt: time.Now()}
	if err := s.InsertTargetRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	stats := TaskStats{TargetsProcessed: 1, RecordsNew: 3}
	if err := s.FinishTask(ctx, "t1", TaskCompleted, stats, ""); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != TaskCompleted || got.Stats.RecordsNew != 3 || got.StartedAt == nil || got.FinishedAt == nil {
		t.Fatalf("got %+v", got)
	}
	if len(got.Targets) != 1 || got.Targets[0].Value != "nvwatch" {
		t.Fatalf("targets: got %+v", got.Targets)
	}
	runs, _ := s.ListTargetRuns(ctx, "t1")
	if len(runs) != 1 || runs[0].New != 3 {
		t.Fatalf("runs: got %+v", runs)
	}
	if _, err := s.GetTask(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing task: got %v", err)
	}
}

func TestRecordTargetRun_Atomic(t *testing.T) {
	// WHAT: The run log entry and the task's running stats are written
	// together or not at all.
	// WHY: A task page whose counters disagree with its run log is useless
	// for diagnosing a batch.
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateTask(ctx, &Task{ID: "t1", Platform: "x"}); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	run := &TargetRun{ID: "r1", TaskID: "t1", Target: "@a", Status: RunOK, New: 2, StartedAt: now, FinishedAt: now}
	if err := s.RecordTargetRun(ctx, run, TaskStats{TargetsProcessed: 1, RecordsNew: 2}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Stats.RecordsNew != 2 || got.State != TaskPending {
		t.Fatalf("task = %+v", got)
	}

	// Reusing the run id fails the insert, so the stats update rolls back.
	if err := s.RecordTargetRun(ctx, run, TaskStats{TargetsProcessed: 2, RecordsNew: 9}); err == nil {
		t.Fatal("want error on duplicate run id")
	}
	got, _ = s.GetTask(ctx, "t1")
	if got.Stats.TargetsProcessed != 1 || got.Stats.RecordsNew != 2 {
		t.Errorf("stats after failed write = %+v", got.Stats)
	}

	orphan := &TargetRun{ID: "r2", TaskID: "missing", Target: "@a", Status: RunOK, StartedAt: now, FinishedAt: now}
	if err := s.RecordTargetRun(ctx, orphan, TaskStats{}); err == nil {
		t.Error("want error for unknown task")
	}
	if runs, _ := s.ListTargetRuns(ctx, "missing"); len(runs) != 0 {
		t.Errorf("orphan runs = %d", len(runs))
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.InsertRecord(ctx, sampleRecord("a", ""))
	s.InsertRecord(ctx, sampleRecord("b", ""))
	res := enrich.Result{Sentiment: enrich.Sentiment{Category: enrich.Bearish}, StockRelated: enrich.StockRelated{Flag: true}, Status: enrich.StatusOK}
	s.AttachEnrichment(ctx, "a", res)
	s.CreateTask(ctx, &Task{ID: "t1", Platform: "x"})

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Records != 2 || st.Analyzed != 1 || st.Pending != 1 || st.StockRelated != 1 {
		t.Fatalf("got %+v", st)
	}
	if st.Sentiment[enrich.Bearish] != 1 || st.Tasks[TaskPending] != 1 {
		t.Fatalf("breakdowns: got %+v / %+v", st.Sentiment, st.Tasks)
	}
	if st.LastScraped == nil {
		t.Fatal("last scraped missing")
	}
}
