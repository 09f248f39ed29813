package dedup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/signalscout/scout/internal/site"
)

type memStore struct {
	fps  map[string]bool
	ids  map[string]bool
	fail error
}

func newMemStore() *memStore {
	return &memStore{fps: map[string]bool{}, ids: map[string]bool{}}
}

func (m *memStore) FingerprintExists(_ context.Context, fp string) (bool, error) {
	return m.fps[fp], m.fail
}

func (m *memStore) NativeIDExists(_ context.Context, platform, id string) (bool, error) {
	return m.ids[platform+"/"+id], m.fail
}

func TestFingerprint_Deterministic(t *testing.T) {
	// WHAT: Same (author, text) always yields the same fingerprint.
	// WHY: Cross-run dedup depends on it.
	a := Fingerprint("NVWatch", "$NVDA  beat\n estimates")
	b := Fingerprint("nvwatch", "  $nvda beat estimates ")
	if a != b {
		t.Fatalf("case/whitespace variants differ: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("want hex sha-256, got %d chars", len(a))
	}
	if Fingerprint("other", "$NVDA beat estimates") == a {
		t.Fatal("author must participate")
	}
}

func TestFingerprint_NFKC(t *testing.T) {
	// WHAT: Full-width and compatibility forms collapse under NFKC.
	// WHY: CJK platforms mix full-width Latin into otherwise identical posts.
	if Fingerprint("u", "ＡＢＣ　１２３") != Fingerprint("u", "abc 123") {
		t.Fatal("full-width text should normalize to ascii")
	}
}

func TestFingerprint_PrefixOnly(t *testing.T) {
	// WHAT: Only the first 100 normalized runes count.
	// WHY: Platforms truncate long posts differently across views.
	base := strings.Repeat("x", PrefixRunes)
	if Fingerprint("u", base+" tail one") != Fingerprint("u", base+" tail two") {
		t.Fatal("text past the prefix must not change the fingerprint")
	}
	if Fingerprint("u", "y"+base) == Fingerprint("u", base) {
		t.Fatal("text within the prefix must change the fingerprint")
	}
}

func ptime(t time.Time) *time.Time { return &t }

func TestAgeBoundary(t *testing.T) {
	// WHAT: A record exactly max_age_days old is kept; one second older is dropped.
	// WHY: The boundary is inclusive on the keep side and must stay pinned.
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	d := New(newMemStore(), "x", 7, WithClock(func() time.Time { return now }))

	exact := site.RawRecord{CreatedAt: ptime(now.Add(-7 * 24 * time.Hour))}
	if d.IsStale(exact) {
		t.Fatal("exactly max age: want kept")
	}
	older := site.RawRecord{CreatedAt: ptime(now.Add(-7*24*time.Hour - time.Second))}
	if !d.IsStale(older) {
		t.Fatal("max age + 1s: want dropped")
	}
	if d.IsStale(site.RawRecord{}) {
		t.Fatal("unparsable timestamp: want fresh")
	}

	v, err := d.ShouldIngest(context.Background(), older, Fingerprint("a", "b"))
	if err != nil || v != Stale {
		t.Fatalf("ShouldIngest(older): got %v, %v", v, err)
	}
}

func TestAgePolicyDisabled(t *testing.T) {
	d := New(newMemStore(), "x", 0)
	old := site.RawRecord{CreatedAt: ptime(time.Unix(0, 0))}
	if d.IsStale(old) {
		t.Fatal("max_age_days=0 disables the policy")
	}
	if !d.Cutoff().IsZero() {
		t.Fatal("cutoff should be zero when disabled")
	}
}

func TestShouldIngest_Existence(t *testing.T) {
	// WHAT: Known native ids and known fingerprints are duplicates.
	st := newMemStore()
	d := New(st, "x", 0)
	ctx := context.Background()

	rec := site.RawRecord{NativeID: "42", AuthorID: "a", Text: "hello"}
	fp := Fingerprint(rec.AuthorID, rec.Text)

	if v, _ := d.ShouldIngest(ctx, rec, fp); v != Ingest {
		t.Fatalf("fresh: got %v", v)
	}
	st.ids["x/42"] = true
	if v, _ := d.ShouldIngest(ctx, rec, fp); v != Duplicate {
		t.Fatalf("native id known: got %v", v)
	}
	st.ids = map[string]bool{}
	st.fps[fp] = true
	if v, _ := d.ShouldIngest(ctx, rec, fp); v != Duplicate {
		t.Fatalf("fingerprint known: got %v", v)
	}
}

func TestShouldIngest_RepostKeepsOwnIdentity(t *testing.T) {
	// WHAT: A repost carrying an already-stored status id is still ingested
	// when its fingerprint is new, and deduplicated once it is stored.
	// WHY: A KOL's repost is their signal, distinct from the original post.
	st := newMemStore()
	d := New(st, "x", 0)
	ctx := context.Background()
	st.ids["x/42"] = true

	repost := site.RawRecord{NativeID: "42", AuthorID: "kol", Text: "hello", IsRepost: true, OriginalAuthor: "a"}
	fp := Fingerprint(repost.AuthorID, repost.Text)
	if v, _ := d.ShouldIngest(ctx, repost, fp); v != Ingest {
		t.Fatalf("repost of known status: got %v, want ingest", v)
	}
	st.fps[fp] = true
	if v, _ := d.ShouldIngest(ctx, repost, fp); v != Duplicate {
		t.Fatalf("repost seen again: got %v, want duplicate", v)
	}
}

func TestShouldIngest_StoreError(t *testing.T) {
	st := newMemStore()
	st.fail = errors.New("disk gone")
	d := New(st, "x", 0)
	_, err := d.ShouldIngest(context.Background(), site.RawRecord{AuthorID: "a", Text: "t"}, "fp")
	if err == nil || !errors.Is(err, st.fail) {
		t.Fatalf("want wrapped store error, got %v", err)
	}
}
