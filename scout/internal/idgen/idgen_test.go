package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	a, b := gen(), gen()
	if len(a) != 36 {
		t.Fatalf("len = %d, want 36", len(a))
	}
	if a >= b {
		t.Fatalf("ids not increasing: %s >= %s", a, b)
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("task_", UUIDv7())()
	if !strings.HasPrefix(id, "task_") {
		t.Fatalf("missing prefix: %s", id)
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("run-")
	for i, want := range []string{"run-1", "run-2", "run-3"} {
		if got := gen(); got != want {
			t.Fatalf("call %d: got %q, want %q", i, got, want)
		}
	}
}
