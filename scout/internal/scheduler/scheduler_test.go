package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_InvalidSpec(t *testing.T) {
	// WHAT: A malformed cron spec is rejected at construction.
	// WHY: `scout serve` must fail at startup, not silently never run.
	noop := func(context.Context) error { return nil }
	if _, err := New(Config{CollectCron: "every tuesday"}, noop, noop, nil); err == nil {
		t.Error("want error for invalid spec")
	}
	s, err := New(Config{CollectCron: "0 */6 * * *"}, noop, noop, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 {
		t.Errorf("enabled jobs = %d, want 1 (empty backfill spec)", s.Len())
	}
}

func TestDo_OneAtATime(t *testing.T) {
	// WHAT: While a job runs, another Do call is skipped.
	// WHY: Two runs would drive two browsers on the same session.
	s, _ := New(Config{}, nil, nil, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Do(context.Background(), "collect", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ran, err := s.Do(context.Background(), "backfill", func(context.Context) error {
		t.Error("second job must not run")
		return nil
	})
	if ran || err != nil {
		t.Errorf("Do = %v, %v; want skipped", ran, err)
	}
	close(release)
	<-done

	ran, err = s.Do(context.Background(), "backfill", func(context.Context) error { return errors.New("boom") })
	if !ran || err == nil {
		t.Errorf("Do after release = %v, %v", ran, err)
	}
}

func TestRun_Fires(t *testing.T) {
	// WHAT: A scheduled job fires and Run returns once ctx ends.
	// WHY: serve relies on Run for its whole lifetime.
	var n atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := New(Config{BackfillCron: "@every 1s"}, nil, func(context.Context) error {
		if n.Add(1) == 1 {
			cancel()
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	returned := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if n.Load() < 1 {
		t.Error("job never fired")
	}
}
