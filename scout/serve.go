package scout

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hazyhaar/signalscout/scout/internal/scheduler"
)

// Serve runs the inspection API and the cron schedule until ctx ends. A
// scheduled collection that is still running when ctx ends is interrupted
// and finishes as a FAILED task with its session saved.
func (s *Service) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("scout: listen %s: %w", s.cfg.HTTP.Addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Service) serve(ctx context.Context, ln net.Listener) error {
	sched, err := s.newScheduler()
	if err != nil {
		ln.Close()
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("scout: http listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	sctx, stop := context.WithCancel(ctx)
	defer stop()
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if sched.Len() == 0 {
			s.logger.Info("scout: no schedule configured")
			<-sctx.Done()
			return
		}
		sched.Run(sctx)
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		s.logger.Warn("scout: http shutdown", "error", serr)
	}
	<-schedDone
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("scout: http: %w", err)
	}
	return nil
}

func (s *Service) newScheduler() (*scheduler.Scheduler, error) {
	collect := func(ctx context.Context) error {
		if len(s.cfg.Targets) == 0 {
			return ErrNoTargets
		}
		_, err := s.Run(ctx, nil)
		return err
	}
	var backfill scheduler.Job
	if s.enricher != nil {
		backfill = func(ctx context.Context) error {
			_, err := s.Backfill(ctx, 0)
			return err
		}
	}
	return scheduler.New(scheduler.Config{
		CollectCron:  s.cfg.Schedule.CollectCron,
		BackfillCron: s.cfg.Schedule.BackfillCron,
	}, collect, backfill, s.logger)
}
