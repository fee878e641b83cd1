// Package scheduler starts a poll run on every tick of a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mailcmd/internal/poller"
	"github.com/google/uuid"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RunFunc performs one poll run.
type RunFunc func(ctx context.Context) (poller.Report, error)

type Scheduler struct {
	interval time.Duration
	strategy Strategy
	run      RunFunc
	history  *History

	pending chan struct{}
	dropped atomic.Int64
	wg      sync.WaitGroup
}

type Configuration struct {
	Interval time.Duration
	Strategy Strategy
	Run      RunFunc
	History  *History
}

func NewScheduler(cfg Configuration) *Scheduler {
	if cfg.Strategy == "" {
		cfg.Strategy = Serial
	}
	if cfg.History == nil {
		cfg.History = NewHistory(DefaultHistorySize)
	}

	return &Scheduler{
		interval: cfg.Interval,
		strategy: cfg.Strategy,
		run:      cfg.Run,
		history:  cfg.History,
		pending:  make(chan struct{}, 1),
	}
}

func (s *Scheduler) History() *History {
	return s.history
}

// Dropped returns how many ticks were discarded because runs were backed up.
func (s *Scheduler) Dropped() int64 {
	return s.dropped.Load()
}

// Run ticks until ctx is cancelled. The first run starts immediately. Runs
// still in flight receive the cancelled ctx; use Wait to let them finish.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", s.interval)
	}

	if s.strategy == Serial {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serialWorker(ctx)
		}()
	}

	slog.Info("Scheduler started", slog.String("interval", s.interval.String()), slog.String("strategy", string(s.strategy)))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Wait blocks until all started runs have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.strategy == Claim {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.execute(ctx)
		}()
		return
	}

	select {
	case s.pending <- struct{}{}:
	default:
		s.dropped.Add(1)
		slog.Warn("Skipping poll run, previous runs are still in progress")
	}
}

func (s *Scheduler) serialWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.pending:
			s.execute(ctx)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context) {
	id := uuid.NewString()
	s.history.Start(id, time.Now())

	report, err := s.safeRun(poller.WithRunID(ctx, id))
	report.RunID = id
	s.history.Finish(id, time.Now(), report, err)

	if err != nil {
		slog.Error("Poll run failed", slog.String("run_id", id), sloki.WrapError(err))
		return
	}
	slog.Info("Poll run finished",
		slog.String("run_id", id),
		slog.Int("listed", report.Listed),
		slog.Int("requests", report.Requests),
		slog.Int("informational", report.Informational),
		slog.Int("echoes", report.Echoes),
		slog.Int("skipped", report.Skipped),
	)
}

func (s *Scheduler) safeRun(ctx context.Context) (report poller.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll run panicked: %v", r)
		}
	}()

	return s.run(ctx)
}
