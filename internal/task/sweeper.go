// Package task holds the periodic maintenance jobs run alongside the API.
package task

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"call-insights-go/internal/logger"
)

// Queue is the part of the job orchestrator the sweeper drives.
type Queue interface {
	SweepStale(ctx context.Context) (int, error)
	DispatchDue(ctx context.Context) (int, error)
}

// Sweeper requeues jobs whose worker went away and hands due retries back to
// the worker pools.
type Sweeper struct {
	queue Queue
	cron  *cron.Cron
	log   *logger.Logger
}

func NewSweeper(q Queue, log *logger.Logger) *Sweeper {
	return &Sweeper{queue: q, cron: cron.New(), log: log.Component("sweeper")}
}

// RunOnce performs one sweep.
func (s *Sweeper) RunOnce(ctx context.Context) {
	stale, err := s.queue.SweepStale(ctx)
	if err != nil {
		s.log.WithError(err).Error("stale job sweep failed")
	} else if stale > 0 {
		s.log.WithField("requeued", stale).Warn("requeued stale jobs")
	}

	due, err := s.queue.DispatchDue(ctx)
	if err != nil {
		s.log.WithError(err).Error("dispatch of due jobs failed")
		return
	}
	if due > 0 {
		s.log.WithField("dispatched", due).Debug("dispatched due jobs")
	}
}

// Start schedules RunOnce on the cron schedule. The first sweep runs
// immediately.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule sweeper %q: %w", schedule, err)
	}
	s.RunOnce(ctx)
	s.cron.Start()
	s.log.WithField("schedule", schedule).Info("sweeper started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to return.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
