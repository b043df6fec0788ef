// Package schedule drives background refreshes of the screen on a cron
// schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "ithappened/internal/log"
)

// Refresher is the screen operation run on every tick.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler runs a Refresher on a standard five-field cron spec
// (or a descriptor such as "@every 5m").
type Scheduler struct {
	cron *cron.Cron
	spec string
}

// New validates spec and prepares a scheduler bound to ctx. Ticks stop
// issuing work once ctx is done.
func New(ctx context.Context, spec string, r Refresher) (*Scheduler, error) {
	if spec == "" {
		return nil, errors.New("schedule: empty cron spec")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("schedule: invalid cron spec %q: %w", spec, err)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddJob(spec, refreshJob(ctx, r)); err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	return &Scheduler{cron: c, spec: spec}, nil
}

// Start begins running ticks in the background.
func (s *Scheduler) Start() {
	appLog.Info("background refresh scheduled", "spec", s.spec)
	s.cron.Start()
}

// Stop halts the schedule and waits for a running refresh to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next reports when the next refresh will run.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func refreshJob(ctx context.Context, r Refresher) cron.Job {
	return cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		if err := r.Refresh(ctx); err != nil {
			appLog.Error("background refresh failed", err, "duration", time.Since(start))
			return
		}
		appLog.Debug("background refresh done", "duration", time.Since(start))
	})
}
