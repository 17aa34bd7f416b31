// Package scheduler runs the governance cadence: a fixed-interval mode
// recomputation plus two daily boundary runs. It is the only component
// permitted to mutate SystemState without a preceding user action, and it
// goes through the same optimistic-concurrency path as every other writer.
//
// Failures are logged and picked up on the next tick rather than raised;
// retrying inside a tick would only pile writers onto a contended head.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsledger/deltakernel/internal/governor"
)

// Scheduler drives periodic governance over the SystemState entity.
type Scheduler struct {
	co       *governor.Coordinator
	clock    governor.Clock
	interval time.Duration
	dayStart string // "HH:MM", clock-local
	dayEnd   string
}

// Config holds scheduler timing. Zero values fall back to the defaults:
// a 15 minute cadence with boundaries at 04:30 and 21:30.
type Config struct {
	Interval time.Duration
	DayStart string
	DayEnd   string
}

// New creates a Scheduler. The clock is injectable for boundary tests.
func New(co *governor.Coordinator, clock governor.Clock, cfg Config) (*Scheduler, error) {
	s := &Scheduler{
		co:       co,
		clock:    clock,
		interval: cfg.Interval,
		dayStart: cfg.DayStart,
		dayEnd:   cfg.DayEnd,
	}
	if s.interval <= 0 {
		s.interval = 15 * time.Minute
	}
	if s.dayStart == "" {
		s.dayStart = "04:30"
	}
	if s.dayEnd == "" {
		s.dayEnd = "21:30"
	}
	if s.clock == nil {
		s.clock = governor.SystemClock{}
	}
	for _, hm := range []string{s.dayStart, s.dayEnd} {
		if _, err := time.Parse("15:04", hm); err != nil {
			return nil, fmt.Errorf("invalid boundary time %q: %w", hm, err)
		}
	}
	return s, nil
}

// Run blocks until the context is cancelled, firing cadence ticks and
// day-boundary runs at their fixed times.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("governance scheduler starting",
		"interval", s.interval,
		"day_start", s.dayStart,
		"day_end", s.dayEnd)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	startTimer := time.NewTimer(s.untilBoundary(s.dayStart))
	defer startTimer.Stop()
	endTimer := time.NewTimer(s.untilBoundary(s.dayEnd))
	defer endTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("governance scheduler stopping")
			return ctx.Err()

		case <-ticker.C:
			s.Tick(ctx)

		case <-startTimer.C:
			s.DayStart(ctx)
			startTimer.Reset(s.untilBoundary(s.dayStart))

		case <-endTimer.C:
			s.DayEnd(ctx)
			endTimer.Reset(s.untilBoundary(s.dayEnd))
		}
	}
}

// Tick re-derives mode from the latest signals and counters. The safety
// net that keeps Mode correct even absent a recent closure.
func (s *Scheduler) Tick(ctx context.Context) {
	snap, err := s.co.SchedulerReroute(ctx)
	if err != nil {
		slog.Warn("scheduler tick failed; will retry next cadence", "error", err)
		return
	}
	slog.Debug("scheduler tick", "version", snap.Entity.Version)
}

// DayStart runs the day-start boundary: closures_today reset plus a mode
// recomputation.
func (s *Scheduler) DayStart(ctx context.Context) {
	if _, err := s.co.DayStart(ctx); err != nil {
		slog.Warn("day-start boundary failed; will retry next cadence", "error", err)
		return
	}
	slog.Info("day-start boundary complete")
}

// DayEnd runs the day-end boundary: streak reset when the ending day had no
// qualifying closure.
func (s *Scheduler) DayEnd(ctx context.Context) {
	if _, err := s.co.DayEnd(ctx); err != nil {
		slog.Warn("day-end boundary failed; will retry next cadence", "error", err)
		return
	}
	slog.Info("day-end boundary complete")
}

// untilBoundary computes the wait until the next UTC occurrence of an HH:MM
// boundary. Boundaries run on the UTC clock because every day key (streaks,
// closures_today, registry days) is a UTC calendar day; firing on a local
// wall clock west of UTC would land DayEnd on the wrong UTC day and break
// the streak reset rule.
func (s *Scheduler) untilBoundary(hm string) time.Duration {
	now := s.clock.Now().UTC()
	t, _ := time.Parse("15:04", hm) // validated in New

	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
