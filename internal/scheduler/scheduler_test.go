package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsledger/deltakernel/internal/doc"
	"github.com/opsledger/deltakernel/internal/governor"
	"github.com/opsledger/deltakernel/internal/ledger"
	"github.com/opsledger/deltakernel/internal/patch"
	"github.com/opsledger/deltakernel/internal/testutil"
)

func setupScheduler(t *testing.T, cfg Config) (*Scheduler, *ledger.Store, *testutil.FixedClock) {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := testutil.NewFixedClock(time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC))
	co := governor.New(store, governor.WithClock(clock))

	_, err = governor.Bootstrap(context.Background(), store, clock.Now())
	require.NoError(t, err)

	s, err := New(co, clock, cfg)
	require.NoError(t, err)
	return s, store, clock
}

func TestNewAppliesDefaults(t *testing.T) {
	s, _, _ := setupScheduler(t, Config{})
	assert.Equal(t, 15*time.Minute, s.interval)
	assert.Equal(t, "04:30", s.dayStart)
	assert.Equal(t, "21:30", s.dayEnd)
}

func TestNewRejectsBadBoundary(t *testing.T) {
	_, err := New(nil, nil, Config{DayStart: "quarter past"})
	assert.Error(t, err)

	_, err = New(nil, nil, Config{DayEnd: "25:99"})
	assert.Error(t, err)
}

func TestTickReroutesUnderSchedulerAuthor(t *testing.T) {
	s, store, _ := setupScheduler(t, Config{})
	ctx := context.Background()

	// Restored sleep moves RECOVER forward on the next tick.
	snap, err := store.GetSnapshot(ctx, governor.SystemEntityID)
	require.NoError(t, err)
	d := ledger.NewDelta(governor.SystemEntityID, snap.Entity.Hash, ledger.AuthorUser, time.Now(),
		patch.Patch{patch.Replace("/signals/sleep_minutes", doc.Int(8*60))})
	_, err = store.Submit(ctx, d)
	require.NoError(t, err)

	s.Tick(ctx)

	history, err := store.History(ctx, governor.SystemEntityID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, ledger.AuthorScheduler, last.Author)

	after, err := store.GetSnapshot(ctx, governor.SystemEntityID)
	require.NoError(t, err)
	st := governor.State{Doc: after.State}
	assert.Equal(t, governor.ModeCloseLoops, st.Mode())
}

func TestTickToleratesNoop(t *testing.T) {
	s, store, _ := setupScheduler(t, Config{})
	ctx := context.Background()

	before, err := store.GetSnapshot(ctx, governor.SystemEntityID)
	require.NoError(t, err)

	// RECOVER with LOW sleep: the router holds position, no delta.
	s.Tick(ctx)
	s.Tick(ctx)

	after, err := store.GetSnapshot(ctx, governor.SystemEntityID)
	require.NoError(t, err)
	assert.Equal(t, before.Entity.Version, after.Entity.Version)
}

func TestUntilBoundary(t *testing.T) {
	s, _, clock := setupScheduler(t, Config{DayStart: "04:30", DayEnd: "21:30"})

	// Clock is at 09:00 UTC; next 21:30 is today, next 04:30 is tomorrow.
	assert.Equal(t, 12*time.Hour+30*time.Minute, s.untilBoundary("21:30"))
	assert.Equal(t, 19*time.Hour+30*time.Minute, s.untilBoundary("04:30"))

	// Exactly at the boundary, the next occurrence is a full day away.
	clock.Set(time.Date(2026, 8, 27, 21, 30, 0, 0, time.UTC))
	assert.Equal(t, 24*time.Hour, s.untilBoundary("21:30"))
}

func TestUntilBoundaryIgnoresClockZone(t *testing.T) {
	s, _, clock := setupScheduler(t, Config{DayStart: "04:30", DayEnd: "21:30"})

	// 10:00 in UTC-5 is 15:00 UTC. Day keys are UTC calendar days, so the
	// 21:30 boundary must be read on the UTC clock: 6h30m away, not the
	// 11h30m a local-wall-clock reading would give.
	clock.Set(time.Date(2026, 8, 27, 10, 0, 0, 0, time.FixedZone("UTC-5", -5*60*60)))
	assert.Equal(t, 6*time.Hour+30*time.Minute, s.untilBoundary("21:30"))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s, _, _ := setupScheduler(t, Config{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
