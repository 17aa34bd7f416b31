package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsledger/deltakernel/internal/governor"
	"github.com/opsledger/deltakernel/internal/ledger"
)

var recTime = time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

func setupRegistry(t *testing.T) (*Registry, *governor.Coordinator, *ledger.Store) {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg, err := New(store)
	require.NoError(t, err)

	co := governor.New(store, governor.WithRecordValidator(reg))
	return reg, co, store
}

func TestValidateRecord(t *testing.T) {
	reg, _, _ := setupRegistry(t)

	valid := ledger.ClosureRecord{
		Timestamp: recTime,
		Day:       "2026-08-27",
		LoopID:    "inbox-zero",
		Title:     "Inbox zero",
		Outcome:   ledger.OutcomeClosed,
	}
	assert.NoError(t, reg.ValidateRecord(valid))

	// Anonymous closures are allowed; loop_id and title default to "".
	valid.LoopID = ""
	valid.Title = ""
	assert.NoError(t, reg.ValidateRecord(valid))
}

func TestValidateRecordRejectsBadOutcome(t *testing.T) {
	reg, _, _ := setupRegistry(t)

	bad := ledger.ClosureRecord{
		Timestamp: recTime,
		Day:       "2026-08-27",
		Outcome:   "abandoned",
	}
	assert.Error(t, reg.ValidateRecord(bad))
}

func TestValidateRecordRejectsBadDay(t *testing.T) {
	reg, _, _ := setupRegistry(t)

	bad := ledger.ClosureRecord{
		Timestamp: recTime,
		Day:       "August 27th",
		Outcome:   ledger.OutcomeClosed,
	}
	assert.Error(t, reg.ValidateRecord(bad))
}

func TestExportEmptyDatabase(t *testing.T) {
	reg, _, _ := setupRegistry(t)

	export, err := reg.Export(context.Background(), "2026-08-27")
	require.NoError(t, err)
	assert.Equal(t, int64(0), export.TotalClosures)
	assert.Equal(t, int64(0), export.ClosuresToday)
	assert.Empty(t, export.Closures)
}

func TestExportReflectsClosures(t *testing.T) {
	reg, co, _ := setupRegistry(t)
	ctx := context.Background()

	_, err := co.CloseLoop(ctx, "loop-a", "first", ledger.OutcomeClosed)
	require.NoError(t, err)
	_, err = co.Archive(ctx, "loop-b", "second")
	require.NoError(t, err)

	day := time.Now().UTC().Format(governor.DayFormat)
	export, err := reg.Export(ctx, day)
	require.NoError(t, err)

	assert.Equal(t, int64(2), export.TotalClosures)
	assert.Equal(t, int64(2), export.ClosuresToday)
	require.Len(t, export.Closures, 2)
	assert.Equal(t, "loop-a", export.Closures[0].LoopID)
	assert.Equal(t, ledger.OutcomeClosed, export.Closures[0].Outcome)
	assert.Equal(t, ledger.OutcomeArchived, export.Closures[1].Outcome)
}

func TestExportCarriesStreak(t *testing.T) {
	reg, co, _ := setupRegistry(t)
	ctx := context.Background()

	// Enough closed history for the ratio table to land in BUILD, which
	// makes the closure streak-qualifying.
	for _, loop := range []string{"a", "b", "c"} {
		_, err := co.CloseLoop(ctx, loop, "", ledger.OutcomeClosed)
		require.NoError(t, err)
	}

	day := time.Now().UTC().Format(governor.DayFormat)
	export, err := reg.Export(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, int64(1), export.StreakDays)
	assert.Equal(t, int64(1), export.BestStreak)
	assert.Equal(t, day, export.LastStreakDate)
}

func TestCoordinatorRefusesContractViolations(t *testing.T) {
	_, co, store := setupRegistry(t)
	ctx := context.Background()

	// The coordinator builds its records from validated inputs, so the only
	// way to trip the contract is an outcome outside the enum - which the
	// coordinator itself rejects first.
	_, err := co.CloseLoop(ctx, "loop-x", "", "discarded")
	assert.Error(t, err)

	seen, err := store.HasClosure(ctx, "loop-x")
	require.NoError(t, err)
	assert.False(t, seen, "rejected closure reached the registry")
}

func TestExportSurfacesSnapshotReadFailure(t *testing.T) {
	reg, _, store := setupRegistry(t)
	ctx := context.Background()

	// Break only the streak read: closure queries still work, but the
	// SystemState lookup now fails with a real error, not ErrNotFound.
	_, err := store.DB().ExecContext(ctx, "DROP TABLE entities")
	require.NoError(t, err)

	_, err = reg.Export(ctx, "2026-08-27")
	assert.Error(t, err, "a failed streak read must not export zeroed stats")
}
