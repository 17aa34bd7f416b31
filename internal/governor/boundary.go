package governor

import (
	"context"

	"github.com/opsledger/deltakernel/internal/doc"
	"github.com/opsledger/deltakernel/internal/ledger"
	"github.com/opsledger/deltakernel/internal/patch"
)

// SchedulerReroute is the cadence-tick recomputation: the signal router run
// over current signals under the scheduler author tag.
func (co *Coordinator) SchedulerReroute(ctx context.Context) (ledger.Snapshot, error) {
	return co.Reroute(ctx, ledger.AuthorScheduler, nil)
}

// DayStart performs day-boundary bookkeeping in one delta: reset the
// closures_today counter and re-derive mode from current signals. Carries
// the scheduler author tag.
func (co *Coordinator) DayStart(ctx context.Context) (ledger.Snapshot, error) {
	return co.mutateSnap(ctx, ledger.AuthorScheduler, func(st State) (patch.Patch, []ledger.SubmitOption, error) {
		var p patch.Patch
		if st.Metrics().ClosuresToday != 0 {
			p = append(p, patch.Replace("/metrics/closures_today", doc.Int(0)))
		}

		dec := Route(st.Mode(), BucketAll(st.Signals(), co.moneyTarget))
		if dec.Next != st.Mode() {
			p = append(p, transitionOps(dec, co.clock.Now())...)
		}

		if len(p) == 0 {
			return nil, nil, nil
		}
		return p, nil, nil
	})
}

// DayEnd resets the running streak when no BUILD/SCALE-qualifying closure
// happened during the day that is ending. best_streak never decreases.
func (co *Coordinator) DayEnd(ctx context.Context) (ledger.Snapshot, error) {
	day := co.clock.Now().UTC().Format(DayFormat)
	return co.mutateSnap(ctx, ledger.AuthorScheduler, func(st State) (patch.Patch, []ledger.SubmitOption, error) {
		streak := st.Streak()
		if streak.Days == 0 || streak.LastStreakDate == day {
			return nil, nil, nil
		}
		return patch.Patch{
			patch.Replace("/streak/days", doc.Int(0)),
		}, nil, nil
	})
}
