package governor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsledger/deltakernel/internal/doc"
	"github.com/opsledger/deltakernel/internal/ledger"
	"github.com/opsledger/deltakernel/internal/patch"
)

// Clock supplies wall time. Injectable so streak and day-boundary behavior
// is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// DayFormat is the calendar-day key used by streaks and the registry.
const DayFormat = "2006-01-02"

// RecordValidator checks a closure record against the registry contract
// before it is written. Implemented by the registry package.
type RecordValidator interface {
	ValidateRecord(rec ledger.ClosureRecord) error
}

// Coordinator funnels every mutation entry point into single atomic deltas
// on the SystemState entity. Each operation is a bounded read-modify-submit
// loop: on CONFLICT the patch is rebuilt against the fresh snapshot and
// retried once before the failure surfaces.
type Coordinator struct {
	store       *ledger.Store
	clock       Clock
	validator   RecordValidator
	moneyTarget int64
	maxAttempts int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithMoneyTarget sets the money-delta HIGH threshold in cents.
func WithMoneyTarget(cents int64) Option {
	return func(co *Coordinator) { co.moneyTarget = cents }
}

// WithRecordValidator installs the registry contract check run before every
// mirrored closure write.
func WithRecordValidator(v RecordValidator) Option {
	return func(co *Coordinator) { co.validator = v }
}

// WithMaxAttempts bounds the CAS retry loop. The default of 2 means one
// rebuild after a conflict, per the closure contract.
func WithMaxAttempts(n int) Option {
	return func(co *Coordinator) {
		if n > 0 {
			co.maxAttempts = n
		}
	}
}

// New creates a Coordinator over the given store.
func New(store *ledger.Store, opts ...Option) *Coordinator {
	co := &Coordinator{
		store:       store,
		clock:       SystemClock{},
		moneyTarget: 10_000, // $100 default target
		maxAttempts: 2,
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// CloseResult is returned by CloseLoop and Archive.
type CloseResult struct {
	Duplicate   bool    `json:"duplicate"`
	Metrics     Metrics `json:"metrics"`
	Mode        Mode    `json:"mode"`
	ModeChanged bool    `json:"mode_changed"`
	Streak      Streak  `json:"streak"`
}

// CloseLoop records a closure: an atomic bundle of counter, ratio, mode,
// and streak updates in one delta, mirrored into the closure registry.
//
// Closing a loop that is already recorded is not an error: the result comes
// back with Duplicate set and nothing is committed.
func (co *Coordinator) CloseLoop(ctx context.Context, loopID, title, outcome string) (CloseResult, error) {
	if outcome != ledger.OutcomeClosed && outcome != ledger.OutcomeArchived {
		return CloseResult{}, fmt.Errorf("invalid outcome %q", outcome)
	}

	var result CloseResult
	committed, err := co.mutateSnap(ctx, ledger.AuthorUser, func(st State) (patch.Patch, []ledger.SubmitOption, error) {
		// Idempotency check before any patch is built. The registry's
		// unique index backstops the race inside the submit transaction.
		if loopID != "" {
			seen, err := co.store.HasClosure(ctx, loopID)
			if err != nil {
				return nil, nil, err
			}
			if seen {
				result = CloseResult{
					Duplicate: true,
					Metrics:   st.Metrics(),
					Mode:      st.Mode(),
					Streak:    st.Streak(),
				}
				return nil, nil, nil // no delta
			}
		}

		now := co.clock.Now()
		day := now.UTC().Format(DayFormat)
		m := st.Metrics()

		closedTotal := m.ClosedLoopsTotal + 1
		openAtCommit := m.OpenLoops
		if loopID != "" && openAtCommit > 0 {
			openAtCommit--
		}
		ratioPct := closedTotal * 100 / (openAtCommit + closedTotal)

		firstToday := !sameDay(m.LastClosureAt, day)
		closuresToday := m.ClosuresToday + 1
		if firstToday {
			closuresToday = 1
		}

		logEntry := doc.Object{
			"ts":      doc.String(now.UTC().Format(time.RFC3339Nano)),
			"loop_id": optString(loopID),
			"title":   optString(title),
			"outcome": doc.String(outcome),
		}

		p := patch.Patch{
			patch.Replace("/enforcement/violations_count", doc.Int(0)),
			patch.Add("/enforcement/closure_log/-", logEntry),
			patch.Replace("/metrics/closed_loops_total", doc.Int(closedTotal)),
			patch.Replace("/metrics/last_closure_at", doc.String(now.UTC().Format(time.RFC3339Nano))),
			patch.Replace("/metrics/closure_ratio_pct", doc.Int(ratioPct)),
			patch.Replace("/metrics/open_loops", doc.Int(openAtCommit)),
			patch.Replace("/metrics/closures_today", doc.Int(closuresToday)),
		}

		dec := RouteFromRatio(ratioPct)
		modeChanged := dec.Next != st.Mode()
		if modeChanged {
			p = append(p, transitionOps(dec, now)...)
		}

		if firstToday && Qualifying(dec.Next) {
			streak := st.Streak()
			days := streak.Days + 1
			p = append(p,
				patch.Replace("/streak/days", doc.Int(days)),
				patch.Replace("/streak/last_streak_date", doc.String(day)),
			)
			if days > streak.Best {
				p = append(p, patch.Replace("/streak/best", doc.Int(days)))
			}
		}

		rec := ledger.ClosureRecord{
			Timestamp: now,
			Day:       day,
			LoopID:    loopID,
			Title:     title,
			Outcome:   outcome,
		}
		if co.validator != nil {
			if err := co.validator.ValidateRecord(rec); err != nil {
				return nil, nil, fmt.Errorf("closure record failed contract: %w", err)
			}
		}

		result = CloseResult{ModeChanged: modeChanged}
		return p, []ledger.SubmitOption{ledger.WithClosureRecord(rec)}, nil
	})
	if ledger.IsDuplicate(err) {
		// Lost the race to another writer closing the same loop.
		snap, serr := co.store.GetSnapshot(ctx, SystemEntityID)
		if serr != nil {
			return CloseResult{}, serr
		}
		st := State{Doc: snap.State}
		return CloseResult{Duplicate: true, Metrics: st.Metrics(), Mode: st.Mode(), Streak: st.Streak()}, nil
	}
	if err != nil {
		return CloseResult{}, err
	}
	if result.Duplicate {
		return result, nil
	}

	st := State{Doc: committed.State}
	result.Metrics = st.Metrics()
	result.Mode = st.Mode()
	result.Streak = st.Streak()
	return result, nil
}

// Archive records a closure with the archived outcome.
func (co *Coordinator) Archive(ctx context.Context, loopID, title string) (CloseResult, error) {
	return co.CloseLoop(ctx, loopID, title, ledger.OutcomeArchived)
}

// Acknowledge resets the enforcement violation counter.
func (co *Coordinator) Acknowledge(ctx context.Context) (ledger.Snapshot, error) {
	return co.mutateSnap(ctx, ledger.AuthorUser, func(st State) (patch.Patch, []ledger.SubmitOption, error) {
		if st.Violations() == 0 {
			return nil, nil, nil
		}
		return patch.Patch{
			patch.Replace("/enforcement/violations_count", doc.Int(0)),
		}, nil, nil
	})
}

// RecordViolation increments the enforcement violation counter.
func (co *Coordinator) RecordViolation(ctx context.Context) (ledger.Snapshot, error) {
	return co.mutateSnap(ctx, ledger.AuthorUser, func(st State) (patch.Patch, []ledger.SubmitOption, error) {
		return patch.Patch{
			patch.Replace("/enforcement/violations_count", doc.Int(st.Violations()+1)),
		}, nil, nil
	})
}

// Override forces a mode by hand, recording the manual transition.
func (co *Coordinator) Override(ctx context.Context, mode Mode) (ledger.Snapshot, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return ledger.Snapshot{}, err
	}
	return co.mutateSnap(ctx, ledger.AuthorUser, func(st State) (patch.Patch, []ledger.SubmitOption, error) {
		if st.Mode() == mode {
			return nil, nil, nil
		}
		dec := Decision{Next: mode, Reason: "manual override"}
		return transitionOps(dec, co.clock.Now()), nil, nil
	})
}

// RequestRefresh optionally ingests fresh signals and re-runs the signal
// router on demand, committing a mode change if one falls out.
func (co *Coordinator) RequestRefresh(ctx context.Context, signals *Signals) (ledger.Snapshot, error) {
	return co.Reroute(ctx, ledger.AuthorUser, signals)
}

// Reroute runs the signal-bucket router against current (or supplied)
// signals and commits the decision under the given author. The scheduler
// uses this with its own author tag.
func (co *Coordinator) Reroute(ctx context.Context, author ledger.Author, signals *Signals) (ledger.Snapshot, error) {
	return co.mutateSnap(ctx, author, func(st State) (patch.Patch, []ledger.SubmitOption, error) {
		effective := st.Signals()
		var p patch.Patch
		if signals != nil {
			effective = *signals
			p = append(p,
				patch.Replace("/signals/sleep_minutes", doc.Int(effective.SleepMinutes)),
				patch.Replace("/signals/open_loops", doc.Int(effective.OpenLoops)),
				patch.Replace("/signals/assets_shipped", doc.Int(effective.AssetsShipped)),
				patch.Replace("/signals/deep_work_blocks", doc.Int(effective.DeepWorkBlocks)),
				patch.Replace("/signals/money_delta_cents", doc.Int(effective.MoneyDelta)),
			)
		}

		dec := Route(st.Mode(), BucketAll(effective, co.moneyTarget))
		if dec.Next != st.Mode() {
			p = append(p, transitionOps(dec, co.clock.Now())...)
		}

		if len(p) == 0 {
			return nil, nil, nil
		}
		return p, nil, nil
	})
}

// transitionOps builds the mode-flip portion of a patch.
func transitionOps(dec Decision, now time.Time) patch.Patch {
	return patch.Patch{
		patch.Replace("/mode", doc.String(dec.Next)),
		patch.Replace("/build_allowed", doc.Bool(BuildAllowed(dec.Next))),
		patch.Replace("/last_mode_transition_at", doc.String(now.UTC().Format(time.RFC3339Nano))),
		patch.Replace("/last_mode_transition_reason", doc.String(dec.Reason)),
	}
}

// buildFunc builds a patch against a fresh state view. Returning a nil
// patch means there is nothing to commit.
type buildFunc func(State) (patch.Patch, []ledger.SubmitOption, error)

// mutateSnap is the bounded compare-and-swap loop shared by every entry
// point: read a fresh snapshot, build the patch against it, submit, and on
// CONFLICT rebuild against the new head until the attempt budget runs out.
func (co *Coordinator) mutateSnap(ctx context.Context, author ledger.Author, build buildFunc) (ledger.Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt < co.maxAttempts; attempt++ {
		snap, err := Bootstrap(ctx, co.store, co.clock.Now())
		if err != nil {
			return ledger.Snapshot{}, err
		}

		p, opts, err := build(State{Doc: snap.State})
		if err != nil {
			return ledger.Snapshot{}, err
		}
		if p == nil {
			return snap, nil
		}

		d := ledger.NewDelta(SystemEntityID, snap.Entity.Hash, author, co.clock.Now(), p)
		committed, err := co.store.Submit(ctx, d, opts...)
		if err == nil {
			return committed, nil
		}
		if !ledger.IsConflict(err) {
			return ledger.Snapshot{}, err
		}

		lastErr = err
		slog.Debug("commit conflict, rebuilding", "entity", SystemEntityID, "attempt", attempt+1)
	}
	return ledger.Snapshot{}, lastErr
}

// sameDay reports whether an RFC 3339 timestamp falls on the given
// calendar day.
func sameDay(rfc3339, day string) bool {
	if rfc3339 == "" {
		return false
	}
	t, err := time.Parse(time.RFC3339Nano, rfc3339)
	if err != nil {
		return false
	}
	return t.Format(DayFormat) == day
}

func optString(s string) doc.Value {
	if s == "" {
		return doc.Null{}
	}
	return doc.String(s)
}
