package governor

import (
	"context"
	"errors"
	"time"

	"github.com/opsledger/deltakernel/internal/doc"
	"github.com/opsledger/deltakernel/internal/ledger"
	"github.com/opsledger/deltakernel/internal/patch"
)

// SystemState is a singleton entity, reached only through the ledger's
// optimistic-concurrency commit path - never a shared in-memory object
// mutated in place.
const (
	SystemEntityID   = "system"
	SystemEntityType = "system_state"
)

// Metrics is the typed view of the metrics branch.
type Metrics struct {
	ClosedLoopsTotal int64  `json:"closed_loops_total"`
	ClosureRatioPct  int64  `json:"closure_ratio_pct"`
	OpenLoops        int64  `json:"open_loops"`
	ClosuresToday    int64  `json:"closures_today"`
	LastClosureAt    string `json:"last_closure_at"`
}

// Streak is the typed view of the streak branch.
type Streak struct {
	Days           int64  `json:"days"`
	Best           int64  `json:"best"`
	LastStreakDate string `json:"last_streak_date"`
}

// State wraps a materialized SystemState document with typed accessors.
// It is a read-only view; mutation happens through patches.
type State struct {
	Doc doc.Object
}

// DefaultState is the bootstrap document: default signals, mode RECOVER,
// zeroed counters.
func DefaultState() doc.Object {
	return doc.Object{
		"mode":          doc.String(ModeRecover),
		"build_allowed": doc.Bool(false),
		"signals": doc.Object{
			"sleep_minutes":     doc.Int(0),
			"open_loops":        doc.Int(0),
			"assets_shipped":    doc.Int(0),
			"deep_work_blocks":  doc.Int(0),
			"money_delta_cents": doc.Int(0),
		},
		"enforcement": doc.Object{
			"violations_count": doc.Int(0),
			"closure_log":      doc.Array{},
		},
		"metrics": doc.Object{
			"closed_loops_total": doc.Int(0),
			"closure_ratio_pct":  doc.Int(0),
			"open_loops":         doc.Int(0),
			"closures_today":     doc.Int(0),
			"last_closure_at":    doc.String(""),
		},
		"streak": doc.Object{
			"days":             doc.Int(0),
			"best":             doc.Int(0),
			"last_streak_date": doc.String(""),
		},
		"last_mode_transition_at":     doc.String(""),
		"last_mode_transition_reason": doc.String(""),
	}
}

// Bootstrap creates the SystemState entity if it does not exist yet and
// returns its snapshot either way.
func Bootstrap(ctx context.Context, store *ledger.Store, ts time.Time) (ledger.Snapshot, error) {
	snap, err := store.GetSnapshot(ctx, SystemEntityID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return ledger.Snapshot{}, err
	}

	state := DefaultState()
	p := make(patch.Patch, 0, len(state))
	for _, k := range state.SortedKeys() {
		p = append(p, patch.Add("/"+k, state[k]))
	}

	genesis := ledger.Genesis(SystemEntityID, SystemEntityType, ledger.AuthorScheduler, ts, p)
	snap, err = store.Submit(ctx, genesis)
	if ledger.IsConflict(err) {
		// Another writer bootstrapped first; their genesis wins.
		return store.GetSnapshot(ctx, SystemEntityID)
	}
	return snap, err
}

func (s State) object(keys ...string) doc.Object {
	current := s.Doc
	for _, k := range keys {
		next, ok := current[k].(doc.Object)
		if !ok {
			return doc.Object{}
		}
		current = next
	}
	return current
}

func intAt(o doc.Object, key string) int64 {
	if v, ok := o[key].(doc.Int); ok {
		return int64(v)
	}
	return 0
}

func stringAt(o doc.Object, key string) string {
	if v, ok := o[key].(doc.String); ok {
		return string(v)
	}
	return ""
}

// Mode returns the current operating mode; RECOVER if unset or unknown.
func (s State) Mode() Mode {
	m, err := ParseMode(stringAt(s.Doc, "mode"))
	if err != nil {
		return ModeRecover
	}
	return m
}

// BuildAllowed returns the committed build_allowed flag.
func (s State) BuildAllowed() bool {
	v, ok := s.Doc["build_allowed"].(doc.Bool)
	return ok && bool(v)
}

// Signals returns the typed signals branch.
func (s State) Signals() Signals {
	o := s.object("signals")
	return Signals{
		SleepMinutes:   intAt(o, "sleep_minutes"),
		OpenLoops:      intAt(o, "open_loops"),
		AssetsShipped:  intAt(o, "assets_shipped"),
		DeepWorkBlocks: intAt(o, "deep_work_blocks"),
		MoneyDelta:     intAt(o, "money_delta_cents"),
	}
}

// Metrics returns the typed metrics branch.
func (s State) Metrics() Metrics {
	o := s.object("metrics")
	return Metrics{
		ClosedLoopsTotal: intAt(o, "closed_loops_total"),
		ClosureRatioPct:  intAt(o, "closure_ratio_pct"),
		OpenLoops:        intAt(o, "open_loops"),
		ClosuresToday:    intAt(o, "closures_today"),
		LastClosureAt:    stringAt(o, "last_closure_at"),
	}
}

// Streak returns the typed streak branch.
func (s State) Streak() Streak {
	o := s.object("streak")
	return Streak{
		Days:           intAt(o, "days"),
		Best:           intAt(o, "best"),
		LastStreakDate: stringAt(o, "last_streak_date"),
	}
}

// Violations returns the enforcement violation counter.
func (s State) Violations() int64 {
	return intAt(s.object("enforcement"), "violations_count")
}

// TransitionReason returns the reason recorded with the last mode change.
func (s State) TransitionReason() string {
	return stringAt(s.Doc, "last_mode_transition_reason")
}
