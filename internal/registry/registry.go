// Package registry maintains the externally visible closure registry: the
// mirror of committed closure records plus derived stats that dashboards
// and draft workers consume.
//
// The registry carries a fixed CUE contract (schema.cue). Closure records
// are validated before the ledger writes them, and every exported payload
// is validated before it is handed to a consumer - an invalid export is a
// bug in the kernel, not something to paper over downstream.
package registry

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/opsledger/deltakernel/internal/governor"
	"github.com/opsledger/deltakernel/internal/ledger"
)

//go:embed schema.cue
var schemaCUE string

// Record is one registry entry in export form.
type Record struct {
	Ts      string `json:"ts"`
	Day     string `json:"day"`
	LoopID  string `json:"loop_id"`
	Title   string `json:"title"`
	Outcome string `json:"outcome"`
}

// Export is the full registry payload: records plus derived stats.
type Export struct {
	TotalClosures  int64    `json:"total_closures"`
	ClosuresToday  int64    `json:"closures_today"`
	StreakDays     int64    `json:"streak_days"`
	BestStreak     int64    `json:"best_streak"`
	LastStreakDate string   `json:"last_streak_date"`
	Closures       []Record `json:"closures"`
}

// Registry validates and assembles closure registry payloads.
type Registry struct {
	store     *ledger.Store
	cuectx    *cue.Context
	recordDef cue.Value
	exportDef cue.Value
}

// New compiles the embedded contract. Compilation failure is a packaging
// bug and surfaces immediately.
func New(store *ledger.Store) (*Registry, error) {
	cuectx := cuecontext.New()
	schema := cuectx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile registry schema: %w", err)
	}

	recordDef := schema.LookupPath(cue.ParsePath("#Closure"))
	if err := recordDef.Err(); err != nil {
		return nil, fmt.Errorf("registry schema missing #Closure: %w", err)
	}
	exportDef := schema.LookupPath(cue.ParsePath("#Registry"))
	if err := exportDef.Err(); err != nil {
		return nil, fmt.Errorf("registry schema missing #Registry: %w", err)
	}

	return &Registry{
		store:     store,
		cuectx:    cuectx,
		recordDef: recordDef,
		exportDef: exportDef,
	}, nil
}

// ValidateRecord checks a single closure record against the contract
// before the ledger writes it. Implements governor.RecordValidator.
func (r *Registry) ValidateRecord(rec ledger.ClosureRecord) error {
	val := r.cuectx.Encode(Record{
		Ts:      rec.Timestamp.UTC().Format(time.RFC3339Nano),
		Day:     rec.Day,
		LoopID:  rec.LoopID,
		Title:   rec.Title,
		Outcome: rec.Outcome,
	})
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode closure record: %w", err)
	}

	unified := r.recordDef.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("closure record violates contract: %w", err)
	}
	return nil
}

// Export assembles the registry for the calendar day and validates it
// against the contract before returning it.
func (r *Registry) Export(ctx context.Context, day string) (Export, error) {
	records, err := r.store.ListClosures(ctx)
	if err != nil {
		return Export{}, err
	}

	today, err := r.store.ClosuresOnDay(ctx, day)
	if err != nil {
		return Export{}, err
	}

	out := Export{
		TotalClosures: int64(len(records)),
		ClosuresToday: today,
		Closures:      make([]Record, 0, len(records)),
	}
	for _, rec := range records {
		out.Closures = append(out.Closures, Record{
			Ts:      rec.Timestamp.UTC().Format(time.RFC3339Nano),
			Day:     rec.Day,
			LoopID:  rec.LoopID,
			Title:   rec.Title,
			Outcome: rec.Outcome,
		})
	}

	// Streak stats ride on SystemState; an absent singleton means a fresh
	// database and zeroed stats. Any other read failure must surface, not
	// masquerade as a zero streak.
	snap, err := r.store.GetSnapshot(ctx, governor.SystemEntityID)
	switch {
	case err == nil:
		streak := governor.State{Doc: snap.State}.Streak()
		out.StreakDays = streak.Days
		out.BestStreak = streak.Best
		out.LastStreakDate = streak.LastStreakDate
	case !errors.Is(err, ledger.ErrNotFound):
		return Export{}, fmt.Errorf("read streak stats: %w", err)
	}

	if err := r.validateExport(out); err != nil {
		return Export{}, err
	}
	return out, nil
}

func (r *Registry) validateExport(e Export) error {
	val := r.cuectx.Encode(e)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode registry export: %w", err)
	}

	unified := r.exportDef.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("registry export violates contract: %w", err)
	}
	return nil
}
