package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsledger/deltakernel/internal/doc"
)

// submitOptions carries per-submit extras.
type submitOptions struct {
	closure *ClosureRecord
}

// SubmitOption configures a single Submit call.
type SubmitOption func(*submitOptions)

// WithClosureRecord mirrors a closure record into the registry table in the
// same transaction as the delta. If the record's loop is already registered
// the whole submit fails with DUPLICATE and nothing is persisted.
func WithClosureRecord(rec ClosureRecord) SubmitOption {
	return func(o *submitOptions) {
		o.closure = &rec
	}
}

// Submit validates a delta against the entity's hash chain, applies its
// patch to a working copy, and persists the delta plus updated entity
// metadata atomically. Validation happens entirely against the working copy
// before any write, so a failed submit leaves stored state byte-for-byte
// unchanged.
//
// Failure codes: CONFLICT when prev_hash mismatches (re-fetch and rebuild),
// REJECTED for invalid patches (fatal), DUPLICATE when a mirrored closure's
// loop is already registered, TRANSIENT for storage errors.
func (s *Store) Submit(ctx context.Context, d Delta, opts ...SubmitOption) (Snapshot, error) {
	var options submitOptions
	for _, opt := range opts {
		opt(&options)
	}

	if err := d.Patch.Validate(); err != nil {
		return Snapshot{}, rejectedErr(d.EntityID, "invalid patch", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, transientErr(d.EntityID, "begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	base, meta, err := s.loadHead(ctx, tx, d)
	if err != nil {
		return Snapshot{}, err
	}

	working, synthesized, err := d.Patch.Apply(base)
	if err != nil {
		encoded, _ := d.Patch.Encode()
		slog.Warn("delta rejected",
			"entity", d.EntityID,
			"delta", d.ID,
			"patch", string(encoded),
			"error", err)
		return Snapshot{}, rejectedErr(d.EntityID, "patch failed to apply", err)
	}
	for _, path := range synthesized {
		slog.Info("synthesized container", "entity", d.EntityID, "delta", d.ID, "path", path)
	}

	newHash, err := doc.StateDigest(working)
	if err != nil {
		return Snapshot{}, rejectedErr(d.EntityID, "state not digestible", err)
	}

	encodedPatch, err := d.Patch.Encode()
	if err != nil {
		return Snapshot{}, rejectedErr(d.EntityID, "patch not encodable", err)
	}

	stateJSON, err := doc.MarshalCanonical(working)
	if err != nil {
		return Snapshot{}, rejectedErr(d.EntityID, "state not encodable", err)
	}

	d.Version = meta.Version + 1
	d.NewHash = newHash

	res, err := tx.ExecContext(ctx, `
		INSERT INTO deltas
		(delta_id, entity_id, version, ts, author, patch, patch_digest, prev_hash, new_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.ID,
		d.EntityID,
		d.Version,
		d.Timestamp.UTC().Format(time.RFC3339Nano),
		string(d.Author),
		string(encodedPatch),
		doc.PatchDigest(encodedPatch),
		d.PrevHash,
		newHash,
	)
	if err != nil {
		return Snapshot{}, transientErr(d.EntityID, "write delta", err)
	}
	d.Seq, err = res.LastInsertId()
	if err != nil {
		return Snapshot{}, transientErr(d.EntityID, "delta seq", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities
		(entity_id, entity_type, created_at, current_version, current_hash, is_archived, state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			current_version = excluded.current_version,
			current_hash = excluded.current_hash,
			state = excluded.state
	`,
		d.EntityID,
		meta.Type,
		meta.CreatedAt.UTC().Format(time.RFC3339Nano),
		d.Version,
		newHash,
		boolToInt(meta.Archived),
		string(stateJSON),
	)
	if err != nil {
		return Snapshot{}, transientErr(d.EntityID, "write entity", err)
	}

	if options.closure != nil {
		if err := insertClosure(ctx, tx, d, *options.closure); err != nil {
			return Snapshot{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Snapshot{}, transientErr(d.EntityID, "commit", err)
	}

	s.notify(CommitEvent{
		DeltaID:  d.ID,
		EntityID: d.EntityID,
		Seq:      d.Seq,
		Version:  d.Version,
		NewHash:  newHash,
		Author:   d.Author,
		Ts:       d.Timestamp.UTC(),
	})

	return Snapshot{
		Entity: Entity{
			ID:        d.EntityID,
			Type:      meta.Type,
			CreatedAt: meta.CreatedAt,
			Version:   d.Version,
			Hash:      newHash,
			Archived:  meta.Archived,
		},
		State: working,
	}, nil
}

// loadHead reads the entity's current state and metadata inside the submit
// transaction, enforcing the genesis rule and the hash-chain precondition.
func (s *Store) loadHead(ctx context.Context, tx *sql.Tx, d Delta) (doc.Object, Entity, error) {
	var (
		entityType string
		createdAt  string
		version    int64
		hash       string
		archived   int
		stateJSON  string
	)
	err := tx.QueryRowContext(ctx, `
		SELECT entity_type, created_at, current_version, current_hash, is_archived, state
		FROM entities WHERE entity_id = ?
	`, d.EntityID).Scan(&entityType, &createdAt, &version, &hash, &archived, &stateJSON)

	if errors.Is(err, sql.ErrNoRows) {
		// Genesis rule: a delta for an unknown entity is only valid when it
		// chains from the empty-document digest and declares a type.
		if d.PrevHash != doc.GenesisHash {
			return nil, Entity{}, conflictErr(d.EntityID, "entity does not exist")
		}
		if d.EntityType == "" {
			return nil, Entity{}, rejectedErr(d.EntityID, "genesis delta missing entity type", nil)
		}
		return doc.Object{}, Entity{
			ID:        d.EntityID,
			Type:      d.EntityType,
			CreatedAt: d.Timestamp.UTC(),
			Version:   0,
			Hash:      doc.GenesisHash,
		}, nil
	}
	if err != nil {
		return nil, Entity{}, transientErr(d.EntityID, "read entity", err)
	}

	if d.PrevHash != hash {
		return nil, Entity{}, conflictErr(d.EntityID,
			fmt.Sprintf("prev_hash %.12s does not match current %.12s", d.PrevHash, hash))
	}

	state, err := doc.ParseObject([]byte(stateJSON))
	if err != nil {
		return nil, Entity{}, transientErr(d.EntityID, "parse stored state", err)
	}

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, Entity{}, transientErr(d.EntityID, "parse created_at", err)
	}

	return state, Entity{
		ID:        d.EntityID,
		Type:      entityType,
		CreatedAt: created,
		Version:   version,
		Hash:      hash,
		Archived:  archived != 0,
	}, nil
}

// insertClosure mirrors one closure into the registry table. The duplicate
// check runs inside the submit transaction; the single-connection store
// serializes writers, and the partial unique index backstops the invariant.
func insertClosure(ctx context.Context, tx *sql.Tx, d Delta, rec ClosureRecord) error {
	if rec.LoopID != "" {
		var count int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM closures WHERE loop_id = ?
		`, rec.LoopID).Scan(&count)
		if err != nil {
			return transientErr(d.EntityID, "check closure", err)
		}
		if count > 0 {
			return duplicateErr(d.EntityID, rec.LoopID)
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO closures (ts, day, loop_id, title, outcome, delta_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.Day,
		nullable(rec.LoopID),
		nullable(rec.Title),
		rec.Outcome,
		d.ID,
	)
	if err != nil {
		return transientErr(d.EntityID, "write closure", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
