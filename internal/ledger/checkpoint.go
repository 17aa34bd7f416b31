package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opsledger/deltakernel/internal/doc"
	"github.com/opsledger/deltakernel/internal/patch"
)

// Checkpoint compacts an entity's history: after a verified replay it
// rewrites the log as a single snapshot delta reproducing the current state
// from the empty document, then drops the older deltas. The entity's
// version and current_hash are untouched, so downstream optimistic writers
// never notice.
//
// Checkpoint refuses to run when replay diverges - truncating an
// unverifiable history would destroy the evidence.
func (s *Store) Checkpoint(ctx context.Context, entityID string, ts time.Time) (ReplayResult, error) {
	result, err := s.Replay(ctx, entityID)
	if err != nil {
		return ReplayResult{}, err
	}
	if !result.Equivalent {
		return result, fmt.Errorf("checkpoint %s: replay diverged at version %d: %s",
			entityID, result.DivergedAt, result.Reason)
	}
	if result.Deltas <= 1 {
		// Nothing to compact.
		return result, nil
	}

	head, err := s.GetSnapshot(ctx, entityID)
	if err != nil {
		return ReplayResult{}, err
	}

	snapPatch := snapshotPatch(head.State)
	encoded, err := snapPatch.Encode()
	if err != nil {
		return ReplayResult{}, fmt.Errorf("checkpoint %s: encode: %w", entityID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ReplayResult{}, transientErr(entityID, "begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM deltas WHERE entity_id = ?`, entityID); err != nil {
		return ReplayResult{}, transientErr(entityID, "truncate history", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deltas
		(delta_id, entity_id, version, ts, author, patch, patch_digest, prev_hash, new_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uuid.Must(uuid.NewV7()).String(),
		entityID,
		head.Entity.Version,
		ts.UTC().Format(time.RFC3339Nano),
		string(AuthorScheduler),
		string(encoded),
		doc.PatchDigest(encoded),
		doc.GenesisHash,
		head.Entity.Hash,
	)
	if err != nil {
		return ReplayResult{}, transientErr(entityID, "write checkpoint delta", err)
	}

	if err := tx.Commit(); err != nil {
		return ReplayResult{}, transientErr(entityID, "commit checkpoint", err)
	}

	slog.Info("checkpoint complete",
		"entity", entityID,
		"compacted", result.Deltas,
		"version", head.Entity.Version)

	return result, nil
}

// snapshotPatch rebuilds a state document from scratch as one add per
// top-level branch, in canonical key order for a stable encoding.
func snapshotPatch(state doc.Object) patch.Patch {
	keys := state.SortedKeys()
	p := make(patch.Patch, 0, len(keys))
	for _, k := range keys {
		p = append(p, patch.Add("/"+k, state[k]))
	}
	return p
}
