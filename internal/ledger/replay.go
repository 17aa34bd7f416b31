package ledger

import (
	"context"
	"fmt"

	"github.com/opsledger/deltakernel/internal/doc"
)

// ReplayResult reports the outcome of folding an entity's history.
type ReplayResult struct {
	EntityID   string     `json:"entity_id"`
	Deltas     int        `json:"deltas"`
	FinalHash  string     `json:"final_hash"`
	StoredHash string     `json:"stored_hash"`
	Equivalent bool       `json:"equivalent"`
	State      doc.Object `json:"-"`

	// DivergedAt is the version of the first delta whose chain link or
	// recomputed digest failed to match; zero when Equivalent.
	DivergedAt int64  `json:"diverged_at,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Replay folds all committed deltas for an entity in commit order and
// verifies the ledger's core correctness property: the folded digest equals
// the stored current_hash, and every link in the chain holds.
func (s *Store) Replay(ctx context.Context, entityID string) (ReplayResult, error) {
	head, err := s.GetSnapshot(ctx, entityID)
	if err != nil {
		return ReplayResult{}, err
	}

	deltas, err := s.History(ctx, entityID)
	if err != nil {
		return ReplayResult{}, err
	}

	result := ReplayResult{
		EntityID:   entityID,
		Deltas:     len(deltas),
		StoredHash: head.Entity.Hash,
	}

	state := doc.Object{}
	hash := doc.GenesisHash

	for _, d := range deltas {
		if d.PrevHash != hash {
			result.DivergedAt = d.Version
			result.Reason = fmt.Sprintf("delta %s prev_hash does not chain", d.ID)
			result.FinalHash = hash
			return result, nil
		}

		next, _, err := d.Patch.Apply(state)
		if err != nil {
			result.DivergedAt = d.Version
			result.Reason = fmt.Sprintf("delta %s patch no longer applies: %v", d.ID, err)
			result.FinalHash = hash
			return result, nil
		}
		state = next

		recomputed, err := doc.StateDigest(state)
		if err != nil {
			return ReplayResult{}, fmt.Errorf("replay %s: digest: %w", entityID, err)
		}
		if recomputed != d.NewHash {
			result.DivergedAt = d.Version
			result.Reason = fmt.Sprintf("delta %s new_hash mismatch", d.ID)
			result.FinalHash = recomputed
			return result, nil
		}
		hash = recomputed
	}

	result.FinalHash = hash
	result.State = state
	result.Equivalent = hash == head.Entity.Hash
	if !result.Equivalent && result.Reason == "" {
		result.Reason = "folded digest does not match stored current_hash"
	}
	return result, nil
}

// VerifyAll replays every entity and returns the results keyed by entity id.
func (s *Store) VerifyAll(ctx context.Context) ([]ReplayResult, error) {
	entities, err := s.ListEntities(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]ReplayResult, 0, len(entities))
	for _, e := range entities {
		r, err := s.Replay(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}
