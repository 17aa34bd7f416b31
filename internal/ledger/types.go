package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/opsledger/deltakernel/internal/doc"
	"github.com/opsledger/deltakernel/internal/patch"
)

// Author tags the origin of a delta so audit trails distinguish automatic
// transitions from user-triggered ones.
type Author string

const (
	AuthorUser      Author = "user"
	AuthorScheduler Author = "scheduler"
	AuthorWorker    Author = "worker"
)

// Entity is the materialized head of an entity: metadata only, state rides
// separately on Snapshot.
type Entity struct {
	ID        string    `json:"entity_id"`
	Type      string    `json:"entity_type"`
	CreatedAt time.Time `json:"created_at"`
	Version   int64     `json:"current_version"`
	Hash      string    `json:"current_hash"`
	Archived  bool      `json:"is_archived"`
}

// Delta is the sole unit of mutation: an ordered patch plus its hash-chain
// link. Immutable once committed.
type Delta struct {
	ID         string      `json:"delta_id"`
	EntityID   string      `json:"entity_id"`
	EntityType string      `json:"entity_type,omitempty"` // consulted on genesis only
	Seq        int64       `json:"seq"`                   // assigned at commit
	Version    int64       `json:"version"`
	Timestamp  time.Time   `json:"ts"`
	Author     Author      `json:"author"`
	Patch      patch.Patch `json:"-"`
	PrevHash   string      `json:"prev_hash"`
	NewHash    string      `json:"new_hash"` // assigned at commit
}

// NewDelta builds an uncommitted delta against the given chain head.
// Delta IDs are UUIDv7 so the log stays time-sortable for humans even
// though commit order is carried by seq.
func NewDelta(entityID string, prevHash string, author Author, ts time.Time, p patch.Patch) Delta {
	return Delta{
		ID:        uuid.Must(uuid.NewV7()).String(),
		EntityID:  entityID,
		Timestamp: ts.UTC(),
		Author:    author,
		Patch:     p,
		PrevHash:  prevHash,
	}
}

// Genesis builds the first delta for a new entity. Its prev_hash is the
// digest of the empty document, which keeps the chain rule uniform.
func Genesis(entityID, entityType string, author Author, ts time.Time, p patch.Patch) Delta {
	d := NewDelta(entityID, doc.GenesisHash, author, ts, p)
	d.EntityType = entityType
	return d
}

// Snapshot pairs entity metadata with its materialized state at a single
// commit point.
type Snapshot struct {
	Entity Entity     `json:"entity"`
	State  doc.Object `json:"state"`
}

// ClosureRecord mirrors one committed closure into the registry table.
// LoopID and Title are empty-string-for-absent; Outcome is "closed" or
// "archived".
type ClosureRecord struct {
	Timestamp time.Time `json:"ts"`
	Day       string    `json:"day"`
	LoopID    string    `json:"loop_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Outcome   string    `json:"outcome"`
}

// Closure outcomes.
const (
	OutcomeClosed   = "closed"
	OutcomeArchived = "archived"
)

// Event converts a committed delta into the frame broadcast on the stream.
// Stream catch-up replays stored deltas through this so reconnecting
// consumers see the same shape as live commits.
func (d Delta) Event() CommitEvent {
	return CommitEvent{
		DeltaID:  d.ID,
		EntityID: d.EntityID,
		Seq:      d.Seq,
		Version:  d.Version,
		NewHash:  d.NewHash,
		Author:   d.Author,
		Ts:       d.Timestamp,
	}
}

// CommitEvent is broadcast to stream subscribers after every successful
// commit.
type CommitEvent struct {
	DeltaID  string    `json:"delta_id"`
	EntityID string    `json:"entity_id"`
	Seq      int64     `json:"seq"`
	Version  int64     `json:"version"`
	NewHash  string    `json:"new_hash"`
	Author   Author    `json:"author"`
	Ts       time.Time `json:"ts"`
}
