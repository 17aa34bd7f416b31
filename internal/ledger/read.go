package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opsledger/deltakernel/internal/doc"
	"github.com/opsledger/deltakernel/internal/patch"
)

// ErrNotFound is returned by reads for unknown entities.
var ErrNotFound = errors.New("entity not found")

// GetSnapshot returns the entity's materialized head: metadata plus state.
func (s *Store) GetSnapshot(ctx context.Context, entityID string) (Snapshot, error) {
	var (
		entityType string
		createdAt  string
		version    int64
		hash       string
		archived   int
		stateJSON  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT entity_type, created_at, current_version, current_hash, is_archived, state
		FROM entities WHERE entity_id = ?
	`, entityID).Scan(&entityType, &createdAt, &version, &hash, &archived, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}

	state, err := doc.ParseObject([]byte(stateJSON))
	if err != nil {
		return Snapshot{}, fmt.Errorf("get snapshot: parse state: %w", err)
	}
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("get snapshot: parse created_at: %w", err)
	}

	return Snapshot{
		Entity: Entity{
			ID:        entityID,
			Type:      entityType,
			CreatedAt: created,
			Version:   version,
			Hash:      hash,
			Archived:  archived != 0,
		},
		State: state,
	}, nil
}

// ListEntities returns metadata for every entity, ordered by id.
func (s *Store) ListEntities(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, entity_type, created_at, current_version, current_hash, is_archived
		FROM entities
		ORDER BY entity_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var (
			e         Entity
			createdAt string
			archived  int
		)
		if err := rows.Scan(&e.ID, &e.Type, &createdAt, &e.Version, &e.Hash, &archived); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		e.Archived = archived != 0
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}

	if entities == nil {
		entities = []Entity{}
	}
	return entities, nil
}

// History returns all committed deltas for an entity in commit order.
// Deterministic ordering: seq ASC is the ledger's single source of order.
func (s *Store) History(ctx context.Context, entityID string) ([]Delta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, delta_id, entity_id, version, ts, author, patch, prev_hash, new_hash
		FROM deltas
		WHERE entity_id = ?
		ORDER BY seq ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var deltas []Delta
	for rows.Next() {
		d, err := scanDelta(rows)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	if deltas == nil {
		deltas = []Delta{}
	}
	return deltas, nil
}

// DeltasSince returns all deltas across entities with seq greater than the
// given value, in commit order. Stream consumers use this to catch up after
// reconnecting.
func (s *Store) DeltasSince(ctx context.Context, seq int64) ([]Delta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, delta_id, entity_id, version, ts, author, patch, prev_hash, new_hash
		FROM deltas
		WHERE seq > ?
		ORDER BY seq ASC
	`, seq)
	if err != nil {
		return nil, fmt.Errorf("deltas since: %w", err)
	}
	defer rows.Close()

	var deltas []Delta
	for rows.Next() {
		d, err := scanDelta(rows)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deltas: %w", err)
	}

	if deltas == nil {
		deltas = []Delta{}
	}
	return deltas, nil
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDelta(row scanner) (Delta, error) {
	var (
		d         Delta
		ts        string
		author    string
		patchJSON string
	)
	err := row.Scan(&d.Seq, &d.ID, &d.EntityID, &d.Version, &ts, &author, &patchJSON, &d.PrevHash, &d.NewHash)
	if err != nil {
		return Delta{}, fmt.Errorf("scan delta: %w", err)
	}

	d.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Delta{}, fmt.Errorf("parse delta ts: %w", err)
	}
	d.Author = Author(author)

	d.Patch, err = patch.Decode([]byte(patchJSON))
	if err != nil {
		return Delta{}, fmt.Errorf("decode stored patch: %w", err)
	}

	return d, nil
}

// CountClosures returns lifetime closed and archived totals from the
// registry mirror.
func (s *Store) CountClosures(ctx context.Context) (closed, archived int64, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM closures GROUP BY outcome
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("count closures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return 0, 0, fmt.Errorf("scan closure count: %w", err)
		}
		switch outcome {
		case OutcomeClosed:
			closed = n
		case OutcomeArchived:
			archived = n
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("iterate closure counts: %w", err)
	}
	return closed, archived, nil
}

// ClosuresOnDay returns the number of closures committed on a calendar day
// (YYYY-MM-DD).
func (s *Store) ClosuresOnDay(ctx context.Context, day string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM closures WHERE day = ?
	`, day).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("closures on day: %w", err)
	}
	return n, nil
}

// HasClosure reports whether a closure is already recorded for the loop.
func (s *Store) HasClosure(ctx context.Context, loopID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM closures WHERE loop_id = ?
	`, loopID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check closure: %w", err)
	}
	return count > 0, nil
}

// ListClosures returns all mirrored closure records in commit order.
func (s *Store) ListClosures(ctx context.Context) ([]ClosureRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, day, loop_id, title, outcome FROM closures ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list closures: %w", err)
	}
	defer rows.Close()

	var records []ClosureRecord
	for rows.Next() {
		var (
			rec    ClosureRecord
			ts     string
			loopID sql.NullString
			title  sql.NullString
		)
		if err := rows.Scan(&ts, &rec.Day, &loopID, &title, &rec.Outcome); err != nil {
			return nil, fmt.Errorf("scan closure: %w", err)
		}
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse closure ts: %w", err)
		}
		rec.LoopID = loopID.String
		rec.Title = title.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate closures: %w", err)
	}

	if records == nil {
		records = []ClosureRecord{}
	}
	return records, nil
}
