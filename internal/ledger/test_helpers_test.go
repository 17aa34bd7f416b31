package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsledger/deltakernel/internal/doc"
	"github.com/opsledger/deltakernel/internal/patch"
)

// createTestStore creates an on-disk store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testTime = time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

// mustGenesis commits a genesis delta and returns the snapshot.
func mustGenesis(t *testing.T, s *Store, entityID string, p patch.Patch) Snapshot {
	t.Helper()
	snap, err := s.Submit(context.Background(), Genesis(entityID, "test_entity", AuthorUser, testTime, p))
	if err != nil {
		t.Fatalf("genesis Submit() failed: %v", err)
	}
	return snap
}

// mustSubmit commits a delta chained on the given head.
func mustSubmit(t *testing.T, s *Store, entityID, prevHash string, p patch.Patch, opts ...SubmitOption) Snapshot {
	t.Helper()
	d := NewDelta(entityID, prevHash, AuthorUser, testTime, p)
	snap, err := s.Submit(context.Background(), d, opts...)
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	return snap
}

func counterPatch(n int64) patch.Patch {
	return patch.Patch{patch.Replace("/count", doc.Int(n))}
}

func genesisPatch() patch.Patch {
	return patch.Patch{
		patch.Add("/count", doc.Int(0)),
		patch.Add("/log", doc.Array{}),
	}
}
