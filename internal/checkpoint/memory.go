package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Morlock52/psscript-sub005/internal/types"
)

// MemoryStore is an in-memory Store used by tests and the one-shot CLI
// analyze command, where durability across processes is not needed. It runs
// snapshots through the codec so envelope handling is exercised the same way
// as the SQLite store.
type MemoryStore struct {
	mu        sync.Mutex
	rows      map[string]memoryRow
	retention time.Duration
}

type memoryRow struct {
	snap Snapshot
	data []byte
}

// NewMemoryStore creates a MemoryStore with the given retention window.
// A non-positive retention defaults to 24h.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &MemoryStore{
		rows:      make(map[string]memoryRow),
		retention: retention,
	}
}

// Save stores the snapshot, replacing any prior one for the thread.
func (s *MemoryStore) Save(ctx context.Context, snap Snapshot) error {
	if snap.ThreadID == "" {
		return types.NewError(types.CHECKPOINT_FAILED, "snapshot thread id is empty")
	}
	if len(snap.State) == 0 {
		return types.NewError(types.CHECKPOINT_FAILED, "snapshot state is empty")
	}

	data, err := Encode(snap.State)
	if err != nil {
		return err
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[snap.ThreadID] = memoryRow{snap: snap, data: data}
	return nil
}

// Load returns the latest snapshot for the thread.
func (s *MemoryStore) Load(ctx context.Context, threadID string) (Snapshot, error) {
	s.mu.Lock()
	row, ok := s.rows[threadID]
	s.mu.Unlock()

	if !ok {
		return Snapshot{}, types.NewError(types.STATE_NOT_FOUND,
			fmt.Sprintf("no checkpoint for thread %s", threadID))
	}
	if time.Since(row.snap.UpdatedAt) > s.retention {
		return Snapshot{}, types.NewError(types.STATE_EXPIRED,
			fmt.Sprintf("review expired for thread %s", threadID))
	}

	state, err := Decode(row.data)
	if err != nil {
		return Snapshot{}, err
	}

	snap := row.snap
	snap.State = state
	return snap, nil
}

// Delete removes the thread's snapshot.
func (s *MemoryStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, threadID)
	return nil
}

// Sweep removes snapshots past the retention window.
func (s *MemoryStore) Sweep(ctx context.Context) ([]string, error) {
	cutoff := time.Now().UTC().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for threadID, row := range s.rows {
		if row.snap.UpdatedAt.Before(cutoff) {
			expired = append(expired, threadID)
			delete(s.rows, threadID)
		}
	}
	return expired, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
