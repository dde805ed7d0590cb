package checkpoint

import (
	"context"
	"encoding/json"
	"time"
)

// Snapshot is one durable checkpoint row. State holds the workflow state
// JSON; Status and Stage are duplicated outside the blob so status polling
// never needs to decode it.
type Snapshot struct {
	ThreadID   string
	WorkflowID string
	Status     string
	Stage      string
	State      json.RawMessage
	UpdatedAt  time.Time
}

// Store durably persists workflow snapshots keyed by thread id. A save for a
// thread fully replaces the prior snapshot, atomically; readers never observe
// a half-updated row. The orchestrator is the only writer per thread, so the
// store needs no cross-thread coordination beyond keyed writes.
type Store interface {
	// Save persists the snapshot, replacing any prior snapshot for the
	// thread.
	Save(ctx context.Context, snap Snapshot) error

	// Load returns the latest snapshot for the thread. Returns a
	// STATE_NOT_FOUND error if no snapshot exists and a STATE_EXPIRED error
	// if the snapshot's age exceeds the retention window.
	Load(ctx context.Context, threadID string) (Snapshot, error)

	// Delete removes the thread's snapshot. Deleting an absent thread is
	// not an error.
	Delete(ctx context.Context, threadID string) error

	// Sweep deletes snapshots older than the retention window and returns
	// the affected thread ids.
	Sweep(ctx context.Context) ([]string, error)

	// Close releases store resources.
	Close() error
}
