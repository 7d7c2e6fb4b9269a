package tx

import (
	"context"
	"sync"
)

// Snapshotter is implemented by in-memory stores that can capture and restore
// their full state, which is how the memory runner simulates rollback.
type Snapshotter interface {
	Snapshot() any
	Restore(snapshot any)
}

// MemoryRunner gives in-memory stores the same all-or-nothing semantics the
// SQL runner gives Postgres stores. Units of work are serialized under one
// mutex, which matches the locking the production path takes on the source
// household.
type MemoryRunner struct {
	mu     sync.Mutex
	stores []Snapshotter
}

// NewMemoryRunner builds a runner over the given stores. Every store touched
// inside Execute must be registered or its writes survive a rollback.
func NewMemoryRunner(stores ...Snapshotter) *MemoryRunner {
	return &MemoryRunner{stores: stores}
}

func (r *MemoryRunner) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshots := make([]any, len(r.stores))
	for i, s := range r.stores {
		snapshots[i] = s.Snapshot()
	}

	if err := fn(ctx); err != nil {
		for i, s := range r.stores {
			s.Restore(snapshots[i])
		}
		return err
	}
	return nil
}
