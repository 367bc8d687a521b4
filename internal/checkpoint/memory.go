package checkpoint

import (
	"context"
	"sync"
)

// MemoryBackend keeps the snapshot in process. It backs dry runs and tests;
// a save error can be injected to exercise fatal persistence handling.
type MemoryBackend struct {
	mu      sync.Mutex
	snap    Snapshot
	saves   int
	saveErr error
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Name() string {
	return "memory"
}

func (b *MemoryBackend) Load(_ context.Context) (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copySnapshot(b.snap), nil
}

func (b *MemoryBackend) Save(_ context.Context, snap Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	b.saves++
	b.snap = copySnapshot(snap)
	return nil
}

// SetSaveError makes every subsequent save fail with err; nil clears it
func (b *MemoryBackend) SetSaveError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saveErr = err
}

// Saves returns the number of successful saves
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// Stored returns the last saved snapshot
func (b *MemoryBackend) Stored() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copySnapshot(b.snap)
}

func copySnapshot(s Snapshot) Snapshot {
	return Snapshot{
		Completed: append([]string(nil), s.Completed...),
		Failed:    append([]string(nil), s.Failed...),
	}
}
