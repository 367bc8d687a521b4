// Package checkpoint records which records have reached a terminal outcome so
// an interrupted conversion can resume without redoing finished work.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrConflict is returned when an ID is marked with the opposite outcome of
// the one already recorded for it
var ErrConflict = errors.New("checkpoint: id already recorded with a different outcome")

// ErrNotDurable is returned by a backend whose save reached storage but
// could not be confirmed durable. The snapshot is in place, so the store
// keeps its in-memory state.
var ErrNotDurable = errors.New("checkpoint: save not confirmed durable")

// Snapshot is the durable form of the two ID sets. IDs are kept sorted so
// repeated saves of the same state are byte-identical.
type Snapshot struct {
	Completed []string `json:"completed"`
	Failed    []string `json:"failed"`
}

// Backend persists snapshots. Save must replace the stored state atomically:
// a concurrent or later Load sees either the old snapshot or the new one.
type Backend interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Name() string
}

// Counts is the size of each set
type Counts struct {
	Completed int
	Failed    int
}

// Store holds the completed and failed sets in memory and writes the whole
// state through to its backend on every mutation.
type Store struct {
	backend Backend
	logger  *slog.Logger

	// mu guards both sets and serializes saves
	mu        sync.RWMutex
	completed map[string]struct{}
	failed    map[string]struct{}
}

// NewStore creates an empty store; call Load before use
func NewStore(backend Backend, logger *slog.Logger) *Store {
	return &Store{
		backend:   backend,
		logger:    logger,
		completed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
	}
}

// Load replaces the in-memory sets with the backend's state. An ID found in
// both persisted sets is kept as failed.
func (s *Store) Load(ctx context.Context) (Counts, error) {
	snap, err := s.backend.Load(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to load checkpoints from %s: %w", s.backend.Name(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed = toSet(snap.Completed)
	s.failed = toSet(snap.Failed)
	for id := range s.failed {
		if _, ok := s.completed[id]; ok {
			s.logger.Warn("checkpoint id in both sets, keeping as failed", "record_id", id)
			delete(s.completed, id)
		}
	}

	counts := Counts{Completed: len(s.completed), Failed: len(s.failed)}
	s.logger.Info("loaded checkpoints",
		"backend", s.backend.Name(),
		"completed", counts.Completed,
		"failed", counts.Failed)

	return counts, nil
}

// IsCompleted reports whether id was converted successfully
func (s *Store) IsCompleted(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.completed[id]
	return ok
}

// IsFailed reports whether id was permanently rejected
func (s *Store) IsFailed(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.failed[id]
	return ok
}

// IsDone reports whether id has any terminal outcome
func (s *Store) IsDone(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, completed := s.completed[id]
	_, failed := s.failed[id]
	return completed || failed
}

// MarkCompleted records id as converted and persists before returning
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	return s.mark(ctx, false, []string{id})
}

// MarkCompletedMany records every id as converted with a single save
func (s *Store) MarkCompletedMany(ctx context.Context, ids []string) error {
	return s.mark(ctx, false, ids)
}

// MarkFailed records id as permanently rejected and persists before returning
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	return s.mark(ctx, true, []string{id})
}

// mark adds ids to the failed or completed set. IDs already there are
// ignored; an ID in the other set aborts the whole call with ErrConflict. If
// the save fails the additions are rolled back so memory never runs ahead of
// the backend.
func (s *Store) mark(ctx context.Context, failed bool, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst, opposite := s.completed, s.failed
	if failed {
		dst, opposite = s.failed, s.completed
	}

	for _, id := range ids {
		if _, ok := opposite[id]; ok {
			return fmt.Errorf("%w: %s", ErrConflict, id)
		}
	}

	var added []string
	for _, id := range ids {
		if _, ok := dst[id]; ok {
			continue
		}
		dst[id] = struct{}{}
		added = append(added, id)
	}
	if len(added) == 0 {
		return nil
	}

	if err := s.saveLocked(ctx); err != nil {
		for _, id := range added {
			delete(dst, id)
		}
		return err
	}

	return nil
}

// Flush persists the current state unconditionally
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

// Backend names the backend the store persists to
func (s *Store) Backend() string {
	return s.backend.Name()
}

// Counts returns the current size of both sets
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counts{Completed: len(s.completed), Failed: len(s.failed)}
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Completed: sortedKeys(s.completed),
		Failed:    sortedKeys(s.failed),
	}
}

func (s *Store) saveLocked(ctx context.Context) error {
	err := s.backend.Save(ctx, s.snapshotLocked())
	if errors.Is(err, ErrNotDurable) {
		s.logger.Warn("checkpoint saved but not confirmed durable",
			"backend", s.backend.Name(),
			"error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to persist checkpoints to %s: %w", s.backend.Name(), err)
	}
	return nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
