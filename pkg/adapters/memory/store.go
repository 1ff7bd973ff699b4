package memory

import (
	"context"
	"sync"

	"github.com/aretw0/keel/pkg/domain"
)

// Store implements ports.SnapshotStore and ports.SnapshotHistory in memory.
// Safe for concurrent use.
type Store struct {
	data map[string][]*domain.Snapshot
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string][]*domain.Snapshot),
	}
}

// Persist keeps a deep copy of the snapshot, similar to serialization.
func (s *Store) Persist(ctx context.Context, process string, snap *domain.Snapshot) error {
	copied := snap.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[process] = append(s.data[process], copied)
	return nil
}

// Load retrieves the latest snapshot.
func (s *Store) Load(ctx context.Context, process string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.data[process]
	if len(history) == 0 {
		return nil, domain.ErrSnapshotNotFound
	}
	// Copy on read so callers can't mutate the store through the pointer
	return history[len(history)-1].Clone(), nil
}

// Revisions lists the stored revisions, oldest first.
func (s *Store) Revisions(ctx context.Context, process string) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	revs := make([]uint64, 0, len(s.data[process]))
	for _, snap := range s.data[process] {
		revs = append(revs, snap.Revision)
	}
	return revs, nil
}

// LoadRevision retrieves one stored revision.
func (s *Store) LoadRevision(ctx context.Context, process string, revision uint64) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, snap := range s.data[process] {
		if snap.Revision == revision {
			return snap.Clone(), nil
		}
	}
	return nil, domain.ErrSnapshotNotFound
}
