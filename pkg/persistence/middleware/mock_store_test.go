package middleware_test

import (
	"context"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/ports"
)

// MockStore is a simple map-based store for testing middleware.
type MockStore struct {
	data map[string]*domain.Snapshot
}

func NewMockStore() *MockStore {
	return &MockStore{
		data: make(map[string]*domain.Snapshot),
	}
}

func (s *MockStore) Persist(ctx context.Context, process string, snap *domain.Snapshot) error {
	s.data[process] = snap
	return nil
}

func (s *MockStore) Load(ctx context.Context, process string) (*domain.Snapshot, error) {
	snap, ok := s.data[process]
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}
	return snap, nil
}

var _ ports.SnapshotStore = (*MockStore)(nil)
