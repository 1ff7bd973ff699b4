package ports

import (
	"context"

	"github.com/aretw0/keel/pkg/domain"
)

// SnapshotStore persists committed trees so a process can recover its model.
type SnapshotStore interface {
	// Persist durably stores snap as the latest snapshot of the named process.
	// It must not return before the snapshot survives a crash of the caller.
	Persist(ctx context.Context, process string, snap *domain.Snapshot) error

	// Load returns the latest snapshot of the named process.
	// Returns domain.ErrSnapshotNotFound if nothing was persisted yet.
	Load(ctx context.Context, process string) (*domain.Snapshot, error)
}

// SnapshotHistory is implemented by stores that keep previous revisions.
type SnapshotHistory interface {
	// Revisions lists the stored revisions of the named process, oldest first.
	Revisions(ctx context.Context, process string) ([]uint64, error)

	// LoadRevision returns one stored revision.
	// Returns domain.ErrSnapshotNotFound if that revision is not kept.
	LoadRevision(ctx context.Context, process string, revision uint64) (*domain.Snapshot, error)
}
