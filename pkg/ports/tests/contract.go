package tests

import (
	"context"
	"testing"

	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot(revision uint64) *domain.Snapshot {
	ds := domain.MustParseAddress("/subsystem=datasources")
	return &domain.Snapshot{
		Revision: revision,
		Resources: []*domain.Resource{
			domain.NewResource(domain.RootAddress, map[string]any{"name": "master"}),
			domain.NewResource(ds, map[string]any{"enabled": true}),
			domain.NewResource(ds.Append("data-source", "main"), map[string]any{
				"jndi": "java:/main",
				"tags": []any{"a", "b"},
			}),
		},
	}
}

// RunSnapshotStoreContract runs a suite of tests to verify that a SnapshotStore implementation
// adheres to the defined interface contract.
func RunSnapshotStoreContract(t *testing.T, store ports.SnapshotStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "never-persisted")
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
	})

	t.Run("Persist and Load", func(t *testing.T) {
		// 1. Persist
		snap := sampleSnapshot(1)
		require.NoError(t, store.Persist(ctx, "master", snap))

		// 2. Load
		loaded, err := store.Load(ctx, "master")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), loaded.Revision)
		require.Len(t, loaded.Resources, 3)
		for i, res := range loaded.Resources {
			assert.True(t, res.Address.Equal(snap.Resources[i].Address), "address order must be preserved")
		}
		assert.Equal(t, "java:/main", loaded.Resources[2].Attributes["jndi"])
	})

	t.Run("Latest Wins", func(t *testing.T) {
		require.NoError(t, store.Persist(ctx, "master", sampleSnapshot(2)))
		next := sampleSnapshot(3)
		next.Resources = next.Resources[:2]
		require.NoError(t, store.Persist(ctx, "master", next))

		loaded, err := store.Load(ctx, "master")
		require.NoError(t, err)
		assert.Equal(t, uint64(3), loaded.Revision)
		assert.Len(t, loaded.Resources, 2)
	})

	t.Run("Processes Are Isolated", func(t *testing.T) {
		require.NoError(t, store.Persist(ctx, "slave", sampleSnapshot(7)))
		loaded, err := store.Load(ctx, "master")
		require.NoError(t, err)
		assert.Equal(t, uint64(3), loaded.Revision)
	})

	t.Run("Loaded Snapshot Is Independent", func(t *testing.T) {
		first, err := store.Load(ctx, "master")
		require.NoError(t, err)
		first.Resources[0].Attributes["name"] = "mutated"

		second, err := store.Load(ctx, "master")
		require.NoError(t, err)
		assert.Equal(t, "master", second.Resources[0].Attributes["name"])
	})

	history, ok := store.(ports.SnapshotHistory)
	if !ok {
		return
	}
	t.Run("History", func(t *testing.T) {
		revs, err := history.Revisions(ctx, "master")
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2, 3}, revs)

		old, err := history.LoadRevision(ctx, "master", 1)
		require.NoError(t, err)
		assert.Len(t, old.Resources, 3)

		_, err = history.LoadRevision(ctx, "master", 42)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
	})
}
