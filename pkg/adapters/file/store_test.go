package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/keel/pkg/adapters/file"
	"github.com/aretw0/keel/pkg/domain"
	"github.com/aretw0/keel/pkg/ports/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Contract(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		tests.RunSnapshotStoreContract(t, file.New(t.TempDir()))
	})
	t.Run("YAML", func(t *testing.T) {
		tests.RunSnapshotStoreContract(t, file.New(t.TempDir(), file.WithFormat(file.FormatYAML)))
	})
}

func TestFileStore_YAMLIsReadable(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir, file.WithFormat(file.FormatYAML))
	snap := &domain.Snapshot{
		Revision: 4,
		Resources: []*domain.Resource{
			domain.NewResource(domain.RootAddress, nil),
			domain.NewResource(domain.MustParseAddress("/subsystem=mail"), map[string]any{"port": 25}),
		},
	}
	require.NoError(t, store.Persist(context.Background(), "master", snap))

	data, err := os.ReadFile(filepath.Join(dir, "master.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "address: /subsystem=mail")

	// No temp files are left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
