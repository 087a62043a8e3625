package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	store := NewStore(path, nil)

	require.NoError(t, store.Update(func(g *Graph) error {
		g.AddEntity("alpha", "project", []string{"a1"})
		return nil
	}))

	g := store.Load()
	require.Contains(t, g.Entities, "alpha")
	assert.Equal(t, []string{"a1"}, g.Entities["alpha"].Observations)
	assert.NotEmpty(t, g.LastSync)
}

func TestStoreFallsBackToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	store := NewStore(path, nil)

	require.NoError(t, store.Update(func(g *Graph) error {
		g.AddEntity("alpha", "project", nil)
		return nil
	}))
	require.NoError(t, store.Update(func(g *Graph) error {
		g.AddEntity("beta", "project", nil)
		return nil
	}))

	// Corrupt the primary; the backup still has alpha.
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	g := store.Load()
	assert.Contains(t, g.Entities, "alpha")
}

func TestStoreBothCorruptYieldsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	require.NoError(t, os.WriteFile(path+".bak", []byte("also broken"), 0o644))

	store := NewStore(path, nil)
	g := store.Load()
	assert.Empty(t, g.Entities)
	assert.Empty(t, g.Relations)
}

func TestStoreFailedUpdateLeavesFileIntact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	store := NewStore(path, nil)
	require.NoError(t, store.Update(func(g *Graph) error {
		g.AddEntity("alpha", "project", nil)
		return nil
	}))

	err := store.Update(func(g *Graph) error {
		g.AddEntity("beta", "project", nil)
		return assert.AnError
	})
	require.Error(t, err)

	g := store.Load()
	assert.Contains(t, g.Entities, "alpha")
	assert.NotContains(t, g.Entities, "beta")
}
