package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomicRollsBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	require.NoError(t, WriteAtomic(path, []byte(`{"v":1}`)))
	require.NoError(t, WriteAtomic(path, []byte(`{"v":2}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))

	bak, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(bak))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestReadWithBackupPrefersPrimary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, WriteAtomic(path, []byte(`{"v":1}`)))
	require.NoError(t, WriteAtomic(path, []byte(`{"v":2}`)))

	var doc map[string]int
	err := ReadWithBackup(path, func(b []byte) error { return json.Unmarshal(b, &doc) })
	require.NoError(t, err)
	assert.Equal(t, 2, doc["v"])
}

func TestReadWithBackupFallsBackOnCorruptPrimary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, WriteAtomic(path, []byte(`{"v":1}`)))
	require.NoError(t, WriteAtomic(path, []byte(`{"v":2}`)))
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	var doc map[string]int
	err := ReadWithBackup(path, func(b []byte) error { return json.Unmarshal(b, &doc) })
	require.NoError(t, err)
	assert.Equal(t, 1, doc["v"])

	// The corrupt primary was renamed aside.
	matches, err := filepath.Glob(path + ".corrupt.*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestReadWithBackupMissingEverything(t *testing.T) {
	dir := t.TempDir()
	err := ReadWithBackup(filepath.Join(dir, "absent.json"), func([]byte) error { return nil })
	assert.ErrorIs(t, err, os.ErrNotExist)
}
