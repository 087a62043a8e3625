package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()
	root := t.TempDir()
	w := New([]string{root}, filepath.Join(root, "memory", "changes.log"), time.Minute, nil)
	return w, root
}

func TestDetectsAddModifyDelete(t *testing.T) {
	w, root := newTestWatcher(t)
	write(t, filepath.Join(root, "a.txt"), "one")
	w.Init()

	// Added.
	write(t, filepath.Join(root, "b.txt"), "two")
	changes := w.Poll()
	require.Len(t, changes, 1)
	assert.Equal(t, "added", changes[0].Type)

	// Modified: bump mtime explicitly so the test is not timer-dependent.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(root, "a.txt"), future, future))
	changes = w.Poll()
	require.Len(t, changes, 1)
	assert.Equal(t, "modified", changes[0].Type)

	// Deleted.
	require.NoError(t, os.Remove(filepath.Join(root, "b.txt")))
	changes = w.Poll()
	require.Len(t, changes, 1)
	assert.Equal(t, "deleted", changes[0].Type)
}

func TestSkipsNoiseDirsAndOwnLog(t *testing.T) {
	w, root := newTestWatcher(t)
	w.Init()

	write(t, filepath.Join(root, "node_modules", "dep.js"), "x")
	write(t, filepath.Join(root, ".git", "HEAD"), "ref")
	write(t, filepath.Join(root, "queue", "001.json"), "{}")
	write(t, filepath.Join(root, "memory", "changes.log"), "old line")
	write(t, filepath.Join(root, "real.md"), "content")

	changes := w.Poll()
	require.Len(t, changes, 1)
	assert.Equal(t, filepath.Join(root, "real.md"), changes[0].Path)
}

func TestChangesLogAppended(t *testing.T) {
	w, root := newTestWatcher(t)
	w.Init()
	write(t, filepath.Join(root, "x.txt"), "hi")
	w.Poll()

	data, err := os.ReadFile(filepath.Join(root, "memory", "changes.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ADDED: "+filepath.Join(root, "x.txt"))
}

func TestRecentBufferCaps(t *testing.T) {
	w, root := newTestWatcher(t)
	w.Init()

	for i := 0; i < 110; i++ {
		write(t, filepath.Join(root, "f", string(rune('a'+i%26))+string(rune('0'+i/26))+".txt"), "x")
		w.Poll()
	}
	assert.LessOrEqual(t, len(w.Recent(0)), recentBuffer)

	last := w.Recent(5)
	assert.Len(t, last, 5)
}

func TestSummary(t *testing.T) {
	w, root := newTestWatcher(t)
	w.Init()
	assert.Equal(t, "No file changes detected", w.Summary())

	write(t, filepath.Join(root, "new.txt"), "x")
	w.Poll()
	assert.Equal(t, "📁 1 added since daemon start", w.Summary())
}

func TestStats(t *testing.T) {
	w, root := newTestWatcher(t)
	write(t, filepath.Join(root, "tracked.txt"), "x")
	w.Init()
	w.Poll()

	stats := w.Stats()
	assert.Equal(t, 1, stats.TrackedFiles)
	assert.Equal(t, []string{root}, stats.WatchedDirs)
	assert.Equal(t, 1, stats.PollCount)
	assert.Equal(t, 60, stats.PollIntervalSec)
	assert.NotEmpty(t, stats.LastPoll)
}
