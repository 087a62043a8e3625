package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.DaemonPort)
	assert.Equal(t, "0.0.0.0", cfg.DaemonHost)
	assert.Equal(t, 5, cfg.MaxRecentSessions)
	assert.Equal(t, 6, cfg.HeartbeatIntervalHours)
	assert.Equal(t, 30, cfg.WatcherIntervalSeconds)
	assert.Equal(t, 10, cfg.QueueIntervalSeconds)
	assert.Equal(t, 60, cfg.MoltbookIntervalSeconds)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"daemon_port": 8000, "bogus": 1}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestEnvPersistRootOverride(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvPersistRoot, root)

	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Equal(t, root, cfg.PersistRoot)
	assert.Equal(t, []string{root}, cfg.WatchDirs)
}

func TestEnvWatchDirsExtendsList(t *testing.T) {
	root := t.TempDir()
	extra := t.TempDir()
	t.Setenv(EnvPersistRoot, root)
	t.Setenv(EnvWatchDirs, extra)

	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Equal(t, []string{root, extra}, cfg.WatchDirs)
}

func TestManagerApplyWhitelist(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(filepath.Join(dir, "config.json"), nil)
	require.NoError(t, err)

	accepted, rejected, err := mgr.Apply(map[string]any{
		"daemon_port": 8888,
		"nope":        true,
		"_computed":   "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"daemon_port": 8888}, accepted)
	assert.Contains(t, rejected["nope"], "Unknown or read-only key")
	assert.NotContains(t, rejected, "_computed")

	assert.Equal(t, 8888, mgr.Current().DaemonPort)

	// The document round-trips through a fresh load.
	reloaded, err := Load(mgr.Path())
	require.NoError(t, err)
	assert.Equal(t, 8888, reloaded.DaemonPort)
}

func TestManagerApplyValidatesPersistRoot(t *testing.T) {
	mgr, err := NewManager(filepath.Join(t.TempDir(), "config.json"), nil)
	require.NoError(t, err)

	_, rejected, err := mgr.Apply(map[string]any{"persist_root": "/no/such/dir"})
	require.NoError(t, err)
	assert.Contains(t, rejected["persist_root"], "does not exist")

	// A bare directory without SOUL.md or bridge/ is refused too.
	bare := t.TempDir()
	_, rejected, err = mgr.Apply(map[string]any{"persist_root": bare})
	require.NoError(t, err)
	assert.Contains(t, rejected["persist_root"], "brain directory")

	// With bridge/ present it is accepted.
	good := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(good, "bridge"), 0o755))
	accepted, rejected, err := mgr.Apply(map[string]any{"persist_root": good})
	require.NoError(t, err)
	assert.Empty(t, rejected)
	assert.Equal(t, good, accepted["persist_root"])
}

func TestIdentityFiles(t *testing.T) {
	cfg := Default()
	cfg.PersistRoot = "/p"
	files := cfg.IdentityFiles()
	assert.Equal(t, filepath.Join("/p", "SOUL.md"), files["soul"])
	assert.Equal(t, cfg.RecentFile(), files["memory"])
}
