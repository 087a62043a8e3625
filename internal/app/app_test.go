package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"howell/internal/logging"
	"howell/internal/task"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	logging.SetDefaultDir(filepath.Join(root, "logs"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "logs"), 0o755))

	path := filepath.Join(root, "config.json")
	doc := fmt.Sprintf(`{"persist_root": %q, "daemon_port": 0, "daemon_host": "127.0.0.1"}`, root)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestNewBuildsEverySubsystem(t *testing.T) {
	coord, err := New(writeConfig(t), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Agents.Close() })

	assert.NotNil(t, coord.Knowledge)
	assert.NotNil(t, coord.Memory)
	assert.NotNil(t, coord.Inbox)
	assert.NotNil(t, coord.Tasks)
	assert.NotNil(t, coord.Instances)
	assert.NotNil(t, coord.Agents)
	assert.NotNil(t, coord.Watcher)
	assert.NotNil(t, coord.Processor)
	assert.NotNil(t, coord.Scheduler)
	assert.NotNil(t, coord.Workers)
	assert.NotNil(t, coord.Events)
	assert.NotNil(t, coord.MCP)
	assert.NotNil(t, coord.HTTP)
	assert.NotEmpty(t, coord.HTTP.APIKey())

	cfg := coord.Config.Current()
	for _, dir := range []string{cfg.BridgeDir(), cfg.InboxDir(), cfg.TasksDir(), cfg.ComfyQueueDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
}

func TestExpiredInstanceReleasesTasks(t *testing.T) {
	coord, err := New(writeConfig(t), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Agents.Close() })

	inst := coord.Instances.Register("/work/kiln", "cli", "active")
	created, err := coord.Tasks.Create(task.CreateParams{Title: "Glaze batch"})
	require.NoError(t, err)
	_, err = coord.Tasks.Claim(created.ID, inst.ID)
	require.NoError(t, err)

	coord.Instances.OnExpire(inst.ID)

	got, err := coord.Tasks.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", string(got.Status))
	assert.Empty(t, got.ClaimedBy)
}

func TestRunShutsDownCleanly(t *testing.T) {
	coord, err := New(writeConfig(t), logging.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	entries := coord.SessionLog.Tail(10)
	require.NotEmpty(t, entries)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "daemon_start")
	assert.Contains(t, actions, "daemon_stop")
}
