package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"howell/internal/logging"
	"howell/internal/storage"

	"github.com/spf13/cast"
)

// Manager owns the live configuration and serializes writes to the backing
// document.
type Manager struct {
	mu     sync.RWMutex
	path   string
	cfg    *Config
	logger logging.Logger
}

// NewManager loads the document at path (or defaults when absent).
func NewManager(path string, logger logging.Logger) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, cfg: cfg, logger: logging.OrNop(logger)}, nil
}

// Path returns the location of the backing document.
func (m *Manager) Path() string { return m.path }

// Current returns a copy of the live configuration.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.cfg
}

// Apply updates recognized keys and persists the document. It returns the
// accepted updates and a per-key error map for the rejected ones.
func (m *Manager) Apply(updates map[string]any) (map[string]any, map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accepted := map[string]any{}
	rejected := map[string]string{}

	for key, value := range updates {
		if len(key) > 0 && key[0] == '_' {
			continue // computed fields round-tripped by clients
		}
		if !SettableKeys[key] {
			rejected[key] = fmt.Sprintf("Unknown or read-only key: %s", key)
			continue
		}
		if err := m.setKey(key, value); err != nil {
			rejected[key] = err.Error()
			continue
		}
		accepted[key] = value
	}

	if len(accepted) > 0 {
		if err := m.saveLocked(); err != nil {
			return accepted, rejected, err
		}
		m.logger.Info("Config updated: %d key(s)", len(accepted))
	}
	return accepted, rejected, nil
}

func (m *Manager) setKey(key string, value any) error {
	switch key {
	case "persist_root":
		root := cast.ToString(value)
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("directory does not exist: %s", root)
		}
		soul := filepath.Join(root, "SOUL.md")
		bridge := filepath.Join(root, "bridge")
		if !fileExists(soul) && !fileExists(bridge) {
			return fmt.Errorf("directory exists but has no SOUL.md or bridge/ - are you sure this is a brain directory?")
		}
		m.cfg.PersistRoot = root
		m.cfg.WatchDirs = append([]string{root}, watchDirsFromEnv()...)
	case "daemon_port":
		m.cfg.DaemonPort = cast.ToInt(value)
	case "daemon_host":
		m.cfg.DaemonHost = cast.ToString(value)
	case "mcp_memory_file":
		m.cfg.MCPMemoryFile = cast.ToString(value)
	case "dashboard_file":
		m.cfg.DashboardFile = cast.ToString(value)
	case "graph_file":
		m.cfg.GraphFile = cast.ToString(value)
	case "comfyui_url":
		m.cfg.ComfyUIURL = cast.ToString(value)
	case "max_recent_sessions":
		m.cfg.MaxRecentSessions = cast.ToInt(value)
	case "heartbeat_interval_hours":
		m.cfg.HeartbeatIntervalHours = cast.ToInt(value)
	case "watcher_interval_seconds":
		m.cfg.WatcherIntervalSeconds = cast.ToInt(value)
	case "queue_interval_seconds":
		m.cfg.QueueIntervalSeconds = cast.ToInt(value)
	case "moltbook_interval_seconds":
		m.cfg.MoltbookIntervalSeconds = cast.ToInt(value)
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return nil
}

func (m *Manager) saveLocked() error {
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return storage.WriteAtomic(m.path, data)
}

// Describe returns the document plus computed diagnostics for /config.
func (m *Manager) Describe() map[string]any {
	cfg := m.Current()
	out := map[string]any{
		"persist_root":              cfg.PersistRoot,
		"daemon_port":               cfg.DaemonPort,
		"daemon_host":               cfg.DaemonHost,
		"mcp_memory_file":           cfg.MCPMemoryFile,
		"dashboard_file":            cfg.DashboardFile,
		"graph_file":                cfg.GraphFile,
		"comfyui_url":               cfg.ComfyUIURL,
		"max_recent_sessions":       cfg.MaxRecentSessions,
		"heartbeat_interval_hours":  cfg.HeartbeatIntervalHours,
		"watcher_interval_seconds":  cfg.WatcherIntervalSeconds,
		"queue_interval_seconds":    cfg.QueueIntervalSeconds,
		"moltbook_interval_seconds": cfg.MoltbookIntervalSeconds,
		"_config_file":              m.path,
		"_persist_root_exists":      fileExists(cfg.PersistRoot),
		"_persist_root_has_soul":    fileExists(filepath.Join(cfg.PersistRoot, "SOUL.md")),
		"_persist_root_has_bridge":  fileExists(cfg.BridgeDir()),
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
