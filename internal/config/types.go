package config

import "path/filepath"

// Config is the daemon's persisted configuration document. The key set is
// closed: writes with unknown keys are rejected.
type Config struct {
	PersistRoot   string `json:"persist_root" mapstructure:"persist_root"`
	DaemonPort    int    `json:"daemon_port" mapstructure:"daemon_port"`
	DaemonHost    string `json:"daemon_host" mapstructure:"daemon_host"`
	MCPMemoryFile string `json:"mcp_memory_file,omitempty" mapstructure:"mcp_memory_file"`
	DashboardFile string `json:"dashboard_file,omitempty" mapstructure:"dashboard_file"`
	GraphFile     string `json:"graph_file,omitempty" mapstructure:"graph_file"`
	ComfyUIURL    string `json:"comfyui_url" mapstructure:"comfyui_url"`

	MaxRecentSessions int `json:"max_recent_sessions" mapstructure:"max_recent_sessions"`

	HeartbeatIntervalHours  int `json:"heartbeat_interval_hours" mapstructure:"heartbeat_interval_hours"`
	WatcherIntervalSeconds  int `json:"watcher_interval_seconds" mapstructure:"watcher_interval_seconds"`
	QueueIntervalSeconds    int `json:"queue_interval_seconds" mapstructure:"queue_interval_seconds"`
	MoltbookIntervalSeconds int `json:"moltbook_interval_seconds" mapstructure:"moltbook_interval_seconds"`

	// WatchDirs is derived from HOWELL_WATCH_DIRS, not part of the document.
	WatchDirs []string `json:"-" mapstructure:"-"`
}

// SettableKeys is the closed set of keys accepted by config writes.
var SettableKeys = map[string]bool{
	"persist_root":              true,
	"daemon_port":               true,
	"daemon_host":               true,
	"mcp_memory_file":           true,
	"dashboard_file":            true,
	"graph_file":                true,
	"comfyui_url":               true,
	"max_recent_sessions":       true,
	"heartbeat_interval_hours":  true,
	"watcher_interval_seconds":  true,
	"queue_interval_seconds":    true,
	"moltbook_interval_seconds": true,
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		PersistRoot:             defaultPersistRoot(),
		DaemonPort:              7777,
		DaemonHost:              "0.0.0.0",
		ComfyUIURL:              "http://127.0.0.1:8188",
		MaxRecentSessions:       5,
		HeartbeatIntervalHours:  6,
		WatcherIntervalSeconds:  30,
		QueueIntervalSeconds:    10,
		MoltbookIntervalSeconds: 60,
	}
}

// Derived filesystem layout under the persist root.

func (c *Config) BridgeDir() string    { return filepath.Join(c.PersistRoot, "bridge") }
func (c *Config) MemoryDir() string    { return filepath.Join(c.PersistRoot, "memory") }
func (c *Config) TasksDir() string     { return filepath.Join(c.PersistRoot, "tasks") }
func (c *Config) LogsDir() string      { return filepath.Join(c.PersistRoot, "logs") }
func (c *Config) InboxDir() string     { return filepath.Join(c.MemoryDir(), "inbox") }
func (c *Config) ArchiveDir() string   { return filepath.Join(c.MemoryDir(), "archive") }
func (c *Config) ProceduresDir() string { return filepath.Join(c.PersistRoot, "procedures") }

func (c *Config) KnowledgeFile() string     { return filepath.Join(c.BridgeDir(), "knowledge.json") }
func (c *Config) SessionsFile() string      { return filepath.Join(c.BridgeDir(), "sessions.json") }
func (c *Config) AgentDBFile() string       { return filepath.Join(c.BridgeDir(), "agents.db") }
func (c *Config) APIKeyFile() string        { return filepath.Join(c.BridgeDir(), ".api_key") }
func (c *Config) WebhookSecretFile() string { return filepath.Join(c.BridgeDir(), ".webhook_secret") }

func (c *Config) TasksFile() string       { return filepath.Join(c.TasksDir(), "tasks.json") }
func (c *Config) TaskArchiveDir() string  { return filepath.Join(c.TasksDir(), "archive") }
func (c *Config) RecentFile() string      { return filepath.Join(c.MemoryDir(), "RECENT.md") }
func (c *Config) SummaryFile() string     { return filepath.Join(c.MemoryDir(), "SUMMARY.md") }
func (c *Config) PinnedFile() string      { return filepath.Join(c.MemoryDir(), "PINNED.md") }
func (c *Config) ChangesLogFile() string  { return filepath.Join(c.MemoryDir(), "changes.log") }
func (c *Config) ComfyQueueDir() string   { return filepath.Join(c.PersistRoot, "queue", "comfyui") }
func (c *Config) MoltbookQueueDir() string { return filepath.Join(c.PersistRoot, "queue", "moltbook") }

// IdentityFiles maps identity names to their backing files.
func (c *Config) IdentityFiles() map[string]string {
	return map[string]string{
		"soul":      filepath.Join(c.PersistRoot, "SOUL.md"),
		"context":   filepath.Join(c.PersistRoot, "CONTEXT.md"),
		"memory":    c.RecentFile(),
		"summary":   c.SummaryFile(),
		"pinned":    c.PinnedFile(),
		"questions": filepath.Join(c.PersistRoot, "QUESTIONS.md"),
		"projects":  filepath.Join(c.PersistRoot, "PROJECTS.md"),
	}
}
