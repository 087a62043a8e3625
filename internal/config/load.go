package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPersistRoot overrides persist_root at startup.
	EnvPersistRoot = "HOWELL_PERSIST_ROOT"
	// EnvWatchDirs extends the watcher's directory list (path-list separated).
	EnvWatchDirs = "HOWELL_WATCH_DIRS"
)

func defaultPersistRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "howell-persist"
	}
	return filepath.Join(home, "howell-persist")
}

// DefaultFile is where the binaries look for the config document when no
// --config flag is given.
func DefaultFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "howell.json"
	}
	return filepath.Join(home, ".howell", "config.json")
}

// Load reads the config document at path, applies defaults for missing keys
// and environment overrides on top. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetDefault("persist_root", cfg.PersistRoot)
	v.SetDefault("daemon_port", cfg.DaemonPort)
	v.SetDefault("daemon_host", cfg.DaemonHost)
	v.SetDefault("comfyui_url", cfg.ComfyUIURL)
	v.SetDefault("max_recent_sessions", cfg.MaxRecentSessions)
	v.SetDefault("heartbeat_interval_hours", cfg.HeartbeatIntervalHours)
	v.SetDefault("watcher_interval_seconds", cfg.WatcherIntervalSeconds)
	v.SetDefault("queue_interval_seconds", cfg.QueueIntervalSeconds)
	v.SetDefault("moltbook_interval_seconds", cfg.MoltbookIntervalSeconds)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	} else {
		for _, key := range v.AllKeys() {
			if !SettableKeys[key] {
				return nil, fmt.Errorf("unknown config key %q in %s", key, path)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv layers process environment overrides onto cfg.
func applyEnv(cfg *Config) {
	if root := strings.TrimSpace(os.Getenv(EnvPersistRoot)); root != "" {
		cfg.PersistRoot = root
	}
	cfg.WatchDirs = append([]string{cfg.PersistRoot}, watchDirsFromEnv()...)
}

func watchDirsFromEnv() []string {
	raw := os.Getenv(EnvWatchDirs)
	if raw == "" {
		return nil
	}
	var dirs []string
	for _, d := range strings.Split(raw, string(os.PathListSeparator)) {
		if d = strings.TrimSpace(d); d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}
