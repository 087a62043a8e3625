// Package watcher polls the approved directory trees for file changes.
// Polling over mtime snapshots, not inotify: the watched roots live on
// mixed filesystems (network shares included) where change notification
// is unreliable, and a 30-second poll over a few thousand files is cheap.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"howell/internal/logging"
)

// skipDirs are directory names pruned from every watched tree.
var skipDirs = map[string]struct{}{
	"node_modules": {}, ".git": {}, "__pycache__": {}, ".venv": {}, "venv": {},
	"processed": {}, "archive": {}, ".next": {}, "dist": {}, "build": {}, "queue": {},
}

// skipFiles are our own outputs; watching them would feed back.
var skipFiles = map[string]struct{}{"changes.log": {}}

const recentBuffer = 100

// Change is one detected filesystem event.
type Change struct {
	Type string `json:"type"` // added, modified, deleted
	Path string `json:"path"`
	Time string `json:"time"`
}

// Stats is the live watcher state for /stats.
type Stats struct {
	TrackedFiles          int      `json:"tracked_files"`
	WatchedDirs           []string `json:"watched_dirs"`
	PollCount             int      `json:"poll_count"`
	PollIntervalSec       int      `json:"poll_interval_sec"`
	LastPoll              string   `json:"last_poll,omitempty"`
	TotalChanges          int      `json:"total_changes"`
	RecentChangesBuffered int      `json:"recent_changes_buffered"`
}

// Watcher diffs mtime snapshots of the watched roots.
type Watcher struct {
	mu           sync.Mutex
	dirs         []string
	changesLog   string
	interval     time.Duration
	logger       logging.Logger
	snapshot     map[string]time.Time
	recent       []Change
	pollCount    int
	lastPoll     string
	totalChanges int
}

// New returns a watcher over dirs, appending its log to changesLog.
func New(dirs []string, changesLog string, interval time.Duration, logger logging.Logger) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watcher{
		dirs:       dirs,
		changesLog: changesLog,
		interval:   interval,
		logger:     logging.OrNop(logger),
		snapshot:   map[string]time.Time{},
	}
}

// Init takes the baseline snapshot and returns the tracked file count.
func (w *Watcher) Init() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.snapshot = w.takeSnapshot()
	dirs := 0
	for _, d := range w.dirs {
		if _, err := os.Stat(d); err == nil {
			dirs++
		}
	}
	w.logger.Info("Tracking %d files across %d directories", len(w.snapshot), dirs)
	return len(w.snapshot)
}

// Run polls until the context is cancelled. Call after Init.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if changes := w.Poll(); len(changes) > 0 {
				w.logger.Info("%d file change(s)", len(changes))
			}
		}
	}
}

// Poll diffs the current tree against the last snapshot, records the
// changes, and returns them.
func (w *Watcher) Poll() []Change {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pollCount++
	w.lastPoll = time.Now().Format(time.RFC3339)

	current := w.takeSnapshot()
	var changes []Change
	for path, mtime := range current {
		prev, known := w.snapshot[path]
		switch {
		case !known:
			changes = append(changes, Change{Type: "added", Path: path, Time: mtime.Format(time.RFC3339)})
		case !mtime.Equal(prev):
			changes = append(changes, Change{Type: "modified", Path: path, Time: mtime.Format(time.RFC3339)})
		}
	}
	for path := range w.snapshot {
		if _, ok := current[path]; !ok {
			changes = append(changes, Change{Type: "deleted", Path: path, Time: time.Now().Format(time.RFC3339)})
		}
	}
	w.snapshot = current

	if len(changes) > 0 {
		w.totalChanges += len(changes)
		w.recent = append(w.recent, changes...)
		if len(w.recent) > recentBuffer {
			w.recent = w.recent[len(w.recent)-recentBuffer:]
		}
		w.appendLog(changes)
	}
	return changes
}

func (w *Watcher) takeSnapshot() map[string]time.Time {
	snapshot := map[string]time.Time{}
	for _, dir := range w.dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped, not fatal
			}
			name := d.Name()
			if d.IsDir() {
				if _, skip := skipDirs[name]; skip {
					return filepath.SkipDir
				}
				return nil
			}
			if _, skip := skipFiles[name]; skip {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			snapshot[path] = info.ModTime()
			return nil
		})
	}
	return snapshot
}

func (w *Watcher) appendLog(changes []Change) {
	if w.changesLog == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(w.changesLog), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(w.changesLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		w.logger.Warn("changes.log open failed: %v", err)
		return
	}
	defer func() { _ = f.Close() }()
	for _, c := range changes {
		fmt.Fprintf(f, "[%s] %s: %s\n", c.Time, strings.ToUpper(c.Type), c.Path)
	}
}

// Recent returns the last limit buffered changes, oldest first.
func (w *Watcher) Recent(limit int) []Change {
	w.mu.Lock()
	defer w.mu.Unlock()

	if limit <= 0 || limit > len(w.recent) {
		limit = len(w.recent)
	}
	out := make([]Change, limit)
	copy(out, w.recent[len(w.recent)-limit:])
	return out
}

// Summary is the one-line /status form.
func (w *Watcher) Summary() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.recent) == 0 {
		return "No file changes detected"
	}
	counts := map[string]int{}
	for _, c := range w.recent {
		counts[c.Type]++
	}
	var parts []string
	for _, kind := range []string{"added", "modified", "deleted"} {
		if n := counts[kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, kind))
		}
	}
	return "📁 " + strings.Join(parts, ", ") + " since daemon start"
}

// Stats returns the live watcher counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	var existing []string
	for _, d := range w.dirs {
		if _, err := os.Stat(d); err == nil {
			existing = append(existing, d)
		}
	}
	return Stats{
		TrackedFiles:          len(w.snapshot),
		WatchedDirs:           existing,
		PollCount:             w.pollCount,
		PollIntervalSec:       int(w.interval / time.Second),
		LastPoll:              w.lastPoll,
		TotalChanges:          w.totalChanges,
		RecentChangesBuffered: len(w.recent),
	}
}
