package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"howell/internal/logging"
	"howell/internal/storage"
)

// sessionLogCap bounds the persisted tail of the session log.
const sessionLogCap = 100

// SessionEntry is one line of the append-only session log.
type SessionEntry struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Details   string `json:"details"`
}

// SessionLog is the capped, persisted event log at bridge/sessions.json.
type SessionLog struct {
	mu     sync.Mutex
	path   string
	logger logging.Logger
}

// NewSessionLog returns a log backed by the document at path.
func NewSessionLog(path string, logger logging.Logger) *SessionLog {
	return &SessionLog{path: path, logger: logging.OrNop(logger)}
}

// Append records an event, keeping only the last hundred entries.
func (l *SessionLog) Append(action, details string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.loadLocked()
	entries = append(entries, SessionEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Action:    action,
		Details:   details,
	})
	if len(entries) > sessionLogCap {
		entries = entries[len(entries)-sessionLogCap:]
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		l.logger.Error("Session log encode failed: %v", err)
		return
	}
	if err := storage.WriteAtomic(l.path, data); err != nil {
		l.logger.Error("Session log write failed: %v", err)
	}
}

// Tail returns the most recent limit entries, newest last.
func (l *SessionLog) Tail(limit int) []SessionEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.loadLocked()
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

func (l *SessionLog) loadLocked() []SessionEntry {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}
	var entries []SessionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		// Start fresh; keep the unreadable file for inspection.
		corrupt := fmt.Sprintf("%s.corrupt.%d", l.path, time.Now().Unix())
		_ = os.Rename(l.path, corrupt)
		l.logger.Warn("Session log corrupt, moved to %s", corrupt)
		return nil
	}
	return entries
}
