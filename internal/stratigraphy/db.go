// Package stratigraphy is the permanent agent ledger. The name comes from
// geology: each agent session deposits a stratum, and the next agent reads
// the rock. The live registry tracks who is alive NOW; this database tracks
// who has EVER existed and what they knew.
package stratigraphy

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"howell/internal/logging"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
    version     INTEGER PRIMARY KEY,
    applied_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agents (
    id          TEXT PRIMARY KEY,
    parent      TEXT NOT NULL DEFAULT 'Claude-Howell',
    platform    TEXT NOT NULL DEFAULT 'unknown',
    workspace   TEXT NOT NULL DEFAULT 'unknown',
    model       TEXT NOT NULL DEFAULT 'unknown',
    created_at  TEXT NOT NULL,
    ended_at    TEXT,
    end_summary TEXT
);

CREATE TABLE IF NOT EXISTS notes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id    TEXT NOT NULL REFERENCES agents(id),
    category    TEXT NOT NULL,
    content     TEXT NOT NULL,
    tags        TEXT,
    created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS handoffs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    from_agent  TEXT NOT NULL REFERENCES agents(id),
    to_scope    TEXT NOT NULL,
    content     TEXT NOT NULL,
    priority    TEXT NOT NULL DEFAULT 'normal',
    claimed_by  TEXT REFERENCES agents(id),
    created_at  TEXT NOT NULL,
    claimed_at  TEXT
);

CREATE INDEX IF NOT EXISTS idx_notes_agent ON notes(agent_id);
CREATE INDEX IF NOT EXISTS idx_notes_category ON notes(category);
CREATE INDEX IF NOT EXISTS idx_handoffs_scope ON handoffs(to_scope);
CREATE INDEX IF NOT EXISTS idx_handoffs_unclaimed ON handoffs(claimed_by) WHERE claimed_by IS NULL;
CREATE INDEX IF NOT EXISTS idx_agents_workspace ON agents(workspace);
CREATE INDEX IF NOT EXISTS idx_agents_created ON agents(created_at);
`

// DB wraps the SQLite ledger. The mutex serializes compound operations
// like id generation followed by insert; plain queries go straight to the
// pool and rely on WAL for concurrent reads.
type DB struct {
	mu     sync.Mutex
	db     *sql.DB
	logger logging.Logger
}

// Open opens or creates the ledger at path and applies the schema.
func Open(path string, logger logging.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=1&_busy_timeout=10000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open agent db: %w", err)
	}
	// SQLite writes are single-file; more than one writer just queues on
	// the busy timeout.
	db.SetMaxOpenConns(1)

	s := &DB{db: db, logger: logging.OrNop(logger)}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) init() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	var existing int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM schema_version WHERE version = ?", schemaVersion,
	).Scan(&existing)
	if err != nil {
		return err
	}
	if existing == 0 {
		_, err = s.db.Exec(
			"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			schemaVersion, time.Now().Format(time.RFC3339),
		)
	}
	return err
}

// Close releases the underlying database handle.
func (s *DB) Close() error {
	return s.db.Close()
}
