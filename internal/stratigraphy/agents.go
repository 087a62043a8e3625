package stratigraphy

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperr "howell/internal/errors"
)

// Agent is one permanent session record.
type Agent struct {
	ID         string  `json:"id"`
	Parent     string  `json:"parent"`
	Platform   string  `json:"platform"`
	Workspace  string  `json:"workspace"`
	Model      string  `json:"model"`
	CreatedAt  string  `json:"created_at"`
	EndedAt    *string `json:"ended_at"`
	EndSummary *string `json:"end_summary"`
	KeyNotes   []Note  `json:"key_notes,omitempty"`
}

// nextAgentIDLocked produces the next CH-YYMMDD-N id by scanning today's
// records. Caller must hold s.mu.
func (s *DB) nextAgentIDLocked() (string, error) {
	prefix := "CH-" + time.Now().Format("060102") + "-"
	rows, err := s.db.Query("SELECT id FROM agents WHERE id LIKE ?", prefix+"%")
	if err != nil {
		return "", err
	}
	defer func() { _ = rows.Close() }()

	max := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		n, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d", prefix, max+1), nil
}

// CreateAgent registers a new agent. An empty id auto-generates the next
// CH-YYMMDD-N in sequence.
func (s *DB) CreateAgent(id, platform, workspace, model string) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		var err error
		if id, err = s.nextAgentIDLocked(); err != nil {
			return nil, err
		}
	}
	if platform == "" {
		platform = "unknown"
	}
	if workspace == "" {
		workspace = "unknown"
	}
	if model == "" {
		model = "unknown"
	}
	now := time.Now().Format(time.RFC3339)

	_, err := s.db.Exec(
		"INSERT INTO agents (id, platform, workspace, model, created_at) VALUES (?, ?, ?, ?, ?)",
		id, platform, workspace, model, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, apperr.Conflict("Agent %s already exists", id)
		}
		return nil, err
	}
	s.logger.Info("Agent born: %s (%s @ %s)", id, platform, workspace)
	return &Agent{
		ID: id, Parent: "Claude-Howell", Platform: platform,
		Workspace: workspace, Model: model, CreatedAt: now,
	}, nil
}

// EndAgent marks a session as ended with a summary. Ending twice is a
// no-op that reports not-found.
func (s *DB) EndAgent(id, summary string) error {
	res, err := s.db.Exec(
		"UPDATE agents SET ended_at = ?, end_summary = ? WHERE id = ? AND ended_at IS NULL",
		time.Now().Format(time.RFC3339), summary, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("Agent %s not found or already ended", id)
	}
	return nil
}

// GetAgent returns one agent record.
func (s *DB) GetAgent(id string) (*Agent, error) {
	row := s.db.QueryRow(
		"SELECT id, parent, platform, workspace, model, created_at, ended_at, end_summary FROM agents WHERE id = ?",
		id,
	)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Agent %s not found", id)
	}
	return a, err
}

// AgentFilter narrows ListAgents.
type AgentFilter struct {
	Workspace  string
	Limit      int
	OnlyActive bool
}

// ListAgents returns agents newest first.
func (s *DB) ListAgents(f AgentFilter) ([]*Agent, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	query := "SELECT id, parent, platform, workspace, model, created_at, ended_at, end_summary FROM agents"
	var conds []string
	var args []any
	if f.Workspace != "" {
		conds = append(conds, "workspace = ?")
		args = append(args, f.Workspace)
	}
	if f.OnlyActive {
		conds = append(conds, "ended_at IS NULL")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var endedAt, endSummary sql.NullString
	err := row.Scan(&a.ID, &a.Parent, &a.Platform, &a.Workspace, &a.Model,
		&a.CreatedAt, &endedAt, &endSummary)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		a.EndedAt = &endedAt.String
	}
	if endSummary.Valid {
		a.EndSummary = &endSummary.String
	}
	return &a, nil
}
