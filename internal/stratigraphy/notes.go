package stratigraphy

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	apperr "howell/internal/errors"
)

// Note is one recorded observation from an agent session.
type Note struct {
	ID        int64    `json:"id"`
	AgentID   string   `json:"agent_id"`
	Category  string   `json:"category"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"created_at"`
}

var noteCategories = map[string]struct{}{
	"learned": {}, "decision": {}, "blocker": {},
	"warning": {}, "context": {}, "observation": {},
}

// AddNote records a note under a valid category.
func (s *DB) AddNote(agentID, category, content string, tags []string) (*Note, error) {
	if _, ok := noteCategories[category]; !ok {
		return nil, apperr.Invalid(
			"Invalid category '%s'. Must be one of: learned, decision, blocker, warning, context, observation",
			category)
	}

	now := time.Now().Format(time.RFC3339)
	var tagsJSON any
	if len(tags) > 0 {
		data, err := json.Marshal(tags)
		if err != nil {
			return nil, err
		}
		tagsJSON = string(data)
	}

	res, err := s.db.Exec(
		"INSERT INTO notes (agent_id, category, content, tags, created_at) VALUES (?, ?, ?, ?, ?)",
		agentID, category, content, tagsJSON, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint") {
			return nil, apperr.NotFound("Agent %s not found", agentID)
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}
	return &Note{
		ID: id, AgentID: agentID, Category: category,
		Content: content, Tags: tags, CreatedAt: now,
	}, nil
}

// NoteFilter narrows Notes. Tag filtering matches the JSON-encoded tag
// exactly, quoted, so "art" never matches "artifact".
type NoteFilter struct {
	AgentID  string
	Category string
	Tag      string
	Limit    int
}

// Notes returns notes newest first.
func (s *DB) Notes(f NoteFilter) ([]*Note, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := "SELECT id, agent_id, category, content, tags, created_at FROM notes"
	var conds []string
	var args []any
	if f.AgentID != "" {
		conds = append(conds, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.Tag != "" {
		conds = append(conds, "tags LIKE ?")
		args = append(args, `%"`+f.Tag+`"%`)
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

	var notes []*Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func scanNote(row rowScanner) (*Note, error) {
	var n Note
	var tags sql.NullString
	if err := row.Scan(&n.ID, &n.AgentID, &n.Category, &n.Content, &tags, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Tags = []string{}
	if tags.Valid && tags.String != "" {
		_ = json.Unmarshal([]byte(tags.String), &n.Tags)
	}
	return &n, nil
}
