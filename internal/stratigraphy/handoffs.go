package stratigraphy

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	apperr "howell/internal/errors"
)

// Handoff is a message relayed from a dying agent to whichever agent next
// works a matching scope. Claiming is first-wins.
type Handoff struct {
	ID            int64   `json:"id"`
	FromAgent     string  `json:"from_agent"`
	ToScope       string  `json:"to_scope"`
	Content       string  `json:"content"`
	Priority      string  `json:"priority"`
	ClaimedBy     *string `json:"claimed_by"`
	CreatedAt     string  `json:"created_at"`
	ClaimedAt     *string `json:"claimed_at"`
	FromWorkspace string  `json:"from_workspace,omitempty"`
	FromPlatform  string  `json:"from_platform,omitempty"`
}

var handoffPriorities = map[string]struct{}{
	"low": {}, "normal": {}, "high": {}, "critical": {},
}

// CreateHandoff leaves a message for the next agent on a scope. to_scope
// is a workspace name, "*" for all, or a specific agent id. Unknown
// priorities coerce to normal rather than failing the relay.
func (s *DB) CreateHandoff(fromAgent, toScope, content, priority string) (*Handoff, error) {
	if _, ok := handoffPriorities[priority]; !ok {
		priority = "normal"
	}
	now := time.Now().Format(time.RFC3339)

	res, err := s.db.Exec(
		"INSERT INTO handoffs (from_agent, to_scope, content, priority, created_at) VALUES (?, ?, ?, ?, ?)",
		fromAgent, toScope, content, priority, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint") {
			return nil, apperr.NotFound("Agent %s not found", fromAgent)
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Handoff{
		ID: id, FromAgent: fromAgent, ToScope: toScope,
		Content: content, Priority: priority, CreatedAt: now,
	}, nil
}

// UnclaimedHandoffs returns unclaimed handoffs matching a scope: exact,
// wildcard "*", or the stored scope as a substring of the query. Ordered
// by priority then age.
func (s *DB) UnclaimedHandoffs(scope string) ([]*Handoff, error) {
	rows, err := s.db.Query(
		`SELECT h.id, h.from_agent, h.to_scope, h.content, h.priority,
		        h.claimed_by, h.created_at, h.claimed_at,
		        a.workspace, a.platform
		 FROM handoffs h
		 LEFT JOIN agents a ON h.from_agent = a.id
		 WHERE h.claimed_by IS NULL
		   AND (h.to_scope = ? OR h.to_scope = '*' OR ? LIKE '%' || h.to_scope || '%')
		 ORDER BY
		   CASE h.priority
		     WHEN 'critical' THEN 0
		     WHEN 'high' THEN 1
		     WHEN 'normal' THEN 2
		     WHEN 'low' THEN 3
		   END,
		   h.created_at ASC`,
		scope, scope,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var handoffs []*Handoff
	for rows.Next() {
		var h Handoff
		var claimedBy, claimedAt, fromWorkspace, fromPlatform sql.NullString
		err := rows.Scan(&h.ID, &h.FromAgent, &h.ToScope, &h.Content, &h.Priority,
			&claimedBy, &h.CreatedAt, &claimedAt, &fromWorkspace, &fromPlatform)
		if err != nil {
			return nil, err
		}
		if claimedBy.Valid {
			h.ClaimedBy = &claimedBy.String
		}
		if claimedAt.Valid {
			h.ClaimedAt = &claimedAt.String
		}
		h.FromWorkspace = fromWorkspace.String
		h.FromPlatform = fromPlatform.String
		handoffs = append(handoffs, &h)
	}
	return handoffs, rows.Err()
}

// ClaimHandoff atomically claims a handoff for an agent. The compare-and-
// set on claimed_by IS NULL guarantees exactly one claimer under races.
func (s *DB) ClaimHandoff(handoffID int64, agentID string) (*Handoff, error) {
	res, err := s.db.Exec(
		"UPDATE handoffs SET claimed_by = ?, claimed_at = ? WHERE id = ? AND claimed_by IS NULL",
		agentID, time.Now().Format(time.RFC3339), handoffID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint") {
			return nil, apperr.NotFound("Agent %s not found", agentID)
		}
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, apperr.Conflict("Handoff %d already claimed", handoffID)
	}
	return s.getHandoff(handoffID)
}

// ClaimAllHandoffs claims every unclaimed handoff matching a scope and
// returns the ones this agent won.
func (s *DB) ClaimAllHandoffs(scope, agentID string) ([]*Handoff, error) {
	unclaimed, err := s.UnclaimedHandoffs(scope)
	if err != nil {
		return nil, err
	}
	var claimed []*Handoff
	for _, h := range unclaimed {
		got, err := s.ClaimHandoff(h.ID, agentID)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindConflict {
				continue // lost the race, fine
			}
			return nil, err
		}
		claimed = append(claimed, got)
	}
	return claimed, nil
}

// HandoffHistory returns handoffs including claimed ones, newest first.
func (s *DB) HandoffHistory(scope, fromAgent string, limit int) ([]*Handoff, error) {
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT id, from_agent, to_scope, content, priority, claimed_by, created_at, claimed_at FROM handoffs"
	var conds []string
	var args []any
	if scope != "" {
		conds = append(conds, "(to_scope = ? OR to_scope = '*')")
		args = append(args, scope)
	}
	if fromAgent != "" {
		conds = append(conds, "from_agent = ?")
		args = append(args, fromAgent)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var handoffs []*Handoff
	for rows.Next() {
		h, err := scanHandoff(rows)
		if err != nil {
			return nil, err
		}
		handoffs = append(handoffs, h)
	}
	return handoffs, rows.Err()
}

// ReleaseStaleClaims unclaims handoffs held by agents no longer in the
// live set, once the claim is older than maxAge. Run from the watchdog
// heartbeat cycle.
func (s *DB) ReleaseStaleClaims(activeAgentIDs []string, maxAge time.Duration) (int, error) {
	active := make(map[string]struct{}, len(activeAgentIDs))
	for _, id := range activeAgentIDs {
		active[id] = struct{}{}
	}

	rows, err := s.db.Query(
		"SELECT id, claimed_by, claimed_at FROM handoffs WHERE claimed_by IS NOT NULL")
	if err != nil {
		return 0, err
	}
	type stale struct{ id int64 }
	var toRelease []stale
	cutoff := time.Now().Add(-maxAge)
	for rows.Next() {
		var id int64
		var claimedBy string
		var claimedAt sql.NullString
		if err := rows.Scan(&id, &claimedBy, &claimedAt); err != nil {
			_ = rows.Close()
			return 0, err
		}
		if _, alive := active[claimedBy]; alive {
			continue
		}
		ts, err := time.Parse(time.RFC3339, claimedAt.String)
		if err != nil || ts.After(cutoff) {
			continue
		}
		toRelease = append(toRelease, stale{id})
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, h := range toRelease {
		if _, err := s.db.Exec(
			"UPDATE handoffs SET claimed_by = NULL, claimed_at = NULL WHERE id = ?", h.id); err != nil {
			return 0, err
		}
	}
	if n := len(toRelease); n > 0 {
		s.logger.Info("Released %d stale handoff claim(s)", n)
	}
	return len(toRelease), nil
}

func (s *DB) getHandoff(id int64) (*Handoff, error) {
	row := s.db.QueryRow(
		"SELECT id, from_agent, to_scope, content, priority, claimed_by, created_at, claimed_at FROM handoffs WHERE id = ?",
		id,
	)
	h, err := scanHandoff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Handoff %d not found", id)
	}
	return h, err
}

func scanHandoff(row rowScanner) (*Handoff, error) {
	var h Handoff
	var claimedBy, claimedAt sql.NullString
	err := row.Scan(&h.ID, &h.FromAgent, &h.ToScope, &h.Content, &h.Priority,
		&claimedBy, &h.CreatedAt, &claimedAt)
	if err != nil {
		return nil, err
	}
	if claimedBy.Valid {
		h.ClaimedBy = &claimedBy.String
	}
	if claimedAt.Valid {
		h.ClaimedAt = &claimedAt.String
	}
	return &h, nil
}
