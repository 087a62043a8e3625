package stratigraphy

import (
	"fmt"
	"strings"
)

// AgentContext returns the last few agents for a workspace enriched with
// their important notes (learned, decision, warning, blocker). This is the
// institutional memory for a workspace; observations are left out.
func (s *DB) AgentContext(workspace string, limit int) ([]*Agent, error) {
	if limit <= 0 {
		limit = 5
	}
	agents, err := s.ListAgents(AgentFilter{Workspace: workspace, Limit: limit})
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		rows, err := s.db.Query(
			`SELECT id, agent_id, category, content, tags, created_at FROM notes
			 WHERE agent_id = ? AND category IN ('learned', 'decision', 'warning', 'blocker')
			 ORDER BY created_at DESC LIMIT 10`,
			a.ID,
		)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			n, err := scanNote(rows)
			if err != nil {
				_ = rows.Close()
				return nil, err
			}
			a.KeyNotes = append(a.KeyNotes, *n)
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return agents, nil
}

// Stats is the ledger breakdown for the dashboard.
type Stats struct {
	TotalAgents       int            `json:"total_agents"`
	ActiveAgents      int            `json:"active_agents"`
	TotalNotes        int            `json:"total_notes"`
	TotalHandoffs     int            `json:"total_handoffs"`
	UnclaimedHandoffs int            `json:"unclaimed_handoffs"`
	NoteCategories    map[string]int `json:"note_categories"`
	RecentAgents      []*Agent       `json:"recent_agents"`
}

// Stats counts everything the ledger holds.
func (s *DB) Stats() (*Stats, error) {
	st := &Stats{NoteCategories: map[string]int{}}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM agents", &st.TotalAgents},
		{"SELECT COUNT(*) FROM agents WHERE ended_at IS NULL", &st.ActiveAgents},
		{"SELECT COUNT(*) FROM notes", &st.TotalNotes},
		{"SELECT COUNT(*) FROM handoffs", &st.TotalHandoffs},
		{"SELECT COUNT(*) FROM handoffs WHERE claimed_by IS NULL", &st.UnclaimedHandoffs},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	rows, err := s.db.Query(
		"SELECT category, COUNT(*) FROM notes GROUP BY category ORDER BY COUNT(*) DESC")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			_ = rows.Close()
			return nil, err
		}
		st.NoteCategories[category] = count
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	st.RecentAgents, err = s.ListAgents(AgentFilter{Limit: 5})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Summary is the one-line bootstrap/status form of Stats.
func (s *DB) Summary() string {
	st, err := s.Stats()
	if err != nil {
		return "Stratigraphy: unavailable"
	}
	parts := []string{
		fmt.Sprintf("%d agents total", st.TotalAgents),
		fmt.Sprintf("%d active", st.ActiveAgents),
		fmt.Sprintf("%d notes", st.TotalNotes),
	}
	if st.UnclaimedHandoffs > 0 {
		parts = append(parts, fmt.Sprintf("%d unclaimed handoffs", st.UnclaimedHandoffs))
	}
	return "Stratigraphy: " + strings.Join(parts, ", ")
}

// ContextView is what a preview or bootstrap call returns.
type ContextView struct {
	UnclaimedHandoffs []*Handoff `json:"unclaimed_handoffs,omitempty"`
	HandoffsClaimed   []*Handoff `json:"handoffs_claimed,omitempty"`
	AgentHistory      []*Agent   `json:"agent_history"`
	Formatted         string     `json:"formatted"`
	Stats             *Stats     `json:"stats"`
}

// PreviewContext shows the unclaimed handoffs and recent history for a
// workspace without claiming anything.
func (s *DB) PreviewContext(workspace string) (*ContextView, error) {
	handoffs, err := s.UnclaimedHandoffs(workspace)
	if err != nil {
		return nil, err
	}
	history, err := s.AgentContext(workspace, 5)
	if err != nil {
		return nil, err
	}
	stats, err := s.Stats()
	if err != nil {
		return nil, err
	}
	return &ContextView{
		UnclaimedHandoffs: handoffs,
		AgentHistory:      history,
		Formatted:         formatContext(handoffs, history, workspace, false),
		Stats:             stats,
	}, nil
}

// BootstrapContext is everything a newly born agent needs: it claims the
// matching handoffs and returns them alongside workspace history. Only
// call with an agent id that exists in the ledger.
func (s *DB) BootstrapContext(workspace, agentID string) (*ContextView, error) {
	history, err := s.AgentContext(workspace, 5)
	if err != nil {
		return nil, err
	}
	claimed, err := s.ClaimAllHandoffs(workspace, agentID)
	if err != nil {
		return nil, err
	}
	stats, err := s.Stats()
	if err != nil {
		return nil, err
	}
	return &ContextView{
		HandoffsClaimed: claimed,
		AgentHistory:    history,
		Formatted:       formatContext(claimed, history, workspace, true),
		Stats:           stats,
	}, nil
}

func formatContext(handoffs []*Handoff, history []*Agent, workspace string, claimed bool) string {
	var lines []string

	if len(handoffs) > 0 {
		verb := "PENDING"
		if claimed {
			verb = "CLAIMED"
		}
		lines = append(lines, fmt.Sprintf("📨 %d HANDOFF(S) %s:", len(handoffs), verb))
		for _, h := range handoffs {
			icon := map[string]string{
				"critical": "🔴", "high": "🟠", "normal": "📝", "low": "📎",
			}[h.Priority]
			if icon == "" {
				icon = "📝"
			}
			lines = append(lines, fmt.Sprintf("  %s [%s] from %s:", icon, strings.ToUpper(h.Priority), h.FromAgent))
			lines = append(lines, "    "+h.Content)
		}
		lines = append(lines, "")
	}

	var withNotes []*Agent
	for _, a := range history {
		if len(a.KeyNotes) > 0 {
			withNotes = append(withNotes, a)
		}
	}
	if len(withNotes) > 0 {
		lines = append(lines, fmt.Sprintf("🧠 RECENT AGENT CONTEXT (%s):", workspace))
		if len(withNotes) > 3 {
			withNotes = withNotes[:3]
		}
		for _, a := range withNotes {
			status := "active"
			if a.EndedAt != nil {
				status = "ended"
			}
			lines = append(lines, fmt.Sprintf("  [%s] (%s, %s)", a.ID, a.Platform, status))
			notes := a.KeyNotes
			if len(notes) > 3 {
				notes = notes[:3]
			}
			for _, n := range notes {
				icon := map[string]string{
					"learned": "💡", "decision": "⚖️", "warning": "⚠️", "blocker": "🚫",
				}[n.Category]
				if icon == "" {
					icon = "•"
				}
				lines = append(lines, fmt.Sprintf("    %s [%s] %s", icon, n.Category, truncate(n.Content, 120)))
			}
		}
		lines = append(lines, "")
	}

	if len(lines) == 0 {
		return "No prior agent context for this workspace."
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
