package memory

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// HeartbeatReport is the read-only integrity audit run at startup and every
// few hours by the background worker.
type HeartbeatReport struct {
	Timestamp string   `json:"timestamp"`
	Entities  int      `json:"entities"`
	Relations int      `json:"relations"`
	Evicted   int      `json:"evicted"`
	Issues    []string `json:"issues,omitempty"`
	Stale     []string `json:"stale,omitempty"`
	Text      string   `json:"text"`
}

// Heartbeat audits the identity files and the knowledge graph, runs RECENT
// eviction, and returns a formatted report. It never fails.
func (m *Manager) Heartbeat() HeartbeatReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	report := HeartbeatReport{Timestamp: now.Format(time.RFC3339)}

	for name, path := range m.paths.Identity {
		if _, err := os.Stat(path); err != nil {
			report.Issues = append(report.Issues, fmt.Sprintf("missing identity file: %s (%s)", name, path))
		}
	}

	if m.graph != nil {
		g := m.graph.Load()
		report.Entities = len(g.Entities)
		report.Relations = len(g.Relations)
		for _, r := range g.Relations {
			if _, ok := g.Entities[r.From]; !ok {
				report.Issues = append(report.Issues, fmt.Sprintf("dangling relation from '%s'", r.From))
			}
			if _, ok := g.Entities[r.To]; !ok {
				report.Issues = append(report.Issues, fmt.Sprintf("dangling relation to '%s'", r.To))
			}
		}
	}

	report.Stale = m.staleness(now)

	evictedBefore := countSessions(m.paths.RecentFile)
	m.evictRecentLocked(now)
	if after := countSessions(m.paths.RecentFile); evictedBefore > after {
		report.Evicted = evictedBefore - after
	}

	report.Text = report.format()
	return report
}

func (m *Manager) staleness(now time.Time) []string {
	var stale []string
	checks := map[string]string{
		"RECENT.md":  m.paths.RecentFile,
		"SUMMARY.md": m.paths.SummaryFile,
		"PINNED.md":  m.paths.PinnedFile,
	}
	for name, path := range checks {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		age := now.Sub(info.ModTime())
		switch {
		case age >= 7*24*time.Hour:
			stale = append(stale, fmt.Sprintf("%s untouched for %dd", name, int(age.Hours()/24)))
		case age >= 3*24*time.Hour:
			stale = append(stale, fmt.Sprintf("%s quiet for %dd", name, int(age.Hours()/24)))
		}
	}
	return stale
}

func (r HeartbeatReport) format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "HEARTBEAT %s\n", r.Timestamp)
	fmt.Fprintf(&b, "Knowledge graph: %d entities, %d relations\n", r.Entities, r.Relations)
	if r.Evicted > 0 {
		fmt.Fprintf(&b, "Evicted %d session(s) to archive\n", r.Evicted)
	}
	if len(r.Issues) == 0 {
		b.WriteString("Integrity: OK\n")
	} else {
		b.WriteString("Integrity issues:\n")
		for _, issue := range r.Issues {
			fmt.Fprintf(&b, "  - %s\n", issue)
		}
	}
	for _, s := range r.Stale {
		fmt.Fprintf(&b, "  ~ %s\n", s)
	}
	return b.String()
}

func countSessions(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return strings.Count(string(data), sessionHeader)
}
