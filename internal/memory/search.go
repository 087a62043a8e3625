package memory

import (
	"os"
	"path/filepath"
	"strings"
)

// SearchResults groups unified-search hits; empty categories are omitted
// from the JSON encoding.
type SearchResults struct {
	KnowledgeGraph []searchEntity `json:"knowledge_graph,omitempty"`
	RecentSessions []string       `json:"recent_sessions,omitempty"`
	Pinned         []string       `json:"pinned,omitempty"`
	Procedures     []string       `json:"procedures,omitempty"`
	Inbox          []string       `json:"inbox,omitempty"`
}

type searchEntity struct {
	Entity       string   `json:"entity"`
	Type         string   `json:"type"`
	Observations []string `json:"observations"`
}

// TotalHits counts matches across all categories.
func (r SearchResults) TotalHits() int {
	return len(r.KnowledgeGraph) + len(r.RecentSessions) + len(r.Pinned) +
		len(r.Procedures) + len(r.Inbox)
}

// Search runs the unified substring search across the graph, hot memory,
// pinned memories, procedures, and the inbox.
func (m *Manager) Search(query string, proceduresDir string, inbox *Inbox) SearchResults {
	q := strings.ToLower(query)
	var results SearchResults

	if m.graph != nil {
		g := m.graph.Load()
		for name, e := range g.Entities {
			if strings.Contains(strings.ToLower(name), q) ||
				strings.Contains(strings.ToLower(e.EntityType), q) {
				results.KnowledgeGraph = append(results.KnowledgeGraph, searchEntity{
					Entity: name, Type: e.EntityType, Observations: e.Observations,
				})
				continue
			}
			var matching []string
			for _, o := range e.Observations {
				if strings.Contains(strings.ToLower(o), q) {
					matching = append(matching, o)
				}
			}
			if len(matching) > 0 {
				results.KnowledgeGraph = append(results.KnowledgeGraph, searchEntity{
					Entity: name, Type: e.EntityType, Observations: matching,
				})
			}
		}
	}

	results.RecentSessions = matchSections(m.paths.RecentFile, sessionHeader, q)
	results.Pinned = matchSections(m.paths.PinnedFile, "## ", q)

	if proceduresDir != "" {
		entries, _ := os.ReadDir(proceduresDir)
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".md") || name == "README.md" {
				continue
			}
			stem := strings.TrimSuffix(name, ".md")
			data, err := os.ReadFile(filepath.Join(proceduresDir, name))
			if err != nil {
				continue
			}
			if strings.Contains(strings.ToLower(string(data)), q) ||
				strings.Contains(strings.ToLower(stem), q) {
				results.Procedures = append(results.Procedures, stem)
			}
		}
	}

	if inbox != nil {
		for _, item := range inbox.Items() {
			if strings.Contains(strings.ToLower(item.Content), q) {
				results.Inbox = append(results.Inbox, item.Filename)
			}
		}
	}

	return results
}

// matchSections returns the title of every marker-delimited section whose
// body contains the query.
func matchSections(path, marker, q string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	content := string(data)
	if !strings.Contains(strings.ToLower(content), q) {
		return nil
	}
	var titles []string
	for _, block := range strings.Split(content, marker)[1:] {
		if strings.Contains(strings.ToLower(block), q) {
			title := block
			if idx := strings.IndexByte(title, '\n'); idx >= 0 {
				title = title[:idx]
			}
			titles = append(titles, strings.TrimSpace(title))
		}
	}
	return titles
}
