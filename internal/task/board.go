package task

import (
	"fmt"
	"strings"
)

// BoardEntry is one card on the worker board.
type BoardEntry struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Project      string   `json:"project"`
	Priority     string   `json:"priority"`
	ClaimedBy    string   `json:"claimed_by,omitempty"`
	ScopeTags    []string `json:"scope_tags"`
	Blocked      bool     `json:"blocked,omitempty"`
	BlockingDeps []string `json:"blocking_deps,omitempty"`
	ClaimedAt    string   `json:"claimed_at,omitempty"`
	StartedAt    string   `json:"started_at,omitempty"`
	NotesCount   int      `json:"notes_count,omitempty"`
	LatestNote   string   `json:"latest_note,omitempty"`
	Status       Status   `json:"status,omitempty"`
	CompletedAt  string   `json:"completed_at,omitempty"`
	Result       string   `json:"result,omitempty"`
}

// Board groups every task by lifecycle column. Completed and failed tasks
// share the completed column, distinguished by Status.
type Board struct {
	Pending    []BoardEntry `json:"pending"`
	Claimed    []BoardEntry `json:"claimed"`
	InProgress []BoardEntry `json:"in_progress"`
	Completed  []BoardEntry `json:"completed"`
}

// Board returns the full who-is-doing-what view.
func (s *Store) Board() Board {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := s.loadLocked()
	completed := completedIDs(tasks)

	board := Board{
		Pending:    []BoardEntry{},
		Claimed:    []BoardEntry{},
		InProgress: []BoardEntry{},
		Completed:  []BoardEntry{},
	}
	for _, t := range tasks {
		entry := BoardEntry{
			ID:        t.ID,
			Title:     t.Title,
			Project:   t.Project,
			Priority:  t.Priority,
			ClaimedBy: t.ClaimedBy,
			ScopeTags: t.Scope.Tags,
		}
		switch t.Status {
		case StatusPending:
			if !depsMet(t.Dependencies, completed) {
				entry.Blocked = true
				for _, d := range t.Dependencies {
					if _, ok := completed[d]; !ok {
						entry.BlockingDeps = append(entry.BlockingDeps, d)
					}
				}
			}
			board.Pending = append(board.Pending, entry)
		case StatusClaimed:
			entry.ClaimedAt = t.ClaimedAt
			board.Claimed = append(board.Claimed, entry)
		case StatusInProgress:
			entry.StartedAt = t.StartedAt
			entry.NotesCount = len(t.Notes)
			if len(t.Notes) > 0 {
				entry.LatestNote = t.Notes[len(t.Notes)-1].Note
			}
			board.InProgress = append(board.InProgress, entry)
		case StatusCompleted, StatusFailed:
			entry.Status = t.Status
			entry.CompletedAt = t.CompletedAt
			entry.Result = t.Result
			board.Completed = append(board.Completed, entry)
		}
	}
	return board
}

// Stats counts tasks per status for the dashboard.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Claimed    int `json:"claimed"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Stats returns queue counts.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return statsOf(s.loadLocked())
}

func statsOf(tasks []*Task) Stats {
	st := Stats{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case StatusPending:
			st.Pending++
		case StatusClaimed:
			st.Claimed++
		case StatusInProgress:
			st.InProgress++
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		}
	}
	return st
}

// Summary is a one-line overview, e.g. "Tasks: 3 pending, 1 in-progress".
func (s *Store) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return summaryOf(s.loadLocked())
}

func summaryOf(tasks []*Task) string {
	if len(tasks) == 0 {
		return "Task queue empty"
	}
	counts := map[Status]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}
	var parts []string
	for _, st := range []Status{StatusPending, StatusClaimed, StatusInProgress, StatusCompleted, StatusFailed} {
		if n := counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}
	return "Tasks: " + strings.Join(parts, ", ")
}

// BootstrapTask is the compact task shape embedded in the bootstrap
// composite.
type BootstrapTask struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Project   string   `json:"project"`
	Priority  string   `json:"priority,omitempty"`
	ClaimedBy string   `json:"claimed_by,omitempty"`
	Tags      []string `json:"tags"`
}

// BootstrapView is what a freshly woken worker sees: what it could claim,
// what others are working, and a one-line summary.
type BootstrapView struct {
	Available  []BootstrapTask `json:"available"`
	InProgress []BootstrapTask `json:"in_progress"`
	Summary    string          `json:"summary"`
}

// Bootstrap returns the worker's wake-up view of the board.
func (s *Store) Bootstrap() BootstrapView {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := s.loadLocked()
	view := BootstrapView{
		Available:  []BootstrapTask{},
		InProgress: []BootstrapTask{},
		Summary:    summaryOf(tasks),
	}
	for _, t := range availableOf(tasks) {
		view.Available = append(view.Available, BootstrapTask{
			ID: t.ID, Title: t.Title, Project: t.Project,
			Priority: t.Priority, Tags: t.Scope.Tags,
		})
	}
	for _, t := range tasks {
		if t.Status.Active() {
			view.InProgress = append(view.InProgress, BootstrapTask{
				ID: t.ID, Title: t.Title, Project: t.Project,
				ClaimedBy: t.ClaimedBy, Tags: t.Scope.Tags,
			})
		}
	}
	return view
}
