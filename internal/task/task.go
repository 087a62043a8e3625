// Package task implements the multi-instance work queue. Tasks declare a
// scope (files, directories, tags); a worker can only claim a task whose
// scope does not overlap any claimed or in-progress task, and tasks with
// unmet dependencies stay blocked. Everything persists to one JSON file.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is a task lifecycle state.
//
//	pending -> claimed -> in-progress -> completed | failed
//
// fail and release reset the task to pending so another worker can try.
type Status string

const (
	StatusPending    Status = "pending"
	StatusClaimed    Status = "claimed"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Active reports whether the task is being worked right now.
func (s Status) Active() bool {
	return s == StatusClaimed || s == StatusInProgress
}

// priorityRank orders priorities for scheduling; unknown values sort as
// medium.
func priorityRank(priority string) int {
	switch priority {
	case "critical":
		return 0
	case "high":
		return 1
	case "medium":
		return 2
	case "low":
		return 3
	default:
		return 2
	}
}

// Scope declares what a task touches. Used for conflict isolation between
// concurrent workers.
type Scope struct {
	Files       []string `json:"files"`
	Directories []string `json:"directories"`
	Tags        []string `json:"tags"`
}

// Note is a progress note appended by the claiming worker.
type Note struct {
	Timestamp string `json:"timestamp"`
	Note      string `json:"note"`
}

// Task is one unit of work on the board.
type Task struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Project      string   `json:"project"`
	Scope        Scope    `json:"scope"`
	Priority     string   `json:"priority"`
	Status       Status   `json:"status"`
	Dependencies []string `json:"dependencies"`
	CreatedBy    string   `json:"created_by"`
	CreatedAt    string   `json:"created_at"`
	ClaimedBy    string   `json:"claimed_by,omitempty"`
	ClaimedAt    string   `json:"claimed_at,omitempty"`
	StartedAt    string   `json:"started_at,omitempty"`
	CompletedAt  string   `json:"completed_at,omitempty"`
	Result       string   `json:"result,omitempty"`
	Artifacts    []string `json:"artifacts"`
	Notes        []Note   `json:"notes"`
}

// CreateParams carries the caller-supplied fields for a new task.
type CreateParams struct {
	Title        string
	Description  string
	Project      string
	ScopeFiles   []string
	ScopeDirs    []string
	ScopeTags    []string
	Priority     string
	Dependencies []string
	CreatedBy    string
}

// newTask builds a pending task with a fresh id. IDs are date-prefixed so
// humans can read the board: 260826-a3f91b.
func newTask(p CreateParams) *Task {
	now := time.Now()
	if p.Priority == "" {
		p.Priority = "medium"
	}
	if p.CreatedBy == "" {
		p.CreatedBy = "ryan"
	}
	return &Task{
		ID:          now.Format("060102") + "-" + uuid.New().String()[:6],
		Title:       p.Title,
		Description: p.Description,
		Project:     p.Project,
		Scope: Scope{
			Files:       orEmpty(p.ScopeFiles),
			Directories: orEmpty(p.ScopeDirs),
			Tags:        orEmpty(p.ScopeTags),
		},
		Priority:     p.Priority,
		Status:       StatusPending,
		Dependencies: orEmpty(p.Dependencies),
		CreatedBy:    p.CreatedBy,
		CreatedAt:    now.Format(time.RFC3339),
		Artifacts:    []string{},
		Notes:        []Note{},
	}
}

func (t *Task) appendNote(note string) {
	t.Notes = append(t.Notes, Note{
		Timestamp: time.Now().Format(time.RFC3339),
		Note:      note,
	})
}

// resetToPending clears claim state so another worker can pick the task up.
func (t *Task) resetToPending() {
	t.Status = StatusPending
	t.ClaimedBy = ""
	t.ClaimedAt = ""
	t.StartedAt = ""
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (t *Task) String() string {
	return fmt.Sprintf("[%s] %s (%s, %s)", t.ID, t.Title, t.Priority, t.Status)
}
