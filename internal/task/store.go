package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	apperr "howell/internal/errors"
	"howell/internal/logging"
	"howell/internal/storage"
)

// Store is the on-disk task board. One mutex serializes every read-modify-
// write cycle; the file is small enough that reloading per operation is
// cheaper than getting cache invalidation right across daemon restarts.
type Store struct {
	mu         sync.Mutex
	path       string
	archiveDir string
	logger     logging.Logger
}

// NewStore returns a store persisting to path, archiving to archiveDir.
func NewStore(path, archiveDir string, logger logging.Logger) *Store {
	return &Store{path: path, archiveDir: archiveDir, logger: logging.OrNop(logger)}
}

func (s *Store) loadLocked() []*Task {
	var tasks []*Task
	err := storage.ReadWithBackup(s.path, func(data []byte) error {
		return json.Unmarshal(data, &tasks)
	})
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("Task board unreadable, starting empty: %v", err)
		}
		return nil
	}
	return tasks
}

func (s *Store) saveLocked(tasks []*Task) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return err
	}
	return storage.WriteAtomic(s.path, data)
}

// Create appends a new pending task and returns it.
func (s *Store) Create(p CreateParams) (*Task, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, apperr.Invalid("Missing title")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := newTask(p)
	tasks := append(s.loadLocked(), t)
	if err := s.saveLocked(tasks); err != nil {
		return nil, err
	}
	s.logger.Info("Task created: %s", t)
	return t, nil
}

// Get returns a task by id.
func (s *Store) Get(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.loadLocked() {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, apperr.NotFound("Task %s not found", id)
}

// ListFilter narrows List results; zero values match everything.
type ListFilter struct {
	Status    Status
	Project   string
	ClaimedBy string
	Tag       string
}

// List returns tasks matching the filter, in creation order.
func (s *Store) List(f ListFilter) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterTasks(s.loadLocked(), f)
}

func filterTasks(tasks []*Task, f ListFilter) []*Task {
	result := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Project != "" && t.Project != f.Project {
			continue
		}
		if f.ClaimedBy != "" && t.ClaimedBy != f.ClaimedBy {
			continue
		}
		if f.Tag != "" && !containsString(t.Scope.Tags, f.Tag) {
			continue
		}
		result = append(result, t)
	}
	return result
}

// Available returns the tasks claimable right now: pending, dependencies
// all completed, and scope disjoint from every active task. Sorted by
// priority, critical first.
func (s *Store) Available() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return availableOf(s.loadLocked())
}

func availableOf(tasks []*Task) []*Task {
	completed := completedIDs(tasks)
	var activeScopes []Scope
	for _, t := range tasks {
		if t.Status.Active() {
			activeScopes = append(activeScopes, t.Scope)
		}
	}

	var available []*Task
	for _, t := range tasks {
		if t.Status != StatusPending {
			continue
		}
		if !depsMet(t.Dependencies, completed) {
			continue
		}
		conflicted := false
		for _, sc := range activeScopes {
			if len(Overlaps(t.Scope, sc)) > 0 {
				conflicted = true
				break
			}
		}
		if conflicted {
			continue
		}
		available = append(available, t)
	}

	sort.SliceStable(available, func(i, j int) bool {
		return priorityRank(available[i].Priority) < priorityRank(available[j].Priority)
	})
	return available
}

func completedIDs(tasks []*Task) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, t := range tasks {
		if t.Status == StatusCompleted {
			ids[t.ID] = struct{}{}
		}
	}
	return ids
}

func depsMet(deps []string, completed map[string]struct{}) bool {
	for _, d := range deps {
		if _, ok := completed[d]; !ok {
			return false
		}
	}
	return true
}

// Claim moves a pending task to claimed for the given instance. Fails when
// the task is missing, not pending, or its scope overlaps active work.
func (s *Store) Claim(taskID, instanceID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := s.loadLocked()
	t := findTask(tasks, taskID)
	if t == nil {
		return nil, apperr.NotFound("Task %s not found", taskID)
	}
	if t.Status != StatusPending {
		return nil, apperr.Conflict("Task %s is %s, not pending", taskID, t.Status)
	}
	for _, other := range tasks {
		if other.ID == taskID || !other.Status.Active() {
			continue
		}
		if conflicts := Overlaps(t.Scope, other.Scope); len(conflicts) > 0 {
			return nil, apperr.Conflict("Scope conflict with %s: %s",
				other.ID, strings.Join(conflicts, ", "))
		}
	}

	t.Status = StatusClaimed
	t.ClaimedBy = instanceID
	t.ClaimedAt = time.Now().Format(time.RFC3339)
	if err := s.saveLocked(tasks); err != nil {
		return nil, err
	}
	s.logger.Info("Task %s claimed by %s", taskID, instanceID)
	return t, nil
}

// Start moves a claimed task to in-progress. Only the claimer may start it.
func (s *Store) Start(taskID, instanceID string) (*Task, error) {
	return s.transition(taskID, func(t *Task) error {
		if t.Status != StatusClaimed || t.ClaimedBy != instanceID {
			return apperr.Conflict("Task %s is not claimed by %s", taskID, instanceID)
		}
		t.Status = StatusInProgress
		t.StartedAt = time.Now().Format(time.RFC3339)
		return nil
	})
}

// Complete finishes a task with a result summary and optional artifacts.
func (s *Store) Complete(taskID, instanceID, result string, artifacts []string) (*Task, error) {
	return s.transition(taskID, func(t *Task) error {
		if t.ClaimedBy != instanceID {
			return apperr.Conflict("Task %s is not claimed by %s", taskID, instanceID)
		}
		t.Status = StatusCompleted
		t.CompletedAt = time.Now().Format(time.RFC3339)
		t.Result = result
		t.Artifacts = append(t.Artifacts, artifacts...)
		return nil
	})
}

// Fail records the failure and returns the task to pending so another
// worker can try.
func (s *Store) Fail(taskID, instanceID, reason string) (*Task, error) {
	return s.transition(taskID, func(t *Task) error {
		if t.ClaimedBy != instanceID {
			return apperr.Conflict("Task %s is not claimed by %s", taskID, instanceID)
		}
		t.appendNote(fmt.Sprintf("FAILED by %s: %s", instanceID, reason))
		t.resetToPending()
		return nil
	})
}

// Release returns a claimed or in-progress task to pending, e.g. when the
// worker's session is ending before completion.
func (s *Store) Release(taskID, instanceID string) (*Task, error) {
	return s.transition(taskID, func(t *Task) error {
		if t.ClaimedBy != instanceID || !t.Status.Active() {
			return apperr.Conflict("Task %s is not active under %s", taskID, instanceID)
		}
		t.appendNote(fmt.Sprintf("Released by %s (session ending)", instanceID))
		t.resetToPending()
		return nil
	})
}

// AddNote appends a progress note. Only the claimer may add notes.
func (s *Store) AddNote(taskID, instanceID, note string) (*Task, error) {
	return s.transition(taskID, func(t *Task) error {
		if t.ClaimedBy != instanceID {
			return apperr.Conflict("Task %s is not claimed by %s", taskID, instanceID)
		}
		t.appendNote(note)
		return nil
	})
}

// UpdateFields patches editable fields on a pending task. Claimed and
// in-progress tasks cannot be edited out from under their worker.
type UpdateFields struct {
	Title        *string
	Description  *string
	Project      *string
	Priority     *string
	Scope        *Scope
	Dependencies *[]string
}

// Update applies field updates to a pending task.
func (s *Store) Update(taskID string, f UpdateFields) (*Task, error) {
	return s.transition(taskID, func(t *Task) error {
		if t.Status != StatusPending {
			return apperr.Conflict("Task %s is %s and cannot be edited", taskID, t.Status)
		}
		if f.Title != nil {
			t.Title = *f.Title
		}
		if f.Description != nil {
			t.Description = *f.Description
		}
		if f.Project != nil {
			t.Project = *f.Project
		}
		if f.Priority != nil {
			t.Priority = *f.Priority
		}
		if f.Scope != nil {
			t.Scope = Scope{
				Files:       orEmpty(f.Scope.Files),
				Directories: orEmpty(f.Scope.Directories),
				Tags:        orEmpty(f.Scope.Tags),
			}
		}
		if f.Dependencies != nil {
			t.Dependencies = orEmpty(*f.Dependencies)
		}
		return nil
	})
}

// transition runs a guarded mutation on one task and persists the board.
func (s *Store) transition(taskID string, mutate func(*Task) error) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := s.loadLocked()
	t := findTask(tasks, taskID)
	if t == nil {
		return nil, apperr.NotFound("Task %s not found", taskID)
	}
	if err := mutate(t); err != nil {
		return nil, err
	}
	if err := s.saveLocked(tasks); err != nil {
		return nil, err
	}
	return t, nil
}

// Delete removes a task. Active tasks cannot be deleted.
func (s *Store) Delete(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := s.loadLocked()
	keep := tasks[:0]
	deleted := false
	for _, t := range tasks {
		if t.ID == taskID && !t.Status.Active() {
			deleted = true
			continue
		}
		keep = append(keep, t)
	}
	if !deleted {
		return apperr.NotFound("Task %s not found or still active", taskID)
	}
	return s.saveLocked(keep)
}

// ReleaseAllForInstance returns every task the instance holds to pending.
// Called when an instance deregisters or expires.
func (s *Store) ReleaseAllForInstance(instanceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := s.loadLocked()
	released := 0
	for _, t := range tasks {
		if t.ClaimedBy == instanceID && t.Status.Active() {
			t.appendNote(fmt.Sprintf("Auto-released: instance %s disconnected", instanceID))
			t.resetToPending()
			released++
		}
	}
	if released > 0 {
		if err := s.saveLocked(tasks); err != nil {
			s.logger.Error("Release-all save failed: %v", err)
			return 0
		}
		s.logger.Info("Released %d task(s) held by %s", released, instanceID)
	}
	return released
}

// ArchiveCompleted moves completed and failed tasks older than daysOld off
// the board into per-task archive files. Returns the archived count.
func (s *Store) ArchiveCompleted(daysOld int) int {
	cutoff := time.Now().Add(-time.Duration(daysOld) * 24 * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := s.loadLocked()
	keep := tasks[:0]
	archived := 0
	for _, t := range tasks {
		if (t.Status == StatusCompleted || t.Status == StatusFailed) && t.CompletedAt != "" {
			done, err := time.Parse(time.RFC3339, t.CompletedAt)
			if err == nil && done.Before(cutoff) {
				if s.archiveTask(t) {
					archived++
					continue
				}
			}
		}
		keep = append(keep, t)
	}
	if archived > 0 {
		if err := s.saveLocked(keep); err != nil {
			s.logger.Error("Archive save failed: %v", err)
			return 0
		}
	}
	return archived
}

func (s *Store) archiveTask(t *Task) bool {
	if err := os.MkdirAll(s.archiveDir, 0o755); err != nil {
		s.logger.Warn("Archive dir create failed: %v", err)
		return false
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return false
	}
	path := filepath.Join(s.archiveDir, t.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Warn("Archive write failed for %s: %v", t.ID, err)
		return false
	}
	return true
}

func findTask(tasks []*Task, id string) *Task {
	for _, t := range tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
