// Package genqueue is the approval-gated image generation queue. Plans are
// submitted as pending, a human approves them, and the background processor
// executes approved plans against the ComfyUI API. One JSON file per plan
// so a human can read and edit the queue directly.
package genqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	apperr "howell/internal/errors"
	"howell/internal/logging"
)

// Plan statuses: pending -> approved -> running -> completed | failed.
const (
	PlanPending   = "pending"
	PlanApproved  = "approved"
	PlanRunning   = "running"
	PlanCompleted = "completed"
	PlanFailed    = "failed"
)

// Plan is one generation request.
type Plan struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Prompt      string `json:"prompt"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Steps       int    `json:"steps"`
	Seed        int64  `json:"seed,omitempty"`
	Series      string `json:"series"`
	Requester   string `json:"requester"`
	Created     string `json:"created"`
	ApprovedAt  string `json:"approved_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	OutputPath  string `json:"output_path,omitempty"`
	Error       string `json:"error,omitempty"`

	// File is the plan's filename within the queue dir, filled on listing.
	File string `json:"_file,omitempty"`
}

// Store is the on-disk plan queue.
type Store struct {
	mu     sync.Mutex
	dir    string
	logger logging.Logger
}

// NewStore returns a queue rooted at dir.
func NewStore(dir string, logger logging.Logger) *Store {
	return &Store{dir: dir, logger: logging.OrNop(logger)}
}

// SubmitParams are the caller-supplied plan fields.
type SubmitParams struct {
	Prompt    string
	Width     int
	Height    int
	Steps     int
	Seed      int64
	Series    string
	Requester string
}

// Submit writes a new pending plan and returns it.
func (s *Store) Submit(p SubmitParams) (*Plan, error) {
	if strings.TrimSpace(p.Prompt) == "" {
		return nil, apperr.Invalid("Missing prompt")
	}
	if p.Width <= 0 {
		p.Width = 1024
	}
	if p.Height <= 0 {
		p.Height = 1024
	}
	if p.Steps <= 0 {
		p.Steps = 25
	}
	if p.Requester == "" {
		p.Requester = "claude-howell"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	now := time.Now()
	plan := &Plan{
		ID:        s.nextIDLocked(),
		Status:    PlanPending,
		Prompt:    p.Prompt,
		Width:     p.Width,
		Height:    p.Height,
		Steps:     p.Steps,
		Seed:      p.Seed,
		Series:    p.Series,
		Requester: p.Requester,
		Created:   now.Format(time.RFC3339),
	}
	plan.File = fmt.Sprintf("%s_%s.json", plan.ID, now.Format("20060102_150405"))
	if err := s.saveLocked(plan); err != nil {
		return nil, err
	}
	s.logger.Info("Plan %s submitted: %.50s", plan.ID, p.Prompt)
	return plan, nil
}

// nextIDLocked returns the next sequential three-digit id by scanning the
// numeric prefixes already in the queue dir.
func (s *Store) nextIDLocked() string {
	max := 0
	entries, _ := os.ReadDir(s.dir)
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".json")
		prefix, _, _ := strings.Cut(stem, "_")
		n, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return fmt.Sprintf("%03d", max+1)
}

// List returns plans in id order, optionally filtered by status.
func (s *Store) List(status string) []*Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(status)
}

func (s *Store) listLocked(status string) []*Plan {
	entries, _ := os.ReadDir(s.dir)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var plans []*Plan
	for _, name := range names {
		plan, err := s.readLocked(name)
		if err != nil {
			continue // unreadable plans are skipped, not fatal
		}
		if status == "" || plan.Status == status {
			plans = append(plans, plan)
		}
	}
	return plans
}

func (s *Store) readLocked(filename string) (*Plan, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filename))
	if err != nil {
		return nil, err
	}
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, err
	}
	plan.File = filename
	return &plan, nil
}

func (s *Store) saveLocked(plan *Plan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, plan.File), data, 0o644)
}

// Approve moves a pending plan to approved.
func (s *Store) Approve(planID string) (*Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, plan := range s.listLocked("") {
		if plan.ID == planID && plan.Status == PlanPending {
			plan.Status = PlanApproved
			plan.ApprovedAt = time.Now().Format(time.RFC3339)
			if err := s.saveLocked(plan); err != nil {
				return nil, err
			}
			s.logger.Info("Plan %s approved", planID)
			return plan, nil
		}
	}
	return nil, apperr.NotFound("No pending plan with id %s", planID)
}

// ApproveAll approves every pending plan.
func (s *Store) ApproveAll() []*Plan {
	s.mu.Lock()
	defer s.mu.Unlock()

	var approved []*Plan
	for _, plan := range s.listLocked(PlanPending) {
		plan.Status = PlanApproved
		plan.ApprovedAt = time.Now().Format(time.RFC3339)
		if err := s.saveLocked(plan); err != nil {
			s.logger.Warn("Approve-all save failed for %s: %v", plan.ID, err)
			continue
		}
		approved = append(approved, plan)
	}
	return approved
}

// update persists a mutation on one plan, keyed by its filename.
func (s *Store) update(plan *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(plan)
}

// Summary is the one-line /status form.
func (s *Store) Summary() string {
	plans := s.List("")
	if len(plans) == 0 {
		return "Generation queue empty"
	}
	counts := map[string]int{}
	for _, p := range plans {
		counts[p.Status]++
	}
	var parts []string
	for _, status := range []string{PlanPending, PlanApproved, PlanRunning, PlanCompleted, PlanFailed} {
		if n := counts[status]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, status))
		}
	}
	return "Queue: " + strings.Join(parts, ", ")
}

// CountByStatus returns the queue breakdown.
func (s *Store) CountByStatus() (total int, byStatus map[string]int) {
	plans := s.List("")
	byStatus = map[string]int{}
	for _, p := range plans {
		byStatus[p.Status]++
	}
	return len(plans), byStatus
}
