package genqueue

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"howell/internal/logging"
)

const (
	executeTimeout  = 10 * time.Minute
	historyInterval = 2 * time.Second
)

// Processor executes approved plans against ComfyUI. It is the only writer
// that moves plans past approved.
type Processor struct {
	store    *Store
	client   *Client
	interval time.Duration
	logger   logging.Logger

	mu            sync.Mutex
	pollCount     int
	lastPoll      string
	totalExecuted int
	totalFailed   int
}

// NewProcessor wires the queue processor.
func NewProcessor(store *Store, client *Client, interval time.Duration, logger logging.Logger) *Processor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Processor{
		store:    store,
		client:   client,
		interval: interval,
		logger:   logging.OrNop(logger),
	}
}

// Run polls for approved plans until the context is cancelled.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep executes every currently approved plan, one at a time. The GPU is
// a single shared resource; parallel renders just thrash it.
func (p *Processor) Sweep(ctx context.Context) {
	p.mu.Lock()
	p.pollCount++
	p.lastPoll = time.Now().Format(time.RFC3339)
	p.mu.Unlock()

	for _, plan := range p.store.List(PlanApproved) {
		if ctx.Err() != nil {
			return
		}
		p.logger.Info("🎨 Executing plan %s: %.50s", plan.ID, plan.Prompt)

		plan.Status = PlanRunning
		if err := p.store.update(plan); err != nil {
			p.logger.Error("Plan %s status write failed: %v", plan.ID, err)
			continue
		}

		if err := p.execute(ctx, plan); err != nil {
			plan.Status = PlanFailed
			plan.Error = err.Error()
			plan.CompletedAt = time.Now().Format(time.RFC3339)
			_ = p.store.update(plan)
			p.countFailure()
			p.logger.Error("Plan %s failed: %v", plan.ID, err)
			continue
		}
		p.countSuccess()
		p.logger.Info("Plan %s done -> %s", plan.ID, plan.OutputPath)
	}
}

// execute runs one plan to completion or timeout, updating it in place.
func (p *Processor) execute(ctx context.Context, plan *Plan) error {
	seed := plan.Seed
	if seed == 0 {
		seed = rand.Int63n(1<<32-1) + 1
	}

	workflow := buildWorkflow(plan.Prompt, plan.Width, plan.Height, plan.Steps, seed, plan.ID)
	promptID, err := p.client.QueuePrompt(ctx, workflow)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(executeTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(historyInterval):
		}
		outputPath, done, err := p.client.OutputPath(ctx, promptID)
		if err != nil {
			continue // transient poll errors just retry until the deadline
		}
		if done {
			plan.Status = PlanCompleted
			plan.CompletedAt = time.Now().Format(time.RFC3339)
			plan.OutputPath = outputPath
			plan.Seed = seed
			return p.store.update(plan)
		}
	}
	return errTimeout
}

type timeoutError struct{}

func (timeoutError) Error() string { return "Timeout waiting for ComfyUI (10 min)" }

var errTimeout = timeoutError{}

func (p *Processor) countSuccess() {
	p.mu.Lock()
	p.totalExecuted++
	p.mu.Unlock()
}

func (p *Processor) countFailure() {
	p.mu.Lock()
	p.totalFailed++
	p.mu.Unlock()
}

// Stats is the live queue state for /stats.
type Stats struct {
	TotalPlans    int            `json:"total_plans"`
	ByStatus      map[string]int `json:"by_status"`
	PollCount     int            `json:"poll_count"`
	LastPoll      string         `json:"last_poll,omitempty"`
	TotalExecuted int            `json:"total_executed"`
	TotalFailed   int            `json:"total_failed"`
	ComfyUIAlive  bool           `json:"comfyui_alive"`
	ComfyUIURL    string         `json:"comfyui_url"`
}

// Stats returns queue counters plus a ComfyUI liveness probe.
func (p *Processor) Stats() Stats {
	total, byStatus := p.store.CountByStatus()

	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		TotalPlans:    total,
		ByStatus:      byStatus,
		PollCount:     p.pollCount,
		LastPoll:      p.lastPoll,
		TotalExecuted: p.totalExecuted,
		TotalFailed:   p.totalFailed,
		ComfyUIAlive:  p.client.Alive(),
		ComfyUIURL:    p.client.URL(),
	}
}
