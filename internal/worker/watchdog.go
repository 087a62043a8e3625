// Package worker supervises the daemon's background loops. A panicking
// worker is logged and restarted after a short delay instead of taking
// the daemon down; the health table feeds /status.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"howell/internal/logging"
)

const restartDelay = 5 * time.Second

// Health is one worker's supervision record.
type Health struct {
	Alive     bool   `json:"alive"`
	Restarts  int    `json:"restarts"`
	LastError string `json:"last_error,omitempty"`
}

// Watchdog runs named workers and restarts them when they panic.
type Watchdog struct {
	logger logging.Logger
	delay  time.Duration

	mu      sync.Mutex
	workers map[string]*Health
	wg      sync.WaitGroup

	// OnRestart, when set, observes every restart by worker name.
	OnRestart func(name string)
}

// New returns an empty watchdog.
func New(logger logging.Logger) *Watchdog {
	return &Watchdog{
		logger:  logging.OrNop(logger),
		delay:   restartDelay,
		workers: make(map[string]*Health),
	}
}

// Go supervises fn under name until the context is cancelled. fn is
// expected to block; returning before cancellation counts as a crash and
// triggers a restart after the delay.
func (w *Watchdog) Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	w.mu.Lock()
	w.workers[name] = &Health{Alive: true}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for ctx.Err() == nil {
			err := w.runOnce(ctx, fn)
			if ctx.Err() != nil {
				break
			}

			w.mu.Lock()
			h := w.workers[name]
			h.Restarts++
			if err != nil {
				h.LastError = fmt.Sprintf("%s %v", time.Now().Format("15:04:05"), err)
				w.logger.Error("Worker %s crashed: %v (restarting in %s)", name, err, w.delay)
			} else {
				h.LastError = fmt.Sprintf("%s returned unexpectedly", time.Now().Format("15:04:05"))
				w.logger.Warn("Worker %s returned unexpectedly (restarting in %s)", name, w.delay)
			}
			w.mu.Unlock()
			if w.OnRestart != nil {
				w.OnRestart(name)
			}

			select {
			case <-ctx.Done():
			case <-time.After(w.delay):
			}
		}
		w.mu.Lock()
		w.workers[name].Alive = false
		w.mu.Unlock()
	}()
}

// runOnce executes fn, converting a panic into an error.
func (w *Watchdog) runOnce(ctx context.Context, fn func(ctx context.Context)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn(ctx)
	return nil
}

// Wait blocks until every supervised worker has exited.
func (w *Watchdog) Wait() {
	w.wg.Wait()
}

// Snapshot returns the per-worker health table.
func (w *Watchdog) Snapshot() map[string]Health {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string]Health, len(w.workers))
	for name, h := range w.workers {
		out[name] = *h
	}
	return out
}

// Healthy reports whether every worker is alive.
func (w *Watchdog) Healthy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, h := range w.workers {
		if !h.Alive {
			return false
		}
	}
	return true
}

// Summary is the one-line /status form: "ok" when nothing has ever
// crashed, otherwise the restart tally with the last error.
func (w *Watchdog) Summary() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	restarts := 0
	lastError := ""
	for _, h := range w.workers {
		restarts += h.Restarts
		if h.LastError != "" {
			lastError = h.LastError
		}
	}
	if restarts == 0 {
		return "ok"
	}
	return fmt.Sprintf("restarted %dx (last: %s)", restarts, lastError)
}
