// Package registry tracks which agent instances are alive right now.
// Instances register at bootstrap, heartbeat periodically, and deregister
// at session end; anything silent for ten minutes is purged. The permanent
// record of who has ever existed lives in the stratigraphy ledger.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"howell/internal/logging"
)

// ExpirySeconds is how long an instance survives without a heartbeat.
const ExpirySeconds = 600

// Instance is one live session record.
type Instance struct {
	ID             string   `json:"id"`
	Workspace      string   `json:"workspace"`
	Platform       string   `json:"platform"`
	Status         string   `json:"status"`
	Activity       string   `json:"activity"`
	ActiveFiles    []string `json:"active_files"`
	RegisteredAt   string   `json:"registered_at"`
	LastHeartbeat  string   `json:"last_heartbeat"`
	HeartbeatCount int      `json:"heartbeat_count"`
	AgeSeconds     int      `json:"age_seconds"`

	lastBeat time.Time
}

// Conflict reports a file being edited by another live instance.
type Conflict struct {
	File       string `json:"file"`
	InstanceID string `json:"instance_id"`
	Workspace  string `json:"workspace"`
	Platform   string `json:"platform"`
	Activity   string `json:"activity"`
}

// Registry is the in-memory live-instance table. Expiry is lazy: expired
// records are purged at the top of each mutating or listing call rather
// than by a timer.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*Instance
	logger    logging.Logger
	now       func() time.Time

	// OnExpire runs outside the lock for each purged instance, so the
	// task board can release whatever the dead instance held.
	OnExpire func(instanceID string)
}

// New returns an empty registry.
func New(logger logging.Logger) *Registry {
	return &Registry{
		instances: make(map[string]*Instance),
		logger:    logging.OrNop(logger),
		now:       time.Now,
	}
}

// Register adds a new instance and returns its record.
func (r *Registry) Register(workspace, platform, status string) *Instance {
	if workspace == "" {
		workspace = "unknown"
	}
	if platform == "" {
		platform = "unknown"
	}
	if status == "" {
		status = "bootstrapping"
	}
	now := r.now()
	inst := &Instance{
		ID:            strings.ReplaceAll(uuid.New().String(), "-", "")[:8],
		Workspace:     workspace,
		Platform:      platform,
		Status:        status,
		ActiveFiles:   []string{},
		RegisteredAt:  now.Format(time.RFC3339),
		LastHeartbeat: now.Format(time.RFC3339),
		lastBeat:      now,
	}

	r.mu.Lock()
	expired := r.purgeLocked()
	r.instances[inst.ID] = inst
	r.mu.Unlock()
	r.notifyExpired(expired)

	r.logger.Info("Instance registered: %s (%s @ %s)", inst.ID, platform, workspace)
	return snapshot(inst, now)
}

// Heartbeat bumps an instance's liveness, optionally updating status.
// Returns nil when the instance is unknown or already expired.
func (r *Registry) Heartbeat(instanceID, status string) *Instance {
	r.mu.Lock()
	expired := r.purgeLocked()
	inst, ok := r.instances[instanceID]
	if ok {
		now := r.now()
		inst.LastHeartbeat = now.Format(time.RFC3339)
		inst.lastBeat = now
		inst.HeartbeatCount++
		if status != "" {
			inst.Status = status
		}
		inst = snapshot(inst, now)
	} else {
		inst = nil
	}
	r.mu.Unlock()
	r.notifyExpired(expired)
	return inst
}

// UpdateStatus is the lightweight broadcast path: status, activity, and
// the working file set change without bumping the heartbeat, so frequent
// updates cannot keep a wedged instance alive.
func (r *Registry) UpdateStatus(instanceID, status, activity string, activeFiles []string) *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[instanceID]
	if !ok {
		return nil
	}
	if status != "" {
		inst.Status = status
	}
	if activity != "" {
		inst.Activity = activity
	}
	if activeFiles != nil {
		inst.ActiveFiles = activeFiles
	}
	return snapshot(inst, r.now())
}

// CheckConflicts reports files in the given set that OTHER live instances
// are currently editing.
func (r *Registry) CheckConflicts(instanceID string, files []string) []Conflict {
	fileSet := make(map[string]struct{}, len(files))
	for _, f := range files {
		fileSet[f] = struct{}{}
	}

	r.mu.Lock()
	expired := r.purgeLocked()
	conflicts := []Conflict{}
	for id, inst := range r.instances {
		if id == instanceID {
			continue
		}
		for _, f := range inst.ActiveFiles {
			if _, ok := fileSet[f]; ok {
				conflicts = append(conflicts, Conflict{
					File:       f,
					InstanceID: id,
					Workspace:  inst.Workspace,
					Platform:   inst.Platform,
					Activity:   inst.Activity,
				})
			}
		}
	}
	r.mu.Unlock()
	r.notifyExpired(expired)

	sort.Slice(conflicts, func(a, b int) bool { return conflicts[a].File < conflicts[b].File })
	return conflicts
}

// Deregister removes an instance. Returns false when absent.
func (r *Registry) Deregister(instanceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[instanceID]; !ok {
		return false
	}
	delete(r.instances, instanceID)
	r.logger.Info("Instance deregistered: %s", instanceID)
	return true
}

// List returns all live instances with their heartbeat age filled in.
func (r *Registry) List() []*Instance {
	r.mu.Lock()
	expired := r.purgeLocked()
	now := r.now()
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, snapshot(inst, now))
	}
	r.mu.Unlock()
	r.notifyExpired(expired)

	sort.Slice(out, func(a, b int) bool { return out[a].RegisteredAt < out[b].RegisteredAt })
	return out
}

// Get returns one live instance, or nil.
func (r *Registry) Get(instanceID string) *Instance {
	r.mu.Lock()
	expired := r.purgeLocked()
	var out *Instance
	if inst, ok := r.instances[instanceID]; ok {
		out = snapshot(inst, r.now())
	}
	r.mu.Unlock()
	r.notifyExpired(expired)
	return out
}

// Count returns the number of live instances.
func (r *Registry) Count() int {
	r.mu.Lock()
	expired := r.purgeLocked()
	n := len(r.instances)
	r.mu.Unlock()
	r.notifyExpired(expired)
	return n
}

// IDs returns the live instance ids.
func (r *Registry) IDs() []string {
	instances := r.List()
	ids := make([]string, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, inst.ID)
	}
	return ids
}

// Summary is the one-line /status form, e.g.
// "2 active: ab12cd34(stull-atlas [editing], 5s ago), ...".
func (r *Registry) Summary() string {
	instances := r.List()
	if len(instances) == 0 {
		return "No active instances"
	}
	parts := make([]string, 0, len(instances))
	for _, inst := range instances {
		ageStr := fmt.Sprintf("%ds ago", inst.AgeSeconds)
		if inst.AgeSeconds >= 60 {
			ageStr = fmt.Sprintf("%dm ago", inst.AgeSeconds/60)
		}
		activity := ""
		if inst.Activity != "" {
			activity = " [" + inst.Activity + "]"
		}
		parts = append(parts, fmt.Sprintf("%s(%s%s, %s)", inst.ID, inst.Workspace, activity, ageStr))
	}
	return fmt.Sprintf("%d active: %s", len(instances), strings.Join(parts, ", "))
}

// Stats is the /stats shape.
type Stats struct {
	ActiveCount int         `json:"active_count"`
	Instances   []*Instance `json:"instances"`
}

// Stats returns the dashboard view.
func (r *Registry) Stats() Stats {
	instances := r.List()
	return Stats{ActiveCount: len(instances), Instances: instances}
}

// purgeLocked removes expired instances and returns their ids. Caller
// holds r.mu.
func (r *Registry) purgeLocked() []string {
	now := r.now()
	var expired []string
	for id, inst := range r.instances {
		if now.Sub(inst.lastBeat) > ExpirySeconds*time.Second {
			expired = append(expired, id)
			delete(r.instances, id)
		}
	}
	return expired
}

func (r *Registry) notifyExpired(ids []string) {
	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		r.logger.Warn("Instance expired without deregistering: %s", id)
		if r.OnExpire != nil {
			r.OnExpire(id)
		}
	}
}

func snapshot(inst *Instance, now time.Time) *Instance {
	c := *inst
	c.ActiveFiles = append([]string{}, inst.ActiveFiles...)
	c.AgeSeconds = int(now.Sub(inst.lastBeat).Seconds() + 0.5)
	return &c
}
