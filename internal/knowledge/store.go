package knowledge

import (
	"encoding/json"
	"os"
	"sync"

	"howell/internal/logging"
	"howell/internal/storage"
)

// Store serializes all graph mutations behind one mutex and owns the atomic
// write protocol for the backing document.
type Store struct {
	mu     sync.Mutex
	path   string
	logger logging.Logger
}

// NewStore returns a store backed by the document at path.
func NewStore(path string, logger logging.Logger) *Store {
	return &Store{path: path, logger: logging.OrNop(logger)}
}

// Load reads the current graph. A corrupt primary falls back to the rolling
// backup; when both are unreadable an empty graph is returned and a warning
// logged. Load never fails the caller.
func (s *Store) Load() *Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() *Graph {
	g := NewGraph()
	err := storage.ReadWithBackup(s.path, func(data []byte) error {
		fresh := NewGraph()
		if err := json.Unmarshal(data, fresh); err != nil {
			return err
		}
		if fresh.Entities == nil {
			fresh.Entities = map[string]*Entity{}
		}
		*g = *fresh
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Knowledge graph unreadable, starting empty: %v", err)
	}
	if err != nil {
		return NewGraph()
	}
	return g
}

func (s *Store) saveLocked(g *Graph) error {
	g.LastSync = now()
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	return storage.WriteAtomic(s.path, data)
}

// Update runs fn against the current graph under the store mutex and, when
// fn reports success, persists the mutated graph.
func (s *Store) Update(fn func(g *Graph) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.loadLocked()
	if err := fn(g); err != nil {
		return err
	}
	return s.saveLocked(g)
}

// Counts returns entity and relation totals.
func (s *Store) Counts() (entities, relations int) {
	g := s.Load()
	return len(g.Entities), len(g.Relations)
}
