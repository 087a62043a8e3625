// Package knowledge implements the shared knowledge graph: named entities
// with append-only observations, plus directed typed relations between them.
// The whole graph is one JSON document, loaded per operation and written
// back atomically.
package knowledge

import (
	"fmt"
	"strings"
	"time"

	apperr "howell/internal/errors"
)

// Entity is a graph node.
type Entity struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entity_type"`
	Observations []string `json:"observations"`
	Created      string   `json:"created,omitempty"`
}

// Relation is a directed typed edge between two entities.
type Relation struct {
	From    string `json:"from_entity"`
	Type    string `json:"relation_type"`
	To      string `json:"to_entity"`
	Created string `json:"created,omitempty"`
}

// Graph is the full document: entities by name plus the ordered relation
// list and the last save timestamp.
type Graph struct {
	Entities map[string]*Entity `json:"entities"`
	Relations []Relation        `json:"relations"`
	LastSync  string            `json:"last_sync,omitempty"`
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{Entities: map[string]*Entity{}}
}

func now() string { return time.Now().Format(time.RFC3339) }

// AddEntity creates the entity or, when it already exists, appends the given
// observations. Returns true when the entity was newly created.
func (g *Graph) AddEntity(name, entityType string, observations []string) bool {
	if e, ok := g.Entities[name]; ok {
		e.Observations = append(e.Observations, observations...)
		if entityType != "" {
			e.EntityType = entityType
		}
		return false
	}
	g.Entities[name] = &Entity{
		Name:         name,
		EntityType:   entityType,
		Observations: append([]string{}, observations...),
		Created:      now(),
	}
	return true
}

// AddObservation appends one observation to an existing entity.
func (g *Graph) AddObservation(name, observation string) error {
	e, ok := g.Entities[name]
	if !ok {
		return apperr.NotFound("Entity '%s' not found", name)
	}
	e.Observations = append(e.Observations, observation)
	return nil
}

// AddRelation records a directed triple. Both endpoints must exist. Exact
// duplicate triples are ignored.
func (g *Graph) AddRelation(from, relType, to string) error {
	if _, ok := g.Entities[from]; !ok {
		return apperr.NotFound("Entity '%s' not found", from)
	}
	if _, ok := g.Entities[to]; !ok {
		return apperr.NotFound("Entity '%s' not found", to)
	}
	for _, r := range g.Relations {
		if r.From == from && r.Type == relType && r.To == to {
			return nil
		}
	}
	g.Relations = append(g.Relations, Relation{From: from, Type: relType, To: to, Created: now()})
	return nil
}

// DeleteEntity removes the entity and every incident relation.
func (g *Graph) DeleteEntity(name string) (int, error) {
	if _, ok := g.Entities[name]; !ok {
		return 0, apperr.NotFound("Entity '%s' not found", name)
	}
	delete(g.Entities, name)

	kept := g.Relations[:0]
	removed := 0
	for _, r := range g.Relations {
		if r.From == name || r.To == name {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	g.Relations = kept
	return removed, nil
}

// DeleteObservation removes observations containing the substring,
// case-insensitively. Returns how many were removed.
func (g *Graph) DeleteObservation(name, substring string) (int, error) {
	e, ok := g.Entities[name]
	if !ok {
		return 0, apperr.NotFound("Entity '%s' not found", name)
	}
	needle := strings.ToLower(substring)
	kept := e.Observations[:0]
	removed := 0
	for _, o := range e.Observations {
		if strings.Contains(strings.ToLower(o), needle) {
			removed++
			continue
		}
		kept = append(kept, o)
	}
	e.Observations = kept
	if removed == 0 {
		return 0, apperr.NotFound("No observation matching '%s' on '%s'", substring, name)
	}
	return removed, nil
}

// DeleteRelation removes the exact triple.
func (g *Graph) DeleteRelation(from, relType, to string) error {
	for i, r := range g.Relations {
		if r.From == from && r.Type == relType && r.To == to {
			g.Relations = append(g.Relations[:i], g.Relations[i+1:]...)
			return nil
		}
	}
	return apperr.NotFound("Relation (%s, %s, %s) not found", from, relType, to)
}

// RenameEntity changes an entity's name and rewrites incident relations.
// Refuses when the new name is already taken: merge is the tool for that.
func (g *Graph) RenameEntity(oldName, newName string) error {
	e, ok := g.Entities[oldName]
	if !ok {
		return apperr.NotFound("Entity '%s' not found", oldName)
	}
	if _, exists := g.Entities[newName]; exists {
		return apperr.Conflict("Entity '%s' already exists - use merge instead", newName)
	}
	delete(g.Entities, oldName)
	e.Name = newName
	g.Entities[newName] = e
	for i := range g.Relations {
		if g.Relations[i].From == oldName {
			g.Relations[i].From = newName
		}
		if g.Relations[i].To == oldName {
			g.Relations[i].To = newName
		}
	}
	return nil
}

// MergeEntities folds source into target: observations are unioned, incident
// relations are repointed at the target, self-loops are dropped, duplicate
// triples are collapsed, and the source entity is deleted.
func (g *Graph) MergeEntities(source, target string) error {
	src, ok := g.Entities[source]
	if !ok {
		return apperr.NotFound("Entity '%s' not found", source)
	}
	dst, ok := g.Entities[target]
	if !ok {
		return apperr.NotFound("Entity '%s' not found", target)
	}
	if source == target {
		return apperr.Invalid("Cannot merge '%s' into itself", source)
	}

	seen := make(map[string]bool, len(dst.Observations))
	for _, o := range dst.Observations {
		seen[o] = true
	}
	for _, o := range src.Observations {
		if !seen[o] {
			dst.Observations = append(dst.Observations, o)
			seen[o] = true
		}
	}

	seenRel := make(map[string]bool)
	merged := g.Relations[:0]
	for _, r := range g.Relations {
		if r.From == source {
			r.From = target
		}
		if r.To == source {
			r.To = target
		}
		if r.From == target && r.To == target {
			continue // self-loop created by the merge
		}
		key := fmt.Sprintf("%s\x00%s\x00%s", r.From, r.Type, r.To)
		if seenRel[key] {
			continue
		}
		seenRel[key] = true
		merged = append(merged, r)
	}
	g.Relations = merged

	delete(g.Entities, source)
	return nil
}

// EntityNames returns the sorted-insertion view of entity names.
func (g *Graph) EntityNames() []string {
	names := make([]string, 0, len(g.Entities))
	for name := range g.Entities {
		names = append(names, name)
	}
	return names
}
