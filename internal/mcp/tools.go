package mcp

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperr "howell/internal/errors"
	"howell/internal/knowledge"
	"howell/internal/task"
)

// toolHandlers maps catalog names to implementations. A handler signals a
// tool-level failure by returning a map whose only key is "error"; the
// dispatcher turns that into an isError result.
var toolHandlers = map[string]func(s *Server, args map[string]any) any{
	"howell_bootstrap":          (*Server).toolBootstrap,
	"howell_status":             (*Server).toolStatus,
	"howell_add_entity":         (*Server).toolAddEntity,
	"howell_add_observation":    (*Server).toolAddObservation,
	"howell_add_relation":       (*Server).toolAddRelation,
	"howell_broadcast":          (*Server).toolBroadcast,
	"howell_delete_entity":      (*Server).toolDeleteEntity,
	"howell_delete_observation": (*Server).toolDeleteObservation,
	"howell_delete_relation":    (*Server).toolDeleteRelation,
	"howell_end_session":        (*Server).toolEndSession,
	"howell_instances":          (*Server).toolInstances,
	"howell_log_session":        (*Server).toolLogSession,
	"howell_merge_entities":     (*Server).toolMergeEntities,
	"howell_pin":                (*Server).toolPin,
	"howell_procedure":          (*Server).toolProcedure,
	"howell_query":              (*Server).toolQuery,
	"howell_read_identity":      (*Server).toolReadIdentity,
	"howell_rename_entity":      (*Server).toolRenameEntity,
	"howell_task_claim":         (*Server).toolTaskClaim,
	"howell_task_create":        (*Server).toolTaskCreate,
	"howell_task_update":        (*Server).toolTaskUpdate,
	"howell_tasks":              (*Server).toolTasks,
}

func errMap(format string, args ...any) map[string]any {
	return map[string]any{"error": fmt.Sprintf(format, args...)}
}

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func argStrings(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// availableNames lists up to 20 entity names for not-found error messages.
func availableNames(g *knowledge.Graph) []string {
	names := g.EntityNames()
	sort.Strings(names)
	if len(names) > 20 {
		names = names[:20]
	}
	return names
}

// instanceID resolves which instance a tool call acts as: the oldest live
// registration, or a generic id when nothing is registered.
func (s *Server) instanceID() string {
	if list := s.deps.Instances.List(); len(list) > 0 {
		return list[0].ID
	}
	return "mcp-client"
}

type entityView struct {
	Entity       string   `json:"entity"`
	Type         string   `json:"type"`
	Observations []string `json:"observations"`
}

type relationView struct {
	From string `json:"from"`
	Type string `json:"type"`
	To   string `json:"to"`
}

func (s *Server) toolBootstrap(map[string]any) any {
	g := s.deps.Knowledge.Load()

	entities := make([]entityView, 0, len(g.Entities))
	for _, name := range availableAll(g) {
		e := g.Entities[name]
		entities = append(entities, entityView{Entity: name, Type: e.EntityType, Observations: e.Observations})
	}
	relations := make([]relationView, 0, len(g.Relations))
	for _, r := range g.Relations {
		relations = append(relations, relationView{From: r.From, Type: r.Type, To: r.To})
	}

	return map[string]any{
		"identity": s.deps.Memory.IdentitySummary(),
		"soul":     s.identityOr("soul", "[not found]"),
		"pinned":   s.identityOr("pinned", "[not found]"),
		"recent":   s.identityOr("memory", "[not found]"),
		"knowledge_graph": map[string]any{
			"entities":        entities,
			"relations":       relations,
			"total_entities":  len(entities),
			"total_relations": len(relations),
		},
		"heartbeat": s.deps.Memory.Heartbeat(),
		"siblings":  s.deps.Instances.List(),
		"tasks":     s.deps.Tasks.Bootstrap(),
		"timestamp": time.Now().Format(time.RFC3339),
	}
}

func availableAll(g *knowledge.Graph) []string {
	names := g.EntityNames()
	sort.Strings(names)
	return names
}

func (s *Server) identityOr(name, fallback string) string {
	content, err := s.deps.Memory.ReadIdentity(name)
	if err != nil {
		return fallback
	}
	return content
}

func (s *Server) toolStatus(map[string]any) any {
	return map[string]any{
		"heartbeat":    s.deps.Memory.Heartbeat(),
		"file_changes": s.deps.Watcher.Summary(),
		"queue":        s.deps.Queue.Summary(),
		"tasks":        s.deps.Tasks.Summary(),
		"instances":    s.deps.Instances.Summary(),
		"timestamp":    time.Now().Format(time.RFC3339),
	}
}

func (s *Server) toolAddEntity(args map[string]any) any {
	name := argString(args, "name")
	entityType := argString(args, "entity_type")
	observations := argStrings(args, "observations")

	var msg string
	err := s.deps.Knowledge.Update(func(g *knowledge.Graph) error {
		if e, ok := g.Entities[name]; ok {
			for _, obs := range observations {
				if !containsString(e.Observations, obs) {
					e.Observations = append(e.Observations, obs)
				}
			}
			msg = fmt.Sprintf("Updated existing entity '%s' with %d observations", name, len(observations))
			return nil
		}
		g.AddEntity(name, entityType, observations)
		msg = fmt.Sprintf("Created entity '%s' (%s) with %d observations", name, entityType, len(observations))
		return nil
	})
	if err != nil {
		return errMap("%v", err)
	}
	return map[string]any{"result": msg}
}

func (s *Server) toolAddObservation(args map[string]any) any {
	entity := argString(args, "entity")
	observation := argString(args, "observation")

	err := s.deps.Knowledge.Update(func(g *knowledge.Graph) error {
		if _, ok := g.Entities[entity]; !ok {
			return apperr.NotFound("Entity '%s' not found. Available: %v", entity, availableNames(g))
		}
		return g.AddObservation(entity, observation)
	})
	if err != nil {
		return errMap("%v", err)
	}
	return map[string]any{"result": fmt.Sprintf("Added observation to '%s': %s", entity, observation)}
}

func (s *Server) toolAddRelation(args map[string]any) any {
	from := argString(args, "from_entity")
	relType := argString(args, "relation_type")
	to := argString(args, "to_entity")

	err := s.deps.Knowledge.Update(func(g *knowledge.Graph) error {
		var missing []string
		for _, e := range []string{from, to} {
			if _, ok := g.Entities[e]; !ok {
				missing = append(missing, e)
			}
		}
		if len(missing) > 0 {
			return apperr.NotFound("Entity not found: %v. Available: %v", missing, availableNames(g))
		}
		return g.AddRelation(from, relType, to)
	})
	if err != nil {
		return errMap("%v", err)
	}
	return map[string]any{"result": fmt.Sprintf("Added relation: %s --[%s]--> %s", from, relType, to)}
}

func (s *Server) toolBroadcast(args map[string]any) any {
	activity := argString(args, "activity")
	activeFiles := argStrings(args, "active_files")
	instances := s.deps.Instances.List()

	return map[string]any{
		"result":        fmt.Sprintf("Activity noted: %s", activity),
		"active_files":  activeFiles,
		"sibling_count": len(instances),
		"siblings":      instances,
	}
}

func (s *Server) toolDeleteEntity(args map[string]any) any {
	name := argString(args, "name")

	var removed int
	err := s.deps.Knowledge.Update(func(g *knowledge.Graph) (err error) {
		removed, err = g.DeleteEntity(name)
		return err
	})
	if err != nil {
		return errMap("%v", err)
	}
	return map[string]any{"result": fmt.Sprintf("Deleted entity '%s' and %d relations", name, removed)}
}

func (s *Server) toolDeleteObservation(args map[string]any) any {
	entity := argString(args, "entity")
	substring := argString(args, "substring")

	var removed int
	err := s.deps.Knowledge.Update(func(g *knowledge.Graph) error {
		if _, ok := g.Entities[entity]; !ok {
			return apperr.NotFound("Entity '%s' not found", entity)
		}
		n, err := g.DeleteObservation(entity, substring)
		if err != nil && apperr.KindOf(err) == apperr.KindNotFound {
			// No matches is still a valid answer here.
			return nil
		}
		removed = n
		return err
	})
	if err != nil {
		return errMap("%v", err)
	}
	return map[string]any{"result": fmt.Sprintf("Removed %d observation(s) matching '%s' from '%s'", removed, substring, entity)}
}

func (s *Server) toolDeleteRelation(args map[string]any) any {
	from := argString(args, "from_entity")
	relType := argString(args, "relation_type")
	to := argString(args, "to_entity")

	err := s.deps.Knowledge.Update(func(g *knowledge.Graph) error {
		return g.DeleteRelation(from, relType, to)
	})
	if err != nil {
		return errMap("Relation not found: %s --[%s]--> %s", from, relType, to)
	}
	return map[string]any{"result": fmt.Sprintf("Deleted relation: %s --[%s]--> %s", from, relType, to)}
}

func (s *Server) toolEndSession(args map[string]any) any {
	receipt, err := s.deps.Memory.EndSession(
		argString(args, "summary"),
		argString(args, "what_learned"),
		argString(args, "pin_title"),
		argString(args, "pin_text"),
		argString(args, "pin_reason"),
	)
	if err != nil {
		return errMap("%v", err)
	}
	return map[string]any{"result": receipt}
}

func (s *Server) toolInstances(map[string]any) any {
	instances := s.deps.Instances.List()
	return map[string]any{
		"count":     len(instances),
		"summary":   s.deps.Instances.Summary(),
		"instances": instances,
	}
}

func (s *Server) toolLogSession(args map[string]any) any {
	action := argString(args, "action")
	s.deps.SessionLog.Append(action, argString(args, "details"))
	return map[string]any{"result": fmt.Sprintf("Logged: %s", action)}
}

func (s *Server) toolMergeEntities(args map[string]any) any {
	source := argString(args, "source")
	target := argString(args, "target")

	err := s.deps.Knowledge.Update(func(g *knowledge.Graph) error {
		if _, ok := g.Entities[source]; !ok {
			return apperr.NotFound("Source entity '%s' not found", source)
		}
		if _, ok := g.Entities[target]; !ok {
			return apperr.NotFound("Target entity '%s' not found", target)
		}
		return g.MergeEntities(source, target)
	})
	if err != nil {
		return errMap("%v", err)
	}
	return map[string]any{"result": fmt.Sprintf("Merged '%s' into '%s'", source, target)}
}

func (s *Server) toolPin(args map[string]any) any {
	receipt, err := s.deps.Memory.Pin(
		argString(args, "title"),
		argString(args, "text"),
		argString(args, "reason"),
	)
	if err != nil {
		return errMap("%v", err)
	}
	return map[string]any{"result": receipt}
}

func (s *Server) toolProcedure(args map[string]any) any {
	topic := argString(args, "topic")

	if strings.EqualFold(topic, "list") {
		return map[string]any{"procedures": s.procedureNames()}
	}

	needle := strings.ToLower(topic)
	for _, name := range s.procedureNames() {
		if strings.Contains(strings.ToLower(name), needle) {
			data, err := os.ReadFile(filepath.Join(s.deps.ProceduresDir, name+".md"))
			if err != nil {
				return errMap("%v", err)
			}
			return map[string]any{"name": name, "content": string(data)}
		}
	}
	return errMap("No procedure found for '%s'", topic)
}

// procedureNames lists the *.md stems in the procedures directory, README
// excluded. A missing directory is just an empty library.
func (s *Server) procedureNames() []string {
	entries, err := os.ReadDir(s.deps.ProceduresDir)
	if err != nil {
		return []string{}
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") || e.Name() == "README.md" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".md"))
	}
	sort.Strings(names)
	return names
}

func (s *Server) toolQuery(args map[string]any) any {
	term := argString(args, "term")
	result := s.deps.Knowledge.Load().Query(term)

	entities := make([]entityView, 0, len(result.Entities))
	for _, m := range result.Entities {
		entities = append(entities, entityView{Entity: m.Entity, Type: m.Type, Observations: m.Observations})
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].Entity < entities[j].Entity })

	relations := make([]relationView, 0, len(result.Relations))
	for _, r := range result.Relations {
		relations = append(relations, relationView{From: r.From, Type: r.Type, To: r.To})
	}

	return map[string]any{
		"term":          term,
		"entities":      entities,
		"relations":     relations,
		"total_matches": len(entities) + len(relations),
	}
}

func (s *Server) toolReadIdentity(args map[string]any) any {
	file := argString(args, "file")
	content, err := s.deps.Memory.ReadIdentity(file)
	if err != nil {
		return errMap("Unknown identity file: %s", file)
	}
	return map[string]any{"file": file, "content": content}
}

func (s *Server) toolRenameEntity(args map[string]any) any {
	oldName := argString(args, "old_name")
	newName := argString(args, "new_name")

	err := s.deps.Knowledge.Update(func(g *knowledge.Graph) error {
		return g.RenameEntity(oldName, newName)
	})
	if err != nil {
		return errMap("%v", err)
	}
	return map[string]any{"result": fmt.Sprintf("Renamed '%s' -> '%s'", oldName, newName)}
}

func (s *Server) toolTaskClaim(args map[string]any) any {
	taskID := argString(args, "task_id")

	claimed, err := s.deps.Tasks.Claim(taskID, s.instanceID())
	if err != nil {
		return errMap("Cannot claim task '%s' - not found, already claimed, or scope conflict", taskID)
	}
	return map[string]any{"result": fmt.Sprintf("Claimed task %s", taskID), "task": claimed}
}

func (s *Server) toolTaskCreate(args map[string]any) any {
	title := argString(args, "title")

	created, err := s.deps.Tasks.Create(task.CreateParams{
		Title:       title,
		Description: argString(args, "description"),
		Project:     argString(args, "project"),
		ScopeTags:   argStrings(args, "scope_tags"),
		Priority:    argString(args, "priority"),
		CreatedBy:   "claude-howell",
	})
	if err != nil {
		return errMap("%v", err)
	}

	s.deps.SessionLog.Append("task_create", fmt.Sprintf("%s: %s", created.ID, clip(title, 60)))
	return map[string]any{"result": fmt.Sprintf("Created task %s", created.ID), "task": created}
}

func (s *Server) toolTaskUpdate(args map[string]any) any {
	taskID := argString(args, "task_id")
	action := argString(args, "action")
	message := argString(args, "message")
	artifacts := argStrings(args, "artifacts")
	instanceID := s.instanceID()

	var updated *task.Task
	var err error
	switch action {
	case "start":
		updated, err = s.deps.Tasks.Start(taskID, instanceID)
	case "note":
		updated, err = s.deps.Tasks.AddNote(taskID, instanceID, message)
	case "complete":
		updated, err = s.deps.Tasks.Complete(taskID, instanceID, message, artifacts)
	case "fail":
		updated, err = s.deps.Tasks.Fail(taskID, instanceID, message)
	case "release":
		updated, err = s.deps.Tasks.Release(taskID, instanceID)
	default:
		err = apperr.Invalid("unknown action %q", action)
	}

	if err != nil {
		return errMap("Cannot %s task '%s' - not found or not claimed by you", action, taskID)
	}
	s.deps.SessionLog.Append("task_"+action, taskID)
	return map[string]any{"result": fmt.Sprintf("Task %s: %s", taskID, action), "task": updated}
}

func (s *Server) toolTasks(args map[string]any) any {
	status := argString(args, "status")
	if status == "all" {
		status = ""
	}

	tasks := s.deps.Tasks.List(task.ListFilter{Status: task.Status(status)})
	return map[string]any{
		"summary": s.deps.Tasks.Summary(),
		"count":   len(tasks),
		"tasks":   tasks,
	}
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
