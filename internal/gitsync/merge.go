package gitsync

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"howell/internal/knowledge"
)

// Per-file merge strategies. Anything else falls back by extension:
// JSON takes theirs (last push wins), markdown takes ours (local edits
// matter).
const (
	strategyKnowledge = "merge_knowledge"
	strategyTasks     = "merge_tasks"
	strategyTheirs    = "take_theirs"
	strategyOurs      = "take_ours"
)

var mergeStrategies = map[string]string{
	"bridge/knowledge.json": strategyKnowledge,
	"tasks/tasks.json":      strategyTasks,
	"memory/RECENT.md":      strategyTheirs,
	"memory/PINNED.md":      strategyOurs,
	"bridge/sessions.json":  strategyTheirs,
}

// autoResolve attempts to clear every conflicted file. Returns true only
// when all of them resolved.
func (s *Syncer) autoResolve(conflicts []string) bool {
	all := true
	for _, rel := range conflicts {
		var ok bool
		strategy := mergeStrategies[filepath.ToSlash(rel)]
		switch {
		case strategy == strategyKnowledge:
			ok = s.mergeVersions(rel, mergeKnowledgeBytes)
		case strategy == strategyTasks:
			ok = s.mergeVersions(rel, mergeTasksBytes)
		case strategy == strategyTheirs:
			ok = s.checkout("--theirs", rel)
		case strategy == strategyOurs:
			ok = s.checkout("--ours", rel)
		case filepath.Ext(rel) == ".json":
			ok = s.checkout("--theirs", rel)
		case filepath.Ext(rel) == ".md":
			ok = s.checkout("--ours", rel)
		}
		if ok {
			s.logger.Info("Resolved: %s", rel)
		} else {
			s.logger.Warn("CONFLICT: %s needs manual resolution", rel)
			all = false
		}
	}
	return all
}

func (s *Syncer) checkout(side, rel string) bool {
	_, err := s.run("checkout", side, rel)
	return err == nil
}

// mergeVersions reads both sides of a conflicted file out of the merge in
// progress and writes the combined document back.
func (s *Syncer) mergeVersions(rel string, merge func(ours, theirs []byte) ([]byte, error)) bool {
	ours, err := s.run("show", "HEAD:"+filepath.ToSlash(rel))
	if err != nil {
		return false
	}
	theirs, err := s.run("show", "MERGE_HEAD:"+filepath.ToSlash(rel))
	if err != nil {
		return false
	}
	merged, err := merge([]byte(ours), []byte(theirs))
	if err != nil {
		s.logger.Warn("Merge of %s failed: %v", rel, err)
		return false
	}
	return os.WriteFile(filepath.Join(s.root, rel), merged, 0o644) == nil
}

// mergeKnowledgeBytes unions two knowledge graphs. Observations are
// append-only so the union loses nothing; relations dedupe on the full
// triple.
func mergeKnowledgeBytes(ours, theirs []byte) ([]byte, error) {
	var a, b knowledge.Graph
	if err := json.Unmarshal(ours, &a); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(theirs, &b); err != nil {
		return nil, err
	}

	if a.Entities == nil {
		a.Entities = make(map[string]*knowledge.Entity)
	}
	for name, ent := range b.Entities {
		mine, ok := a.Entities[name]
		if !ok {
			a.Entities[name] = ent
			continue
		}
		seen := make(map[string]bool, len(mine.Observations))
		for _, obs := range mine.Observations {
			seen[obs] = true
		}
		for _, obs := range ent.Observations {
			if !seen[obs] {
				mine.Observations = append(mine.Observations, obs)
				seen[obs] = true
			}
		}
	}

	type relKey struct{ from, typ, to string }
	keys := make(map[relKey]bool, len(a.Relations))
	for _, r := range a.Relations {
		keys[relKey{r.From, r.Type, r.To}] = true
	}
	for _, r := range b.Relations {
		k := relKey{r.From, r.Type, r.To}
		if !keys[k] {
			a.Relations = append(a.Relations, r)
			keys[k] = true
		}
	}

	a.LastSync = time.Now().Format(time.RFC3339)
	return json.MarshalIndent(&a, "", "  ")
}

// mergeTasksBytes combines two task boards, deduplicating by id and
// keeping the version whose latest lifecycle timestamp is newer.
func mergeTasksBytes(ours, theirs []byte) ([]byte, error) {
	var a, b []map[string]any
	if err := json.Unmarshal(ours, &a); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(theirs, &b); err != nil {
		return nil, err
	}

	order := make([]string, 0, len(a)+len(b))
	merged := make(map[string]map[string]any, len(a)+len(b))
	for _, t := range append(a, b...) {
		id, _ := t["id"].(string)
		if id == "" {
			continue
		}
		existing, ok := merged[id]
		if !ok {
			merged[id] = t
			order = append(order, id)
			continue
		}
		if taskClock(t) > taskClock(existing) {
			merged[id] = t
		}
	}

	out := make([]map[string]any, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}
	return json.MarshalIndent(out, "", "  ")
}

// taskClock picks the task's most recent lifecycle timestamp. RFC 3339
// strings compare lexically.
func taskClock(t map[string]any) string {
	latest := ""
	for _, field := range []string{"created_at", "claimed_at", "started_at", "completed_at"} {
		if v, _ := t[field].(string); v > latest {
			latest = v
		}
	}
	return latest
}
