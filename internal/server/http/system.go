package http

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperr "howell/internal/errors"
	"howell/internal/knowledge"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": int(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	threads := map[string]string{}
	healthy := true
	if s.deps.Workers != nil {
		for name, h := range s.deps.Workers.Snapshot() {
			if h.Restarts > 0 {
				threads[name] = fmt.Sprintf("restarted %dx (last: %s)", h.Restarts, h.LastError)
			} else {
				threads[name] = "ok"
			}
		}
		healthy = s.deps.Workers.Healthy()
	}

	c.JSON(http.StatusOK, gin.H{
		"heartbeat":       s.deps.Memory.Heartbeat().Text,
		"inbox_count":     s.deps.Inbox.Count(),
		"file_changes":    s.deps.Watcher.Summary(),
		"queue":           s.deps.Queue.Summary(),
		"tasks":           s.deps.Tasks.Summary(),
		"instances":       s.deps.Instances.Summary(),
		"threads":         threads,
		"threads_healthy": healthy,
		"uptime_seconds":  int(time.Since(s.startTime).Seconds()),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing ?q= parameter"})
		return
	}
	cfg := s.deps.Config.Current()
	results := s.deps.Memory.Search(query, cfg.ProceduresDir(), s.deps.Inbox)
	c.JSON(http.StatusOK, gin.H{
		"query":      query,
		"results":    results,
		"total_hits": results.TotalHits(),
	})
}

func (s *Server) handleInboxGet(c *gin.Context) {
	items := s.deps.Inbox.Items()
	c.JSON(http.StatusOK, gin.H{"count": len(items), "items": items})
}

func (s *Server) handleChanges(c *gin.Context) {
	changes := s.deps.Watcher.Recent(50)
	c.JSON(http.StatusOK, gin.H{
		"count":   len(changes),
		"summary": s.deps.Watcher.Summary(),
		"changes": changes,
	})
}

func (s *Server) handleKnowledge(c *gin.Context) {
	g := s.deps.Knowledge.Load()

	entities := make([]gin.H, 0, len(g.Entities))
	for _, name := range g.EntityNames() {
		e := g.Entities[name]
		entities = append(entities, gin.H{
			"entity":       e.Name,
			"type":         e.EntityType,
			"observations": e.Observations,
		})
	}
	relations := make([]gin.H, 0, len(g.Relations))
	for _, r := range g.Relations {
		relations = append(relations, gin.H{"from": r.From, "type": r.Type, "to": r.To})
	}

	c.JSON(http.StatusOK, gin.H{
		"entities":        entities,
		"relations":       relations,
		"total_entities":  len(entities),
		"total_relations": len(relations),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	cfg := s.deps.Config.Current()
	uptime := time.Since(s.startTime)

	stats := gin.H{
		"daemon": gin.H{
			"uptime": fmt.Sprintf("%dh%dm%ds",
				int(uptime.Hours()), int(uptime.Minutes())%60, int(uptime.Seconds())%60),
			"uptime_seconds": int(uptime.Seconds()),
			"timestamp":      time.Now().Format(time.RFC3339),
		},
		"watcher": s.deps.Watcher.Stats(),
		"inbox":   gin.H{"unread": s.deps.Inbox.Count()},
		"memory": gin.H{
			"recent_exists":  fileExists(cfg.RecentFile()),
			"pinned_exists":  fileExists(cfg.PinnedFile()),
			"summary_exists": fileExists(cfg.SummaryFile()),
		},
		"instances": s.deps.Instances.Stats(),
		"tasks":     s.deps.Tasks.Stats(),
	}
	if s.deps.Processor != nil {
		stats["queue"] = s.deps.Processor.Stats()
	}
	if s.deps.Scheduler != nil {
		stats["moltbook"] = s.deps.Scheduler.Stats()
	}
	if s.deps.Agents != nil {
		if st, err := s.deps.Agents.Stats(); err == nil {
			stats["stratigraphy"] = st
		}
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleConfigGet(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Config.Describe())
}

func (s *Server) handleConfigSet(c *gin.Context) {
	var updates map[string]any
	if err := c.ShouldBindJSON(&updates); err != nil || len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Expected a JSON object of config updates"})
		return
	}
	updated, errs, err := s.deps.Config.Apply(updates)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	keys := make([]string, 0, len(updated))
	for k := range updated {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		s.logSession("config_update", "Updated: "+strings.Join(keys, ", "))
	}

	resp := gin.H{"ok": true, "updated": updated, "config": s.deps.Config.Describe()}
	if len(errs) > 0 {
		resp["errors"] = errs
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleFeed(c *gin.Context) {
	var body struct {
		Message string `json:"message"`
		Source  string `json:"source"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'message' field"})
		return
	}
	if body.Source == "" {
		body.Source = "ryan"
	}

	filename, err := s.deps.Inbox.Feed(body.Message, body.Source)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logSession("inbox_feed", fmt.Sprintf("%s: %s", body.Source, clip(body.Message, 80)))
	s.publish("inbox_feed", gin.H{"filename": filename, "source": body.Source})
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"filename": filename,
		"message":  fmt.Sprintf("[INBOX] Note saved to inbox: %s", filename),
	})
}

func (s *Server) handleSession(c *gin.Context) {
	var body struct {
		Summary   string `json:"summary"`
		Learned   string `json:"learned"`
		PinTitle  string `json:"pin_title"`
		PinText   string `json:"pin_text"`
		PinReason string `json:"pin_reason"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Summary == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'summary' field"})
		return
	}
	result, err := s.deps.Memory.EndSession(body.Summary, body.Learned, body.PinTitle, body.PinText, body.PinReason)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "result": result})
}

func (s *Server) handlePin(c *gin.Context) {
	var body struct {
		Title  string `json:"title"`
		Text   string `json:"text"`
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Title == "" || body.Text == "" || body.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Required: title, text, reason"})
		return
	}
	result, err := s.deps.Memory.Pin(body.Title, body.Text, body.Reason)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "result": result})
}

func (s *Server) handleNote(c *gin.Context) {
	var body struct {
		Entity      string `json:"entity"`
		Observation string `json:"observation"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Entity == "" || body.Observation == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Required: entity, observation"})
		return
	}

	var available []string
	err := s.deps.Knowledge.Update(func(g *knowledge.Graph) error {
		if _, ok := g.Entities[body.Entity]; !ok {
			available = g.EntityNames()
			return apperr.NotFound("Entity %s not found", body.Entity)
		}
		return g.AddObservation(body.Entity, body.Observation)
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":     fmt.Sprintf("Entity '%s' not found", body.Entity),
				"available": available,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"result": fmt.Sprintf("Added to %s: %s", body.Entity, body.Observation),
	})
}

func (s *Server) handleInboxClear(c *gin.Context) {
	var body struct {
		Filename string `json:"filename"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'filename' field"})
		return
	}
	if !s.deps.Inbox.Clear(body.Filename) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Not found: %s", body.Filename)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "result": fmt.Sprintf("Cleared: %s", body.Filename)})
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
