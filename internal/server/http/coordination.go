package http

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"howell/internal/task"
)

func (s *Server) handleInstancesGet(c *gin.Context) {
	instances := s.deps.Instances.List()
	c.JSON(http.StatusOK, gin.H{
		"count":     len(instances),
		"summary":   s.deps.Instances.Summary(),
		"instances": instances,
	})
}

func (s *Server) handleInstanceRegister(c *gin.Context) {
	var body struct {
		Workspace string `json:"workspace"`
		Platform  string `json:"platform"`
		Status    string `json:"status"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Workspace == "" {
		body.Workspace = "unknown"
	}
	if body.Platform == "" {
		body.Platform = "unknown"
	}
	if body.Status == "" {
		body.Status = "bootstrapping"
	}

	inst := s.deps.Instances.Register(body.Workspace, body.Platform, body.Status)
	all := s.deps.Instances.List()
	siblings := all[:0:0]
	for _, other := range all {
		if other.ID != inst.ID {
			siblings = append(siblings, other)
		}
	}

	s.logSession("instance_register", fmt.Sprintf("%s (%s / %s)", inst.ID, inst.Workspace, inst.Platform))
	s.publish("instance_register", inst)
	if s.deps.Metrics != nil {
		s.deps.Metrics.ActiveInstances.Set(float64(len(all)))
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"instance": inst,
		"siblings": siblings,
		"message":  fmt.Sprintf("Registered instance %s - %d active total", inst.ID, len(all)),
	})
}

func (s *Server) handleInstanceHeartbeat(c *gin.Context) {
	var body struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'id' field"})
		return
	}
	inst := s.deps.Instances.Heartbeat(body.ID, body.Status)
	if inst == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Instance '%s' not found (expired?)", body.ID)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "instance": inst})
}

func (s *Server) handleInstanceDeregister(c *gin.Context) {
	var body struct {
		ID string `json:"id"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'id' field"})
		return
	}

	released := s.deps.Tasks.ReleaseAllForInstance(body.ID)
	removed := s.deps.Instances.Deregister(body.ID)
	remaining := s.deps.Instances.Count()

	s.logSession("instance_deregister", fmt.Sprintf("%s (%d tasks released)", body.ID, released))
	s.publish("instance_deregister", gin.H{"id": body.ID, "tasks_released": released})
	if s.deps.Metrics != nil {
		s.deps.Metrics.ActiveInstances.Set(float64(remaining))
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"removed":        removed,
		"remaining":      remaining,
		"tasks_released": released,
	})
}

func (s *Server) handleInstanceStatus(c *gin.Context) {
	var body struct {
		ID          string   `json:"id"`
		Status      string   `json:"status"`
		Activity    string   `json:"activity"`
		ActiveFiles []string `json:"active_files"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'id' field"})
		return
	}
	inst := s.deps.Instances.UpdateStatus(body.ID, body.Status, body.Activity, body.ActiveFiles)
	if inst == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Instance '%s' not found", body.ID)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "instance": inst})
}

func (s *Server) handleInstanceConflicts(c *gin.Context) {
	var body struct {
		ID    string   `json:"id"`
		Files []string `json:"files"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.ID == "" || len(body.Files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Need 'id' and 'files' fields"})
		return
	}
	conflicts := s.deps.Instances.CheckConflicts(body.ID, body.Files)
	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"conflicts":     conflicts,
		"has_conflicts": len(conflicts) > 0,
	})
}

func (s *Server) handleTasksGet(c *gin.Context) {
	tasks := s.deps.Tasks.List(task.ListFilter{
		Status:    task.Status(c.Query("status")),
		Project:   c.Query("project"),
		ClaimedBy: c.Query("claimed_by"),
		Tag:       c.Query("tag"),
	})
	c.JSON(http.StatusOK, gin.H{
		"summary": s.deps.Tasks.Summary(),
		"count":   len(tasks),
		"tasks":   tasks,
	})
}

func (s *Server) handleTasksBoard(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Tasks.Board())
}

func (s *Server) handleTasksAvailable(c *gin.Context) {
	tasks := s.deps.Tasks.Available()
	c.JSON(http.StatusOK, gin.H{"count": len(tasks), "tasks": tasks})
}

func (s *Server) handleTaskTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, task.Templates())
}

// taskBody is the shared shape of the task write endpoints. Scope may
// come flat (scope_files, scope_dirs, scope_tags) or nested under scope.
type taskBody struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Project     string   `json:"project"`
	ScopeFiles  []string `json:"scope_files"`
	ScopeDirs   []string `json:"scope_dirs"`
	ScopeTags   []string `json:"scope_tags"`
	Scope       *struct {
		Files       []string `json:"files"`
		Directories []string `json:"directories"`
		Tags        []string `json:"tags"`
	} `json:"scope"`
	Priority     string   `json:"priority"`
	Dependencies []string `json:"dependencies"`
	CreatedBy    string   `json:"created_by"`
}

func (b *taskBody) flatten() {
	if b.Scope == nil {
		return
	}
	if len(b.ScopeFiles) == 0 {
		b.ScopeFiles = b.Scope.Files
	}
	if len(b.ScopeDirs) == 0 {
		b.ScopeDirs = b.Scope.Directories
	}
	if len(b.ScopeTags) == 0 {
		b.ScopeTags = b.Scope.Tags
	}
}

func (s *Server) handleTaskCreate(c *gin.Context) {
	var body taskBody
	_ = c.ShouldBindJSON(&body)
	if body.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'title' field"})
		return
	}
	body.flatten()
	if body.CreatedBy == "" {
		body.CreatedBy = "ryan"
	}

	t, err := s.deps.Tasks.Create(task.CreateParams{
		Title:        body.Title,
		Description:  body.Description,
		Project:      body.Project,
		ScopeFiles:   body.ScopeFiles,
		ScopeDirs:    body.ScopeDirs,
		ScopeTags:    body.ScopeTags,
		Priority:     body.Priority,
		Dependencies: body.Dependencies,
		CreatedBy:    body.CreatedBy,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logSession("task_create", fmt.Sprintf("%s: %s", t.ID, clip(t.Title, 60)))
	s.publish("task_create", t)
	s.countTransition("create")
	c.JSON(http.StatusOK, gin.H{"ok": true, "task": t})
}

func (s *Server) handleTaskClaim(c *gin.Context) {
	var body struct {
		TaskID     string `json:"task_id"`
		InstanceID string `json:"instance_id"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.TaskID == "" || body.InstanceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Need 'task_id' and 'instance_id'"})
		return
	}
	t, err := s.deps.Tasks.Claim(body.TaskID, body.InstanceID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Cannot claim - not found, already claimed, or scope conflict"})
		return
	}
	s.logSession("task_claim", fmt.Sprintf("%s claimed by %s", t.ID, body.InstanceID))
	s.publish("task_claim", t)
	s.countTransition("claim")
	c.JSON(http.StatusOK, gin.H{"ok": true, "task": t})
}

// taskTransition handles start, complete, fail, and release, which share
// a body shape and differ only in the store call.
func (s *Server) taskTransition(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			TaskID     string   `json:"task_id"`
			InstanceID string   `json:"instance_id"`
			Result     string   `json:"result"`
			Artifacts  []string `json:"artifacts"`
			Reason     string   `json:"reason"`
		}
		_ = c.ShouldBindJSON(&body)
		if body.TaskID == "" || body.InstanceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Need 'task_id' and 'instance_id'"})
			return
		}

		var t *task.Task
		var err error
		switch action {
		case "start":
			t, err = s.deps.Tasks.Start(body.TaskID, body.InstanceID)
		case "complete":
			t, err = s.deps.Tasks.Complete(body.TaskID, body.InstanceID, body.Result, body.Artifacts)
		case "fail":
			t, err = s.deps.Tasks.Fail(body.TaskID, body.InstanceID, body.Reason)
		case "release":
			t, err = s.deps.Tasks.Release(body.TaskID, body.InstanceID)
		}
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Cannot %s - not claimed by you", action)})
			return
		}
		s.logSession("task_"+action, fmt.Sprintf("%s by %s", t.ID, body.InstanceID))
		s.publish("task_"+action, t)
		s.countTransition(action)
		c.JSON(http.StatusOK, gin.H{"ok": true, "task": t})
	}
}

func (s *Server) handleTaskNote(c *gin.Context) {
	var body struct {
		TaskID     string `json:"task_id"`
		InstanceID string `json:"instance_id"`
		Note       string `json:"note"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.TaskID == "" || body.InstanceID == "" || body.Note == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Need 'task_id', 'instance_id', and 'note'"})
		return
	}
	t, err := s.deps.Tasks.AddNote(body.TaskID, body.InstanceID, body.Note)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Cannot add note - not claimed by you"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "task": t})
}

func (s *Server) handleTaskDelete(c *gin.Context) {
	var body struct {
		TaskID string `json:"task_id"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.TaskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'task_id' field"})
		return
	}
	if err := s.deps.Tasks.Delete(body.TaskID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found or not deletable (must be pending/completed/failed)"})
		return
	}
	s.logSession("task_delete", body.TaskID)
	c.JSON(http.StatusOK, gin.H{"ok": true, "deleted": body.TaskID})
}

func (s *Server) handleTaskFromTemplate(c *gin.Context) {
	var body struct {
		Template     string   `json:"template"`
		Title        string   `json:"title"`
		Project      string   `json:"project"`
		ScopeFiles   []string `json:"scope_files"`
		ScopeDirs    []string `json:"scope_dirs"`
		ExtraTags    []string `json:"extra_tags"`
		Priority     string   `json:"priority"`
		Description  string   `json:"description"`
		Dependencies []string `json:"dependencies"`
		CreatedBy    string   `json:"created_by"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Template == "" || body.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Need 'template' and 'title'"})
		return
	}
	if body.CreatedBy == "" {
		body.CreatedBy = "ryan"
	}

	t, err := s.deps.Tasks.CreateFromTemplate(body.Template, task.TemplateParams{
		Title:        body.Title,
		Project:      body.Project,
		ScopeFiles:   body.ScopeFiles,
		ScopeDirs:    body.ScopeDirs,
		ExtraTags:    body.ExtraTags,
		Priority:     body.Priority,
		Description:  body.Description,
		Dependencies: body.Dependencies,
		CreatedBy:    body.CreatedBy,
	})
	if err != nil {
		names := make([]string, 0)
		for name := range task.Templates() {
			names = append(names, name)
		}
		sort.Strings(names)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     fmt.Sprintf("Unknown template '%s'", body.Template),
			"available": names,
		})
		return
	}
	s.logSession("task_from_template", fmt.Sprintf("%s via %s", t.ID, body.Template))
	c.JSON(http.StatusOK, gin.H{"ok": true, "task": t})
}

func (s *Server) countTransition(transition string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.TaskTransitions.WithLabelValues(transition).Inc()
	}
}
