package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	apperr "howell/internal/errors"
	"howell/internal/genqueue"
)

func (s *Server) handleQueueGet(c *gin.Context) {
	plans := s.deps.Queue.List(c.Query("status"))
	for _, p := range plans {
		p.File = ""
	}
	c.JSON(http.StatusOK, gin.H{
		"summary": s.deps.Queue.Summary(),
		"count":   len(plans),
		"plans":   plans,
	})
}

func (s *Server) handleQueueSubmit(c *gin.Context) {
	var body struct {
		Prompt    string `json:"prompt"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Steps     int    `json:"steps"`
		Seed      int64  `json:"seed"`
		Series    string `json:"series"`
		Requester string `json:"requester"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'prompt' field"})
		return
	}

	plan, err := s.deps.Queue.Submit(genqueue.SubmitParams{
		Prompt:    body.Prompt,
		Width:     body.Width,
		Height:    body.Height,
		Steps:     body.Steps,
		Seed:      body.Seed,
		Series:    body.Series,
		Requester: body.Requester,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	plan.File = ""
	s.logSession("queue_submit", fmt.Sprintf("Plan %s: %s", plan.ID, clip(plan.Prompt, 60)))
	s.publish("queue_submit", plan)
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"plan":    plan,
		"message": fmt.Sprintf("⏳ Plan %s submitted - awaiting approval", plan.ID),
	})
}

func (s *Server) handleApprove(c *gin.Context) {
	var body struct {
		ID string `json:"id"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'id' field (plan ID or 'all')"})
		return
	}

	if body.ID == "all" {
		approved := s.deps.Queue.ApproveAll()
		ids := make([]string, 0, len(approved))
		for _, p := range approved {
			ids = append(ids, p.ID)
		}
		s.logSession("queue_approve_all", fmt.Sprintf("Approved %d plans", len(ids)))
		c.JSON(http.StatusOK, gin.H{"ok": true, "approved": ids, "count": len(ids)})
		return
	}

	plan, err := s.deps.Queue.Approve(body.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Plan '%s' not found or not pending", body.ID)})
		return
	}
	s.logSession("queue_approve", fmt.Sprintf("Plan %s approved", plan.ID))
	c.JSON(http.StatusOK, gin.H{"ok": true, "plan": plan})
}

func (s *Server) handleMoltbookGet(c *gin.Context) {
	posts := s.deps.Moltbook.List(c.Query("status"))
	for _, p := range posts {
		p.File = ""
	}
	c.JSON(http.StatusOK, gin.H{
		"summary": s.deps.Moltbook.Summary(),
		"count":   len(posts),
		"posts":   posts,
	})
}

func (s *Server) handleMoltbookSchedule(c *gin.Context) {
	var body struct {
		Title        string `json:"title"`
		Body         string `json:"body"`
		Submolt      string `json:"submolt"`
		ScheduledFor string `json:"scheduled_for"`
		Series       string `json:"series"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Title == "" || body.Body == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Required: title, body"})
		return
	}
	if body.Submolt == "" {
		body.Submolt = "monospacepoetry"
	}

	post, err := s.deps.Moltbook.Schedule(body.Title, body.Body, body.Submolt, body.ScheduledFor, body.Series)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInvalidArgument {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	post.File = ""
	s.logSession("moltbook_schedule", fmt.Sprintf("Post %s: %s", post.ID, clip(post.Title, 60)))
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"post":    post,
		"message": fmt.Sprintf("📝 Post %s scheduled for %s", post.ID, clip(post.ScheduledFor, 19)),
	})
}

func (s *Server) handleMoltbookCancel(c *gin.Context) {
	var body struct {
		ID string `json:"id"`
	}
	_ = c.ShouldBindJSON(&body)
	post, err := s.deps.Moltbook.Cancel(body.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Post '%s' not found or not scheduled", body.ID)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "post": post})
}
