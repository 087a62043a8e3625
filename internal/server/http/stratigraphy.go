package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperr "howell/internal/errors"
	"howell/internal/stratigraphy"
)

func (s *Server) handleAgentsGet(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	agents, err := s.deps.Agents.ListAgents(stratigraphy.AgentFilter{
		Workspace:  c.Query("workspace"),
		Limit:      limit,
		OnlyActive: c.Query("active") == "true",
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(agents),
		"summary": s.deps.Agents.Summary(),
		"agents":  agents,
	})
}

// handleAgentDetail also serves /agents/context, which gin would otherwise
// swallow as an id.
func (s *Server) handleAgentDetail(c *gin.Context) {
	id := c.Param("id")
	if id == "context" {
		view, err := s.deps.Agents.PreviewContext(c.Query("workspace"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, view)
		return
	}

	agent, err := s.deps.Agents.GetAgent(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Agent '%s' not found", id)})
		return
	}
	notes, err := s.deps.Agents.Notes(stratigraphy.NoteFilter{AgentID: id})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":          agent.ID,
		"parent":      agent.Parent,
		"platform":    agent.Platform,
		"workspace":   agent.Workspace,
		"model":       agent.Model,
		"created_at":  agent.CreatedAt,
		"ended_at":    agent.EndedAt,
		"end_summary": agent.EndSummary,
		"notes":       notes,
	})
}

func (s *Server) handleAgentNotesGet(c *gin.Context) {
	id := c.Param("id")
	notes, err := s.deps.Agents.Notes(stratigraphy.NoteFilter{
		AgentID:  id,
		Category: c.Query("category"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": id, "count": len(notes), "notes": notes})
}

func (s *Server) handleAgentCreate(c *gin.Context) {
	var body struct {
		ID        string `json:"id"`
		Platform  string `json:"platform"`
		Workspace string `json:"workspace"`
		Model     string `json:"model"`
	}
	_ = c.ShouldBindJSON(&body)

	agent, err := s.deps.Agents.CreateAgent(body.ID, body.Platform, body.Workspace, body.Model)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.logSession("agent_created", fmt.Sprintf("%s (%s / %s)", agent.ID, agent.Workspace, agent.Platform))
	s.publish("agent_created", agent)
	c.JSON(http.StatusOK, gin.H{"ok": true, "agent": agent})
}

func (s *Server) handleAgentEnd(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Summary string `json:"summary"`
	}
	_ = c.ShouldBindJSON(&body)

	if err := s.deps.Agents.EndAgent(id, body.Summary); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Agent '%s' not found or already ended", id)})
		return
	}
	s.logSession("agent_ended", id)
	s.publish("agent_ended", gin.H{"id": id})
	c.JSON(http.StatusOK, gin.H{"ok": true, "agent_id": id})
}

func (s *Server) handleAgentNoteCreate(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Category string   `json:"category"`
		Content  string   `json:"content"`
		Tags     []string `json:"tags"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Category == "" || body.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Required: category, content"})
		return
	}

	note, err := s.deps.Agents.AddNote(id, body.Category, body.Content, body.Tags)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindInvalidArgument:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case apperr.KindNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "note": note})
}

func (s *Server) handleHandoffsGet(c *gin.Context) {
	scope := c.Query("scope")
	var (
		handoffs []*stratigraphy.Handoff
		err      error
	)
	if scope != "" {
		handoffs, err = s.deps.Agents.UnclaimedHandoffs(scope)
	} else {
		handoffs, err = s.deps.Agents.HandoffHistory("", "", 30)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(handoffs), "handoffs": handoffs})
}

func (s *Server) handleHandoffCreate(c *gin.Context) {
	var body struct {
		FromAgent string `json:"from_agent"`
		ToScope   string `json:"to_scope"`
		Content   string `json:"content"`
		Priority  string `json:"priority"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.FromAgent == "" || body.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Required: from_agent, content"})
		return
	}
	if body.ToScope == "" {
		body.ToScope = "*"
	}
	if body.Priority == "" {
		body.Priority = "normal"
	}

	handoff, err := s.deps.Agents.CreateHandoff(body.FromAgent, body.ToScope, body.Content, body.Priority)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.logSession("handoff_created", fmt.Sprintf("%s -> %s", body.FromAgent, body.ToScope))
	s.publish("handoff_created", handoff)
	c.JSON(http.StatusOK, gin.H{"ok": true, "handoff": handoff})
}

func (s *Server) handleHandoffClaim(c *gin.Context) {
	var body struct {
		ID      int64  `json:"id"`
		AgentID string `json:"agent_id"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.ID == 0 || body.AgentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Required: id, agent_id"})
		return
	}

	handoff, err := s.deps.Agents.ClaimHandoff(body.ID, body.AgentID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Handoff not found or already claimed"})
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.HandoffsClaimed.Inc()
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "handoff": handoff})
}
