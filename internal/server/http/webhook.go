package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"howell/internal/task"
)

type webhookPayload struct {
	Action string `json:"action"`
	Issue  *struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		Body    string `json:"body"`
		HTMLURL string `json:"html_url"`
		Labels  []struct {
			Name string `json:"name"`
		} `json:"labels"`
	} `json:"issue"`
	PullRequest *struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		HTMLURL string `json:"html_url"`
		Head    struct {
			Ref string `json:"ref"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
	Ref        string `json:"ref"`
	Repository struct {
		Name string `json:"name"`
	} `json:"repository"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
	Commits []struct {
		Message string `json:"message"`
	} `json:"commits"`
}

// handleGitHubWebhook turns GitHub events into board tasks. The signature
// check is skipped when GitHub sends no signature header, so repos without
// a configured secret still work.
func (s *Server) handleGitHubWebhook(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if sig := c.GetHeader("X-Hub-Signature-256"); sig != "" {
		mac := hmac.New(sha256.New, []byte(s.webhookSecret))
		mac.Write(raw)
		expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(sig), []byte(expected)) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
			return
		}
	}

	event := c.GetHeader("X-GitHub-Event")
	if s.deps.Metrics != nil {
		s.deps.Metrics.WebhookEvents.WithLabelValues(event).Inc()
	}

	var payload webhookPayload
	_ = json.Unmarshal(raw, &payload)

	if event == "ping" {
		c.JSON(http.StatusOK, gin.H{"ok": true, "message": "pong"})
		return
	}

	var created []*task.Task
	switch event {
	case "issues":
		created = s.webhookIssue(payload)
	case "pull_request":
		created = s.webhookPullRequest(payload)
	case "push":
		created = s.webhookPush(payload)
	}

	tasksCreated := make([]gin.H, 0, len(created))
	for _, t := range created {
		tasksCreated = append(tasksCreated, gin.H{"id": t.ID, "title": t.Title})
	}
	resp := gin.H{"ok": true, "event": event, "tasks_created": tasksCreated}
	if len(created) == 0 {
		resp["note"] = "No task created for this event"
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) webhookIssue(p webhookPayload) []*task.Task {
	if p.Action != "opened" || p.Issue == nil {
		return nil
	}
	issue := p.Issue

	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.Name)
	}
	template := "feature"
	for _, l := range labels {
		switch l {
		case "bug", "bugfix":
			template = "bug"
		case "refactor", "cleanup", "tech-debt":
			template = "refactor"
		}
	}

	body := truncateRunes(issue.Body, 500)
	t, err := s.deps.Tasks.CreateFromTemplate(template, task.TemplateParams{
		Title:       issue.Title,
		ExtraTags:   append([]string{"github", fmt.Sprintf("issue-%d", issue.Number)}, labels...),
		Description: fmt.Sprintf("GitHub Issue #%d: %s\n\n%s\n\nURL: %s", issue.Number, issue.Title, body, issue.HTMLURL),
		CreatedBy:   "github:" + p.Sender.Login,
	})
	if err != nil {
		s.logger.Warn("Webhook issue task failed: %v", err)
		return nil
	}
	s.logSession("webhook_issue", fmt.Sprintf("#%d -> %s", issue.Number, t.ID))
	return []*task.Task{t}
}

func (s *Server) webhookPullRequest(p webhookPayload) []*task.Task {
	if p.Action != "opened" || p.PullRequest == nil {
		return nil
	}
	pr := p.PullRequest

	t, err := s.deps.Tasks.Create(task.CreateParams{
		Title:     "Review PR: " + pr.Title,
		ScopeTags: []string{"github", "pr-review", fmt.Sprintf("pr-%d", pr.Number)},
		Priority:  "medium",
		Description: fmt.Sprintf("GitHub PR #%d: %s\n\nBranch: %s -> %s\n\nURL: %s",
			pr.Number, pr.Title, pr.Head.Ref, pr.Base.Ref, pr.HTMLURL),
		CreatedBy: "github:" + p.Sender.Login,
	})
	if err != nil {
		s.logger.Warn("Webhook PR task failed: %v", err)
		return nil
	}
	s.logSession("webhook_pr", fmt.Sprintf("#%d -> %s", pr.Number, t.ID))
	return []*task.Task{t}
}

func (s *Server) webhookPush(p webhookPayload) []*task.Task {
	branch := strings.TrimPrefix(p.Ref, "refs/heads/")
	if (branch != "main" && branch != "master") || len(p.Commits) == 0 {
		return nil
	}

	var lines []string
	for i, commit := range p.Commits {
		if i == 5 {
			break
		}
		first := commit.Message
		if idx := strings.IndexByte(first, '\n'); idx >= 0 {
			first = first[:idx]
		}
		lines = append(lines, "- "+first)
	}

	t, err := s.deps.Tasks.CreateFromTemplate("deploy", task.TemplateParams{
		Title:     fmt.Sprintf("%s (%s) - %d commit(s)", p.Repository.Name, branch, len(p.Commits)),
		ExtraTags: []string{"github", "auto-deploy"},
		Description: fmt.Sprintf("Push to %s by %s:\n%s",
			branch, p.Pusher.Name, strings.Join(lines, "\n")),
		CreatedBy: "github:" + p.Pusher.Name,
	})
	if err != nil {
		s.logger.Warn("Webhook push task failed: %v", err)
		return nil
	}
	s.logSession("webhook_push", fmt.Sprintf("%s@%s -> %s", p.Repository.Name, branch, t.ID))
	return []*task.Task{t}
}

// truncateRunes clips s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
