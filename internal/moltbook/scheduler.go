package moltbook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"howell/internal/logging"
)

// DefaultAPI is the production Moltbook endpoint.
const DefaultAPI = "https://www.moltbook.com/api/v1/posts"

// Scheduler delivers due posts once a minute.
type Scheduler struct {
	store  *Store
	api    string
	token  string
	http   *http.Client
	logger logging.Logger
	cron   *cron.Cron

	mu          sync.Mutex
	pollCount   int
	lastPoll    string
	totalPosted int
	totalFailed int
}

// NewScheduler wires the delivery loop. An empty token means unauthenticated
// posting; an empty api falls back to production.
func NewScheduler(store *Store, api, token string, logger logging.Logger) *Scheduler {
	if api == "" {
		api = DefaultAPI
	}
	return &Scheduler{
		store:  store,
		api:    api,
		token:  token,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logging.OrNop(logger),
	}
}

// Start begins the once-a-minute delivery sweep.
func (s *Scheduler) Start() {
	s.cron = cron.New()
	_, _ = s.cron.AddFunc("@every 1m", s.Sweep)
	s.cron.Start()
}

// Stop halts the sweep, waiting for an in-flight delivery to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep delivers every post whose scheduled time has passed.
func (s *Scheduler) Sweep() {
	s.mu.Lock()
	s.pollCount++
	s.lastPoll = time.Now().Format(time.RFC3339)
	s.mu.Unlock()

	now := time.Now()
	for _, post := range s.store.List(PostScheduled) {
		due, err := time.Parse(time.RFC3339, post.ScheduledFor)
		if err != nil || now.Before(due) {
			continue
		}
		s.logger.Info("📮 Posting to m/%s: %.40s", post.Submolt, post.Title)
		if s.deliver(post) {
			s.logger.Info("✅ Posted: %.40s", post.Title)
		} else {
			s.logger.Error("❌ Failed: %s", post.Error)
		}
	}
}

// honestFooter appends the actual delivery time. Ryan's boundary: posts
// are honest about timestamps, never pretending to be live.
func honestFooter(body string, actual time.Time) string {
	return fmt.Sprintf("%s\n\n---\n*— Posted via Howell Daemon at %s*",
		body, actual.Format("January 2, 2006 at 3:04 PM"))
}

func (s *Scheduler) deliver(post *Post) bool {
	now := time.Now()
	payload, err := json.Marshal(map[string]string{
		"title":   post.Title,
		"body":    honestFooter(post.Body, now),
		"submolt": post.Submolt,
	})
	if err != nil {
		return s.fail(post, now, err.Error())
	}

	req, err := http.NewRequest(http.MethodPost, s.api, bytes.NewReader(payload))
	if err != nil {
		return s.fail(post, now, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return s.fail(post, now, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		msg := string(body)
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return s.fail(post, now, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg))
	}

	post.Status = PostPosted
	post.PostedAt = now.Format(time.RFC3339)
	post.Response = string(body)
	if err := s.store.update(post); err != nil {
		s.logger.Error("Post %s result write failed: %v", post.ID, err)
	}
	s.mu.Lock()
	s.totalPosted++
	s.mu.Unlock()
	return true
}

func (s *Scheduler) fail(post *Post, now time.Time, reason string) bool {
	post.Status = PostFailed
	post.Error = reason
	post.PostedAt = now.Format(time.RFC3339)
	if err := s.store.update(post); err != nil {
		s.logger.Error("Post %s failure write failed: %v", post.ID, err)
	}
	s.mu.Lock()
	s.totalFailed++
	s.mu.Unlock()
	return false
}

// Stats is the live scheduler state for /stats.
type Stats struct {
	TotalPosts     int            `json:"total_posts"`
	ByStatus       map[string]int `json:"by_status"`
	PollCount      int            `json:"poll_count"`
	LastPoll       string         `json:"last_poll,omitempty"`
	TotalPosted    int            `json:"total_posted"`
	TotalFailed    int            `json:"total_failed"`
	NextDue        string         `json:"next_due,omitempty"`
	AuthConfigured bool           `json:"auth_configured"`
	Profile        string         `json:"profile"`
	Submolts       []string       `json:"submolts"`
}

// Stats returns queue counts plus the next due post.
func (s *Scheduler) Stats() Stats {
	posts := s.store.List("")
	byStatus := map[string]int{}
	nextDue := ""
	for _, p := range posts {
		byStatus[p.Status]++
		if p.Status == PostScheduled && (nextDue == "" || p.ScheduledFor < nextDue) {
			nextDue = p.ScheduledFor
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		TotalPosts:     len(posts),
		ByStatus:       byStatus,
		PollCount:      s.pollCount,
		LastPoll:       s.lastPoll,
		TotalPosted:    s.totalPosted,
		TotalFailed:    s.totalFailed,
		NextDue:        nextDue,
		AuthConfigured: s.token != "",
		Profile:        Profile,
		Submolts:       Submolts,
	}
}
