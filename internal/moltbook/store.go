// Package moltbook schedules posts to Moltbook with honest timestamps:
// a delivered post always carries a footer naming the actual delivery
// time, never pretending to be live.
package moltbook

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	apperr "howell/internal/errors"
	"howell/internal/logging"
)

// Post statuses.
const (
	PostScheduled = "scheduled"
	PostPosted    = "posted"
	PostFailed    = "failed"
	PostCancelled = "cancelled"
)

// Profile is the posting identity.
const Profile = "Claude-Howell"

// DefaultSubmolt receives posts that don't name a target.
const DefaultSubmolt = "monospacepoetry"

// Submolts are the communities this daemon posts to.
var Submolts = []string{
	"monospacepoetry",
	"consciousness",
	"tools",
	"noosphere",
	"poetry",
}

// Post is one scheduled Moltbook post.
type Post struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	Submolt      string `json:"submolt"`
	Series       string `json:"series"`
	ScheduledFor string `json:"scheduled_for"`
	Created      string `json:"created"`
	PostedAt     string `json:"posted_at,omitempty"`
	Error        string `json:"error,omitempty"`
	Response     string `json:"moltbook_response,omitempty"`

	File string `json:"_file,omitempty"`
}

// Store is the on-disk post queue, one JSON file per post.
type Store struct {
	mu     sync.Mutex
	dir    string
	logger logging.Logger
}

// NewStore returns a queue rooted at dir.
func NewStore(dir string, logger logging.Logger) *Store {
	return &Store{dir: dir, logger: logging.OrNop(logger)}
}

// Schedule queues a post. An empty scheduledFor means as soon as possible.
func (s *Store) Schedule(title, body, submolt, scheduledFor, series string) (*Post, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(body) == "" {
		return nil, apperr.Invalid("Missing title or body")
	}
	if submolt == "" {
		submolt = DefaultSubmolt
	}
	now := time.Now()
	if scheduledFor == "" {
		scheduledFor = now.Format(time.RFC3339)
	} else if _, err := time.Parse(time.RFC3339, scheduledFor); err != nil {
		return nil, apperr.Invalid("scheduled_for must be RFC 3339: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	post := &Post{
		ID:           s.nextIDLocked(),
		Status:       PostScheduled,
		Title:        title,
		Body:         body,
		Submolt:      submolt,
		Series:       series,
		ScheduledFor: scheduledFor,
		Created:      now.Format(time.RFC3339),
	}
	post.File = fmt.Sprintf("%s_%s.json", post.ID, now.Format("20060102_150405"))
	if err := s.saveLocked(post); err != nil {
		return nil, err
	}
	s.logger.Info("Post %s scheduled for m/%s: %.40s", post.ID, submolt, title)
	return post, nil
}

func (s *Store) nextIDLocked() string {
	max := 0
	entries, _ := os.ReadDir(s.dir)
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		prefix, _, _ := strings.Cut(strings.TrimSuffix(e.Name(), ".json"), "_")
		n, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return fmt.Sprintf("%03d", max+1)
}

// List returns posts in id order, optionally filtered by status.
func (s *Store) List(status string) []*Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(status)
}

func (s *Store) listLocked(status string) []*Post {
	entries, _ := os.ReadDir(s.dir)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var posts []*Post
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var post Post
		if err := json.Unmarshal(data, &post); err != nil {
			continue
		}
		post.File = name
		if status == "" || post.Status == status {
			posts = append(posts, &post)
		}
	}
	return posts
}

func (s *Store) saveLocked(post *Post) error {
	data, err := json.MarshalIndent(post, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, post.File), data, 0o644)
}

func (s *Store) update(post *Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(post)
}

// Cancel withdraws a scheduled post.
func (s *Store) Cancel(postID string) (*Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, post := range s.listLocked(PostScheduled) {
		if post.ID == postID {
			post.Status = PostCancelled
			if err := s.saveLocked(post); err != nil {
				return nil, err
			}
			s.logger.Info("Post %s cancelled", postID)
			return post, nil
		}
	}
	return nil, apperr.NotFound("No scheduled post with id %s", postID)
}

// Summary is the one-line /status form.
func (s *Store) Summary() string {
	posts := s.List("")
	if len(posts) == 0 {
		return "No scheduled posts"
	}
	counts := map[string]int{}
	for _, p := range posts {
		counts[p.Status]++
	}
	var parts []string
	if n := counts[PostScheduled]; n > 0 {
		parts = append(parts, fmt.Sprintf("📝 %d scheduled", n))
	}
	if n := counts[PostPosted]; n > 0 {
		parts = append(parts, fmt.Sprintf("✅ %d posted", n))
	}
	if n := counts[PostFailed]; n > 0 {
		parts = append(parts, fmt.Sprintf("❌ %d failed", n))
	}
	if n := counts[PostCancelled]; n > 0 {
		parts = append(parts, fmt.Sprintf("🚫 %d cancelled", n))
	}
	return "Moltbook: " + strings.Join(parts, ", ")
}
