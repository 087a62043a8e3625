package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// InboxItem is one unread note.
type InboxItem struct {
	Filename  string  `json:"filename"`
	Content   string  `json:"content"`
	Timestamp string  `json:"timestamp"`
	AgeHours  float64 `json:"age_hours"`
}

// Inbox is a directory of write-once note files. Clearing a note moves it
// into processed/ rather than deleting it.
type Inbox struct {
	dir string
}

// NewInbox returns an inbox rooted at dir.
func NewInbox(dir string) *Inbox {
	return &Inbox{dir: dir}
}

// Feed drops a note and returns its filename.
func (i *Inbox) Feed(message, source string) (string, error) {
	if err := os.MkdirAll(i.dir, 0o755); err != nil {
		return "", err
	}
	now := time.Now()
	filename := fmt.Sprintf("%s_%s.md", now.Format("20060102_150405"), source)

	content := fmt.Sprintf("# Note from %s\n*%s*\n\n%s\n",
		source, now.Format("January 2, 2006 at 3:04 PM"), message)

	if err := os.WriteFile(filepath.Join(i.dir, filename), []byte(content), 0o644); err != nil {
		return "", err
	}
	return filename, nil
}

// Items lists unread notes, oldest first.
func (i *Inbox) Items() []InboxItem {
	entries, err := os.ReadDir(i.dir)
	if err != nil {
		return nil
	}
	var items []InboxItem
	now := time.Now()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(i.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, InboxItem{
			Filename:  entry.Name(),
			Content:   string(data),
			Timestamp: info.ModTime().Format(time.RFC3339),
			AgeHours:  round1(now.Sub(info.ModTime()).Hours()),
		})
	}
	sort.Slice(items, func(a, b int) bool { return items[a].Filename < items[b].Filename })
	return items
}

// Clear moves a note into processed/. Returns false when absent.
func (i *Inbox) Clear(filename string) bool {
	// Reject anything that could escape the inbox directory.
	if filename != filepath.Base(filename) {
		return false
	}
	src := filepath.Join(i.dir, filename)
	if _, err := os.Stat(src); err != nil {
		return false
	}
	processed := filepath.Join(i.dir, "processed")
	if err := os.MkdirAll(processed, 0o755); err != nil {
		return false
	}
	return os.Rename(src, filepath.Join(processed, filename)) == nil
}

// Count returns the number of unread notes.
func (i *Inbox) Count() int {
	return len(i.Items())
}

func round1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}
