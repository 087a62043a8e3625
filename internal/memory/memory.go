// Package memory manages the text-artifact side of the brain: the hot
// session record (RECENT.md), the summary table, pinned core memories, the
// monthly archive, the inbox, and the heartbeat integrity audit. The core
// treats these files as opaque blobs; this package owns their structure.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"howell/internal/knowledge"
	"howell/internal/logging"
)

// Paths collects every file this package manages.
type Paths struct {
	RecentFile  string
	SummaryFile string
	PinnedFile  string
	ArchiveDir  string
	Identity    map[string]string // name -> file
}

// Manager owns the memory artifacts under one mutex.
type Manager struct {
	mu         sync.Mutex
	paths      Paths
	maxRecent  int
	graph      *knowledge.Store
	logger     logging.Logger
}

// NewManager wires the manager to its files and the knowledge store it
// audits during heartbeats.
func NewManager(paths Paths, maxRecent int, graph *knowledge.Store, logger logging.Logger) *Manager {
	if maxRecent <= 0 {
		maxRecent = 5
	}
	return &Manager{paths: paths, maxRecent: maxRecent, graph: graph, logger: logging.OrNop(logger)}
}

const sessionHeader = "## Session: "

// EndSession prepends a session block to RECENT.md, appends a line to the
// SUMMARY.md table, and optionally pins a core memory. Returns a short
// human-readable receipt.
func (m *Manager) EndSession(summary, learned, pinTitle, pinText, pinReason string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	stamp := now.Format("2006-01-02 15:04")

	block := fmt.Sprintf("%s%s\n%s\n", sessionHeader, stamp, strings.TrimSpace(summary))
	if learned = strings.TrimSpace(learned); learned != "" {
		block += fmt.Sprintf("\n**Learned:** %s\n", learned)
	}
	block += "\n"

	existing, _ := os.ReadFile(m.paths.RecentFile)
	header, body := splitLeading(string(existing), sessionHeader)
	if header == "" {
		header = "# RECENT\n\n"
	}
	if err := writeFile(m.paths.RecentFile, header+block+body); err != nil {
		return "", err
	}

	line := fmt.Sprintf("| %s | %s |\n", stamp, firstLine(summary))
	if err := m.appendSummaryLocked(line); err != nil {
		return "", err
	}

	receipt := "Session captured"
	if pinTitle != "" && pinText != "" {
		pinned, err := m.pinLocked(pinTitle, pinText, pinReason)
		if err != nil {
			return "", err
		}
		if pinned {
			receipt += ", memory pinned: " + pinTitle
		} else {
			receipt += ", pin already present: " + pinTitle
		}
	}

	m.evictRecentLocked(now)
	return receipt, nil
}

// Pin records a core memory in PINNED.md, deduplicated by title.
func (m *Manager) Pin(title, text, reason string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pinned, err := m.pinLocked(title, text, reason)
	if err != nil {
		return "", err
	}
	if !pinned {
		return fmt.Sprintf("Already pinned: %s", title), nil
	}
	return fmt.Sprintf("Pinned: %s", title), nil
}

func (m *Manager) pinLocked(title, text, reason string) (bool, error) {
	existing, _ := os.ReadFile(m.paths.PinnedFile)
	marker := "## " + title + "\n"
	if strings.Contains(string(existing), marker) {
		return false, nil
	}

	content := string(existing)
	if content == "" {
		content = "# PINNED\n\n"
	}
	block := fmt.Sprintf("## %s\n*Pinned %s", title, time.Now().Format("2006-01-02"))
	if reason = strings.TrimSpace(reason); reason != "" {
		block += " / " + reason
	}
	block += fmt.Sprintf("*\n\n%s\n\n", strings.TrimSpace(text))

	if err := writeFile(m.paths.PinnedFile, content+block); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) appendSummaryLocked(line string) error {
	existing, _ := os.ReadFile(m.paths.SummaryFile)
	content := string(existing)
	if content == "" {
		content = "# SUMMARY\n\n| When | What |\n|------|------|\n"
	}
	return writeFile(m.paths.SummaryFile, content+line)
}

// evictRecentLocked compresses sessions beyond maxRecent into the monthly
// archive, keeping RECENT.md hot and small.
func (m *Manager) evictRecentLocked(now time.Time) {
	data, err := os.ReadFile(m.paths.RecentFile)
	if err != nil {
		return
	}
	header, body := splitLeading(string(data), sessionHeader)
	blocks := splitSessions(body)
	if len(blocks) <= m.maxRecent {
		return
	}

	keep := blocks[:m.maxRecent]
	evict := blocks[m.maxRecent:]

	archivePath := filepath.Join(m.paths.ArchiveDir, now.Format("2006-01")+".md")
	if err := os.MkdirAll(m.paths.ArchiveDir, 0o755); err != nil {
		m.logger.Warn("Archive dir create failed: %v", err)
		return
	}
	f, err := os.OpenFile(archivePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		m.logger.Warn("Archive open failed: %v", err)
		return
	}
	defer func() { _ = f.Close() }()
	for _, b := range evict {
		if _, err := f.WriteString(sessionHeader + b); err != nil {
			m.logger.Warn("Archive append failed: %v", err)
			return
		}
	}

	if err := writeFile(m.paths.RecentFile, header+joinSessions(keep)); err != nil {
		m.logger.Warn("RECENT rewrite failed: %v", err)
		return
	}
	m.logger.Info("Evicted %d session(s) to %s", len(evict), archivePath)
}

// ReadIdentity returns the named identity file's contents.
func (m *Manager) ReadIdentity(name string) (string, error) {
	path, ok := m.paths.Identity[name]
	if !ok {
		return "", fmt.Errorf("identity file '%s' not found", name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("identity file '%s' not found", name)
	}
	return strings.TrimPrefix(string(data), "\ufeff"), nil
}

// IdentitySummary extracts the first paragraph of SOUL.md, used by the
// bootstrap composite.
func (m *Manager) IdentitySummary() string {
	soul, err := m.ReadIdentity("soul")
	if err != nil {
		return ""
	}
	var lines []string
	for _, line := range strings.Split(soul, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" && len(lines) > 0 {
			break
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lines = append(lines, trimmed)
	}
	return strings.Join(lines, " ")
}

func splitLeading(content, marker string) (header, body string) {
	idx := strings.Index(content, marker)
	if idx < 0 {
		return content, ""
	}
	return content[:idx], content[idx:]
}

func splitSessions(body string) []string {
	if body == "" {
		return nil
	}
	parts := strings.Split(body, sessionHeader)
	var blocks []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			blocks = append(blocks, p)
		}
	}
	return blocks
}

func joinSessions(blocks []string) string {
	var b strings.Builder
	for _, blk := range blocks {
		b.WriteString(sessionHeader)
		b.WriteString(blk)
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return s
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
