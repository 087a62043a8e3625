// Package gitsync keeps the persist root in step across machines by
// driving a plain git clone of it. Pull runs at session start, push at
// session end; merge conflicts in the known store files are resolved
// automatically with per-file strategies.
package gitsync

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"howell/internal/logging"
)

// DefaultBranch is the sync branch when none is configured.
const DefaultBranch = "main"

const gitTimeout = 60 * time.Second

// gitignoreEntries cover machine-local and transient files that must never
// travel between machines.
var gitignoreEntries = []string{
	".api_key",
	".webhook_secret",
	"*.lock",
	"*.tmp",
	"errors/",
	"scratch/",
	"logs/",
	".machine_id",
}

// Result reports one pull or push cycle.
type Result struct {
	Status            string   `json:"status"`
	Machine           string   `json:"machine"`
	Message           string   `json:"message,omitempty"`
	Stashed           bool     `json:"stashed,omitempty"`
	CommitsPulled     int      `json:"commits_pulled,omitempty"`
	Files             []string `json:"files,omitempty"`
	ConflictsResolved []string `json:"conflicts_resolved,omitempty"`
	Unresolved        []string `json:"unresolved,omitempty"`
}

// Status is the current sync position of this machine.
type Status struct {
	MachineID     string `json:"machine_id"`
	LocalChanges  int    `json:"local_changes"`
	BehindRemote  int    `json:"behind_remote"`
	AheadOfRemote int    `json:"ahead_of_remote"`
	LastCommit    string `json:"last_commit"`
	PersistRoot   string `json:"persist_root"`
	Remote        string `json:"remote"`
	Branch        string `json:"branch"`
}

// Syncer drives git in the persist root.
type Syncer struct {
	root   string
	remote string
	branch string
	logger logging.Logger

	// run executes one git invocation; swapped out in tests.
	run func(args ...string) (stdout string, err error)
}

// New returns a syncer for the persist root. remote may be empty when the
// repository already has an origin configured.
func New(root, remote, branch string, logger logging.Logger) *Syncer {
	if branch == "" {
		branch = DefaultBranch
	}
	s := &Syncer{
		root:   root,
		remote: remote,
		branch: branch,
		logger: logging.OrNop(logger),
	}
	s.run = s.execGit
	return s
}

func (s *Syncer) execGit(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = s.root
	var out, errOut strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return "", err
	}
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			return out.String(), fmt.Errorf("git %s: %v: %s", args[0], err, strings.TrimSpace(errOut.String()))
		}
		return out.String(), nil
	case <-time.After(gitTimeout):
		_ = cmd.Process.Kill()
		return "", fmt.Errorf("git %s: timed out after %s", args[0], gitTimeout)
	}
}

// MachineID returns this machine's stable sync identity, minting and
// persisting one on first use. Format: hostname-xxxxxx.
func (s *Syncer) MachineID() string {
	idFile := filepath.Join(s.root, ".machine_id")
	if data, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	host = strings.ReplaceAll(strings.ToLower(host), " ", "-")
	if len(host) > 20 {
		host = host[:20]
	}
	id := fmt.Sprintf("%s-%s", host, strings.ReplaceAll(uuid.NewString(), "-", "")[:6])

	if err := os.WriteFile(idFile, []byte(id), 0o644); err != nil {
		s.logger.Warn("Could not persist machine id: %v", err)
	} else {
		s.logger.Info("Created machine ID: %s", id)
	}
	return id
}

func (s *Syncer) isRepo() bool {
	info, err := os.Stat(filepath.Join(s.root, ".git"))
	return err == nil && info.IsDir()
}

// Init turns the persist root into a git repository wired to the remote.
// Safe to run on an existing repo; it only ensures the origin then.
func (s *Syncer) Init() error {
	if s.isRepo() {
		if _, err := s.run("remote", "get-url", "origin"); err != nil && s.remote != "" {
			if _, err := s.run("remote", "add", "origin", s.remote); err != nil {
				return err
			}
			s.logger.Info("Added remote: %s", s.remote)
		}
		return nil
	}

	s.logger.Info("Initializing git repo in %s", s.root)
	if _, err := s.run("init"); err != nil {
		return err
	}
	if s.remote != "" {
		if _, err := s.run("remote", "add", "origin", s.remote); err != nil {
			return err
		}
	}

	gi := filepath.Join(s.root, ".gitignore")
	if err := os.WriteFile(gi, []byte(strings.Join(gitignoreEntries, "\n")+"\n"), 0o644); err != nil {
		return err
	}

	if _, err := s.run("add", "-A"); err != nil {
		return err
	}
	if _, err := s.run("commit", "-m", fmt.Sprintf("Initial commit from %s", s.MachineID())); err != nil {
		return err
	}
	if _, err := s.run("branch", "-M", s.branch); err != nil {
		return err
	}
	if s.remote != "" {
		if _, err := s.run("push", "-u", "origin", s.branch); err != nil {
			s.logger.Warn("Initial push failed (auth not set up?): %v", err)
		}
	}
	return nil
}

// Pull fetches and merges the remote branch, stashing local edits around
// the merge and auto-resolving conflicts in the known store files.
func (s *Syncer) Pull() (*Result, error) {
	if !s.isRepo() {
		return nil, fmt.Errorf("not a git repo, run 'howell sync init' first")
	}

	res := &Result{Status: "ok", Machine: s.MachineID()}

	dirty, err := s.localChanges()
	if err != nil {
		return nil, err
	}
	if dirty > 0 {
		msg := fmt.Sprintf("auto-stash before pull (%s, %s)", res.Machine, time.Now().Format(time.RFC3339))
		if _, err := s.run("stash", "push", "-m", msg); err != nil {
			return nil, err
		}
		res.Stashed = true
	}
	popStash := func() {
		if res.Stashed {
			if _, err := s.run("stash", "pop"); err != nil {
				s.logger.Warn("Stash pop hit conflicts, local edits kept in stash: %v", err)
			}
		}
	}

	if _, err := s.run("fetch", "origin", s.branch); err != nil {
		popStash()
		res.Status = "offline"
		res.Message = "Could not reach remote (offline?)"
		return res, nil
	}

	behind := s.revCount("HEAD..origin/" + s.branch)
	if behind == 0 {
		popStash()
		res.Message = "Already up to date"
		return res, nil
	}

	if _, err := s.run("merge", "origin/"+s.branch, "--no-edit"); err != nil {
		conflicts := s.conflictFiles()
		resolved := s.autoResolve(conflicts)
		if resolved {
			if _, err := s.run("add", "-A"); err != nil {
				popStash()
				return nil, err
			}
			if _, err := s.run("commit", "-m", "Auto-resolved merge from "+res.Machine); err != nil {
				popStash()
				return nil, err
			}
			res.Status = "resolved"
			res.Message = fmt.Sprintf("Auto-resolved %d conflict(s)", len(conflicts))
			res.ConflictsResolved = conflicts
		} else {
			res.Status = "conflict"
			res.Message = fmt.Sprintf("Manual resolution needed: %s", strings.Join(conflicts, ", "))
			res.Unresolved = conflicts
		}
	} else {
		res.Message = fmt.Sprintf("Pulled %d commit(s) from remote", behind)
		res.CommitsPulled = behind
	}

	popStash()
	return res, nil
}

// Push commits everything dirty under the persist root and pushes it with
// a machine-tagged message.
func (s *Syncer) Push() (*Result, error) {
	if !s.isRepo() {
		return nil, fmt.Errorf("not a git repo, run 'howell sync init' first")
	}

	res := &Result{Status: "ok", Machine: s.MachineID()}

	out, err := s.run("status", "--porcelain")
	if err != nil {
		return nil, err
	}
	changed := porcelainFiles(out)
	if len(changed) == 0 {
		res.Message = "Nothing to push (clean)"
		return res, nil
	}

	if _, err := s.run("add", "-A"); err != nil {
		return nil, err
	}

	parts := make([]string, 0, 6)
	for _, f := range changed {
		if len(parts) == 5 {
			parts = append(parts, fmt.Sprintf("+%d more", len(changed)-5))
			break
		}
		parts = append(parts, filepath.Base(f))
	}
	msg := fmt.Sprintf("sync(%s): %s [%s]", res.Machine, strings.Join(parts, ", "),
		time.Now().Format("2006-01-02 15:04"))
	if _, err := s.run("commit", "-m", msg); err != nil {
		return nil, fmt.Errorf("commit failed: %w", err)
	}

	if _, err := s.run("push", "origin", s.branch); err != nil {
		res.Status = "needs_pull"
		res.Message = "Push rejected - pull first, then push again"
		return res, nil
	}

	res.Message = fmt.Sprintf("Pushed %d file(s)", len(changed))
	res.Files = changed
	return res, nil
}

// CurrentStatus reports the machine's position relative to the remote.
func (s *Syncer) CurrentStatus() (*Status, error) {
	if !s.isRepo() {
		return nil, fmt.Errorf("not a git repo, run 'howell sync init' first")
	}

	local, err := s.localChanges()
	if err != nil {
		return nil, err
	}
	// Best effort; the counts below just read 0 when offline.
	_, _ = s.run("fetch", "origin", s.branch)

	last := "none"
	if out, err := s.run("log", "--oneline", "-1", "--format=%h %s (%ar)"); err == nil {
		if line := strings.TrimSpace(out); line != "" {
			last = line
		}
	}

	return &Status{
		MachineID:     s.MachineID(),
		LocalChanges:  local,
		BehindRemote:  s.revCount("HEAD..origin/" + s.branch),
		AheadOfRemote: s.revCount("origin/" + s.branch + "..HEAD"),
		LastCommit:    last,
		PersistRoot:   s.root,
		Remote:        s.remote,
		Branch:        s.branch,
	}, nil
}

// Auto is the full cycle: pull, then push.
func (s *Syncer) Auto() (*Result, *Result, error) {
	pull, err := s.Pull()
	if err != nil {
		return nil, nil, err
	}
	push, err := s.Push()
	if err != nil {
		return pull, nil, err
	}
	return pull, push, nil
}

func (s *Syncer) localChanges() (int, error) {
	out, err := s.run("status", "--porcelain")
	if err != nil {
		return 0, err
	}
	return len(porcelainFiles(out)), nil
}

func (s *Syncer) revCount(spec string) int {
	out, err := s.run("rev-list", spec, "--count")
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimSpace(out))
	return n
}

func (s *Syncer) conflictFiles() []string {
	out, err := s.run("diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files
}

func porcelainFiles(out string) []string {
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		files = append(files, fields[len(fields)-1])
	}
	return files
}
