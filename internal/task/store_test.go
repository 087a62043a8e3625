package task

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "howell/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(filepath.Join(dir, "tasks.json"), filepath.Join(dir, "archive"), nil)
}

func mustCreate(t *testing.T, s *Store, p CreateParams) *Task {
	t.Helper()
	task, err := s.Create(p)
	require.NoError(t, err)
	return task
}

func TestCreateAssignsDatePrefixedID(t *testing.T) {
	s := newTestStore(t)
	task := mustCreate(t, s, CreateParams{Title: "wire the kiln"})

	assert.Regexp(t, `^\d{6}-[0-9a-f]{6}$`, task.ID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, "medium", task.Priority)
	assert.Equal(t, "ryan", task.CreatedBy)
	assert.NotNil(t, task.Scope.Files)
	assert.NotNil(t, task.Notes)
}

func TestCreateRejectsEmptyTitle(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(CreateParams{Title: "  "})
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestClaimLifecycle(t *testing.T) {
	s := newTestStore(t)
	task := mustCreate(t, s, CreateParams{Title: "fix webhook"})

	claimed, err := s.Claim(task.ID, "abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, claimed.Status)
	assert.Equal(t, "abc123", claimed.ClaimedBy)
	assert.NotEmpty(t, claimed.ClaimedAt)

	// Double claim fails.
	_, err = s.Claim(task.ID, "other")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	started, err := s.Start(task.ID, "abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)

	done, err := s.Complete(task.ID, "abc123", "done", []string{"webhook.go"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "done", done.Result)
	assert.Equal(t, []string{"webhook.go"}, done.Artifacts)
}

func TestClaimScopeConflict(t *testing.T) {
	s := newTestStore(t)
	first := mustCreate(t, s, CreateParams{Title: "api work", ScopeDirs: []string{"src/api"}})
	second := mustCreate(t, s, CreateParams{Title: "src sweep", ScopeDirs: []string{"src"}})

	_, err := s.Claim(first.ID, "worker-a")
	require.NoError(t, err)

	_, err = s.Claim(second.ID, "worker-b")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// Disjoint scope claims fine.
	third := mustCreate(t, s, CreateParams{Title: "docs", ScopeDirs: []string{"docs"}})
	_, err = s.Claim(third.ID, "worker-b")
	assert.NoError(t, err)
}

func TestStartRequiresClaimer(t *testing.T) {
	s := newTestStore(t)
	task := mustCreate(t, s, CreateParams{Title: "x"})
	_, err := s.Claim(task.ID, "owner")
	require.NoError(t, err)

	_, err = s.Start(task.ID, "imposter")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestFailReturnsTaskToPending(t *testing.T) {
	s := newTestStore(t)
	task := mustCreate(t, s, CreateParams{Title: "flaky"})
	_, err := s.Claim(task.ID, "w1")
	require.NoError(t, err)
	_, err = s.Start(task.ID, "w1")
	require.NoError(t, err)

	failed, err := s.Fail(task.ID, "w1", "kiln exploded")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, failed.Status)
	assert.Empty(t, failed.ClaimedBy)
	assert.Empty(t, failed.StartedAt)
	require.Len(t, failed.Notes, 1)
	assert.Equal(t, "FAILED by w1: kiln exploded", failed.Notes[0].Note)

	// Another worker can pick it up.
	_, err = s.Claim(task.ID, "w2")
	assert.NoError(t, err)
}

func TestReleaseAppendsNote(t *testing.T) {
	s := newTestStore(t)
	task := mustCreate(t, s, CreateParams{Title: "long job"})
	_, err := s.Claim(task.ID, "w1")
	require.NoError(t, err)

	released, err := s.Release(task.ID, "w1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, released.Status)
	assert.Equal(t, "Released by w1 (session ending)", released.Notes[0].Note)

	// A pending task cannot be released again.
	_, err = s.Release(task.ID, "w1")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestAvailableFiltersDepsAndConflicts(t *testing.T) {
	s := newTestStore(t)
	base := mustCreate(t, s, CreateParams{Title: "base", Priority: "low"})
	dependent := mustCreate(t, s, CreateParams{Title: "dependent", Dependencies: []string{base.ID}})
	urgent := mustCreate(t, s, CreateParams{Title: "urgent", Priority: "critical"})
	conflicted := mustCreate(t, s, CreateParams{Title: "conflicted", ScopeTags: []string{"db"}})
	active := mustCreate(t, s, CreateParams{Title: "active", ScopeTags: []string{"db"}})

	_, err := s.Claim(active.ID, "w1")
	require.NoError(t, err)

	available := s.Available()
	ids := make([]string, 0, len(available))
	for _, a := range available {
		ids = append(ids, a.ID)
	}
	assert.NotContains(t, ids, dependent.ID, "unmet dependency must block")
	assert.NotContains(t, ids, conflicted.ID, "scope conflict with active work must block")
	assert.NotContains(t, ids, active.ID)

	// Priority order: critical before low.
	require.Len(t, available, 2)
	assert.Equal(t, urgent.ID, available[0].ID)
	assert.Equal(t, base.ID, available[1].ID)

	// Completing the base unblocks the dependent.
	_, err = s.Claim(base.ID, "w2")
	require.NoError(t, err)
	_, err = s.Complete(base.ID, "w2", "ok", nil)
	require.NoError(t, err)

	available = s.Available()
	ids = ids[:0]
	for _, a := range available {
		ids = append(ids, a.ID)
	}
	assert.Contains(t, ids, dependent.ID)
}

func TestUpdateOnlyPending(t *testing.T) {
	s := newTestStore(t)
	task := mustCreate(t, s, CreateParams{Title: "old title"})

	newTitle := "new title"
	newPriority := "critical"
	updated, err := s.Update(task.ID, UpdateFields{Title: &newTitle, Priority: &newPriority})
	require.NoError(t, err)
	assert.Equal(t, "new title", updated.Title)
	assert.Equal(t, "critical", updated.Priority)

	_, err = s.Claim(task.ID, "w1")
	require.NoError(t, err)
	_, err = s.Update(task.ID, UpdateFields{Title: &newTitle})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestDeleteGuardsActiveTasks(t *testing.T) {
	s := newTestStore(t)
	task := mustCreate(t, s, CreateParams{Title: "victim"})
	_, err := s.Claim(task.ID, "w1")
	require.NoError(t, err)

	err = s.Delete(task.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = s.Release(task.ID, "w1")
	require.NoError(t, err)
	assert.NoError(t, s.Delete(task.ID))

	_, err = s.Get(task.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestReleaseAllForInstance(t *testing.T) {
	s := newTestStore(t)
	a := mustCreate(t, s, CreateParams{Title: "a"})
	b := mustCreate(t, s, CreateParams{Title: "b"})
	c := mustCreate(t, s, CreateParams{Title: "c"})

	_, err := s.Claim(a.ID, "dying")
	require.NoError(t, err)
	_, err = s.Claim(b.ID, "dying")
	require.NoError(t, err)
	_, err = s.Start(b.ID, "dying")
	require.NoError(t, err)
	_, err = s.Claim(c.ID, "healthy")
	require.NoError(t, err)

	assert.Equal(t, 2, s.ReleaseAllForInstance("dying"))

	got, err := s.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "Auto-released: instance dying disconnected", got.Notes[0].Note)

	got, err = s.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "healthy", got.ClaimedBy)
}

func TestCreateFromTemplate(t *testing.T) {
	s := newTestStore(t)
	task, err := s.CreateFromTemplate("bug", TemplateParams{
		Title:     "webhook drops events",
		ExtraTags: []string{"github", "issue-42"},
		CreatedBy: "github:octocat",
	})
	require.NoError(t, err)

	assert.Equal(t, "Fix: webhook drops events", task.Title)
	assert.Equal(t, "high", task.Priority)
	assert.Equal(t, []string{"bugfix", "github", "issue-42"}, task.Scope.Tags)
	assert.Contains(t, task.Description, "Steps to reproduce")
	assert.Equal(t, "github:octocat", task.CreatedBy)

	_, err = s.CreateFromTemplate("nonsense", TemplateParams{Title: "x"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestTemplatesCatalog(t *testing.T) {
	catalog := Templates()
	assert.Len(t, catalog, 6)
	assert.Equal(t, "Deploy: ", catalog["deploy"].TitlePrefix)
	assert.Equal(t, []string{"deploy", "ops"}, catalog["deploy"].ScopeTags)
}

func TestBoardMarksBlockedTasks(t *testing.T) {
	s := newTestStore(t)
	base := mustCreate(t, s, CreateParams{Title: "base"})
	blocked := mustCreate(t, s, CreateParams{Title: "blocked", Dependencies: []string{base.ID}})

	_, err := s.Claim(base.ID, "w1")
	require.NoError(t, err)
	_, err = s.Start(base.ID, "w1")
	require.NoError(t, err)
	_, err = s.AddNote(base.ID, "w1", "halfway")
	require.NoError(t, err)

	board := s.Board()
	require.Len(t, board.Pending, 1)
	assert.Equal(t, blocked.ID, board.Pending[0].ID)
	assert.True(t, board.Pending[0].Blocked)
	assert.Equal(t, []string{base.ID}, board.Pending[0].BlockingDeps)

	require.Len(t, board.InProgress, 1)
	assert.Equal(t, 1, board.InProgress[0].NotesCount)
	assert.Equal(t, "halfway", board.InProgress[0].LatestNote)
}

func TestSummaryAndStats(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, "Task queue empty", s.Summary())

	mustCreate(t, s, CreateParams{Title: "one"})
	two := mustCreate(t, s, CreateParams{Title: "two"})
	_, err := s.Claim(two.ID, "w1")
	require.NoError(t, err)

	assert.Equal(t, "Tasks: 1 pending, 1 claimed", s.Summary())

	stats := s.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Claimed)
}

func TestArchiveCompleted(t *testing.T) {
	s := newTestStore(t)
	old := mustCreate(t, s, CreateParams{Title: "ancient"})
	_, err := s.Claim(old.ID, "w1")
	require.NoError(t, err)
	_, err = s.Complete(old.ID, "w1", "done", nil)
	require.NoError(t, err)

	// Backdate completion past the cutoff.
	_, err = s.transition(old.ID, func(t *Task) error {
		t.CompletedAt = time.Now().Add(-10 * 24 * time.Hour).Format(time.RFC3339)
		return nil
	})
	require.NoError(t, err)

	fresh := mustCreate(t, s, CreateParams{Title: "fresh"})
	_, err = s.Claim(fresh.ID, "w1")
	require.NoError(t, err)
	_, err = s.Complete(fresh.ID, "w1", "done", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, s.ArchiveCompleted(7))

	_, err = s.Get(old.ID)
	assert.Error(t, err)
	_, err = s.Get(fresh.ID)
	assert.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(s.archiveDir, old.ID+".json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ancient")
}

func TestBootstrapView(t *testing.T) {
	s := newTestStore(t)
	free := mustCreate(t, s, CreateParams{Title: "free", ScopeTags: []string{"a"}})
	busy := mustCreate(t, s, CreateParams{Title: "busy", ScopeTags: []string{"b"}})
	_, err := s.Claim(busy.ID, "other")
	require.NoError(t, err)

	view := s.Bootstrap()
	require.Len(t, view.Available, 1)
	assert.Equal(t, free.ID, view.Available[0].ID)
	require.Len(t, view.InProgress, 1)
	assert.Equal(t, "other", view.InProgress[0].ClaimedBy)
	assert.Equal(t, "Tasks: 1 pending, 1 claimed", view.Summary)
}

func TestBoardPersistsAcrossStores(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	s := NewStore(path, filepath.Join(dir, "archive"), nil)
	task := mustCreate(t, s, CreateParams{Title: "durable"})

	reopened := NewStore(path, filepath.Join(dir, "archive"), nil)
	got, err := reopened.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "durable", got.Title)
}
