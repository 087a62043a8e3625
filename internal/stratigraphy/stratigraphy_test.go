package stratigraphy

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "howell/internal/errors"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "agents.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAgentIDSequencing(t *testing.T) {
	db := newTestDB(t)
	today := time.Now().Format("060102")

	first, err := db.CreateAgent("", "vscode-copilot", "stull-atlas", "")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("CH-%s-1", today), first.ID)

	second, err := db.CreateAgent("", "api", "stull-atlas", "")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("CH-%s-2", today), second.ID)

	// Explicit id is honored, and the sequence skips past it.
	_, err = db.CreateAgent(fmt.Sprintf("CH-%s-7", today), "", "", "")
	require.NoError(t, err)
	third, err := db.CreateAgent("", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("CH-%s-8", today), third.ID)
}

func TestCreateAgentDefaults(t *testing.T) {
	db := newTestDB(t)
	a, err := db.CreateAgent("", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, "Claude-Howell", a.Parent)
	assert.Equal(t, "unknown", a.Platform)
	assert.Equal(t, "unknown", a.Workspace)
	assert.Nil(t, a.EndedAt)

	_, err = db.CreateAgent(a.ID, "", "", "")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestEndAgentOnce(t *testing.T) {
	db := newTestDB(t)
	a, err := db.CreateAgent("", "", "ws", "")
	require.NoError(t, err)

	require.NoError(t, db.EndAgent(a.ID, "shipped the thing"))

	got, err := db.GetAgent(a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, "shipped the thing", *got.EndSummary)

	err = db.EndAgent(a.ID, "again")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListAgentsFilters(t *testing.T) {
	db := newTestDB(t)
	a, err := db.CreateAgent("", "", "alpha", "")
	require.NoError(t, err)
	_, err = db.CreateAgent("", "", "beta", "")
	require.NoError(t, err)
	require.NoError(t, db.EndAgent(a.ID, ""))

	all, err := db.ListAgents(AgentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	alpha, err := db.ListAgents(AgentFilter{Workspace: "alpha"})
	require.NoError(t, err)
	require.Len(t, alpha, 1)
	assert.Equal(t, a.ID, alpha[0].ID)

	active, err := db.ListAgents(AgentFilter{OnlyActive: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "beta", active[0].Workspace)
}

func TestNotesCategoryValidation(t *testing.T) {
	db := newTestDB(t)
	a, err := db.CreateAgent("", "", "ws", "")
	require.NoError(t, err)

	note, err := db.AddNote(a.ID, "learned", "glaze needs 2% bentonite", []string{"glaze"})
	require.NoError(t, err)
	assert.Equal(t, []string{"glaze"}, note.Tags)

	_, err = db.AddNote(a.ID, "gossip", "nope", nil)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))

	_, err = db.AddNote("CH-000000-9", "learned", "orphan", nil)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestNotesTagFilterIsExact(t *testing.T) {
	db := newTestDB(t)
	a, err := db.CreateAgent("", "", "ws", "")
	require.NoError(t, err)

	_, err = db.AddNote(a.ID, "learned", "one", []string{"art"})
	require.NoError(t, err)
	_, err = db.AddNote(a.ID, "learned", "two", []string{"artifact"})
	require.NoError(t, err)

	notes, err := db.Notes(NoteFilter{Tag: "art"})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "one", notes[0].Content)
}

func TestHandoffClaimIsFirstWins(t *testing.T) {
	db := newTestDB(t)
	from, err := db.CreateAgent("", "", "ws", "")
	require.NoError(t, err)
	h, err := db.CreateHandoff(from.ID, "ws", "watch the kiln", "high")
	require.NoError(t, err)

	winner, err := db.CreateAgent("", "", "ws", "")
	require.NoError(t, err)
	loser, err := db.CreateAgent("", "", "ws", "")
	require.NoError(t, err)

	got, err := db.ClaimHandoff(h.ID, winner.ID)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, *got.ClaimedBy)

	_, err = db.ClaimHandoff(h.ID, loser.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestHandoffClaimRace(t *testing.T) {
	db := newTestDB(t)
	from, err := db.CreateAgent("", "", "ws", "")
	require.NoError(t, err)
	h, err := db.CreateHandoff(from.ID, "*", "only one of you gets this", "normal")
	require.NoError(t, err)

	var agents []string
	for i := 0; i < 8; i++ {
		a, err := db.CreateAgent("", "", "ws", "")
		require.NoError(t, err)
		agents = append(agents, a.ID)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for _, id := range agents {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			if _, err := db.ClaimHandoff(h.ID, agentID); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestUnclaimedHandoffScopeMatching(t *testing.T) {
	db := newTestDB(t)
	from, err := db.CreateAgent("", "", "ws", "")
	require.NoError(t, err)

	_, err = db.CreateHandoff(from.ID, "stull-atlas", "exact", "normal")
	require.NoError(t, err)
	_, err = db.CreateHandoff(from.ID, "*", "wildcard", "critical")
	require.NoError(t, err)
	_, err = db.CreateHandoff(from.ID, "atlas", "substring", "low")
	require.NoError(t, err)
	_, err = db.CreateHandoff(from.ID, "other-place", "unrelated", "high")
	require.NoError(t, err)

	handoffs, err := db.UnclaimedHandoffs("stull-atlas")
	require.NoError(t, err)
	require.Len(t, handoffs, 3)
	// Priority order: critical, normal, low.
	assert.Equal(t, "wildcard", handoffs[0].Content)
	assert.Equal(t, "exact", handoffs[1].Content)
	assert.Equal(t, "substring", handoffs[2].Content)
}

func TestHandoffPriorityCoercion(t *testing.T) {
	db := newTestDB(t)
	from, err := db.CreateAgent("", "", "ws", "")
	require.NoError(t, err)
	h, err := db.CreateHandoff(from.ID, "ws", "x", "urgent!!!")
	require.NoError(t, err)
	assert.Equal(t, "normal", h.Priority)
}

func TestBootstrapContextClaimsHandoffs(t *testing.T) {
	db := newTestDB(t)
	elder, err := db.CreateAgent("", "vscode-copilot", "stull-atlas", "")
	require.NoError(t, err)
	_, err = db.AddNote(elder.ID, "decision", "use cone 6 for everything", nil)
	require.NoError(t, err)
	_, err = db.AddNote(elder.ID, "observation", "it rained today", nil)
	require.NoError(t, err)
	_, err = db.CreateHandoff(elder.ID, "stull-atlas", "finish the glaze table", "high")
	require.NoError(t, err)
	require.NoError(t, db.EndAgent(elder.ID, "done for today"))

	fresh, err := db.CreateAgent("", "api", "stull-atlas", "")
	require.NoError(t, err)

	ctx, err := db.BootstrapContext("stull-atlas", fresh.ID)
	require.NoError(t, err)
	require.Len(t, ctx.HandoffsClaimed, 1)
	assert.Equal(t, fresh.ID, *ctx.HandoffsClaimed[0].ClaimedBy)
	assert.Contains(t, ctx.Formatted, "HANDOFF(S) CLAIMED")
	assert.Contains(t, ctx.Formatted, "finish the glaze table")
	assert.Contains(t, ctx.Formatted, "use cone 6 for everything")
	// Observations are not institutional memory.
	assert.NotContains(t, ctx.Formatted, "it rained today")

	// Second bootstrap sees nothing left to claim.
	again, err := db.CreateAgent("", "api", "stull-atlas", "")
	require.NoError(t, err)
	ctx2, err := db.BootstrapContext("stull-atlas", again.ID)
	require.NoError(t, err)
	assert.Empty(t, ctx2.HandoffsClaimed)
}

func TestPreviewContextDoesNotClaim(t *testing.T) {
	db := newTestDB(t)
	from, err := db.CreateAgent("", "", "ws", "")
	require.NoError(t, err)
	_, err = db.CreateHandoff(from.ID, "ws", "still here", "normal")
	require.NoError(t, err)

	view, err := db.PreviewContext("ws")
	require.NoError(t, err)
	require.Len(t, view.UnclaimedHandoffs, 1)

	left, err := db.UnclaimedHandoffs("ws")
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestPreviewContextEmptyWorkspace(t *testing.T) {
	db := newTestDB(t)
	view, err := db.PreviewContext("nowhere")
	require.NoError(t, err)
	assert.Equal(t, "No prior agent context for this workspace.", view.Formatted)
}

func TestReleaseStaleClaims(t *testing.T) {
	db := newTestDB(t)
	from, err := db.CreateAgent("", "", "ws", "")
	require.NoError(t, err)
	ghost, err := db.CreateAgent("", "", "ws", "")
	require.NoError(t, err)
	alive, err := db.CreateAgent("", "", "ws", "")
	require.NoError(t, err)

	h1, err := db.CreateHandoff(from.ID, "ws", "ghost holds this", "normal")
	require.NoError(t, err)
	h2, err := db.CreateHandoff(from.ID, "ws", "alive holds this", "normal")
	require.NoError(t, err)
	_, err = db.ClaimHandoff(h1.ID, ghost.ID)
	require.NoError(t, err)
	_, err = db.ClaimHandoff(h2.ID, alive.ID)
	require.NoError(t, err)

	// Backdate the ghost's claim past the age threshold.
	_, err = db.db.Exec("UPDATE handoffs SET claimed_at = ? WHERE id = ?",
		time.Now().Add(-time.Hour).Format(time.RFC3339), h1.ID)
	require.NoError(t, err)

	released, err := db.ReleaseStaleClaims([]string{alive.ID}, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	unclaimed, err := db.UnclaimedHandoffs("ws")
	require.NoError(t, err)
	require.Len(t, unclaimed, 1)
	assert.Equal(t, "ghost holds this", unclaimed[0].Content)
}

func TestStatsAndSummary(t *testing.T) {
	db := newTestDB(t)
	a, err := db.CreateAgent("", "", "ws", "")
	require.NoError(t, err)
	_, err = db.AddNote(a.ID, "learned", "x", nil)
	require.NoError(t, err)
	_, err = db.AddNote(a.ID, "learned", "y", nil)
	require.NoError(t, err)
	_, err = db.CreateHandoff(a.ID, "ws", "z", "normal")
	require.NoError(t, err)

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalAgents)
	assert.Equal(t, 1, stats.ActiveAgents)
	assert.Equal(t, 2, stats.TotalNotes)
	assert.Equal(t, 1, stats.UnclaimedHandoffs)
	assert.Equal(t, 2, stats.NoteCategories["learned"])
	require.Len(t, stats.RecentAgents, 1)

	assert.Equal(t, "Stratigraphy: 1 agents total, 1 active, 2 notes, 1 unclaimed handoffs", db.Summary())
}
