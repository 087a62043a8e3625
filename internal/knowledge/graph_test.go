package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "howell/internal/errors"
)

func TestAddEntityIdempotent(t *testing.T) {
	g := NewGraph()

	created := g.AddEntity("alpha", "project", []string{"a1"})
	assert.True(t, created)

	created = g.AddEntity("alpha", "project", []string{"a2"})
	assert.False(t, created)
	assert.Equal(t, []string{"a1", "a2"}, g.Entities["alpha"].Observations)
}

func TestAddObservationAppendsExactlyOnce(t *testing.T) {
	g := NewGraph()
	g.AddEntity("alpha", "project", nil)

	before := len(g.Entities["alpha"].Observations)
	require.NoError(t, g.AddObservation("alpha", "saw a thing"))
	assert.Len(t, g.Entities["alpha"].Observations, before+1)

	err := g.AddObservation("ghost", "x")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAddRelationRequiresEndpoints(t *testing.T) {
	g := NewGraph()
	g.AddEntity("alpha", "project", nil)

	err := g.AddRelation("alpha", "uses", "gamma")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	g.AddEntity("gamma", "tool", nil)
	require.NoError(t, g.AddRelation("alpha", "uses", "gamma"))

	// Exact duplicates are absorbed.
	require.NoError(t, g.AddRelation("alpha", "uses", "gamma"))
	assert.Len(t, g.Relations, 1)
}

func TestDeleteEntityCascades(t *testing.T) {
	g := NewGraph()
	g.AddEntity("alpha", "project", nil)
	g.AddEntity("beta", "project", nil)
	require.NoError(t, g.AddRelation("alpha", "owns", "beta"))
	require.NoError(t, g.AddRelation("beta", "uses", "alpha"))

	removed, err := g.DeleteEntity("alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Empty(t, g.Relations)
}

func TestDeleteObservationBySubstring(t *testing.T) {
	g := NewGraph()
	g.AddEntity("alpha", "project", []string{"Kiln fired", "glaze batch 47", "other"})

	removed, err := g.DeleteObservation("alpha", "KILN")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"glaze batch 47", "other"}, g.Entities["alpha"].Observations)

	_, err = g.DeleteObservation("alpha", "nothing here")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRenameEntityRewritesRelations(t *testing.T) {
	g := NewGraph()
	g.AddEntity("alpha", "project", nil)
	g.AddEntity("gamma", "tool", nil)
	require.NoError(t, g.AddRelation("alpha", "uses", "gamma"))

	require.NoError(t, g.RenameEntity("alpha", "omega"))
	assert.NotContains(t, g.Entities, "alpha")
	assert.Equal(t, "omega", g.Relations[0].From)

	// Refuses to clobber an existing name.
	err := g.RenameEntity("omega", "gamma")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestMergeEntities(t *testing.T) {
	g := NewGraph()
	g.AddEntity("alpha", "project", []string{"a1", "a2"})
	g.AddEntity("beta", "project", []string{"a2", "b1"})
	g.AddEntity("gamma", "tool", nil)
	require.NoError(t, g.AddRelation("alpha", "uses", "gamma"))
	require.NoError(t, g.AddRelation("beta", "uses", "gamma"))
	require.NoError(t, g.AddRelation("alpha", "owns", "beta"))

	require.NoError(t, g.MergeEntities("beta", "alpha"))

	assert.NotContains(t, g.Entities, "beta")
	assert.ElementsMatch(t, []string{"a1", "a2", "b1"}, g.Entities["alpha"].Observations)

	usesCount := 0
	for _, r := range g.Relations {
		assert.NotEqual(t, "beta", r.From)
		assert.NotEqual(t, "beta", r.To)
		assert.False(t, r.From == "alpha" && r.To == "alpha", "self-loop survived merge")
		if r.From == "alpha" && r.Type == "uses" && r.To == "gamma" {
			usesCount++
		}
	}
	assert.Equal(t, 1, usesCount)
}

func TestQueryMatchesAllComponents(t *testing.T) {
	g := NewGraph()
	g.AddEntity("comfyui", "tool", []string{"runs on the 4070"})
	g.AddEntity("stull-atlas", "project", []string{"glaze chemistry explorer"})
	require.NoError(t, g.AddRelation("stull-atlas", "renders-with", "comfyui"))

	res := g.Query("comfyui")
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "comfyui", res.Entities[0].Entity)
	assert.Len(t, res.Relations, 1)

	res = g.Query("glaze")
	require.Len(t, res.Entities, 1)
	assert.Equal(t, []string{"glaze chemistry explorer"}, res.Entities[0].Observations)
}
