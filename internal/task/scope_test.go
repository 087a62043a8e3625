package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOverlapsFiles(t *testing.T) {
	a := Scope{Files: []string{"main.go", "util.go"}}
	b := Scope{Files: []string{"util.go"}}
	assert.Equal(t, []string{"file:util.go"}, Overlaps(a, b))

	c := Scope{Files: []string{"other.go"}}
	assert.Empty(t, Overlaps(a, c))
}

func TestOverlapsDirectoriesNested(t *testing.T) {
	parent := Scope{Directories: []string{"src"}}
	child := Scope{Directories: []string{"src/api"}}

	// Containment conflicts in both directions.
	assert.NotEmpty(t, Overlaps(parent, child))
	assert.NotEmpty(t, Overlaps(child, parent))
}

func TestOverlapsDirectoriesSiblingPrefix(t *testing.T) {
	a := Scope{Directories: []string{"src"}}
	b := Scope{Directories: []string{"srcs"}}

	// "src" is not a parent of "srcs"; bare prefix match would say it is.
	assert.Empty(t, Overlaps(a, b))

	trailing := Scope{Directories: []string{"src/"}}
	assert.NotEmpty(t, Overlaps(a, trailing))
}

func TestOverlapsBackslashNormalization(t *testing.T) {
	a := Scope{Directories: []string{`src\api`}}
	b := Scope{Directories: []string{"src/api/handlers"}}
	assert.NotEmpty(t, Overlaps(a, b))
}

func TestOverlapsTags(t *testing.T) {
	a := Scope{Tags: []string{"deploy", "ops"}}
	b := Scope{Tags: []string{"ops"}}
	assert.Equal(t, []string{"tag:ops"}, Overlaps(a, b))
}

func TestOverlapsDisjoint(t *testing.T) {
	a := Scope{Files: []string{"a.go"}, Directories: []string{"cmd"}, Tags: []string{"x"}}
	b := Scope{Files: []string{"b.go"}, Directories: []string{"docs"}, Tags: []string{"y"}}
	assert.Empty(t, Overlaps(a, b))
}
