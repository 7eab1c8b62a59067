package dupes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeStrategy(t *testing.T) {
	assert.Equal(t, "union-by-id", ShapeArrayOfRecords.Strategy())
	assert.Equal(t, "deep-merge-latest-wins", ShapeObjectDocument.Strategy())
	assert.Equal(t, "highest-version-wins", ShapeVersionedDocument.Strategy())
	assert.Equal(t, "none", ShapeOpaque.Strategy())
}

func TestGroupIncumbentAndVersioned(t *testing.T) {
	g := &DuplicateGroup{
		CanonicalName: "config.json",
		Candidates: []Candidate{
			{Path: "/x/config (3).json", Version: 3},
			{Path: "/x/config.json", Version: 0},
			{Path: "/x/config (1).json", Version: 1},
		},
	}

	inc := g.Incumbent()
	require.NotNil(t, inc)
	assert.Equal(t, "/x/config.json", inc.Path)

	versioned := g.Versioned()
	require.Len(t, versioned, 2)
	assert.Equal(t, 1, versioned[0].Version)
	assert.Equal(t, 3, versioned[1].Version)
}

func TestGroupWithoutIncumbent(t *testing.T) {
	g := &DuplicateGroup{
		Candidates: []Candidate{{Path: "/x/a (1).json", Version: 1}},
	}
	assert.Nil(t, g.Incumbent())
}

func TestGroupValidate(t *testing.T) {
	valid := &DuplicateGroup{
		CanonicalName: "a.json",
		Candidates: []Candidate{
			{Path: "/x/a.json", Version: 0},
			{Path: "/x/a (1).json", Version: 1},
		},
	}
	assert.NoError(t, valid.Validate())

	dupVersion := &DuplicateGroup{
		CanonicalName: "a.json",
		Candidates: []Candidate{
			{Path: "/x/a (1).json", Version: 1},
			{Path: "/y/a_1.json", Version: 1},
		},
	}
	assert.Error(t, dupVersion.Validate())

	twoIncumbents := &DuplicateGroup{
		CanonicalName: "a.json",
		Candidates: []Candidate{
			{Path: "/x/a.json", Version: 0},
			{Path: "/y/a.json", Version: 0},
		},
	}
	assert.Error(t, twoIncumbents.Validate())
}

func TestResolutionTieBreak(t *testing.T) {
	r := TieBreak("latest updated_at")
	assert.True(t, r.IsTieBreak())
	assert.Equal(t, Resolution("tie_break: latest updated_at"), r)
	assert.False(t, ResolutionUnresolved.IsTieBreak())
}

func TestConflictUnresolved(t *testing.T) {
	assert.True(t, Conflict{Resolution: ResolutionUnresolved}.Unresolved())
	assert.False(t, Conflict{Resolution: TieBreak("highest source version")}.Unresolved())
}

func TestMergeResultHasUnresolved(t *testing.T) {
	r := &MergeResult{Conflicts: []Conflict{
		{Resolution: TieBreak("latest updated_at")},
	}}
	assert.False(t, r.HasUnresolved())

	r.Conflicts = append(r.Conflicts, Conflict{Resolution: ResolutionUnresolved})
	assert.True(t, r.HasUnresolved())
}
