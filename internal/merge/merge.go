// Package merge executes the content-shape-aware merge strategies that
// collapse a duplicate group into one canonical artifact. One strategy
// exists per ContentShape; the dispatch is exhaustive, so adding a shape is
// an explicit extension rather than an open-ended type switch.
package merge

import (
	"context"
	"fmt"

	"github.com/agentstation/collate/internal/classify"
	"github.com/agentstation/collate/pkg/dupes"
	"github.com/agentstation/collate/pkg/errors"
	"github.com/agentstation/collate/pkg/logging"
)

// Merge runs the strategy selected by the group's classified shape and
// returns the canonical content together with the full conflict list,
// auto-resolved tie-breaks included, since the manifest records all of
// them. Opaque groups refuse to produce a canonical artifact and surface a
// single unresolved conflict covering the whole file.
func Merge(ctx context.Context, c *classify.Classified) (*dupes.MergeResult, error) {
	log := logging.Ctx(ctx)
	group := c.Group

	result := &dupes.MergeResult{
		Group:    group,
		Strategy: group.Shape.Strategy(),
	}

	switch group.Shape {
	case dupes.ShapeArrayOfRecords:
		merged, conflicts := mergeRecords(c)
		out, err := classify.Encode(c.Format, merged)
		if err != nil {
			return nil, err
		}
		result.Canonical = out
		result.Conflicts = conflicts

	case dupes.ShapeObjectDocument:
		merged, conflicts := mergeObjects(c)
		out, err := classify.Encode(c.Format, merged)
		if err != nil {
			return nil, err
		}
		result.Canonical = out
		result.Conflicts = conflicts

	case dupes.ShapeVersionedDocument:
		result.Canonical, result.Conflicts = mergeDocument(c)

	case dupes.ShapeOpaque:
		result.Conflicts = opaqueConflict(group)

	default:
		return nil, errors.NewValidationError("shape", group.Shape, "unknown content shape")
	}

	result.Consumed = consumedSources(c)

	log.Debug().
		Str("group", group.CanonicalName).
		Str("strategy", result.Strategy).
		Int("conflicts", len(result.Conflicts)).
		Int("consumed", len(result.Consumed)).
		Msg("merge complete")
	return result, nil
}

// consumedSources lists the versioned, parse-ok candidates the canonical
// artifact replaces. Parse-failed files are left on disk untouched; the
// incumbent is overwritten in place, not deleted.
func consumedSources(c *classify.Classified) []string {
	if c.Group.Shape == dupes.ShapeOpaque {
		return nil
	}
	var consumed []string
	for _, doc := range c.Docs {
		if !doc.Candidate.Incumbent() {
			consumed = append(consumed, doc.Candidate.Path)
		}
	}
	return consumed
}

// opaqueConflict synthesizes the whole-file unresolved conflict an opaque
// group escalates with.
func opaqueConflict(group *dupes.DuplicateGroup) []dupes.Conflict {
	values := make([]dupes.ConflictValue, 0, len(group.Candidates))
	for _, cand := range group.Candidates {
		values = append(values, dupes.ConflictValue{
			Value:         fmt.Sprintf("%d bytes, modified %s", cand.Size, cand.ModTime.UTC().Format("2006-01-02 15:04:05")),
			SourcePath:    cand.Path,
			SourceVersion: cand.Version,
		})
	}
	return []dupes.Conflict{{
		Location:   "(entire file)",
		Values:     values,
		Resolution: dupes.ResolutionUnresolved,
	}}
}
