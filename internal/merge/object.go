package merge

import (
	"sort"

	"github.com/agentstation/collate/internal/classify"
	"github.com/agentstation/collate/pkg/dupes"
)

// docMapping pairs one candidate's mapping at the current nesting level
// with the candidate it came from.
type docMapping struct {
	mapping map[string]any
	path    string
	version int
}

// mergeObjects implements deep-merge-latest-wins for ObjectDocument groups.
// Mappings merge recursively key by key. Sequences of id-carrying records
// recurse into the union-by-id rule; other sequences concatenate with
// exact duplicates removed. Scalar leaf conflicts resolve by the timestamp
// signal on the surrounding objects, falling back to the highest source
// version; a conflict with neither signal, or a structural type mismatch,
// is recorded unresolved and makes the group ambiguous.
//
// Timestamp fields consumed as the recency signal for a level are
// reconciliation metadata, not content: they are stripped from that level
// of the canonical output.
func mergeObjects(c *classify.Classified) (map[string]any, []dupes.Conflict) {
	levels := make([]docMapping, 0, len(c.Docs))
	for _, doc := range c.Docs {
		m, _ := doc.Mapping()
		levels = append(levels, docMapping{
			mapping: m,
			path:    doc.Candidate.Path,
			version: doc.Candidate.Version,
		})
	}
	return mergeLevel("", levels)
}

// mergeLevel merges one nesting level across all candidates that have a
// mapping there. prefix is the dotted key path to this level.
func mergeLevel(prefix string, levels []docMapping) (map[string]any, []dupes.Conflict) {
	var conflicts []dupes.Conflict
	out := make(map[string]any)
	consumedSignals := make(map[string]bool)

	for _, key := range levelKeys(levels) {
		comps := make([]competitor, 0, len(levels))
		for _, lvl := range levels {
			if v, ok := lvl.mapping[key]; ok {
				comps = append(comps, competitor{value: v, path: lvl.path, version: lvl.version})
			}
		}

		location := key
		if prefix != "" {
			location = prefix + "." + key
		}

		value, keyConflicts, usedSignal := mergeKey(location, comps, levels)
		conflicts = append(conflicts, keyConflicts...)
		if usedSignal != "" {
			consumedSignals[usedSignal] = true
		}
		out[key] = value
	}

	// A timestamp field consumed as the recency signal at this level is
	// metadata about the merge, not merged content: drop it and any
	// conflict recorded for it.
	for field := range consumedSignals {
		delete(out, field)
		location := field
		if prefix != "" {
			location = prefix + "." + field
		}
		conflicts = dropConflictAt(conflicts, location)
	}
	return out, conflicts
}

// mergeKey merges all competing values for one key. usedSignal names the
// timestamp field that decided a scalar conflict, or is empty.
func mergeKey(location string, comps []competitor, levels []docMapping) (value any, conflicts []dupes.Conflict, usedSignal string) {
	distinct := dedupeCompetitors(comps)
	if len(distinct) == 1 {
		return distinct[0].value, nil, ""
	}

	// All mappings: recurse.
	if allMappings(distinct) {
		sub := make([]docMapping, 0, len(distinct))
		for _, comp := range distinct {
			m, _ := comp.value.(map[string]any)
			sub = append(sub, docMapping{mapping: m, path: comp.path, version: comp.version})
		}
		merged, subConflicts := mergeLevel(location, sub)
		return merged, subConflicts, ""
	}

	// All sequences: union-by-id when the elements carry ids, else
	// concatenate and drop exact duplicates.
	if allSequences(distinct) {
		merged, seqConflicts := mergeSequences(location, distinct)
		return merged, seqConflicts, ""
	}

	// Mixed structure (mapping vs sequence vs scalar): no deterministic
	// rule can interleave those safely. Escalate.
	if !allScalars(distinct) {
		return distinct[len(distinct)-1].value, []dupes.Conflict{{
			Location:   location,
			Values:     competitorValues(distinct),
			Resolution: dupes.ResolutionUnresolved,
		}}, ""
	}

	// Scalar leaf conflict. The recency signal applies when every
	// competitor's surrounding object carries the same timestamp field.
	conflict := dupes.Conflict{Location: location, Values: competitorValues(distinct)}

	if field, ok := surroundingSignal(distinct, levels); ok {
		if winner, ok := latestCompetitor(distinct, levels, field); ok {
			conflict.Resolution = dupes.TieBreak("latest " + field)
			return winner.value, []dupes.Conflict{conflict}, field
		}
	}

	if winner, ok := highestVersion(distinct); ok {
		conflict.Resolution = dupes.TieBreak("highest source version")
		return winner.value, []dupes.Conflict{conflict}, ""
	}

	conflict.Resolution = dupes.ResolutionUnresolved
	return distinct[len(distinct)-1].value, []dupes.Conflict{conflict}, ""
}

// surroundingSignal finds the timestamp field every competitor's
// surrounding object carries with a parseable value.
func surroundingSignal(comps []competitor, levels []docMapping) (string, bool) {
	mappings := make([]map[string]any, 0, len(comps))
	for _, comp := range comps {
		lvl, ok := levelFor(comp, levels)
		if !ok {
			return "", false
		}
		mappings = append(mappings, lvl.mapping)
	}
	return signalField(mappings)
}

// dropConflictAt removes conflicts recorded at an exact location.
func dropConflictAt(conflicts []dupes.Conflict, location string) []dupes.Conflict {
	out := conflicts[:0]
	for _, c := range conflicts {
		if c.Location != location {
			out = append(out, c)
		}
	}
	return out
}

// mergeSequences merges competing sequences at one location.
func mergeSequences(location string, comps []competitor) (any, []dupes.Conflict) {
	if field, ok := sequenceIDField(comps); ok {
		return unionSequences(location, field, comps)
	}
	var out []any
	for _, comp := range comps {
		seq, _ := comp.value.([]any)
		for _, el := range seq {
			if !containsDeepEqual(out, el) {
				out = append(out, el)
			}
		}
	}
	return out, nil
}

// unionSequences applies union-by-id to nested record sequences.
func unionSequences(location, idField string, comps []competitor) ([]any, []dupes.Conflict) {
	byID := make(map[string][]competitor)
	var order []string
	seen := make(map[string]bool)
	var idless []any

	for _, comp := range comps {
		seq, _ := comp.value.([]any)
		var newIDs []string
		for _, el := range seq {
			rec, _ := el.(map[string]any)
			idValue, present := rec[idField]
			if !present {
				if !containsDeepEqual(idless, rec) {
					idless = append(idless, rec)
				}
				continue
			}
			key := idKey(idValue)
			byID[key] = append(byID[key], competitor{value: rec, path: comp.path, version: comp.version})
			if comp.version == 0 {
				if !seen[key] {
					seen[key] = true
					order = append(order, key)
				}
			} else if !seen[key] {
				newIDs = append(newIDs, key)
			}
		}
		sort.Slice(newIDs, func(i, j int) bool { return lessID(newIDs[i], newIDs[j]) })
		for _, key := range newIDs {
			if !seen[key] {
				seen[key] = true
				order = append(order, key)
			}
		}
	}

	var conflicts []dupes.Conflict
	result := make([]any, 0, len(order)+len(idless))
	for _, key := range order {
		winner, conflict := resolveRecord(idField, key, byID[key])
		if conflict != nil {
			conflict.Location = location + "." + conflict.Location
			conflicts = append(conflicts, *conflict)
		}
		result = append(result, winner)
	}
	result = append(result, idless...)
	return result, conflicts
}

// sequenceIDField reports whether every element of every competing
// sequence is a mapping carrying the literal "id" field.
func sequenceIDField(comps []competitor) (string, bool) {
	elements := 0
	for _, comp := range comps {
		seq, _ := comp.value.([]any)
		for _, el := range seq {
			m, ok := el.(map[string]any)
			if !ok {
				return "", false
			}
			if _, present := m["id"]; !present {
				return "", false
			}
			elements++
		}
	}
	return "id", elements > 0
}

// latestCompetitor picks the competitor whose surrounding object carries
// the strictly most recent signal value.
func latestCompetitor(comps []competitor, levels []docMapping, signal string) (competitor, bool) {
	var winner competitor
	var winnerTime int64
	found, tied := false, false
	for _, comp := range comps {
		lvl, ok := levelFor(comp, levels)
		if !ok {
			return competitor{}, false
		}
		ts, ok := parseTimestamp(lvl.mapping[signal])
		if !ok {
			return competitor{}, false
		}
		nanos := ts.UnixNano()
		switch {
		case !found || nanos > winnerTime:
			winner, winnerTime, found, tied = comp, nanos, true, false
		case nanos == winnerTime:
			tied = true
		}
	}
	return winner, found && !tied
}

// levelFor finds the level a competitor's value came from.
func levelFor(comp competitor, levels []docMapping) (docMapping, bool) {
	for _, lvl := range levels {
		if lvl.path == comp.path {
			return lvl, true
		}
	}
	return docMapping{}, false
}

// highestVersion picks the competitor from the highest-versioned source.
// It fails when two competitors share a version, which leaves no signal.
func highestVersion(comps []competitor) (competitor, bool) {
	winner := comps[0]
	tied := false
	for _, comp := range comps[1:] {
		switch {
		case comp.version > winner.version:
			winner, tied = comp, false
		case comp.version == winner.version:
			tied = true
		}
	}
	return winner, !tied
}

// levelKeys returns the union of keys across a level's mappings in sorted
// order, for deterministic traversal.
func levelKeys(levels []docMapping) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, lvl := range levels {
		for k := range lvl.mapping {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// allMappings reports whether every competing value is a mapping.
func allMappings(comps []competitor) bool {
	for _, comp := range comps {
		if _, ok := comp.value.(map[string]any); !ok {
			return false
		}
	}
	return true
}

// allSequences reports whether every competing value is a sequence.
func allSequences(comps []competitor) bool {
	for _, comp := range comps {
		if _, ok := comp.value.([]any); !ok {
			return false
		}
	}
	return true
}

// allScalars reports whether no competing value is a container.
func allScalars(comps []competitor) bool {
	for _, comp := range comps {
		switch comp.value.(type) {
		case map[string]any, []any:
			return false
		}
	}
	return true
}
