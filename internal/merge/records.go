package merge

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/agentstation/collate/internal/classify"
	"github.com/agentstation/collate/pkg/dupes"
)

// competitor is one version of a record (or value) with its origin.
type competitor struct {
	value   any
	path    string
	version int
}

// mergeRecords implements the union-by-id strategy for ArrayOfRecords
// groups. The result is the union of all records across candidates, keyed
// by the identifying field. Same-id records with differing content resolve
// by the shared timestamp signal, falling back to the highest source
// version; either way the decision is logged as an auto-resolvable
// tie-break conflict.
//
// Output order: the incumbent's record order first, then ids new in each
// versioned candidate (ascending by source version, ascending by id within
// one candidate), then records carrying no id in first-seen order.
func mergeRecords(c *classify.Classified) ([]any, []dupes.Conflict) {
	idField := c.IDField

	byID := make(map[string][]competitor)
	var order []string
	seen := make(map[string]bool)
	var idless []any

	appendID := func(key string) {
		if !seen[key] {
			seen[key] = true
			order = append(order, key)
		}
	}

	for _, doc := range c.Docs {
		seq, _ := doc.Sequence()
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
			byID[key] = append(byID[key], competitor{
				value:   rec,
				path:    doc.Candidate.Path,
				version: doc.Candidate.Version,
			})
			if doc.Candidate.Incumbent() {
				appendID(key)
			} else if !seen[key] {
				newIDs = append(newIDs, key)
			}
		}
		// Ids new in this candidate enter in ascending id order.
		sort.Slice(newIDs, func(i, j int) bool { return lessID(newIDs[i], newIDs[j]) })
		for _, key := range newIDs {
			appendID(key)
		}
	}

	var conflicts []dupes.Conflict
	result := make([]any, 0, len(order)+len(idless))
	for _, key := range order {
		winner, conflict := resolveRecord(idField, key, byID[key])
		result = append(result, winner)
		if conflict != nil {
			conflicts = append(conflicts, *conflict)
		}
	}
	result = append(result, idless...)
	return result, conflicts
}

// resolveRecord picks the winning version of one record. Identical copies
// carry no conflict. Differing copies resolve by the timestamp signal when
// every competitor has one, else by highest source version; both outcomes
// are deterministic tie-breaks.
func resolveRecord(idField, key string, comps []competitor) (any, *dupes.Conflict) {
	if len(comps) == 1 {
		return comps[0].value, nil
	}

	distinct := dedupeCompetitors(comps)
	if len(distinct) == 1 {
		return distinct[0].value, nil
	}

	location := fmt.Sprintf("%s=%s", idField, key)
	conflict := &dupes.Conflict{Location: location, Values: competitorValues(distinct)}

	mappings := make([]map[string]any, len(distinct))
	for i, comp := range distinct {
		mappings[i], _ = comp.value.(map[string]any)
	}
	if field, ok := signalField(mappings); ok {
		if winner, ok := latestBy(distinct, field); ok {
			conflict.Resolution = dupes.TieBreak("latest " + field)
			return winner.value, conflict
		}
	}

	// No usable timestamp: highest-version-numbered source wins.
	winner := distinct[0]
	for _, comp := range distinct[1:] {
		if comp.version > winner.version {
			winner = comp
		}
	}
	conflict.Resolution = dupes.TieBreak("highest source version")
	return winner.value, conflict
}

// latestBy returns the competitor with the strictly most recent value of
// the given timestamp field. A tie for most recent means the signal cannot
// decide.
func latestBy(comps []competitor, field string) (competitor, bool) {
	var winner competitor
	var winnerTime int64
	tied := false
	for i, comp := range comps {
		m, _ := comp.value.(map[string]any)
		ts, _ := parseTimestamp(m[field])
		nanos := ts.UnixNano()
		switch {
		case i == 0 || nanos > winnerTime:
			winner, winnerTime, tied = comp, nanos, false
		case nanos == winnerTime:
			tied = true
		}
	}
	if tied {
		return competitor{}, false
	}
	return winner, true
}

// dedupeCompetitors drops competitors whose value deep-equals an earlier
// one, keeping the earliest occurrence.
func dedupeCompetitors(comps []competitor) []competitor {
	out := make([]competitor, 0, len(comps))
	for _, comp := range comps {
		dup := false
		for _, kept := range out {
			if reflect.DeepEqual(kept.value, comp.value) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, comp)
		}
	}
	return out
}

// competitorValues renders competitors for the conflict record.
func competitorValues(comps []competitor) []dupes.ConflictValue {
	values := make([]dupes.ConflictValue, len(comps))
	for i, comp := range comps {
		values[i] = dupes.ConflictValue{
			Value:         comp.value,
			SourcePath:    comp.path,
			SourceVersion: comp.version,
		}
	}
	return values
}

// containsDeepEqual reports whether the slice already holds a deep-equal
// element.
func containsDeepEqual(list []any, v any) bool {
	for _, el := range list {
		if reflect.DeepEqual(el, v) {
			return true
		}
	}
	return false
}

// idKey renders an id value as a stable map key.
func idKey(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// lessID orders id keys numerically when both parse as integers, else
// lexically.
func lessID(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
