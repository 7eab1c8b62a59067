// Package resolve grades merge results and decides whether a duplicate
// group commits directly or escalates to human review. This is the safety
// boundary of the engine: no two genuinely different human-authored values
// are ever silently discarded.
package resolve

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agentstation/collate/pkg/dupes"
)

// Decision is the resolver's verdict for one merge result.
type Decision struct {
	// Result is the graded merge result.
	Result *dupes.MergeResult

	// Grade is clean, auto-resolved, or ambiguous.
	Grade dupes.Grade

	// Review is the generated review description for ambiguous results,
	// empty otherwise.
	Review string
}

// Committable reports whether the decision allows a direct commit.
func (d *Decision) Committable() bool {
	return d.Grade == dupes.GradeClean || d.Grade == dupes.GradeAutoResolved
}

// Grade classifies a merge result. Opaque groups and any result carrying an
// unresolved conflict are ambiguous and never committed directly; ambiguous
// decisions carry a generated description enumerating every unresolved
// conflict for a human to adjudicate.
func Grade(result *dupes.MergeResult) *Decision {
	d := &Decision{Result: result}

	switch {
	case result.Group.Shape == dupes.ShapeOpaque, result.HasUnresolved():
		d.Grade = dupes.GradeAmbiguous
		d.Review = reviewDescription(result)
	case len(result.Conflicts) == 0:
		d.Grade = dupes.GradeClean
	default:
		d.Grade = dupes.GradeAutoResolved
	}
	return d
}

// reviewDescription renders a markdown document for the review branch:
// every unresolved conflict with its location, competing values, and
// competing source files, plus the auto-resolved tie-breaks for context.
func reviewDescription(result *dupes.MergeResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Review: %s\n\n", result.Group.CanonicalName)
	fmt.Fprintf(&b, "Merge strategy `%s` could not reconcile this duplicate group automatically.\n", result.Strategy)
	b.WriteString("Pick the winning value for each conflict below, update the canonical file, and delete the numbered copies.\n\n")

	b.WriteString("## Candidates\n\n")
	for _, cand := range result.Group.Candidates {
		label := "incumbent"
		if !cand.Incumbent() {
			label = fmt.Sprintf("version %d", cand.Version)
		}
		suffix := ""
		if cand.ParseFailed {
			suffix = " (failed to parse, excluded from merge)"
		}
		fmt.Fprintf(&b, "- `%s` (%s, modified %s)%s\n", cand.Path, label, cand.ModTime.UTC().Format("2006-01-02 15:04:05"), suffix)
	}
	b.WriteString("\n")

	unresolved := filterConflicts(result.Conflicts, true)
	if len(unresolved) > 0 {
		b.WriteString("## Unresolved conflicts\n\n")
		for _, c := range unresolved {
			writeConflict(&b, c)
		}
	}

	resolved := filterConflicts(result.Conflicts, false)
	if len(resolved) > 0 {
		b.WriteString("## Auto-resolved tie-breaks (for context)\n\n")
		for _, c := range resolved {
			fmt.Fprintf(&b, "- `%s`: %s\n", c.Location, c.Resolution)
		}
	}

	return b.String()
}

// writeConflict renders one unresolved conflict.
func writeConflict(b *strings.Builder, c dupes.Conflict) {
	fmt.Fprintf(b, "### `%s`\n\n", c.Location)
	for _, v := range c.Values {
		origin := fmt.Sprintf("version %d", v.SourceVersion)
		if v.SourceVersion == 0 {
			origin = "incumbent"
		}
		fmt.Fprintf(b, "- from `%s` (%s): `%v`\n", v.SourcePath, origin, v.Value)
	}
	b.WriteString("\n")
}

// filterConflicts splits the conflict list by resolution state, keeping a
// stable location order.
func filterConflicts(conflicts []dupes.Conflict, unresolved bool) []dupes.Conflict {
	var out []dupes.Conflict
	for _, c := range conflicts {
		if c.Unresolved() == unresolved {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return out
}
