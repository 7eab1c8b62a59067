// Package dupes defines the core data model for the collate reconciliation
// engine: duplicate groups discovered on disk, the content shapes they are
// classified into, merge results with their conflict lists, and the manifest
// entries that make every operation auditable and reversible.
package dupes

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ContentShape identifies the structural shape of a duplicate group's
// content. It is a closed set: every shape has exactly one merge strategy,
// and code switching on it is expected to be exhaustive.
type ContentShape string

const (
	// ShapeArrayOfRecords is a sequence of mappings sharing an identifying
	// key field, merged by union-by-id.
	ShapeArrayOfRecords ContentShape = "array_of_records"

	// ShapeObjectDocument is a single mapping, possibly nested, merged by
	// recursive deep-merge with latest-wins conflict resolution.
	ShapeObjectDocument ContentShape = "object_document"

	// ShapeVersionedDocument is a free-text document where the only reliable
	// signal is the version number: the highest-numbered candidate wins
	// verbatim.
	ShapeVersionedDocument ContentShape = "versioned_document"

	// ShapeOpaque is anything else, including binary. Opaque groups are
	// never merged automatically.
	ShapeOpaque ContentShape = "opaque"
)

// String returns the string representation of a content shape.
func (s ContentShape) String() string {
	return string(s)
}

// Strategy returns the merge strategy name associated with a shape.
func (s ContentShape) Strategy() string {
	switch s {
	case ShapeArrayOfRecords:
		return "union-by-id"
	case ShapeObjectDocument:
		return "deep-merge-latest-wins"
	case ShapeVersionedDocument:
		return "highest-version-wins"
	case ShapeOpaque:
		return "none"
	default:
		return "unknown"
	}
}

// Candidate is one file belonging to a duplicate group.
type Candidate struct {
	// Path is the absolute path of the file on disk.
	Path string `json:"path"`

	// Version is the numeric suffix parsed from the filename. Zero means
	// the candidate carries no suffix and is the incumbent canonical file.
	Version int `json:"version"`

	// ModTime is the file's last modification time.
	ModTime time.Time `json:"mod_time"`

	// Size is the file size in bytes at scan time.
	Size int64 `json:"size"`

	// ParseFailed marks a candidate whose content could not be parsed under
	// its declared format. Failed candidates are excluded from merge input
	// but still listed for the audit trail.
	ParseFailed bool `json:"parse_failed,omitempty"`
}

// Incumbent reports whether the candidate is the unversioned canonical file.
func (c Candidate) Incumbent() bool {
	return c.Version == 0
}

// DuplicateGroup is the set of files sharing a canonical base name that
// differ only by a numeric version suffix. Groups are recomputed fresh from
// the live filesystem every cycle and never persisted.
type DuplicateGroup struct {
	// CanonicalName is the target filename the group collapses into,
	// e.g. "config.json".
	CanonicalName string `json:"canonical_name"`

	// CanonicalPath is the absolute path the canonical artifact is written
	// to, whether or not an incumbent exists yet.
	CanonicalPath string `json:"canonical_path"`

	// Candidates is the ordered member list: incumbent first (if present),
	// then versioned candidates ascending by version.
	Candidates []Candidate `json:"candidates"`

	// Shape is filled in by the classifier; empty until classification.
	Shape ContentShape `json:"shape,omitempty"`
}

// Incumbent returns the unversioned candidate, or nil when the group has
// none (every member carries a suffix).
func (g *DuplicateGroup) Incumbent() *Candidate {
	for i := range g.Candidates {
		if g.Candidates[i].Incumbent() {
			return &g.Candidates[i]
		}
	}
	return nil
}

// Versioned returns the versioned candidates ascending by version number.
func (g *DuplicateGroup) Versioned() []Candidate {
	out := make([]Candidate, 0, len(g.Candidates))
	for _, c := range g.Candidates {
		if !c.Incumbent() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// Validate checks the group invariants: at most one incumbent, and version
// numbers unique within the group.
func (g *DuplicateGroup) Validate() error {
	incumbents := 0
	seen := make(map[int]string, len(g.Candidates))
	for _, c := range g.Candidates {
		if c.Incumbent() {
			incumbents++
			if incumbents > 1 {
				return fmt.Errorf("group %s: more than one unversioned candidate", g.CanonicalName)
			}
			continue
		}
		if prev, ok := seen[c.Version]; ok {
			return fmt.Errorf("group %s: duplicate version %d (%s, %s)", g.CanonicalName, c.Version, prev, c.Path)
		}
		seen[c.Version] = c.Path
	}
	return nil
}

// Resolution records how a conflict was decided.
type Resolution string

const (
	// ResolutionUnresolved marks a conflict with no reliable recency signal.
	// A single unresolved conflict makes the whole group ambiguous.
	ResolutionUnresolved Resolution = "unresolved"
)

// TieBreak builds the resolution value for a deterministically resolved
// conflict, recording the rule that picked the winner.
func TieBreak(reason string) Resolution {
	return Resolution("tie_break: " + reason)
}

// IsTieBreak reports whether the resolution is a deterministic tie-break.
func (r Resolution) IsTieBreak() bool {
	return strings.HasPrefix(string(r), "tie_break: ")
}

// ConflictValue is one competing value together with its origin.
type ConflictValue struct {
	// Value is the competing value rendered for the audit trail.
	Value any `json:"value"`

	// SourcePath is the file the value came from.
	SourcePath string `json:"source_path"`

	// SourceVersion is that file's version suffix (zero for the incumbent).
	SourceVersion int `json:"source_version"`
}

// Conflict records two or more competing values for the same location across
// a duplicate group's candidates, and how (or whether) they were resolved.
type Conflict struct {
	// Location is the key path (object documents) or record id (record
	// arrays) the conflict occurred at, e.g. "server.timeout" or "id=42".
	Location string `json:"location"`

	// Values are the competing values in candidate order.
	Values []ConflictValue `json:"values"`

	// Resolution is either a tie_break with its reason, or unresolved.
	Resolution Resolution `json:"resolution"`
}

// Unresolved reports whether the conflict carries no resolution.
func (c Conflict) Unresolved() bool {
	return c.Resolution == ResolutionUnresolved
}

// MergeResult is the output of running a merge strategy over a duplicate
// group.
type MergeResult struct {
	// Group is the group the result was produced from.
	Group *DuplicateGroup `json:"-"`

	// Canonical is the merged canonical content. Nil for opaque groups,
	// which refuse automatic merging.
	Canonical []byte `json:"-"`

	// Strategy is the strategy that produced the content.
	Strategy string `json:"strategy"`

	// Conflicts is the full conflict list, including auto-resolved
	// tie-breaks. The manifest records all of them.
	Conflicts []Conflict `json:"conflicts,omitempty"`

	// Consumed lists the source files folded into the canonical artifact,
	// which are deleted once the operation is applied.
	Consumed []string `json:"consumed"`
}

// HasUnresolved reports whether any conflict in the result is unresolved.
func (r *MergeResult) HasUnresolved() bool {
	for _, c := range r.Conflicts {
		if c.Unresolved() {
			return true
		}
	}
	return false
}

// Grade classifies a merge result for the commit-or-escalate decision.
type Grade string

const (
	// GradeClean means the merge produced no conflicts at all.
	GradeClean Grade = "clean"

	// GradeAutoResolved means every conflict was settled by a deterministic
	// tie-break rule with a logged reason.
	GradeAutoResolved Grade = "auto-resolved"

	// GradeAmbiguous means at least one conflict is unresolved, or the
	// group is opaque. Ambiguous results are never committed directly.
	GradeAmbiguous Grade = "ambiguous"
)

// Outcome is the terminal state of a manifest entry.
type Outcome string

const (
	// OutcomeApplied means the canonical artifact was written and the
	// consumed sources deleted.
	OutcomeApplied Outcome = "applied"

	// OutcomePendingReview means the group was escalated to a review branch
	// and nothing on disk was touched.
	OutcomePendingReview Outcome = "pending_review"

	// OutcomeFailed means publishing failed after bounded retries; the
	// group is retried on the next cycle.
	OutcomeFailed Outcome = "failed"

	// OutcomeRolledBack means an operator reversed a previously applied
	// entry, restoring the snapshotted sources.
	OutcomeRolledBack Outcome = "rolled_back"
)

// Snapshot preserves one source file's exact content for rollback.
type Snapshot struct {
	// Path is the file's absolute path at snapshot time.
	Path string `json:"path"`

	// Content is the raw file content.
	Content []byte `json:"content"`

	// Mode is the file's permission bits.
	Mode uint32 `json:"mode"`
}

// ManifestEntry is one record in the append-only reconciliation ledger. It
// is the only durable state the engine owns: enough to audit, to detect
// already-reconciled groups, and to fully reverse an applied operation.
type ManifestEntry struct {
	// ID is the operation id.
	ID string `json:"id"`

	// Timestamp is the UTC time the entry was appended.
	Timestamp time.Time `json:"timestamp"`

	// CanonicalName names the duplicate group.
	CanonicalName string `json:"canonical_name"`

	// CanonicalPath is where the canonical artifact lives.
	CanonicalPath string `json:"canonical_path"`

	// Strategy is the merge strategy that produced the result.
	Strategy string `json:"strategy"`

	// Outcome is the entry's terminal state.
	Outcome Outcome `json:"outcome"`

	// CommitRef is the resulting VCS commit or review branch reference.
	// Empty when nothing was published.
	CommitRef string `json:"commit_ref,omitempty"`

	// ResultHash is the SHA-256 of the canonical content, used by the
	// idempotence check on later cycles.
	ResultHash string `json:"result_hash,omitempty"`

	// Conflicts is the full conflict list from the merge.
	Conflicts []Conflict `json:"conflicts,omitempty"`

	// Consumed lists the source files the applied operation deleted. The
	// idempotence check treats their reappearance as new producer activity.
	Consumed []string `json:"consumed,omitempty"`

	// Snapshots preserve every source file consumed (or escalated) by the
	// operation, for rollback.
	Snapshots []Snapshot `json:"snapshots,omitempty"`
}
