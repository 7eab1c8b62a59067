package engine

import (
	"fmt"
	"io"
	"time"

	"github.com/agentstation/collate/pkg/dupes"
)

// Status is the per-group outcome reported in a cycle summary.
type Status string

// Group statuses.
const (
	StatusApplied       Status = "applied"
	StatusEscalated     Status = "escalated"
	StatusFailed        Status = "failed"
	StatusSkipped       Status = "skipped"
	StatusPlanned       Status = "would-apply"
	StatusPlannedReview Status = "would-escalate"
)

// GroupReport is one duplicate group's line in the cycle summary.
type GroupReport struct {
	Group     string             `json:"group"`
	Shape     dupes.ContentShape `json:"shape,omitempty"`
	Grade     dupes.Grade        `json:"grade,omitempty"`
	Status    Status             `json:"status"`
	Conflicts int                `json:"conflicts,omitempty"`
	EntryID   string             `json:"entry_id,omitempty"`
	CommitRef string             `json:"commit_ref,omitempty"`
	Detail    string             `json:"detail,omitempty"`
}

// fail marks the report failed with the stage and error that stopped it.
func (r *GroupReport) fail(stage string, err error) *GroupReport {
	r.Status = StatusFailed
	r.Detail = fmt.Sprintf("%s: %v", stage, err)
	return r
}

// Summary is the user-visible result of one reconciliation cycle: groups
// applied, escalated, failed, and skipped-as-already-reconciled.
type Summary struct {
	CycleID     string         `json:"cycle_id"`
	Root        string         `json:"root"`
	DryRun      bool           `json:"dry_run,omitempty"`
	Started     time.Time      `json:"started"`
	Finished    time.Time      `json:"finished"`
	GroupsFound int            `json:"groups_found"`
	Applied     int            `json:"applied"`
	Escalated   int            `json:"escalated"`
	Failed      int            `json:"failed"`
	Skipped     int            `json:"skipped"`
	PushError   string         `json:"push_error,omitempty"`
	Groups      []*GroupReport `json:"groups,omitempty"`
}

// Add folds one group report into the summary counts.
func (s *Summary) Add(r *GroupReport) {
	if r == nil {
		return
	}
	s.Groups = append(s.Groups, r)
	switch r.Status {
	case StatusApplied, StatusPlanned:
		s.Applied++
	case StatusEscalated, StatusPlannedReview:
		s.Escalated++
	case StatusFailed:
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	}
}

// Duration returns the cycle's wall time.
func (s *Summary) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}

// Write renders the summary as human-readable text.
func (s *Summary) Write(w io.Writer) {
	mode := ""
	if s.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "cycle %s%s: %d group(s) in %s\n", shortID(s.CycleID), mode, s.GroupsFound, s.Duration().Round(time.Millisecond))
	for _, r := range s.Groups {
		line := fmt.Sprintf("  %-14s %s", r.Status, r.Group)
		if r.Grade != "" {
			line += fmt.Sprintf(" [%s, %d conflict(s)]", r.Grade, r.Conflicts)
		}
		if r.Detail != "" {
			line += ": " + r.Detail
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "applied %d, escalated %d, failed %d, skipped %d\n", s.Applied, s.Escalated, s.Failed, s.Skipped)
	if s.PushError != "" {
		fmt.Fprintf(w, "push failed (will retry next cycle): %s\n", s.PushError)
	}
}

// shortID abbreviates a cycle id for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
