package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agentstation/collate/pkg/dupes"
)

func TestSummaryAddCounts(t *testing.T) {
	s := &Summary{}
	s.Add(&GroupReport{Group: "a.json", Status: StatusApplied})
	s.Add(&GroupReport{Group: "b.json", Status: StatusPlanned})
	s.Add(&GroupReport{Group: "c.json", Status: StatusEscalated})
	s.Add(&GroupReport{Group: "d.json", Status: StatusFailed})
	s.Add(&GroupReport{Group: "e.json", Status: StatusSkipped})
	s.Add(nil)

	assert.Equal(t, 2, s.Applied)
	assert.Equal(t, 1, s.Escalated)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Skipped)
	assert.Len(t, s.Groups, 5)
}

func TestSummaryWrite(t *testing.T) {
	s := &Summary{
		CycleID:     "4f9c1a2e-77b0-4c4e-9d3e-08d1fd6a9b21",
		DryRun:      true,
		Started:     time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC),
		Finished:    time.Date(2025, 2, 1, 10, 0, 1, 0, time.UTC),
		GroupsFound: 1,
	}
	s.Add(&GroupReport{
		Group:     "config.json",
		Status:    StatusPlanned,
		Grade:     dupes.GradeAutoResolved,
		Conflicts: 1,
		Detail:    "would apply deep-merge-latest-wins",
	})

	var b strings.Builder
	s.Write(&b)
	out := b.String()

	assert.Contains(t, out, "cycle 4f9c1a2e (dry run)")
	assert.Contains(t, out, "config.json")
	assert.Contains(t, out, "auto-resolved, 1 conflict(s)")
	assert.Contains(t, out, "applied 1, escalated 0, failed 0, skipped 0")
}
