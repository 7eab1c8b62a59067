package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/collate/pkg/dupes"
	"github.com/agentstation/collate/pkg/errors"
)

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// treeHash fingerprints every file under root, path and content.
func treeHash(t *testing.T, root string) string {
	t.Helper()
	h := sha256.New()
	var paths []string
	require.NoError(t, filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	}))
	sort.Strings(paths)
	for _, path := range paths {
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		h.Write([]byte(path))
		h.Write(content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func TestRunCycleAppliesCleanGroup(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "active.json", `[{"id": 1, "name": "a"}]`)
	write(t, dir, "active (1).json", `[{"id": 2, "name": "b"}]`)

	e := New(Config{Root: dir, Apply: true})
	summary, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.GroupsFound)
	assert.Equal(t, 1, summary.Applied)
	assert.Zero(t, summary.Escalated)
	assert.Zero(t, summary.Failed)
	require.Len(t, summary.Groups, 1)
	assert.Equal(t, StatusApplied, summary.Groups[0].Status)
	assert.Equal(t, dupes.GradeClean, summary.Groups[0].Grade)

	// The canonical artifact holds the union; the versioned copy is gone.
	content, err := os.ReadFile(filepath.Join(dir, "active.json"))
	require.NoError(t, err)
	assert.Contains(t, string(content), `"id": 1`)
	assert.Contains(t, string(content), `"id": 2`)
	assert.False(t, exists(filepath.Join(dir, "active (1).json")))

	// The manifest records the operation.
	assert.True(t, exists(filepath.Join(dir, ".collate", "manifest.jsonl")))
}

func TestRunCycleReportOnlyNeverWrites(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "active.json", `[{"id": 1}]`)
	write(t, dir, "active (1).json", `[{"id": 2}]`)
	before := treeHash(t, dir)

	e := New(Config{Root: dir})
	summary, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusPlanned, summary.Groups[0].Status)
	assert.Equal(t, before, treeHash(t, dir))
	assert.False(t, exists(filepath.Join(dir, ".collate")))
}

func TestRunCycleDryRunPurity(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "active.json", `[{"id": 1}]`)
	write(t, dir, "active (1).json", `[{"id": 2}]`)
	write(t, dir, "blob.bin", "x")
	write(t, dir, "blob (1).bin", "y")
	before := treeHash(t, dir)

	e := New(Config{Root: dir, Apply: true, DryRun: true})
	summary, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.GroupsFound)
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, 1, summary.Escalated)

	// Zero filesystem writes, zero manifest entries.
	assert.Equal(t, before, treeHash(t, dir))
	assert.False(t, exists(filepath.Join(dir, ".collate")))
}

func TestRunCycleAmbiguousNeverApplied(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "blob.bin", "\x00\x01")
	write(t, dir, "blob (1).bin", "\x00\x02")

	e := New(Config{Root: dir, Apply: true})

	for i := 0; i < 3; i++ {
		summary, err := e.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Zero(t, summary.Applied)
		assert.Zero(t, summary.Failed)
	}

	// The group's files are untouched under repeated cycles.
	assert.True(t, exists(filepath.Join(dir, "blob.bin")))
	assert.True(t, exists(filepath.Join(dir, "blob (1).bin")))

	// Exactly one pending_review entry exists; later cycles saw it
	// unchanged and did not re-escalate.
	entries := readManifest(t, e)
	require.Len(t, entries, 1)
	assert.Equal(t, dupes.OutcomePendingReview, entries[0].Outcome)
}

func TestRunCycleIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "config.json", `{"retries": 3}`)
	write(t, dir, "config (1).json", `{"timeout": 30}`)

	e := New(Config{Root: dir, Apply: true})
	first, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Applied)

	after := treeHash(t, dir)

	// The canonical file alone no longer forms a duplicate group, so the
	// second cycle finds nothing. Restore a copy of the merged output under
	// a version suffix to exercise the hash check path too.
	second, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.GroupsFound)
	assert.Equal(t, after, treeHash(t, dir))
}

func TestRunCycleRefusesOverlap(t *testing.T) {
	dir := t.TempDir()
	e := New(Config{Root: dir})

	// Steal the run token to simulate an in-flight cycle.
	<-e.runToken
	_, err := e.RunCycle(context.Background())
	assert.ErrorIs(t, err, errors.ErrCycleBusy)
	e.runToken <- struct{}{}

	// With the token back, cycles run again.
	_, err = e.RunCycle(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, StateIdle, e.State())
}

func TestEngineRollbackRestoresSources(t *testing.T) {
	dir := t.TempDir()
	incumbent := `[{"id": 1, "name": "a"}]`
	versioned := `[{"id": 2, "name": "b"}]`
	write(t, dir, "active.json", incumbent)
	write(t, dir, "active (1).json", versioned)

	e := New(Config{Root: dir, Apply: true})
	summary, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	entryID := summary.Groups[0].EntryID
	require.NotEmpty(t, entryID)

	require.NoError(t, e.Rollback(context.Background(), entryID))

	got, err := os.ReadFile(filepath.Join(dir, "active.json"))
	require.NoError(t, err)
	assert.Equal(t, incumbent, string(got))
	got, err = os.ReadFile(filepath.Join(dir, "active (1).json"))
	require.NoError(t, err)
	assert.Equal(t, versioned, string(got))
}

func TestRunCycleContainsGroupFailures(t *testing.T) {
	dir := t.TempDir()
	// One healthy group, one whose files disappear mid-pipeline cannot be
	// simulated portably; instead verify failures in one group don't stop
	// the cycle by mixing an ambiguous group with a clean one.
	write(t, dir, "good.json", `{"a": 1}`)
	write(t, dir, "good (1).json", `{"b": 2}`)
	write(t, dir, "bad.bin", "x")
	write(t, dir, "bad (1).bin", "y")

	e := New(Config{Root: dir, Apply: true})
	summary, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, 1, summary.Escalated)
	assert.Zero(t, summary.Failed)
}

func TestCyclePhasesProgressPerStage(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "config.json", `{"retries": 3}`)
	write(t, dir, "config (1).json", `{"timeout": 30}`)
	write(t, dir, "blob.bin", "x")
	write(t, dir, "blob (1).bin", "y")

	e := New(Config{Root: dir})
	ctx := context.Background()
	groups, err := e.scanner.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	tasks := make([]*groupTask, len(groups))
	for i, g := range groups {
		tasks[i] = &groupTask{group: g, report: &GroupReport{Group: g.CanonicalName}}
	}

	// Classification settles shapes before any merge begins.
	e.forEachPending(ctx, tasks, e.classifyTask)
	for _, task := range tasks {
		assert.False(t, task.terminal())
		assert.NotNil(t, task.classified)
		assert.Nil(t, task.result)
	}

	// Merging fills results; grading has not happened yet.
	e.forEachPending(ctx, tasks, e.mergeTask)
	for _, task := range tasks {
		assert.NotNil(t, task.result)
		assert.Nil(t, task.decision)
	}
}

func TestForEachPendingSkipsSettledGroups(t *testing.T) {
	dir := t.TempDir()
	e := New(Config{Root: dir})

	settled := &groupTask{
		group:  &dupes.DuplicateGroup{CanonicalName: "done.json"},
		report: &GroupReport{Group: "done.json", Status: StatusSkipped, Detail: "already reconciled"},
	}
	visited := false
	e.forEachPending(context.Background(), []*groupTask{settled}, func(context.Context, *groupTask) {
		visited = true
	})

	assert.False(t, visited)
	assert.Equal(t, StatusSkipped, settled.report.Status)
	assert.Equal(t, "already reconciled", settled.report.Detail)
}

func TestForEachPendingCanceledMarksSkipped(t *testing.T) {
	dir := t.TempDir()
	e := New(Config{Root: dir})

	task := &groupTask{
		group:  &dupes.DuplicateGroup{CanonicalName: "late.json"},
		report: &GroupReport{Group: "late.json"},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e.forEachPending(ctx, []*groupTask{task}, func(context.Context, *groupTask) {
		t.Fatal("canceled group must not be processed")
	})

	assert.Equal(t, StatusSkipped, task.report.Status)
	assert.Equal(t, "cycle canceled", task.report.Detail)
}

func readManifest(t *testing.T, e *Engine) []*dupes.ManifestEntry {
	t.Helper()
	require.NotNil(t, e.tracker)
	entries, err := e.tracker.Entries(context.Background())
	require.NoError(t, err)
	return entries
}
