package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/collate/pkg/dupes"
	"github.com/agentstation/collate/pkg/errors"
)

func newGroup(dir string, contents map[string]string) *dupes.DuplicateGroup {
	group := &dupes.DuplicateGroup{
		CanonicalName: "config.json",
		CanonicalPath: filepath.Join(dir, "config.json"),
	}
	for name := range contents {
		version := 0
		switch name {
		case "config (1).json":
			version = 1
		case "config (2).json":
			version = 2
		}
		group.Candidates = append(group.Candidates, dupes.Candidate{
			Path:    filepath.Join(dir, name),
			Version: version,
		})
	}
	return group
}

func writeAll(t *testing.T, dir string, contents map[string]string) {
	t.Helper()
	for name, content := range contents {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func newResult(group *dupes.DuplicateGroup, canonical string, consumed ...string) *dupes.MergeResult {
	return &dupes.MergeResult{
		Group:     group,
		Strategy:  "deep-merge-latest-wins",
		Canonical: []byte(canonical),
		Consumed:  consumed,
	}
}

func TestAppendAndEntries(t *testing.T) {
	dir := t.TempDir()
	tracker, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	group := newGroup(dir, map[string]string{"config.json": "{}"})
	first := NewEntry(newResult(group, `{"a":1}`), dupes.OutcomeApplied)
	second := NewEntry(newResult(group, `{"a":2}`), dupes.OutcomePendingReview)

	require.NoError(t, tracker.Append(ctx, first))
	require.NoError(t, tracker.Append(ctx, second))

	entries, err := tracker.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].ID)
	assert.Equal(t, dupes.OutcomeApplied, entries[0].Outcome)
	assert.Equal(t, second.ID, entries[1].ID)

	// Ledger stays append-only on disk: one JSON line per append.
	raw, err := os.ReadFile(tracker.Path())
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(raw))
}

func TestEntriesFoldLaterRecords(t *testing.T) {
	dir := t.TempDir()
	tracker, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	group := newGroup(dir, map[string]string{"config.json": "{}"})
	entry := NewEntry(newResult(group, `{"a":1}`), dupes.OutcomeApplied)
	require.NoError(t, tracker.Append(ctx, entry))

	marker := &dupes.ManifestEntry{
		ID:            entry.ID,
		CanonicalName: entry.CanonicalName,
		CanonicalPath: entry.CanonicalPath,
		Outcome:       dupes.OutcomeRolledBack,
		CommitRef:     "abc1234",
	}
	require.NoError(t, tracker.Append(ctx, marker))

	entries, err := tracker.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, dupes.OutcomeRolledBack, entries[0].Outcome)
	assert.Equal(t, "abc1234", entries[0].CommitRef)
	// The original record's payload survives the fold.
	assert.NotEmpty(t, entries[0].ResultHash)
}

func TestFindByIDAndPrefix(t *testing.T) {
	dir := t.TempDir()
	tracker, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	group := newGroup(dir, map[string]string{"config.json": "{}"})
	entry := NewEntry(newResult(group, `{}`), dupes.OutcomeApplied)
	require.NoError(t, tracker.Append(ctx, entry))

	found, err := tracker.Find(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, found.ID)

	found, err = tracker.Find(ctx, entry.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, entry.ID, found.ID)

	_, err = tracker.Find(ctx, "no-such-entry")
	assert.True(t, errors.IsNotFound(err))
}

func TestSnapshotSkipsMissingIncumbent(t *testing.T) {
	dir := t.TempDir()
	contents := map[string]string{"config (1).json": `{"a":1}`}
	writeAll(t, dir, contents)

	group := newGroup(dir, map[string]string{
		"config.json":     "",
		"config (1).json": "",
	})

	entry := NewEntry(newResult(group, `{}`), dupes.OutcomeApplied)
	require.NoError(t, Snapshot(entry, group))
	require.Len(t, entry.Snapshots, 1)
	assert.Equal(t, filepath.Join(dir, "config (1).json"), entry.Snapshots[0].Path)
	assert.Equal(t, `{"a":1}`, string(entry.Snapshots[0].Content))
}

func TestAlreadyReconciled(t *testing.T) {
	dir := t.TempDir()
	tracker, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	canonical := `{"merged": true}`
	consumedPath := filepath.Join(dir, "config (1).json")
	writeAll(t, dir, map[string]string{"config.json": canonical})

	group := newGroup(dir, map[string]string{"config.json": ""})
	entry := NewEntry(newResult(group, canonical, consumedPath), dupes.OutcomeApplied)
	require.NoError(t, tracker.Append(ctx, entry))

	done, err := tracker.AlreadyReconciled(ctx, group)
	require.NoError(t, err)
	assert.True(t, done)

	// A consumed source reappearing means new producer activity.
	writeAll(t, dir, map[string]string{"config (1).json": `{"fresh": 1}`})
	done, err = tracker.AlreadyReconciled(ctx, group)
	require.NoError(t, err)
	assert.False(t, done)
	require.NoError(t, os.Remove(consumedPath))

	// An edited canonical file means new state too.
	writeAll(t, dir, map[string]string{"config.json": `{"edited": 1}`})
	done, err = tracker.AlreadyReconciled(ctx, group)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestPendingReviewUnchanged(t *testing.T) {
	dir := t.TempDir()
	tracker, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	contents := map[string]string{
		"config.json":     `{"a":1}`,
		"config (1).json": `{"a":2}`,
	}
	writeAll(t, dir, contents)
	group := newGroup(dir, contents)

	entry := NewEntry(&dupes.MergeResult{Group: group, Strategy: "deep-merge-latest-wins"}, dupes.OutcomePendingReview)
	require.NoError(t, Snapshot(entry, group))
	require.NoError(t, tracker.Append(ctx, entry))

	id, pending, err := tracker.PendingReviewUnchanged(ctx, group)
	require.NoError(t, err)
	assert.True(t, pending)
	assert.Equal(t, entry.ID, id)

	// Editing any candidate re-enters the pipeline.
	writeAll(t, dir, map[string]string{"config (1).json": `{"a":3}`})
	_, pending, err = tracker.PendingReviewUnchanged(ctx, group)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestRollbackRestoresByteExactState(t *testing.T) {
	dir := t.TempDir()
	tracker, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	contents := map[string]string{
		"config.json":     `{"original": true}`,
		"config (1).json": `{"version": 1}`,
		"config (2).json": `{"version": 2}`,
	}
	writeAll(t, dir, contents)
	group := newGroup(dir, contents)

	consumed := []string{
		filepath.Join(dir, "config (1).json"),
		filepath.Join(dir, "config (2).json"),
	}
	entry := NewEntry(newResult(group, `{"merged": true}`, consumed...), dupes.OutcomeApplied)
	require.NoError(t, Snapshot(entry, group))
	require.NoError(t, tracker.Append(ctx, entry))

	// Apply the mutation the entry describes.
	require.NoError(t, os.WriteFile(group.CanonicalPath, []byte(`{"merged": true}`), 0o644))
	for _, path := range consumed {
		require.NoError(t, os.Remove(path))
	}

	require.NoError(t, tracker.Rollback(ctx, entry.ID))

	for name, want := range contents {
		got, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, want, string(got), name)
	}

	// Rolled-back entries cannot roll back twice.
	err = tracker.Rollback(ctx, entry.ID)
	assert.ErrorIs(t, err, errors.ErrRolledBack)
}

func TestRollbackRemovesCanonicalWithoutIncumbent(t *testing.T) {
	dir := t.TempDir()
	tracker, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	// No incumbent: the canonical file is entirely the engine's product.
	contents := map[string]string{"config (1).json": `{"v": 1}`}
	writeAll(t, dir, contents)
	group := newGroup(dir, contents)

	consumedPath := filepath.Join(dir, "config (1).json")
	entry := NewEntry(newResult(group, `{"v": 1}`, consumedPath), dupes.OutcomeApplied)
	require.NoError(t, Snapshot(entry, group))
	require.NoError(t, tracker.Append(ctx, entry))

	require.NoError(t, os.WriteFile(group.CanonicalPath, []byte(`{"v": 1}`), 0o644))
	require.NoError(t, os.Remove(consumedPath))

	require.NoError(t, tracker.Rollback(ctx, entry.ID))

	_, err = os.Stat(group.CanonicalPath)
	assert.True(t, os.IsNotExist(err))
	restored, err := os.ReadFile(consumedPath)
	require.NoError(t, err)
	assert.Equal(t, `{"v": 1}`, string(restored))
}

func TestRollbackPendingReviewIsNoOp(t *testing.T) {
	dir := t.TempDir()
	tracker, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	group := newGroup(dir, map[string]string{"config.json": ""})
	entry := NewEntry(&dupes.MergeResult{Group: group, Strategy: "opaque"}, dupes.OutcomePendingReview)
	require.NoError(t, tracker.Append(ctx, entry))

	assert.NoError(t, tracker.Rollback(ctx, entry.ID))
}

func TestHashContent(t *testing.T) {
	a := HashContent([]byte("content"))
	b := HashContent([]byte("content"))
	c := HashContent([]byte("different"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func countLines(raw []byte) int {
	n := 0
	for _, b := range raw {
		if b == '\n' {
			n++
		}
	}
	return n
}
