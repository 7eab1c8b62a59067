package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitName(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		version int
		ext     string
		ok      bool
	}{
		{"config.json", "config", 0, "json", true},
		{"config (1).json", "config", 1, "json", true},
		{"config (12).json", "config", 12, "json", true},
		{"config 2.json", "config", 2, "json", true},
		{"config_3.json", "config", 3, "json", true},
		{"config-4.json", "config", 4, "json", true},
		{"report.2024.json", "report.2024", 0, "json", true},
		{"report.2024 (1).json", "report.2024", 1, "json", true},
		{"noext", "", 0, "", false},
		{"notes 0.txt", "notes 0", 0, "txt", true},
		{".gitignore", "", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, version, ext, ok := SplitName(tt.name)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.base, base)
			assert.Equal(t, tt.version, version)
			assert.Equal(t, tt.ext, ext)
		})
	}
}

func TestSplitNameNormalizesUnicode(t *testing.T) {
	// "café" with a decomposed e + combining acute, as macOS writes it.
	decomposed := "café (1).json"
	composed := "café.json"

	base, version, _, ok := SplitName(decomposed)
	require.True(t, ok)
	assert.Equal(t, 1, version)
	assert.Equal(t, CanonicalFor(composed), base+".json")
}

func TestCanonicalFor(t *testing.T) {
	assert.Equal(t, "config.json", CanonicalFor("config (3).json"))
	assert.Equal(t, "config.json", CanonicalFor("config.json"))
	assert.Equal(t, "Makefile", CanonicalFor("Makefile"))
}

func TestScanGroupsDuplicates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.json", `{"a":1}`)
	writeFile(t, dir, "config (1).json", `{"a":2}`)
	writeFile(t, dir, "config_2.json", `{"a":3}`)
	writeFile(t, dir, "lonely.json", `{}`)
	writeFile(t, dir, "other.yaml", "a: 1")
	writeFile(t, dir, "other 1.yaml", "a: 2")

	s := New(dir, NewIgnore())
	groups, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)

	// Sorted by canonical path.
	assert.Equal(t, "config.json", groups[0].CanonicalName)
	assert.Equal(t, "other.yaml", groups[1].CanonicalName)

	cfg := groups[0]
	require.Len(t, cfg.Candidates, 3)
	assert.True(t, cfg.Candidates[0].Incumbent())
	assert.Equal(t, 1, cfg.Candidates[1].Version)
	assert.Equal(t, 2, cfg.Candidates[2].Version)
	assert.Equal(t, filepath.Join(dir, "config.json"), cfg.CanonicalPath)
}

func TestScanNeedsVersionedMember(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{}`)
	writeFile(t, dir, "b.json", `{}`)

	s := New(dir, NewIgnore())
	groups, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestScanSeparatesDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b"), 0o755))
	writeFile(t, dir, "a/data.json", `{}`)
	writeFile(t, dir, "a/data (1).json", `{}`)
	writeFile(t, dir, "b/data.json", `{}`)
	writeFile(t, dir, "b/data (1).json", `{}`)

	s := New(dir, NewIgnore())
	groups, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.NotEqual(t, groups[0].CanonicalPath, groups[1].CanonicalPath)
}

func TestScanHonorsIgnoreRules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".collate"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	writeFile(t, dir, "node_modules/pkg.json", `{}`)
	writeFile(t, dir, "node_modules/pkg (1).json", `{}`)
	writeFile(t, dir, ".collate/manifest.jsonl", "")
	writeFile(t, dir, ".git/config", "")
	writeFile(t, dir, "keep.json", `{}`)
	writeFile(t, dir, "keep (1).json", `{}`)
	writeFile(t, dir, "skip.tmp", "x")
	writeFile(t, dir, "skip 1.tmp", "x")

	s := New(dir, NewIgnore("node_modules/", "*.tmp"))
	groups, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "keep.json", groups[0].CanonicalName)
}

func TestScanCanceledContext(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{}`)
	writeFile(t, dir, "a (1).json", `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(dir, NewIgnore())
	_, err := s.Scan(ctx)
	assert.Error(t, err)
}

func TestIgnorePatterns(t *testing.T) {
	ig := NewIgnore("*.bak", "build/", "docs/draft.md", "", "# comment")

	assert.True(t, ig.MatchFile("old.bak"))
	assert.True(t, ig.MatchFile("nested/dir/old.bak"))
	assert.False(t, ig.MatchFile("old.bak.txt"))
	assert.True(t, ig.MatchDir("build"))
	assert.True(t, ig.MatchDir("sub/build"))
	assert.False(t, ig.MatchFile("build"))
	assert.True(t, ig.MatchFile("docs/draft.md"))
	assert.False(t, ig.MatchFile("other/draft.md"))

	// Built-ins hold even with no user patterns.
	assert.True(t, NewIgnore().MatchDir(".git"))
	assert.True(t, NewIgnore().MatchDir(".collate"))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
