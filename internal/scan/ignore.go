package scan

import (
	"path"
	"strings"
)

// alwaysIgnored are directory names excluded from every scan. The engine's
// own state directory and VCS metadata are never reconciliation input.
var alwaysIgnored = []string{".git", ".collate"}

// Ignore holds the ignore-rule set applied during a scan. Files matched by
// a rule are invisible to every downstream component.
//
// Rules are gitignore-flavored globs: a pattern containing a slash matches
// against the slash-separated path relative to the scan root; a bare pattern
// matches against any single path segment. A trailing slash restricts the
// pattern to directories, pruning the whole subtree.
type Ignore struct {
	patterns []string
}

// NewIgnore creates an ignore set from the given patterns.
func NewIgnore(patterns ...string) *Ignore {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		cleaned = append(cleaned, p)
	}
	return &Ignore{patterns: cleaned}
}

// MatchDir reports whether a directory (given relative to the scan root)
// should be pruned entirely.
func (ig *Ignore) MatchDir(rel string) bool {
	base := path.Base(rel)
	for _, name := range alwaysIgnored {
		if base == name {
			return true
		}
	}
	if ig == nil {
		return false
	}
	for _, p := range ig.patterns {
		pat := strings.TrimSuffix(p, "/")
		if matchPattern(pat, rel, base) {
			return true
		}
	}
	return false
}

// MatchFile reports whether a file (given relative to the scan root) is
// excluded by the rule set.
func (ig *Ignore) MatchFile(rel string) bool {
	if ig == nil {
		return false
	}
	base := path.Base(rel)
	for _, p := range ig.patterns {
		if strings.HasSuffix(p, "/") {
			continue // directory-only pattern
		}
		if matchPattern(p, rel, base) {
			return true
		}
	}
	return false
}

// matchPattern applies one glob pattern to a relative path. Patterns with a
// slash are anchored to the root; bare patterns match any path segment.
func matchPattern(pat, rel, base string) bool {
	if strings.Contains(pat, "/") {
		ok, err := path.Match(strings.Trim(pat, "/"), rel)
		return err == nil && ok
	}
	for _, seg := range strings.Split(rel, "/") {
		if ok, err := path.Match(pat, seg); err == nil && ok {
			return true
		}
	}
	if ok, err := path.Match(pat, base); err == nil && ok {
		return true
	}
	return false
}
