// Package scan walks a directory tree and groups files produced by naming
// collisions into duplicate groups: a canonical base name plus copies
// carrying a trailing numeric version suffix, e.g. "config.json",
// "config 4.json", "config 5.json".
//
// The scan is read-only. Groups are recomputed fresh from the live
// filesystem on every call and never persisted; producers are free to write
// new versioned files at any moment without coordinating with the engine.
package scan

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/agentstation/collate/pkg/dupes"
	"github.com/agentstation/collate/pkg/errors"
	"github.com/agentstation/collate/pkg/logging"
)

// versionedName matches "<base><separator><version>.<ext>" where the
// separator is a space, underscore, hyphen, or a parenthesized " (N)" form.
// The version must be a positive integer.
var versionedName = regexp.MustCompile(`^(.+?)(?: \((\d+)\)|[ _-](\d+))\.([^.]+)$`)

// plainName matches "<base>.<ext>".
var plainName = regexp.MustCompile(`^(.+?)\.([^.]+)$`)

// Scanner discovers duplicate groups under a root path.
type Scanner struct {
	root   string
	ignore *Ignore
}

// New creates a Scanner for the given root with the given ignore rules.
func New(root string, ignore *Ignore) *Scanner {
	return &Scanner{root: root, ignore: ignore}
}

// Root returns the scanner's root path.
func (s *Scanner) Root() string {
	return s.root
}

// Scan walks the tree and returns every duplicate group present right now,
// sorted by canonical path. A group requires at least one version-suffixed
// member; a lone canonical file is not a duplicate of anything.
func (s *Scanner) Scan(ctx context.Context) ([]*dupes.DuplicateGroup, error) {
	log := logging.Ctx(ctx)

	root, err := filepath.Abs(s.root)
	if err != nil {
		return nil, errors.WrapFS("resolve", s.root, err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		if err == nil {
			err = errors.New("not a directory")
		}
		return nil, errors.WrapFS("stat", root, err)
	}

	groups := make(map[string]*dupes.DuplicateGroup)

	walkErr := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: false,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, err := filepath.Rel(root, osPathname)
			if err != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if rel == "." {
				return nil
			}
			if de.IsDir() {
				if s.ignore.MatchDir(rel) {
					return filepath.SkipDir
				}
				return nil
			}
			if !de.IsRegular() || s.ignore.MatchFile(rel) {
				return nil
			}
			s.collect(osPathname, groups, log)
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			log.Warn().Str("path", path).Err(err).Msg("skipping unreadable path")
			return godirwalk.SkipNode
		},
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return nil, errors.ErrCanceled
		}
		return nil, errors.WrapFS("walk", root, walkErr)
	}

	out := make([]*dupes.DuplicateGroup, 0, len(groups))
	for _, g := range groups {
		if len(g.Versioned()) == 0 {
			continue // lone canonical file, nothing to reconcile
		}
		sortCandidates(g)
		if err := g.Validate(); err != nil {
			log.Warn().Err(err).Str("group", g.CanonicalName).Msg("dropping invalid group")
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalPath < out[j].CanonicalPath })
	return out, nil
}

// collect files one file into its duplicate group, if its name is either a
// plain "<base>.<ext>" or a versioned "<base><sep><N>.<ext>".
func (s *Scanner) collect(pathname string, groups map[string]*dupes.DuplicateGroup, log *zerolog.Logger) {
	name := filepath.Base(pathname)
	base, version, ext, ok := SplitName(name)
	if !ok {
		return
	}

	info, err := os.Lstat(pathname)
	if err != nil {
		log.Warn().Str("path", pathname).Err(err).Msg("stat failed, skipping file")
		return
	}

	canonical := base + "." + ext
	// Group key includes the parent directory so same-named files in
	// different directories never collapse together.
	key := filepath.Join(filepath.Dir(pathname), canonical)
	g, exists := groups[key]
	if !exists {
		g = &dupes.DuplicateGroup{
			CanonicalName: canonical,
			CanonicalPath: key,
		}
		groups[key] = g
	}
	g.Candidates = append(g.Candidates, dupes.Candidate{
		Path:    pathname,
		Version: version,
		ModTime: info.ModTime(),
		Size:    info.Size(),
	})
}

// SplitName splits a filename into (base, version, ext). The version is zero
// for a plain canonical name. Base names are NFC-normalized before grouping
// so decomposed spellings written by macOS group with their composed twins;
// case and extension are compared exactly, so differing case or extension
// never groups.
func SplitName(name string) (base string, version int, ext string, ok bool) {
	name = norm.NFC.String(name)
	if m := versionedName.FindStringSubmatch(name); m != nil {
		digits := m[2]
		if digits == "" {
			digits = m[3]
		}
		v, err := strconv.Atoi(digits)
		if err == nil && v > 0 {
			return m[1], v, m[4], true
		}
		// A zero or overflowing suffix is treated as part of the base name.
	}
	if m := plainName.FindStringSubmatch(name); m != nil {
		return m[1], 0, m[2], true
	}
	return "", 0, "", false
}

// CanonicalFor returns the canonical filename a versioned name collapses
// into, or the name itself when it carries no suffix.
func CanonicalFor(name string) string {
	base, _, ext, ok := SplitName(name)
	if !ok {
		return name
	}
	return base + "." + ext
}

// Ext returns the lower-cased extension (without dot) of a canonical name.
func Ext(canonicalName string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(canonicalName), "."))
}

// sortCandidates orders a group incumbent-first, then ascending version.
func sortCandidates(g *dupes.DuplicateGroup) {
	sort.Slice(g.Candidates, func(i, j int) bool {
		return g.Candidates[i].Version < g.Candidates[j].Version
	})
}
