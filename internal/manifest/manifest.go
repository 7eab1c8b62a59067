// Package manifest maintains the append-only ledger of reconciliation
// operations. The manifest is the only durable state the engine owns: it is
// the source of truth for idempotence checks, the audit trail operators
// read, and the snapshot store that makes every applied operation fully
// reversible.
//
// Ordering invariant: the entry for an applied operation is durably written
// before the filesystem mutation that deletes source files, so an
// interrupted run never loses the only record of what existed.
package manifest

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/collate/pkg/dupes"
	"github.com/agentstation/collate/pkg/errors"
	"github.com/agentstation/collate/pkg/logging"
)

const (
	// stateDirName is the engine's state directory under the scan root.
	stateDirName = ".collate"

	// fileName is the ledger file inside the state directory.
	fileName = "manifest.jsonl"

	dirPermissions  = 0o755
	filePermissions = 0o644
)

// Tracker appends to and reads the manifest ledger. Appends are serialized
// and fsynced; the file is JSONL, one entry per line, readable by operators
// with standard tools.
type Tracker struct {
	path string
	mu   sync.Mutex
}

// Open prepares a tracker for the manifest under the given scan root,
// creating the state directory if needed.
func Open(root string) (*Tracker, error) {
	dir := filepath.Join(root, stateDirName)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, errors.WrapFS("create", dir, err)
	}
	return &Tracker{path: filepath.Join(dir, fileName)}, nil
}

// Path returns the ledger file path.
func (t *Tracker) Path() string {
	return t.path
}

// NewEntry builds a manifest entry for a merge result with a fresh
// operation id and UTC timestamp.
func NewEntry(result *dupes.MergeResult, outcome dupes.Outcome) *dupes.ManifestEntry {
	entry := &dupes.ManifestEntry{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		CanonicalName: result.Group.CanonicalName,
		CanonicalPath: result.Group.CanonicalPath,
		Strategy:      result.Strategy,
		Outcome:       outcome,
		Conflicts:     result.Conflicts,
		Consumed:      result.Consumed,
	}
	if result.Canonical != nil {
		entry.ResultHash = HashContent(result.Canonical)
	}
	return entry
}

// Snapshot reads and attaches the current content of every candidate file
// in the entry's group, so the operation can be reversed byte-exactly.
// Missing files (e.g. no incumbent yet) are simply not snapshotted.
func Snapshot(entry *dupes.ManifestEntry, group *dupes.DuplicateGroup) error {
	for _, cand := range group.Candidates {
		content, err := os.ReadFile(cand.Path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.WrapFS("read", cand.Path, err)
		}
		info, err := os.Stat(cand.Path)
		if err != nil {
			return errors.WrapFS("stat", cand.Path, err)
		}
		entry.Snapshots = append(entry.Snapshots, dupes.Snapshot{
			Path:    cand.Path,
			Content: content,
			Mode:    uint32(info.Mode().Perm()),
		})
	}
	return nil
}

// Append durably writes one entry to the ledger: marshal, append, fsync.
// It must be called before any filesystem mutation for the entry's group.
func (t *Tracker) Append(ctx context.Context, entry *dupes.ManifestEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	line, err := json.Marshal(entry)
	if err != nil {
		return errors.NewValidationError("entry", entry.ID, "manifest entry not serializable: "+err.Error())
	}

	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePermissions)
	if err != nil {
		return errors.WrapFS("open", t.path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.WrapFS("write", t.path, err)
	}
	if err := f.Sync(); err != nil {
		return errors.WrapFS("sync", t.path, err)
	}

	logging.Ctx(ctx).Debug().
		Str("entry_id", entry.ID).
		Str("group", entry.CanonicalName).
		Str("outcome", string(entry.Outcome)).
		Msg("manifest entry appended")
	return nil
}

// Entries reads the ledger and folds it into effective entries: a later
// record with the same id overrides the outcome of an earlier one (the
// rolled_back transition is appended, never edited in place). Order follows
// first appearance.
func (t *Tracker) Entries(ctx context.Context) ([]*dupes.ManifestEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readEntries(ctx)
}

func (t *Tracker) readEntries(_ context.Context) ([]*dupes.ManifestEntry, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapFS("open", t.path, err)
	}
	defer f.Close()

	byID := make(map[string]*dupes.ManifestEntry)
	var order []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry dupes.ManifestEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, errors.WrapParse("json", t.path, err)
		}
		if existing, ok := byID[entry.ID]; ok {
			existing.Outcome = entry.Outcome
			if entry.CommitRef != "" {
				existing.CommitRef = entry.CommitRef
			}
			continue
		}
		e := entry
		byID[entry.ID] = &e
		order = append(order, entry.ID)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapFS("read", t.path, err)
	}

	out := make([]*dupes.ManifestEntry, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

// Find returns the effective entry with the given id.
func (t *Tracker) Find(ctx context.Context, id string) (*dupes.ManifestEntry, error) {
	entries, err := t.Entries(ctx)
	if err != nil {
		return nil, err
	}
	var matches []*dupes.ManifestEntry
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
		if len(id) >= 8 && strings.HasPrefix(e.ID, id) {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 0:
		return nil, errors.NewNotFoundError("manifest entry", id)
	case 1:
		return matches[0], nil
	default:
		return nil, errors.NewValidationError("entry id", id, "prefix matches multiple entries")
	}
}

// AlreadyReconciled implements the idempotence rule: a group is skipped
// when its canonical file's content matches a previously applied entry's
// result hash and none of that entry's snapshotted source files have
// reappeared. The engine never re-merges or re-commits unchanged state.
func (t *Tracker) AlreadyReconciled(ctx context.Context, group *dupes.DuplicateGroup) (bool, error) {
	content, err := os.ReadFile(group.CanonicalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.WrapFS("read", group.CanonicalPath, err)
	}
	hash := HashContent(content)

	entries, err := t.Entries(ctx)
	if err != nil {
		return false, err
	}

	// Walk newest-first so the latest applied state decides.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.CanonicalPath != group.CanonicalPath || e.Outcome != dupes.OutcomeApplied {
			continue
		}
		if e.ResultHash != hash {
			return false, nil
		}
		for _, consumed := range e.Consumed {
			if _, err := os.Stat(consumed); err == nil {
				// A consumed source reappeared; reconcile again.
				return false, nil
			}
		}
		return true, nil
	}
	return false, nil
}

// PendingReviewUnchanged reports whether the group already sits on an
// unadjudicated review entry with identical candidate contents. Such a
// group is awaiting a human and is not re-escalated; any edit to any
// candidate re-enters the pipeline. Returns the entry id when matched.
func (t *Tracker) PendingReviewUnchanged(ctx context.Context, group *dupes.DuplicateGroup) (string, bool, error) {
	entries, err := t.Entries(ctx)
	if err != nil {
		return "", false, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.CanonicalPath != group.CanonicalPath {
			continue
		}
		if e.Outcome != dupes.OutcomePendingReview {
			return "", false, nil
		}
		snapHashes := make(map[string]string, len(e.Snapshots))
		for _, snap := range e.Snapshots {
			snapHashes[snap.Path] = HashContent(snap.Content)
		}
		if len(snapHashes) != len(group.Candidates) {
			return "", false, nil
		}
		for _, cand := range group.Candidates {
			content, err := os.ReadFile(cand.Path)
			if err != nil {
				return "", false, nil
			}
			if snapHashes[cand.Path] != HashContent(content) {
				return "", false, nil
			}
		}
		return e.ID, true, nil
	}
	return "", false, nil
}

// HashContent returns the hex SHA-256 of content, the fingerprint stored in
// manifest entries.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
