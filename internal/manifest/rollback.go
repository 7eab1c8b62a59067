package manifest

import (
	"context"
	"os"
	"time"

	"github.com/agentstation/collate/pkg/dupes"
	"github.com/agentstation/collate/pkg/errors"
	"github.com/agentstation/collate/pkg/logging"
)

// Rollback reverses a previously applied entry: every snapshotted source
// file is restored to its exact original content, the canonical artifact
// the operation produced is removed (or restored to the incumbent's prior
// content), and a rolled_back marker is appended for the entry.
//
// Rolling back a pending_review entry is a no-op: nothing was committed.
// Entries in any other state are rejected.
func (t *Tracker) Rollback(ctx context.Context, entryID string) error {
	log := logging.Ctx(ctx)

	entry, err := t.Find(ctx, entryID)
	if err != nil {
		return err
	}

	switch entry.Outcome {
	case dupes.OutcomePendingReview:
		log.Info().Str("entry_id", entryID).Msg("entry is pending review, nothing to roll back")
		return nil
	case dupes.OutcomeRolledBack:
		return errors.ErrRolledBack
	case dupes.OutcomeApplied:
		// proceed
	default:
		return errors.NewValidationError("outcome", entry.Outcome, "only applied entries can be rolled back")
	}

	// Restore snapshots first; removing the canonical artifact comes after
	// so an interrupted rollback leaves the originals in place.
	restoredCanonical := false
	for _, snap := range entry.Snapshots {
		mode := os.FileMode(snap.Mode)
		if mode == 0 {
			mode = filePermissions
		}
		if err := os.WriteFile(snap.Path, snap.Content, mode); err != nil {
			return errors.WrapFS("write", snap.Path, err)
		}
		if snap.Path == entry.CanonicalPath {
			restoredCanonical = true
		}
		log.Debug().Str("path", snap.Path).Msg("restored snapshot")
	}

	// No incumbent existed before the operation: the canonical artifact is
	// entirely the engine's product, so remove it.
	if !restoredCanonical {
		if err := os.Remove(entry.CanonicalPath); err != nil && !os.IsNotExist(err) {
			return errors.WrapFS("delete", entry.CanonicalPath, err)
		}
	}

	marker := &dupes.ManifestEntry{
		ID:            entry.ID,
		Timestamp:     time.Now().UTC(),
		CanonicalName: entry.CanonicalName,
		CanonicalPath: entry.CanonicalPath,
		Strategy:      entry.Strategy,
		Outcome:       dupes.OutcomeRolledBack,
	}
	if err := t.Append(ctx, marker); err != nil {
		return err
	}

	log.Info().
		Str("entry_id", entryID).
		Str("group", entry.CanonicalName).
		Int("restored", len(entry.Snapshots)).
		Msg("rollback complete")
	return nil
}
