// Package engine drives reconciliation cycles: scan, classify, merge,
// resolve, publish. A cycle is a closed pipeline in which no component
// calls back upstream, and at most one cycle runs at a time, enforced by a
// single-slot run token rather than a global flag.
package engine

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/collate/internal/classify"
	"github.com/agentstation/collate/internal/manifest"
	"github.com/agentstation/collate/internal/merge"
	"github.com/agentstation/collate/internal/resolve"
	"github.com/agentstation/collate/internal/scan"
	"github.com/agentstation/collate/internal/vcs"
	"github.com/agentstation/collate/pkg/dupes"
	"github.com/agentstation/collate/pkg/errors"
	"github.com/agentstation/collate/pkg/logging"
)

// State is a cycle's position in the pipeline state machine.
type State string

// Cycle states, in pipeline order.
const (
	StateIdle        State = "idle"
	StateScanning    State = "scanning"
	StateClassifying State = "classifying"
	StateMerging     State = "merging"
	StateResolving   State = "resolving"
	StatePublishing  State = "publishing"
)

// defaultWorkers bounds concurrent group processing within one cycle.
const defaultWorkers = 4

// Config holds one engine's fixed configuration.
type Config struct {
	// Root is the directory tree to reconcile.
	Root string

	// IgnorePatterns are gitignore-flavored rules; matched files are
	// invisible to the whole pipeline.
	IgnorePatterns []string

	// Apply enables filesystem mutation: writing canonical artifacts and
	// deleting consumed sources. Without it a cycle only reports.
	Apply bool

	// DryRun halts the cycle after resolving and emits a preview with zero
	// filesystem writes and zero manifest entries.
	DryRun bool

	// Publish enables VCS commits, pushes, and review branches.
	Publish bool

	// Remote is the git remote name (default "origin").
	Remote string

	// Workers bounds concurrent group processing (default 4).
	Workers int
}

// Engine runs reconciliation cycles over a fixed root.
type Engine struct {
	cfg       Config
	scanner   *scan.Scanner
	tracker   *manifest.Tracker
	publisher *vcs.Publisher

	// runToken is the single-slot token that forbids overlapping cycles.
	runToken chan struct{}

	mu    sync.RWMutex
	state State
}

// New creates an Engine. The manifest tracker is opened lazily on the
// first applying cycle so dry runs leave no trace on disk.
func New(cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	e := &Engine{
		cfg:      cfg,
		scanner:  scan.New(cfg.Root, scan.NewIgnore(cfg.IgnorePatterns...)),
		runToken: make(chan struct{}, 1),
		state:    StateIdle,
	}
	e.runToken <- struct{}{}
	return e
}

// State returns the engine's current cycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(ctx context.Context, s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	logging.Ctx(ctx).Debug().Str("state", string(s)).Msg("cycle state")
}

// RunCycle executes one full reconciliation cycle and returns its summary.
// It fails with ErrCycleBusy when another cycle holds the run token.
// Cancellation is honored between groups: in-flight group processing
// completes and is recorded, never left half-applied.
func (e *Engine) RunCycle(ctx context.Context) (*Summary, error) {
	select {
	case <-e.runToken:
	default:
		return nil, errors.ErrCycleBusy
	}
	defer func() {
		e.setState(ctx, StateIdle)
		e.runToken <- struct{}{}
	}()

	summary := &Summary{
		CycleID: uuid.NewString(),
		Root:    e.cfg.Root,
		DryRun:  e.cfg.DryRun,
		Started: time.Now().UTC(),
	}
	ctx = logging.WithCycle(ctx, summary.CycleID)
	log := logging.Ctx(ctx)

	e.setState(ctx, StateScanning)
	groups, err := e.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	summary.GroupsFound = len(groups)
	log.Info().Int("groups", len(groups)).Msg("scan complete")

	if len(groups) == 0 {
		summary.Finished = time.Now().UTC()
		return summary, nil
	}

	if e.needsTracker() {
		if e.tracker == nil {
			tracker, err := manifest.Open(e.cfg.Root)
			if err != nil {
				return nil, err
			}
			e.tracker = tracker
		}
	}
	if e.cfg.Publish && e.publisher == nil {
		e.publisher = vcs.New(e.cfg.Root, vcs.WithRemote(e.cfg.Remote))
	}

	// Each pipeline phase runs to completion across all groups before the
	// next begins, so the coarse state tracks real progress.
	tasks := make([]*groupTask, len(groups))
	for i, group := range groups {
		tasks[i] = &groupTask{group: group, report: &GroupReport{Group: group.CanonicalName}}
	}

	e.setState(ctx, StateClassifying)
	e.forEachPending(ctx, tasks, e.classifyTask)

	e.setState(ctx, StateMerging)
	e.forEachPending(ctx, tasks, e.mergeTask)

	e.setState(ctx, StateResolving)
	for _, task := range tasks {
		if task.terminal() {
			continue
		}
		task.decision = resolve.Grade(task.result)
		task.report.Grade = task.decision.Grade
		task.report.Conflicts = len(task.result.Conflicts)
	}

	if e.cfg.DryRun || !e.cfg.Apply {
		for _, task := range tasks {
			if task.terminal() {
				continue
			}
			if task.decision.Committable() {
				task.report.Status = StatusPlanned
				task.report.Detail = "would apply " + task.result.Strategy
			} else {
				task.report.Status = StatusPlannedReview
				task.report.Detail = "would escalate for review"
			}
		}
		if e.cfg.DryRun {
			log.Info().Msg("dry run: stopping before publishing")
		}
	} else {
		e.setState(ctx, StatePublishing)
		e.forEachPending(ctx, tasks, func(ctx context.Context, task *groupTask) {
			// An in-flight group runs to completion even on cancellation,
			// so its manifest entry and file state stay consistent.
			ctx = context.WithoutCancel(ctx)
			if task.decision.Committable() {
				e.applyGroup(ctx, task.result, task.report)
			} else {
				e.escalateGroup(ctx, task.decision, task.report)
			}
		})
	}

	for _, task := range tasks {
		summary.Add(task.report)
	}

	if e.cfg.Apply && !e.cfg.DryRun && e.cfg.Publish && summary.Applied > 0 {
		if err := e.publisher.PushCycle(ctx); err != nil {
			// Local commits stand; the next cycle's push covers them.
			summary.PushError = err.Error()
			log.Warn().Err(err).Msg("cycle push failed, will retry next cycle")
		}
	}

	summary.Finished = time.Now().UTC()
	log.Info().
		Int("applied", summary.Applied).
		Int("escalated", summary.Escalated).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("cycle complete")
	return summary, nil
}

// groupTask carries one duplicate group through the cycle's phases.
type groupTask struct {
	group      *dupes.DuplicateGroup
	report     *GroupReport
	classified *classify.Classified
	result     *dupes.MergeResult
	decision   *resolve.Decision
}

// terminal reports whether an earlier phase already settled this group
// (skipped or failed); later phases pass it through untouched.
func (t *groupTask) terminal() bool {
	return t.report.Status != ""
}

// forEachPending runs one phase function over every unsettled group,
// bounded by the worker pool. Groups not yet started when the context is
// canceled are recorded as skipped, untouched.
func (e *Engine) forEachPending(ctx context.Context, tasks []*groupTask, fn func(context.Context, *groupTask)) {
	pool, poolCtx := errgroup.WithContext(ctx)
	pool.SetLimit(e.cfg.Workers)
	for _, task := range tasks {
		if task.terminal() {
			continue
		}
		task := task
		pool.Go(func() error {
			if poolCtx.Err() != nil {
				task.report.Status = StatusSkipped
				task.report.Detail = "cycle canceled"
				return nil
			}
			fn(logging.WithGroup(poolCtx, task.group.CanonicalName), task)
			return nil
		})
	}
	_ = pool.Wait()
}

// needsTracker reports whether this cycle touches the manifest. Dry runs
// and report-only cycles never do.
func (e *Engine) needsTracker() bool {
	return e.cfg.Apply && !e.cfg.DryRun
}

// classifyTask settles idempotence for one group and infers its content
// shape. Errors are contained: a group failure is recorded and the cycle
// continues.
func (e *Engine) classifyTask(ctx context.Context, task *groupTask) {
	log := logging.Ctx(ctx)

	// Idempotence: unchanged state is never re-merged or re-committed.
	if e.tracker != nil {
		done, err := e.tracker.AlreadyReconciled(ctx, task.group)
		if err != nil {
			log.Warn().Err(err).Msg("idempotence check failed, proceeding with merge")
		} else if done {
			task.report.Status = StatusSkipped
			task.report.Detail = "already reconciled"
			return
		}
		if id, pending, err := e.tracker.PendingReviewUnchanged(ctx, task.group); err == nil && pending {
			task.report.Status = StatusSkipped
			task.report.EntryID = id
			task.report.Detail = "awaiting review"
			return
		}
	}

	classified, err := classify.Classify(ctx, task.group)
	if err != nil {
		task.report.fail("classify", err)
		return
	}
	task.classified = classified
	task.report.Shape = task.group.Shape
}

// mergeTask produces one group's merge result from its classified content.
func (e *Engine) mergeTask(ctx context.Context, task *groupTask) {
	result, err := merge.Merge(ctx, task.classified)
	if err != nil {
		task.report.fail("merge", err)
		return
	}
	task.result = result
}

// applyGroup commits a clean or auto-resolved result: manifest entry first
// (durable), then the canonical write and source deletions, then the VCS
// commit.
func (e *Engine) applyGroup(ctx context.Context, result *dupes.MergeResult, report *GroupReport) *GroupReport {
	log := logging.Ctx(ctx)
	group := result.Group

	// No content change and nothing to delete: re-running a merge over an
	// already-canonical file. Don't append a manifest entry for a no-op.
	if len(result.Consumed) == 0 {
		if current, err := os.ReadFile(group.CanonicalPath); err == nil &&
			manifest.HashContent(current) == manifest.HashContent(result.Canonical) {
			report.Status = StatusSkipped
			report.Detail = "already reconciled"
			return report
		}
	}

	entry := manifest.NewEntry(result, dupes.OutcomeApplied)
	if err := manifest.Snapshot(entry, group); err != nil {
		return report.fail("snapshot", err)
	}
	if err := e.tracker.Append(ctx, entry); err != nil {
		return report.fail("manifest", err)
	}
	report.EntryID = entry.ID

	// Manifest is durable; now mutate the filesystem.
	if err := writeCanonical(group.CanonicalPath, result.Canonical); err != nil {
		e.markFailed(ctx, entry)
		return report.fail("write", err)
	}
	for _, path := range result.Consumed {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.markFailed(ctx, entry)
			return report.fail("delete", errors.WrapFS("delete", path, err))
		}
	}

	if e.cfg.Publish {
		ref, err := e.publisher.CommitApplied(ctx, result)
		if err != nil {
			// The merge itself stands; only publication failed.
			e.markFailed(ctx, entry)
			return report.fail("publish", err)
		}
		if ref != "" {
			e.recordCommitRef(ctx, entry, ref)
			report.CommitRef = ref
		}
	}

	report.Status = StatusApplied
	log.Info().Str("strategy", result.Strategy).Int("conflicts", report.Conflicts).Msg("group applied")
	return report
}

// escalateGroup records an ambiguous result as pending review and, when
// publishing, opens the review branch. The group's files are never touched.
func (e *Engine) escalateGroup(ctx context.Context, decision *resolve.Decision, report *GroupReport) *GroupReport {
	log := logging.Ctx(ctx)
	result := decision.Result

	entry := manifest.NewEntry(result, dupes.OutcomePendingReview)
	if err := manifest.Snapshot(entry, result.Group); err != nil {
		return report.fail("snapshot", err)
	}
	if err := e.tracker.Append(ctx, entry); err != nil {
		return report.fail("manifest", err)
	}
	report.EntryID = entry.ID

	if e.cfg.Publish {
		branch, err := e.publisher.Escalate(ctx, decision, entry.ID)
		if err != nil {
			e.markFailed(ctx, entry)
			return report.fail("escalate", err)
		}
		e.recordCommitRef(ctx, entry, branch)
		report.CommitRef = branch
	}

	report.Status = StatusEscalated
	log.Info().Int("conflicts", report.Conflicts).Msg("group escalated")
	return report
}

// markFailed appends the failed transition for an entry.
func (e *Engine) markFailed(ctx context.Context, entry *dupes.ManifestEntry) {
	marker := &dupes.ManifestEntry{
		ID:            entry.ID,
		Timestamp:     time.Now().UTC(),
		CanonicalName: entry.CanonicalName,
		CanonicalPath: entry.CanonicalPath,
		Strategy:      entry.Strategy,
		Outcome:       dupes.OutcomeFailed,
	}
	if err := e.tracker.Append(ctx, marker); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("entry_id", entry.ID).Msg("failed to record failed outcome")
	}
}

// recordCommitRef appends the commit reference for an entry once
// publication succeeds.
func (e *Engine) recordCommitRef(ctx context.Context, entry *dupes.ManifestEntry, ref string) {
	marker := &dupes.ManifestEntry{
		ID:            entry.ID,
		Timestamp:     time.Now().UTC(),
		CanonicalName: entry.CanonicalName,
		CanonicalPath: entry.CanonicalPath,
		Strategy:      entry.Strategy,
		Outcome:       entry.Outcome,
		CommitRef:     ref,
	}
	if err := e.tracker.Append(ctx, marker); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("entry_id", entry.ID).Msg("failed to record commit ref")
	}
}

// Rollback reverses a previously applied manifest entry by id.
func (e *Engine) Rollback(ctx context.Context, entryID string) error {
	if e.tracker == nil {
		tracker, err := manifest.Open(e.cfg.Root)
		if err != nil {
			return err
		}
		e.tracker = tracker
	}
	return e.tracker.Rollback(ctx, entryID)
}

// writeCanonical writes the canonical artifact via a temp file and rename
// so readers never observe a half-written canonical file.
func writeCanonical(path string, content []byte) error {
	tmp := path + ".collate-tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return errors.WrapFS("write", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.WrapFS("rename", path, err)
	}
	return nil
}
