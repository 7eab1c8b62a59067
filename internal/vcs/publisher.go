package vcs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentstation/collate/internal/resolve"
	"github.com/agentstation/collate/pkg/dupes"
	"github.com/agentstation/collate/pkg/errors"
	"github.com/agentstation/collate/pkg/logging"
)

const (
	// reviewBranchPrefix namespaces the branches escalated groups land on.
	reviewBranchPrefix = "collate/review/"

	// defaultRetries bounds push attempts on transient failure.
	defaultRetries = 3

	// defaultBackoff is the first retry delay; it doubles per attempt.
	defaultBackoff = 2 * time.Second
)

// Publisher commits resolved groups and opens review branches for
// escalated ones. Git operations mutate shared repository state (the
// index, HEAD), so the publisher serializes itself even when group
// processing is otherwise concurrent.
type Publisher struct {
	git     *Git
	remote  string
	retries int
	backoff time.Duration

	mu sync.Mutex
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithRemote sets the remote name (default "origin").
func WithRemote(remote string) Option {
	return func(p *Publisher) { p.remote = remote }
}

// WithRetries sets the bounded retry count for transient push failures.
func WithRetries(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.retries = n
		}
	}
}

// WithBackoff sets the initial retry delay.
func WithBackoff(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.backoff = d
		}
	}
}

// New creates a Publisher for the repository containing dir.
func New(dir string, opts ...Option) *Publisher {
	p := &Publisher{
		git:     NewGit(dir),
		remote:  "origin",
		retries: defaultRetries,
		backoff: defaultBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Available reports whether the scan root lives inside a git worktree.
func (p *Publisher) Available(ctx context.Context) bool {
	return p.git.IsRepository(ctx)
}

// CommitApplied stages and commits one applied group: the canonical
// artifact plus the deletions of its consumed sources. It returns the
// commit hash, or empty when the merge produced no textual change.
func (p *Publisher) CommitApplied(ctx context.Context, result *dupes.MergeResult) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	paths := append([]string{result.Group.CanonicalPath}, result.Consumed...)
	if err := p.git.Add(ctx, paths...); err != nil {
		return "", errors.WrapPublish("stage", p.remote, false, err)
	}

	message := fmt.Sprintf("collate: reconcile %s (%s)", result.Group.CanonicalName, result.Strategy)
	hash, err := p.git.Commit(ctx, message)
	if err != nil {
		return "", errors.WrapPublish("commit", p.remote, false, err)
	}

	logging.Ctx(ctx).Info().
		Str("group", result.Group.CanonicalName).
		Str("commit", hash).
		Msg("applied group committed")
	return hash, nil
}

// Escalate opens a review branch for an ambiguous group: the candidate
// files untouched plus a generated REVIEW-<name>.md enumerating every
// unresolved conflict, pushed for a human to adjudicate. The review commit
// is built in a temporary linked worktree, so the main worktree, its
// checked-out branch, and the group's candidate files are never disturbed.
// Returns the review branch name.
func (p *Publisher) Escalate(ctx context.Context, decision *resolve.Decision, entryID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	log := logging.Ctx(ctx)
	group := decision.Result.Group

	toplevel, err := p.git.Toplevel(ctx)
	if err != nil {
		return "", errors.WrapPublish("branch", p.remote, false, err)
	}

	parent, err := os.MkdirTemp("", "collate-review-")
	if err != nil {
		return "", errors.WrapFS("create", parent, err)
	}
	defer func() {
		if err := os.RemoveAll(parent); err != nil {
			log.Warn().Err(err).Str("dir", parent).Msg("failed to clean up review worktree dir")
		}
	}()

	branch := reviewBranchName(group.CanonicalName, entryID)
	worktree := filepath.Join(parent, "worktree")
	if err := p.git.WorktreeAdd(ctx, worktree, branch); err != nil {
		return "", errors.WrapPublish("branch", p.remote, false, err)
	}
	defer func() {
		if err := p.git.WorktreeRemove(ctx, worktree); err != nil {
			log.Warn().Err(err).Str("worktree", worktree).Msg("failed to remove review worktree")
		}
	}()

	// Mirror the candidates into the linked worktree at their repository
	// paths, reading from the main worktree without modifying it.
	paths := make([]string, 0, len(group.Candidates)+1)
	for _, cand := range group.Candidates {
		rel, err := p.mirrorFile(toplevel, worktree, cand.Path, nil)
		if err != nil {
			return "", err
		}
		paths = append(paths, rel)
	}

	reviewPath := filepath.Join(filepath.Dir(group.CanonicalPath), "REVIEW-"+group.CanonicalName+".md")
	rel, err := p.mirrorFile(toplevel, worktree, reviewPath, []byte(decision.Review))
	if err != nil {
		return "", err
	}
	paths = append(paths, rel)

	wtGit := NewGit(worktree)
	if err := wtGit.Add(ctx, paths...); err != nil {
		return "", errors.WrapPublish("stage", p.remote, false, err)
	}

	message := fmt.Sprintf("collate: escalate %s for review", group.CanonicalName)
	if _, err := wtGit.Commit(ctx, message); err != nil {
		return "", errors.WrapPublish("commit", p.remote, false, err)
	}

	if p.git.HasRemote(ctx, p.remote) {
		if err := p.pushWithRetry(ctx, branch); err != nil {
			return "", err
		}
	}

	log.Info().
		Str("group", group.CanonicalName).
		Str("branch", branch).
		Msg("group escalated to review branch")
	return branch, nil
}

// mirrorFile writes one file into the linked worktree at its path relative
// to the repository toplevel and returns that relative path. When content
// is nil the bytes are read from src in the main worktree.
func (p *Publisher) mirrorFile(toplevel, worktree, src string, content []byte) (string, error) {
	// Toplevel comes back from git with symlinks resolved; resolve the
	// source's directory the same way or Rel produces a bogus path.
	srcDir, err := filepath.EvalSymlinks(filepath.Dir(src))
	if err != nil {
		return "", errors.WrapFS("stat", src, err)
	}
	rel, err := filepath.Rel(toplevel, filepath.Join(srcDir, filepath.Base(src)))
	if err != nil {
		return "", errors.WrapFS("stat", src, err)
	}
	if content == nil {
		content, err = os.ReadFile(src)
		if err != nil {
			return "", errors.WrapFS("read", src, err)
		}
	}
	dst := filepath.Join(worktree, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errors.WrapFS("create", filepath.Dir(dst), err)
	}
	if err := os.WriteFile(dst, content, 0o644); err != nil {
		return "", errors.WrapFS("write", dst, err)
	}
	return rel, nil
}

// PushCycle pushes the working branch once at the end of a cycle, covering
// every per-group commit made during it.
func (p *Publisher) PushCycle(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.git.HasRemote(ctx, p.remote) {
		logging.Ctx(ctx).Debug().Str("remote", p.remote).Msg("no remote configured, skipping push")
		return nil
	}
	branch, err := p.git.CurrentBranch(ctx)
	if err != nil {
		return errors.WrapPublish("push", p.remote, false, err)
	}
	return p.pushWithRetry(ctx, branch)
}

// pushWithRetry pushes with bounded exponential backoff on transient
// failure. Non-transient failures (including rejected non-fast-forward
// pushes) return immediately; the cycle marks the group failed and retries
// next cycle against the refreshed remote.
func (p *Publisher) pushWithRetry(ctx context.Context, branch string) error {
	log := logging.Ctx(ctx)
	delay := p.backoff

	var lastErr error
	for attempt := 1; attempt <= p.retries; attempt++ {
		lastErr = p.git.Push(ctx, p.remote, branch)
		if lastErr == nil {
			return nil
		}
		if !errors.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == p.retries {
			break
		}
		log.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("transient push failure, retrying")
		select {
		case <-ctx.Done():
			return errors.ErrCanceled
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

// reviewBranchName builds a stable, filesystem-safe review branch name
// from the canonical name and the first eight characters of the operation
// id.
func reviewBranchName(canonicalName, entryID string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, canonicalName)
	short := entryID
	if len(short) > 8 {
		short = short[:8]
	}
	return reviewBranchPrefix + slug + "-" + short
}
