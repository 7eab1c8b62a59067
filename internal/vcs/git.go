// Package vcs publishes reconciliation results to a git remote: one commit
// per applied group pushed once per cycle, and a review branch with a
// structured description for every escalated group. All git operations go
// through os/exec against the repository containing the scan root.
package vcs

import (
	"context"
	"os/exec"
	"strings"

	"github.com/agentstation/collate/pkg/errors"
)

// Git runs git commands in a fixed working directory.
type Git struct {
	// Dir is the repository worktree the commands run in.
	Dir string
}

// NewGit creates a git runner for the given worktree directory.
func NewGit(dir string) *Git {
	return &Git{Dir: dir}
}

// run executes one git command and returns its trimmed combined output.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(output)), &errors.ProcessError{
			Operation: "git " + args[0],
			Command:   "git " + strings.Join(args, " "),
			Output:    string(output),
			Err:       err,
		}
	}
	return strings.TrimSpace(string(output)), nil
}

// IsRepository reports whether the directory is inside a git worktree.
func (g *Git) IsRepository(ctx context.Context) bool {
	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// HasRemote reports whether the named remote is configured.
func (g *Git) HasRemote(ctx context.Context, remote string) bool {
	out, err := g.run(ctx, "remote")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == remote {
			return true
		}
	}
	return false
}

// Add stages the given paths, recording deletions as well as additions.
func (g *Git) Add(ctx context.Context, paths ...string) error {
	args := append([]string{"add", "--"}, paths...)
	_, err := g.run(ctx, args...)
	return err
}

// Commit records staged changes and returns the new commit hash. An empty
// diff is not an error; the returned hash is empty in that case.
func (g *Git) Commit(ctx context.Context, message string) (string, error) {
	staged, err := g.run(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return "", err
	}
	if staged == "" {
		return "", nil
	}
	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	return g.run(ctx, "rev-parse", "HEAD")
}

// Push pushes a branch to the remote. Never a force push: a rejected
// non-fast-forward push is a failed outcome for this cycle and is retried
// next cycle against the refreshed remote.
func (g *Git) Push(ctx context.Context, remote, branch string) error {
	out, err := g.run(ctx, "push", remote, branch)
	if err != nil {
		return errors.NewPublishError("push", remote, isTransient(out), err)
	}
	return nil
}

// Toplevel returns the repository's top-level worktree directory.
func (g *Git) Toplevel(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--show-toplevel")
}

// WorktreeAdd creates branch at the current HEAD and checks it out in a
// linked worktree at path, leaving the main worktree untouched.
func (g *Git) WorktreeAdd(ctx context.Context, path, branch string) error {
	_, err := g.run(ctx, "worktree", "add", "-b", branch, path)
	return err
}

// WorktreeRemove detaches and deletes a linked worktree. The branch it had
// checked out survives.
func (g *Git) WorktreeRemove(ctx context.Context, path string) error {
	_, err := g.run(ctx, "worktree", "remove", "--force", path)
	return err
}

// transientMarkers are substrings of git output that indicate a network or
// remote hiccup worth retrying. Everything else (auth failures, rejected
// non-fast-forward pushes) fails immediately.
var transientMarkers = []string{
	"could not resolve host",
	"connection reset",
	"connection refused",
	"connection timed out",
	"operation timed out",
	"temporarily unavailable",
	"early eof",
	"rpc failed",
	"the remote end hung up",
	"service unavailable",
	"503",
}

// isTransient classifies git push output.
func isTransient(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
