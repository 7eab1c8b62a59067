// Package collate reconciles versioned duplicate files. It scans a
// directory tree for duplicate groups (a canonical base name plus copies
// carrying a numeric version suffix), merges each group into one canonical
// artifact with a content-shape-aware strategy, records every operation in
// a durable append-only manifest, and publishes results to a git remote.
// Merges with no reliable resolution signal escalate to a human review
// branch instead of committing.
package collate

import (
	"context"
	"fmt"

	"github.com/agentstation/collate/internal/engine"
)

// Collate runs reconciliation over a configured root.
type Collate interface {
	// Scan reports the duplicate groups present right now without merging.
	Scan(ctx context.Context) (*engine.Summary, error)

	// Reconcile runs one full reconciliation cycle.
	Reconcile(ctx context.Context) (*engine.Summary, error)

	// Rollback reverses a previously applied manifest entry.
	Rollback(ctx context.Context, entryID string) error

	// Daemon runs reconciliation cycles until the context is canceled.
	Daemon(ctx context.Context, onCycle func(*engine.Summary)) error

	// State returns the current cycle state.
	State() engine.State
}

// collate is the internal implementation of the Collate interface.
type collate struct {
	config *config
	engine *engine.Engine
	daemon *engine.Daemon
}

// New creates a Collate instance with the given options.
func New(opts ...Option) (Collate, error) {
	c := &collate{config: defaultConfig()}

	for _, opt := range opts {
		if err := opt(c.config); err != nil {
			return nil, fmt.Errorf("applying options: %w", err)
		}
	}
	if c.config.root == "" {
		return nil, fmt.Errorf("a root directory is required")
	}

	c.engine = engine.New(engine.Config{
		Root:           c.config.root,
		IgnorePatterns: c.config.ignorePatterns,
		Apply:          c.config.apply,
		DryRun:         c.config.dryRun,
		Publish:        c.config.publish,
		Remote:         c.config.remote,
		Workers:        c.config.workers,
	})
	c.daemon = engine.NewDaemon(c.engine, c.config.interval, c.config.watch)
	return c, nil
}

// Scan reports duplicate groups without applying anything.
func (c *collate) Scan(ctx context.Context) (*engine.Summary, error) {
	scanEngine := engine.New(engine.Config{
		Root:           c.config.root,
		IgnorePatterns: c.config.ignorePatterns,
		Workers:        c.config.workers,
	})
	return scanEngine.RunCycle(ctx)
}

// Reconcile runs one cycle with the configured apply/dry-run/publish mode.
func (c *collate) Reconcile(ctx context.Context) (*engine.Summary, error) {
	return c.engine.RunCycle(ctx)
}

// Rollback reverses an applied manifest entry.
func (c *collate) Rollback(ctx context.Context, entryID string) error {
	return c.engine.Rollback(ctx, entryID)
}

// Daemon runs cycles on the configured interval until ctx is canceled.
func (c *collate) Daemon(ctx context.Context, onCycle func(*engine.Summary)) error {
	return c.daemon.Run(ctx, onCycle)
}

// State returns the engine's current cycle state.
func (c *collate) State() engine.State {
	return c.engine.State()
}
