package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentstation/collate/pkg/errors"
	"github.com/agentstation/collate/pkg/logging"
)

// watchDebounce coalesces a burst of producer writes into one cycle.
const watchDebounce = 2 * time.Second

// Daemon re-runs reconciliation cycles on a fixed interval, optionally
// triggering early when the filesystem changes. The run token guarantees a
// new cycle never starts while the previous one is in flight; a trigger
// arriving mid-cycle is simply absorbed.
type Daemon struct {
	engine   *Engine
	interval time.Duration
	watch    bool
}

// NewDaemon creates a daemon around an engine.
func NewDaemon(e *Engine, interval time.Duration, watch bool) *Daemon {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Daemon{engine: e, interval: interval, watch: watch}
}

// Run blocks until the context is canceled, executing one cycle
// immediately and then one per interval tick or debounced filesystem
// event. Each cycle's summary is passed to onCycle when non-nil.
func (d *Daemon) Run(ctx context.Context, onCycle func(*Summary)) error {
	log := logging.Ctx(ctx)

	var watchEvents <-chan struct{}
	if d.watch {
		events, closeWatcher, err := d.watchTree(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("filesystem watch unavailable, falling back to interval only")
		} else {
			watchEvents = events
			defer closeWatcher()
		}
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.cycle(ctx, onCycle)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("daemon stopping")
			return nil
		case <-ticker.C:
			d.cycle(ctx, onCycle)
		case <-watchEvents:
			d.cycle(ctx, onCycle)
		}
	}
}

// cycle runs one cycle, tolerating the busy case.
func (d *Daemon) cycle(ctx context.Context, onCycle func(*Summary)) {
	log := logging.Ctx(ctx)
	summary, err := d.engine.RunCycle(ctx)
	if err != nil {
		if errors.Is(err, errors.ErrCycleBusy) {
			log.Debug().Msg("cycle already running, trigger absorbed")
			return
		}
		log.Error().Err(err).Msg("cycle failed")
		return
	}
	if onCycle != nil {
		onCycle(summary)
	}
}

// watchTree watches the root and its non-ignored subdirectories, emitting
// a debounced signal per burst of changes. Events under the engine's own
// state directory are ignored so manifest appends don't retrigger cycles.
func (d *Daemon) watchTree(ctx context.Context) (<-chan struct{}, func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}

	addDirs := func() {
		_ = filepath.WalkDir(d.engine.cfg.Root, func(path string, entry os.DirEntry, err error) error {
			if err != nil || !entry.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(d.engine.cfg.Root, path)
			if relErr == nil && rel != "." {
				if base := filepath.Base(rel); base == ".git" || base == ".collate" {
					return filepath.SkipDir
				}
			}
			_ = watcher.Add(path)
			return nil
		})
	}
	addDirs()

	events := make(chan struct{}, 1)
	go func() {
		var timer *time.Timer
		fire := func() {
			select {
			case events <- struct{}{}:
			default:
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Create) {
					// New directories need their own watches.
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						addDirs()
					}
				}
				if timer == nil {
					timer = time.AfterFunc(watchDebounce, fire)
				} else {
					timer.Reset(watchDebounce)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Ctx(ctx).Warn().Err(err).Msg("filesystem watch error")
			}
		}
	}()

	return events, func() { _ = watcher.Close() }, nil
}
