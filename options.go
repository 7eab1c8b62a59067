package collate

import (
	"fmt"
	"time"
)

// config holds the assembled settings for a Collate instance.
type config struct {
	root           string
	ignorePatterns []string
	apply          bool
	dryRun         bool
	publish        bool
	remote         string
	workers        int
	interval       time.Duration
	watch          bool
}

// defaultConfig returns the baseline configuration.
func defaultConfig() *config {
	return &config{
		remote:   "origin",
		interval: 5 * time.Minute,
	}
}

// Option configures a Collate instance.
type Option func(*config) error

// WithRoot sets the directory tree to reconcile.
func WithRoot(root string) Option {
	return func(c *config) error {
		if root == "" {
			return fmt.Errorf("root cannot be empty")
		}
		c.root = root
		return nil
	}
}

// WithIgnorePatterns sets gitignore-style patterns excluded from scanning.
func WithIgnorePatterns(patterns ...string) Option {
	return func(c *config) error {
		c.ignorePatterns = append(c.ignorePatterns, patterns...)
		return nil
	}
}

// WithApply enables mutation of the tree. Without it cycles only report
// what they would do.
func WithApply() Option {
	return func(c *config) error {
		c.apply = true
		return nil
	}
}

// WithDryRun runs the full pipeline but stops before any write, commit,
// or push.
func WithDryRun() Option {
	return func(c *config) error {
		c.dryRun = true
		return nil
	}
}

// WithPublish enables committing and pushing reconciled results.
func WithPublish() Option {
	return func(c *config) error {
		c.publish = true
		return nil
	}
}

// WithRemote sets the git remote used when publishing.
func WithRemote(remote string) Option {
	return func(c *config) error {
		if remote == "" {
			return fmt.Errorf("remote cannot be empty")
		}
		c.remote = remote
		return nil
	}
}

// WithWorkers sets the number of concurrent group workers.
func WithWorkers(n int) Option {
	return func(c *config) error {
		if n < 1 {
			return fmt.Errorf("workers must be at least 1, got %d", n)
		}
		c.workers = n
		return nil
	}
}

// WithInterval sets the daemon cycle interval.
func WithInterval(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return fmt.Errorf("interval must be positive, got %s", d)
		}
		c.interval = d
		return nil
	}
}

// WithWatch makes the daemon also trigger cycles on filesystem changes.
func WithWatch() Option {
	return func(c *config) error {
		c.watch = true
		return nil
	}
}
