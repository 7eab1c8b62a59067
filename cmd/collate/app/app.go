// Package app provides the application context and dependency management
// for the collate CLI. It centralizes configuration, logging, and
// construction of the reconciliation engine.
package app

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/collate"
	"github.com/agentstation/collate/pkg/errors"
)

// App represents the collate application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string

	// Configuration
	config *Config

	// Logger
	logger *zerolog.Logger
}

// New creates a new App instance with the given version information.
func New(version, commit, date string) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
	}

	config, err := LoadConfig()
	if err != nil {
		return nil, errors.WrapFS("load", "config", err)
	}
	app.config = config

	logger := NewLogger(config)
	app.logger = &logger

	return app, nil
}

// Version returns the version string.
func (a *App) Version() string {
	return a.version
}

// Commit returns the git commit hash.
func (a *App) Commit() string {
	return a.commit
}

// Date returns the build date.
func (a *App) Date() string {
	return a.date
}

// Config returns the application configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// IgnorePatterns returns the configured scanner ignore patterns.
func (a *App) IgnorePatterns() []string {
	return a.config.IgnorePatterns
}

// Remote returns the configured git remote name.
func (a *App) Remote() string {
	return a.config.Remote
}

// Workers returns the configured group worker count.
func (a *App) Workers() int {
	return a.config.Workers
}

// Interval returns the configured daemon cycle interval.
func (a *App) Interval() time.Duration {
	return a.config.Interval
}

// Collate builds a reconciliation instance from the app configuration
// plus any command-specific options. Command options are applied last so
// flags override config file and environment values.
func (a *App) Collate(opts ...collate.Option) (collate.Collate, error) {
	base := a.baseOptions()
	c, err := collate.New(append(base, opts...)...)
	if err != nil {
		return nil, errors.WrapFS("create", "engine", err)
	}
	return c, nil
}

// baseOptions constructs collate options from the app configuration.
func (a *App) baseOptions() []collate.Option {
	var opts []collate.Option

	if len(a.config.IgnorePatterns) > 0 {
		opts = append(opts, collate.WithIgnorePatterns(a.config.IgnorePatterns...))
	}
	if a.config.Remote != "" {
		opts = append(opts, collate.WithRemote(a.config.Remote))
	}
	if a.config.Workers > 0 {
		opts = append(opts, collate.WithWorkers(a.config.Workers))
	}
	if a.config.Interval > 0 {
		opts = append(opts, collate.WithInterval(a.config.Interval))
	}

	return opts
}
