// Package cmd implements the collate CLI subcommands.
package cmd

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/collate"
	"github.com/agentstation/collate/pkg/errors"
)

// Application is the dependency surface commands need from the app layer.
type Application interface {
	Version() string
	Commit() string
	Date() string
	Logger() *zerolog.Logger
	IgnorePatterns() []string
	Remote() string
	Workers() int
	Interval() time.Duration

	// Collate builds a reconciliation instance from app configuration
	// plus command-specific options.
	Collate(opts ...collate.Option) (collate.Collate, error)
}

// resolveRoot turns an optional positional path argument into an absolute
// root directory, defaulting to the working directory.
func resolveRoot(args []string) (string, error) {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return "", errors.WrapFS("resolve", root, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", errors.WrapFS("stat", abs, err)
	}
	if !info.IsDir() {
		return "", errors.NewValidationError("root", abs, "not a directory")
	}

	return abs, nil
}
