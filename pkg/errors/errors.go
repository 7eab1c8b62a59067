// Package errors provides custom error types for the collate system.
// These errors enable programmatic error checking across the
// reconciliation pipeline and determine how each failure class is
// handled: excluded, escalated, retried, or skipped.
package errors

import (
	"errors"
	"fmt"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Is reports whether any error in err's tree matches target.
// It's an alias for the standard library errors.Is.
var Is = errors.Is

// As finds the first error in err's tree matching target.
// It's an alias for the standard library errors.As.
var As = errors.As

// Common sentinel errors for the collate system
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrParse indicates that a candidate file could not be parsed
	// under its declared format
	ErrParse = errors.New("parse failure")

	// ErrAmbiguous indicates a merge with at least one unresolved
	// conflict; the group must be escalated, never committed
	ErrAmbiguous = errors.New("ambiguous merge")

	// ErrPublish indicates a VCS remote operation failed
	ErrPublish = errors.New("publish failure")

	// ErrTransient indicates a failure worth retrying with backoff
	ErrTransient = errors.New("transient failure")

	// ErrFilesystem indicates a permission or lock failure on read/write
	ErrFilesystem = errors.New("filesystem failure")

	// ErrCycleBusy indicates a reconciliation cycle is already running
	ErrCycleBusy = errors.New("cycle already running")

	// ErrCanceled indicates that an operation was canceled
	ErrCanceled = errors.New("operation canceled")

	// ErrRolledBack indicates the entry was already rolled back
	ErrRolledBack = errors.New("already rolled back")
)

// ParseError represents a failure to parse a candidate file under its
// declared format. The candidate is excluded from merge input; its
// siblings proceed.
type ParseError struct {
	Format  string // "json", "yaml", "toml", "markdown"
	File    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("parse error in %s file %s: %s", e.Format, e.File, e.Message)
	}
	return fmt.Sprintf("%s parse error: %s", e.Format, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// NewParseError creates a new ParseError
func NewParseError(format, file, message string, err error) *ParseError {
	return &ParseError{
		Format:  format,
		File:    file,
		Message: message,
		Err:     err,
	}
}

// AmbiguousError represents a merge whose conflicts cannot be resolved
// by any deterministic rule. It routes the group to human review and is
// never fatal to the cycle.
type AmbiguousError struct {
	CanonicalName string
	Locations     []string
}

// Error implements the error interface
func (e *AmbiguousError) Error() string {
	if len(e.Locations) > 0 {
		return fmt.Sprintf("ambiguous merge for %s: unresolved conflicts at %v", e.CanonicalName, e.Locations)
	}
	return fmt.Sprintf("ambiguous merge for %s", e.CanonicalName)
}

// Is implements errors.Is support
func (e *AmbiguousError) Is(target error) bool {
	return target == ErrAmbiguous
}

// NewAmbiguousError creates a new AmbiguousError
func NewAmbiguousError(canonicalName string, locations []string) *AmbiguousError {
	return &AmbiguousError{
		CanonicalName: canonicalName,
		Locations:     locations,
	}
}

// PublishError represents a VCS remote failure. Transient publish errors
// are retried with bounded backoff; persistent ones mark the group's
// manifest entry failed without blocking other groups.
type PublishError struct {
	Operation string // "commit", "push", "branch"
	Remote    string
	Transient bool
	Err       error
}

// Error implements the error interface
func (e *PublishError) Error() string {
	if e.Remote != "" {
		return fmt.Sprintf("publish error during %s to %s: %v", e.Operation, e.Remote, e.Err)
	}
	return fmt.Sprintf("publish error during %s: %v", e.Operation, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *PublishError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *PublishError) Is(target error) bool {
	if target == ErrTransient {
		return e.Transient
	}
	return target == ErrPublish
}

// NewPublishError creates a new PublishError
func NewPublishError(operation, remote string, transient bool, err error) *PublishError {
	return &PublishError{
		Operation: operation,
		Remote:    remote,
		Transient: transient,
		Err:       err,
	}
}

// FilesystemError represents a permission or lock failure on a read or
// write. The affected group is skipped; the cycle continues.
type FilesystemError struct {
	Operation string // "read", "write", "create", "delete", "stat"
	Path      string
	Err       error
}

// Error implements the error interface
func (e *FilesystemError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("filesystem error during %s of %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("filesystem error during %s: %v", e.Operation, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *FilesystemError) Is(target error) bool {
	return target == ErrFilesystem
}

// NewFilesystemError creates a new FilesystemError
func NewFilesystemError(operation, path string, err error) *FilesystemError {
	return &FilesystemError{
		Operation: operation,
		Path:      path,
		Err:       err,
	}
}

// ProcessError represents an error from an external process or command
type ProcessError struct {
	Operation string // What operation was being performed
	Command   string // The command that was executed
	Output    string // Stdout/stderr output from the process
	Err       error  // Underlying error
}

// Error implements the error interface
func (e *ProcessError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("process error during %s (command: %s): %v\nOutput: %s", e.Operation, e.Command, e.Err, e.Output)
	}
	return fmt.Sprintf("process error during %s (command: %s): %v", e.Operation, e.Command, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *ProcessError) Unwrap() error {
	return e.Err
}

// NewProcessError creates a new ProcessError
func NewProcessError(operation, command, output string, err error) *ProcessError {
	return &ProcessError{
		Operation: operation,
		Command:   command,
		Output:    output,
		Err:       err,
	}
}

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// Helper functions for error checking

// IsParse checks if an error is a parse error
func IsParse(err error) bool {
	return errors.Is(err, ErrParse)
}

// IsAmbiguous checks if an error routes the group to escalation
func IsAmbiguous(err error) bool {
	return errors.Is(err, ErrAmbiguous)
}

// IsPublish checks if an error is a publish error
func IsPublish(err error) bool {
	return errors.Is(err, ErrPublish)
}

// IsTransient checks if an error is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsFilesystem checks if an error is a filesystem error
func IsFilesystem(err error) bool {
	return errors.Is(err, ErrFilesystem)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCanceled checks if an error is a cancellation error
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// Helper wrapping functions for common patterns

// WrapFS wraps an error as a FilesystemError
func WrapFS(operation, path string, err error) error {
	if err == nil {
		return nil
	}
	return NewFilesystemError(operation, path, err)
}

// WrapParse wraps an error as a ParseError
func WrapParse(format, file string, err error) error {
	if err == nil {
		return nil
	}
	return NewParseError(format, file, err.Error(), err)
}

// WrapPublish wraps an error as a PublishError
func WrapPublish(operation, remote string, transient bool, err error) error {
	if err == nil {
		return nil
	}
	return NewPublishError(operation, remote, transient, err)
}
