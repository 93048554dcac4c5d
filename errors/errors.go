// Package errors provides error handling for soundpost.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - User-facing hints and details
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrVanished) {
//	    // file disappeared mid-wait
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	GetAllDetails = crdb.GetAllDetails
	GetAllHints   = crdb.GetAllHints
)

// Sentinel errors for the detection → upload → tracking pipeline.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrDirectoryNotFound indicates the watch root does not exist or is not a directory
	ErrDirectoryNotFound = New("directory not found")

	// ErrVanished indicates a file disappeared while waiting for its size to settle.
	// Callers drop the file silently; this never reaches the user.
	ErrVanished = New("file vanished during stability wait")

	// ErrUnstable indicates a file never produced two consecutive equal size
	// readings within the attempt budget. The file is abandoned, not uploaded.
	ErrUnstable = New("file size did not stabilize")

	// ErrJobNotFound indicates the requested job is not tracked
	ErrJobNotFound = New("job not found")

	// ErrAlreadyWatching indicates Start was called on a watcher that is running
	ErrAlreadyWatching = New("already watching")
)

// IsDirectoryNotFound checks if an error is or wraps ErrDirectoryNotFound
func IsDirectoryNotFound(err error) bool {
	return err != nil && Is(err, ErrDirectoryNotFound)
}

// IsVanished checks if an error is or wraps ErrVanished
func IsVanished(err error) bool {
	return err != nil && Is(err, ErrVanished)
}

// IsUnstable checks if an error is or wraps ErrUnstable
func IsUnstable(err error) bool {
	return err != nil && Is(err, ErrUnstable)
}
