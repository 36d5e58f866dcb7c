package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingPrecondition marks a required artifact or argument that is absent.
	ErrMissingPrecondition = errors.New("missing precondition")
	// ErrParseFailure marks a stored dataset that cannot be interpreted.
	ErrParseFailure = errors.New("parse failure")
	// ErrAlreadySeeded is returned when seeding would overwrite a master.
	ErrAlreadySeeded = errors.New("master already exists")
)

// PreconditionError names the artifact a stage could not proceed without.
type PreconditionError struct {
	Artifact string
	Reason   string
}

func (e *PreconditionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("missing precondition %s: %s", e.Artifact, e.Reason)
	}
	return "missing precondition " + e.Artifact
}

func (e *PreconditionError) Unwrap() error { return ErrMissingPrecondition }

// ParseError locates malformed input. Row is 1-based over data rows, 0 when
// the problem is the header.
type ParseError struct {
	Artifact string
	Row      int
	Column   string
	Value    string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("parse failure in %s: %v", e.Artifact, e.Err)
	}
	return fmt.Sprintf("parse failure in %s row %d column %s (%q): %v", e.Artifact, e.Row, e.Column, e.Value, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrParseFailure, e.Err} }

// StageError wraps the failure of one named stage or category.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

func missing(artifact, reason string) error {
	return &PreconditionError{Artifact: artifact, Reason: reason}
}
