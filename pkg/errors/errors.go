// Package errors defines the sentinel errors shared by the pipeline stages
// and the StageError wrapper that records where a failure happened.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTable         = errors.New("unknown table")
	ErrInvalidInput         = errors.New("invalid input")
	ErrBulkRejected         = errors.New("bulk request rejected")
	ErrIndexNotAcknowledged = errors.New("index creation not acknowledged")
	ErrStateCorrupt         = errors.New("state corrupt")
)

// StageError attaches the failing pipeline stage and table to an error.
type StageError struct {
	Stage string
	Table string
	Err   error
}

func (e *StageError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Err.Error())
	}
	return fmt.Sprintf("%s %s: %s", e.Stage, e.Table, e.Err.Error())
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Wrap returns err annotated with stage and table. A nil err stays nil.
func Wrap(stage, table string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Table: table, Err: err}
}

// UnknownTable returns ErrUnknownTable naming the offending table.
func UnknownTable(table string) error {
	return fmt.Errorf("%w: %q", ErrUnknownTable, table)
}

// IsPermanent reports whether err signals a defect that retrying cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnknownTable) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrStateCorrupt)
}

// StageOf returns the stage recorded on the outermost StageError in err.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
