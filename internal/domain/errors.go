package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors surfaced by the workflow. Callers branch with errors.Is.
var (
	// ErrBatchNotFound indicates an unknown batch id.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrStageLocked indicates a stage run attempted out of sequence.
	ErrStageLocked = errors.New("stage locked")

	// ErrStageFailed indicates a scorer failure; the batch is left unchanged.
	ErrStageFailed = errors.New("stage failed")

	// ErrValidation is the root of every ValidationError.
	ErrValidation = errors.New("validation failed")
)

// RowError describes one rejected input row.
type RowError struct {
	Row    int    `json:"row"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (e RowError) String() string {
	switch {
	case e.Row < 0:
		return e.Reason
	case e.Field != "":
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Reason)
	default:
		return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
	}
}

// ValidationError carries the itemized per-row failures so a caller can fix
// and resubmit only the offending rows.
type ValidationError struct {
	Rows []RowError
}

func (e *ValidationError) Error() string {
	if len(e.Rows) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Rows))
	for _, r := range e.Rows {
		parts = append(parts, r.String())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a ValidationError from a single message
// not tied to any particular row.
func NewValidationError(reason string) *ValidationError {
	return &ValidationError{Rows: []RowError{{Row: -1, Reason: reason}}}
}
