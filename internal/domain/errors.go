package domain

import (
	"fmt"
	"strings"
)

// ValidationError reports malformed input. It is terminal for the request
// and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if strings.TrimSpace(e.Field) == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidationError(field string, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports a clash with existing state (furnace already busy,
// stale proposal). BlockedBy identifies the entity holding the resource so
// the caller can decide whether to retry with a refreshed view.
type ConflictError struct {
	Resource  string
	BlockedBy string
	Reason    string
}

func (e *ConflictError) Error() string {
	if e.BlockedBy != "" {
		return fmt.Sprintf("%s: %s (blocked by %s)", e.Resource, e.Reason, e.BlockedBy)
	}
	return fmt.Sprintf("%s: %s", e.Resource, e.Reason)
}

// GuardRejection reports a status transition attempted out of order or with
// an unsatisfied precondition. It always carries the current status and the
// condition that must first hold.
type GuardRejection struct {
	Aggregate  string
	ID         string
	Transition string
	Current    string
	Required   string
}

func (e *GuardRejection) Error() string {
	return fmt.Sprintf("%s %s: %s rejected, current status %q, requires %s",
		e.Aggregate, e.ID, e.Transition, e.Current, e.Required)
}
