package mail

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTemplateNotFound is returned when no active template has the name.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrIdempotencyKeyRequired is returned for a blank idempotency key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrMessageNotFound is returned when no message has the id.
	ErrMessageNotFound = errors.New("message not found")
	// ErrDuplicateIdempotencyKey is returned by a store when a create loses
	// the race on the idempotency key unique constraint.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	// ErrSuppressionNotFound is returned when the address is not suppressed.
	ErrSuppressionNotFound = errors.New("suppression not found")
)

// ValidationError reports bad input. Nothing is persisted when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// MissingVarsError lists the required template variables absent from a
// render context, sorted.
type MissingVarsError struct {
	Template string
	Vars     []string
}

func (e *MissingVarsError) Error() string {
	return fmt.Sprintf("template %q: missing required vars: %s", e.Template, strings.Join(e.Vars, ", "))
}

// SyncConflictError rejects a template publish that would break the
// revision/hash pairing.
type SyncConflictError struct {
	Name           string
	StoredRevision int
	NewRevision    int
	Reason         string
}

func (e *SyncConflictError) Error() string {
	return fmt.Sprintf("template %q: sync conflict (stored revision %d, new revision %d): %s",
		e.Name, e.StoredRevision, e.NewRevision, e.Reason)
}

// RenderError reports a template that could not be rendered into a
// deliverable message.
type RenderError struct {
	Template string
	Part     string
	Err      error
}

func (e *RenderError) Error() string {
	if e.Part == "" {
		return fmt.Sprintf("render template %q: %v", e.Template, e.Err)
	}
	return fmt.Sprintf("render template %q %s: %v", e.Template, e.Part, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// IsClientError reports whether err was caused by the caller's input rather
// than by the system.
func IsClientError(err error) bool {
	var (
		ve *ValidationError
		me *MissingVarsError
		re *RenderError
		se *SyncConflictError
	)
	return errors.As(err, &ve) || errors.As(err, &me) || errors.As(err, &re) ||
		errors.As(err, &se) || errors.Is(err, ErrIdempotencyKeyRequired)
}
