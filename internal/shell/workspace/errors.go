package workspace

import (
	"errors"
	"fmt"
	"os"

	"github.com/artpar/botctl/internal/core/domain"
)

// =============================================================================
// Error Types
// =============================================================================

// WorkspaceError wraps filesystem errors with additional context.
type WorkspaceError struct {
	Op      string // Operation that failed (e.g., "Create")
	Entity  string // Entity type (workspace, file, lock, source)
	ID      string // Slug or file name
	Message string
	Err     error
}

func (e *WorkspaceError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *WorkspaceError) Unwrap() error {
	return e.Err
}

// NewWorkspaceError creates a new WorkspaceError.
func NewWorkspaceError(op, entity, id, message string, err error) *WorkspaceError {
	return &WorkspaceError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}

// wrapFS maps a filesystem error, tagging permission failures with domain.ErrPermission.
func wrapFS(op, entity, id string, err error) error {
	if errors.Is(err, os.ErrPermission) {
		return NewWorkspaceError(op, entity, id, err.Error(), fmt.Errorf("%w: %w", domain.ErrPermission, err))
	}
	return NewWorkspaceError(op, entity, id, err.Error(), err)
}
