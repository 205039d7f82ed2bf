package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Lifecycle Errors
// =============================================================================

var (
	// ErrInput is returned when install inputs are missing or malformed.
	ErrInput = errors.New("invalid input")

	// ErrNotFound is returned when an instance has no workspace or no service group.
	ErrNotFound = errors.New("instance not found")

	// ErrConfirmationAborted is returned when a destructive action was not confirmed.
	ErrConfirmationAborted = errors.New("confirmation aborted")

	// ErrBuild is returned when the image build fails.
	ErrBuild = errors.New("image build failed")

	// ErrStart is returned when the service group fails to start.
	ErrStart = errors.New("service start failed")

	// ErrRestart is returned when the service group fails to restart.
	ErrRestart = errors.New("service restart failed")

	// ErrPermission is returned when the process lacks the privilege to manage
	// the container runtime or the workspace root.
	ErrPermission = errors.New("insufficient privilege")

	// ErrConflict is returned when an install would silently take over an
	// existing instance configured with different credentials.
	ErrConflict = errors.New("instance already exists with different credentials")

	// ErrNameTaken is returned when a container name an instance needs is held
	// by another instance or by a container botctl does not manage.
	ErrNameTaken = errors.New("container name is owned by another instance")

	// ErrBusy is returned when another invocation holds the instance lock.
	ErrBusy = errors.New("instance is locked by another operation")
)

// =============================================================================
// Lifecycle Steps
// =============================================================================

// Step names reported in StepError.
const (
	StepCanonicalize  = "canonicalize"
	StepValidate      = "validate"
	StepSelect        = "select"
	StepLock          = "lock"
	StepConflictCheck = "conflict-check"
	StepWorkspace     = "ensure-workspace"
	StepSource        = "copy-source"
	StepDescriptor    = "write-descriptor"
	StepBuild         = "build"
	StepUp            = "up"
	StepVerify        = "verify"
	StepConfirm       = "confirm"
	StepDown          = "down"
	StepVolumes       = "remove-volumes"
	StepForceRemove   = "force-remove"
	StepDelete        = "delete-workspace"
	StepEnumerate     = "enumerate"
	StepRestart       = "restart"
	StepLogs          = "logs"
	StepStatus        = "status"
)

// StepError reports which step of a lifecycle operation failed.
type StepError struct {
	Op   string // Operation (install, remove, restart, ...)
	Step string // Failing step
	Slug string // Instance slug if already resolved
	Err  error
}

func (e *StepError) Error() string {
	if e.Slug != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Slug, e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// NewStepError creates a new StepError.
func NewStepError(op, step, slug string, err error) *StepError {
	return &StepError{
		Op:   op,
		Step: step,
		Slug: slug,
		Err:  err,
	}
}

// FailedStep returns the failing step recorded in err, or "" if err carries none.
func FailedStep(err error) string {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step
	}
	return ""
}
