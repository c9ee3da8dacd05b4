package types

import (
	"errors"
	"fmt"
)

// NotFoundError indicates the requested task or project does not exist.
type NotFoundError struct {
	Kind string // "task", "project", "dependency"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// VersionConflictError indicates a mutating call presented a stale version.
// The record is left untouched; retrying is a caller policy choice.
type VersionConflictError struct {
	TaskID   string
	Expected int
	Actual   int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on task %s: expected %d, actual %d",
		e.TaskID, e.Expected, e.Actual)
}

// LockError indicates an operation was blocked by a live lease held by
// another owner.
type LockError struct {
	TaskID   string
	LockedBy string
}

func (e *LockError) Error() string {
	return fmt.Sprintf("task %s is locked by %s", e.TaskID, e.LockedBy)
}

// DependencyCycleError indicates an edge insertion would close a cycle.
type DependencyCycleError struct {
	TaskID    string
	DependsOn string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("cannot add dependency: would create a cycle (%s -> %s -> ... -> %s)",
		e.TaskID, e.DependsOn, e.TaskID)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsVersionConflict reports whether err is or wraps a VersionConflictError.
func IsVersionConflict(err error) bool {
	var vc *VersionConflictError
	return errors.As(err, &vc)
}

// IsLockError reports whether err is or wraps a LockError.
func IsLockError(err error) bool {
	var le *LockError
	return errors.As(err, &le)
}

// IsCycle reports whether err is or wraps a DependencyCycleError.
func IsCycle(err error) bool {
	var ce *DependencyCycleError
	return errors.As(err, &ce)
}
