// Package types defines the core data model shared by the store, sync
// engine, and the thin CLI/daemon surfaces.
package types

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsValid reports whether s is a known status value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Priority is the scheduling priority of a task.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// IsValid reports whether p is a known priority value.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Task is a work item shared by multiple loosely-coordinated agents.
//
// Version starts at 1 and increases by exactly 1 on every applied mutation;
// a task is never mutated without its version advancing. LockedBy/LockedAt
// form an optional lease that expires after LeaseTTL.
type Task struct {
	ID          string   `json:"id"`
	ShortID     string   `json:"short_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      Status   `json:"status"`
	Priority    Priority `json:"priority"`

	ParentID  string `json:"parent_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	PlanID    string `json:"plan_id,omitempty"`

	AgentID    string `json:"agent_id,omitempty"`
	AssignedTo string `json:"assigned_to,omitempty"`

	Version  int        `json:"version"`
	LockedBy string     `json:"locked_by,omitempty"`
	LockedAt *time.Time `json:"locked_at,omitempty"`

	Tags     []string       `json:"tags,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LeaseTTL is how long a lease remains valid after acquisition.
// Expiry is computed lazily; there is no background sweep.
const LeaseTTL = 30 * time.Minute

// LeaseExpired reports whether the task's lease is older than LeaseTTL
// relative to now. A task without a lease is never expired.
func (t *Task) LeaseExpired(now time.Time) bool {
	if t.LockedBy == "" || t.LockedAt == nil {
		return false
	}
	return now.Sub(*t.LockedAt) > LeaseTTL
}

// Locked reports whether the task holds a live (non-expired) lease.
func (t *Task) Locked(now time.Time) bool {
	return t.LockedBy != "" && !t.LeaseExpired(now)
}

// Validate checks required fields and enum values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", t.Status)
	}
	if !t.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", t.Priority)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (t *Task) SetDefaults() {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
}

// Dependency is a directed edge: TaskID depends on DependsOn.
// No self-edges; no edge whose insertion would close a cycle.
type Dependency struct {
	TaskID    string    `json:"task_id"`
	DependsOn string    `json:"depends_on"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the edge endpoints.
func (d *Dependency) Validate() error {
	if d.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if d.DependsOn == "" {
		return fmt.Errorf("depends_on is required")
	}
	if d.TaskID == d.DependsOn {
		return fmt.Errorf("task cannot depend on itself")
	}
	return nil
}
