package store

import (
	"context"
	"fmt"
	"time"

	"github.com/taskmesh/taskmesh/internal/types"
)

// LockResult is the outcome of a lock attempt. Contention is an expected
// outcome, not an error: Acquired is false and LockedBy names the
// current owner when someone else holds a live lease.
type LockResult struct {
	Acquired bool
	LockedBy string
	Task     *types.Task
}

// Lock acquires or re-acquires the task's lease for agent.
//
// The single conditional UPDATE wins iff the task is unlocked, already
// locked by the same agent, or locked by anyone whose lease has expired.
// Re-acquiring a lease already held by agent does not refresh locked_at;
// callers wanting strict renewal must unlock and relock.
func (s *Store) Lock(ctx context.Context, id, agent string) (*LockResult, error) {
	now := time.Now()
	cutoff := now.Add(-types.LeaseTTL)

	res, err := s.conn.ExecContext(ctx, `
	UPDATE tasks SET
		locked_by = ?,
		locked_at = CASE WHEN locked_by = ? THEN locked_at ELSE ? END,
		version = version + 1,
		updated_at = ?
	WHERE id = ?
	  AND (locked_by = '' OR locked_by = ? OR locked_at IS NULL OR locked_at < ?)
	`, agent, agent, formatTime(now), formatTime(now),
		id, agent, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to lock task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		cur, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		return &LockResult{Acquired: false, LockedBy: cur.LockedBy, Task: cur}, nil
	}

	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	return &LockResult{Acquired: true, LockedBy: agent, Task: task}, nil
}

// Start claims the task for agent: the lock acquisition rule of Lock
// plus status=in_progress and assigned_to=agent in the same atomic
// write. A task validly locked by someone else yields a LockError naming
// the current owner.
func (s *Store) Start(ctx context.Context, id, agent string) (*types.Task, error) {
	now := time.Now()
	cutoff := now.Add(-types.LeaseTTL)

	res, err := s.conn.ExecContext(ctx, `
	UPDATE tasks SET
		locked_by = ?,
		locked_at = CASE WHEN locked_by = ? THEN locked_at ELSE ? END,
		status = ?,
		assigned_to = ?,
		version = version + 1,
		updated_at = ?
	WHERE id = ?
	  AND (locked_by = '' OR locked_by = ? OR locked_at IS NULL OR locked_at < ?)
	`, agent, agent, formatTime(now),
		string(types.StatusInProgress), agent, formatTime(now),
		id, agent, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to start task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		cur, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &types.LockError{TaskID: id, LockedBy: cur.LockedBy}
	}

	return s.GetTask(ctx, id)
}

// Unlock releases the task's lease. With a non-empty owner, release is
// permitted only if owner holds the lease (releasing an unlocked task is
// an idempotent success). An empty owner forces the release regardless
// of who holds it; intended for administrative use. Both lease fields
// are cleared and the version advances either way.
func (s *Store) Unlock(ctx context.Context, id, owner string) (*types.Task, error) {
	query := `
	UPDATE tasks SET
		locked_by = '',
		locked_at = NULL,
		version = version + 1,
		updated_at = ?
	WHERE id = ?`
	args := []any{formatTime(time.Now()), id}
	if owner != "" {
		query += ` AND (locked_by = '' OR locked_by = ?)`
		args = append(args, owner)
	}

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		cur, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &types.LockError{TaskID: id, LockedBy: cur.LockedBy}
	}

	return s.GetTask(ctx, id)
}

// Complete transitions the task to completed, stamps completed_at, and
// unconditionally clears any lease, all in one conditional write.
//
// With a non-empty agent, a live lease held by a different owner blocks
// completion with a LockError. An empty agent bypasses the ownership
// check entirely; the lease is still cleared.
func (s *Store) Complete(ctx context.Context, id, agent string) (*types.Task, error) {
	now := time.Now()
	cutoff := now.Add(-types.LeaseTTL)

	res, err := s.conn.ExecContext(ctx, `
	UPDATE tasks SET
		status = ?,
		completed_at = ?,
		locked_by = '',
		locked_at = NULL,
		version = version + 1,
		updated_at = ?
	WHERE id = ?
	  AND (? = '' OR locked_by = '' OR locked_by = ? OR locked_at IS NULL OR locked_at < ?)
	`, string(types.StatusCompleted), formatTime(now), formatTime(now),
		id, agent, agent, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to complete task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		cur, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &types.LockError{TaskID: id, LockedBy: cur.LockedBy}
	}

	return s.GetTask(ctx, id)
}

// sweepExpiredLeases bulk-clears leases older than the TTL so stale
// locks never silently block reads. Swept tasks advance their version:
// a task is never mutated without its version incrementing.
func (s *Store) sweepExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-types.LeaseTTL)
	res, err := s.conn.ExecContext(ctx, `
	UPDATE tasks SET
		locked_by = '',
		locked_at = NULL,
		version = version + 1,
		updated_at = ?
	WHERE locked_by != '' AND (locked_at IS NULL OR locked_at < ?)
	`, formatTime(now), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired leases: %w", err)
	}
	return res.RowsAffected()
}
