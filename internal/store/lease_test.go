package store

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/types"
)

// backdateLease rewinds a task's locked_at so its lease reads as expired.
func backdateLease(t *testing.T, s *Store, id string, age time.Duration) {
	t.Helper()
	_, err := s.RawDB().Exec(`UPDATE tasks SET locked_at = ? WHERE id = ?`,
		formatTime(time.Now().Add(-age)), id)
	if err != nil {
		t.Fatalf("failed to backdate lease: %v", err)
	}
}

func TestStart_ClaimsTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "claimable")

	started, err := s.Start(ctx, task.ID, "agent-1")
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if started.Status != types.StatusInProgress {
		t.Errorf("Status = %q, want %q", started.Status, types.StatusInProgress)
	}
	if started.AssignedTo != "agent-1" {
		t.Errorf("AssignedTo = %q, want agent-1", started.AssignedTo)
	}
	if started.LockedBy != "agent-1" {
		t.Errorf("LockedBy = %q, want agent-1", started.LockedBy)
	}
	if started.LockedAt == nil {
		t.Error("expected LockedAt to be set")
	}
	if started.Version != 2 {
		t.Errorf("Version = %d, want 2", started.Version)
	}
}

func TestStart_RefusedWhileLocked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "contested")

	if _, err := s.Start(ctx, task.ID, "agent-1"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	_, err := s.Start(ctx, task.ID, "agent-2")
	var le *types.LockError
	if !errors.As(err, &le) {
		t.Fatalf("expected LockError, got %v", err)
	}
	if le.LockedBy != "agent-1" {
		t.Errorf("LockError.LockedBy = %q, want agent-1", le.LockedBy)
	}
}

func TestStart_ConcurrentClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "raced")

	agents := []string{"agent-1", "agent-2"}
	results := make([]error, len(agents))
	var wg stdsync.WaitGroup
	for i, agent := range agents {
		wg.Add(1)
		go func(i int, agent string) {
			defer wg.Done()
			_, results[i] = s.Start(ctx, task.ID, agent)
		}(i, agent)
	}
	wg.Wait()

	var wins, lockErrs int
	for i, err := range results {
		switch {
		case err == nil:
			wins++
		case types.IsLockError(err):
			lockErrs++
			var le *types.LockError
			errors.As(err, &le)
			// The loser must be told who won.
			if le.LockedBy != agents[1-i] {
				t.Errorf("loser told LockedBy=%q, want %q", le.LockedBy, agents[1-i])
			}
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 || lockErrs != 1 {
		t.Errorf("wins=%d lockErrs=%d, want exactly one of each", wins, lockErrs)
	}
}

func TestLock_IdempotentForOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "relockable")

	first, err := s.Lock(ctx, task.ID, "agent-1")
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if !first.Acquired {
		t.Fatal("first Lock() not acquired")
	}
	firstLockedAt := *first.Task.LockedAt

	time.Sleep(10 * time.Millisecond)

	second, err := s.Lock(ctx, task.ID, "agent-1")
	if err != nil {
		t.Fatalf("re-Lock() failed: %v", err)
	}
	if !second.Acquired {
		t.Fatal("re-Lock() by owner not acquired")
	}
	// Re-acquiring does not refresh the lease clock.
	if !second.Task.LockedAt.Equal(firstLockedAt) {
		t.Errorf("LockedAt moved from %v to %v on re-lock", firstLockedAt, *second.Task.LockedAt)
	}
	if second.Task.Version != first.Task.Version+1 {
		t.Errorf("Version = %d, want %d", second.Task.Version, first.Task.Version+1)
	}
}

func TestLock_ContentionReportsOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "held")

	if _, err := s.Lock(ctx, task.ID, "agent-1"); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}

	res, err := s.Lock(ctx, task.ID, "agent-2")
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if res.Acquired {
		t.Error("second agent should not acquire a held lock")
	}
	if res.LockedBy != "agent-1" {
		t.Errorf("LockedBy = %q, want agent-1", res.LockedBy)
	}
}

func TestLock_ExpiredLeaseIsAcquirable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "abandoned")

	if _, err := s.Lock(ctx, task.ID, "agent-1"); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	backdateLease(t, s, task.ID, types.LeaseTTL+time.Minute)

	res, err := s.Lock(ctx, task.ID, "agent-2")
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if !res.Acquired {
		t.Fatal("expired lease should be acquirable")
	}
	if res.Task.LockedBy != "agent-2" {
		t.Errorf("LockedBy = %q, want agent-2", res.Task.LockedBy)
	}
}

func TestListTasks_SweepsExpiredLeases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "stale lock")

	if _, err := s.Lock(ctx, task.ID, "agent-1"); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	backdateLease(t, s, task.ID, types.LeaseTTL+time.Minute)

	tasks, err := s.ListTasks(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	if tasks[0].LockedBy != "" || tasks[0].LockedAt != nil {
		t.Error("expired lease should be cleared by the read")
	}
	// The sweep is a mutation, so the version advanced.
	if tasks[0].Version != 3 {
		t.Errorf("Version = %d, want 3", tasks[0].Version)
	}
}

func TestUnlock_ByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "releasable")

	if _, err := s.Lock(ctx, task.ID, "agent-1"); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	unlocked, err := s.Unlock(ctx, task.ID, "agent-1")
	if err != nil {
		t.Fatalf("Unlock() failed: %v", err)
	}
	if unlocked.LockedBy != "" || unlocked.LockedAt != nil {
		t.Error("lease fields not cleared")
	}
}

func TestUnlock_WrongOwnerRefused(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "protected")

	if _, err := s.Lock(ctx, task.ID, "agent-1"); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	_, err := s.Unlock(ctx, task.ID, "agent-2")
	if !types.IsLockError(err) {
		t.Errorf("expected LockError, got %v", err)
	}
}

func TestUnlock_AlreadyUnlockedIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "free")

	if _, err := s.Unlock(ctx, task.ID, "agent-1"); err != nil {
		t.Errorf("Unlock() of an unlocked task failed: %v", err)
	}
}

func TestUnlock_ForceWithoutOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "seized")

	if _, err := s.Lock(ctx, task.ID, "agent-1"); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	unlocked, err := s.Unlock(ctx, task.ID, "")
	if err != nil {
		t.Fatalf("forced Unlock() failed: %v", err)
	}
	if unlocked.LockedBy != "" {
		t.Error("forced unlock left the lease in place")
	}
}

func TestComplete_ByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "finishable")

	if _, err := s.Start(ctx, task.ID, "agent-1"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	done, err := s.Complete(ctx, task.ID, "agent-1")
	if err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}
	if done.Status != types.StatusCompleted {
		t.Errorf("Status = %q, want %q", done.Status, types.StatusCompleted)
	}
	if done.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if done.LockedBy != "" || done.LockedAt != nil {
		t.Error("completion should release the lease")
	}
}

func TestComplete_RefusedWhileLockedByOther(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "not yours")

	if _, err := s.Start(ctx, task.ID, "agent-1"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	_, err := s.Complete(ctx, task.ID, "agent-2")
	if !types.IsLockError(err) {
		t.Errorf("expected LockError, got %v", err)
	}
}

func TestComplete_EmptyAgentBypassesLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "orphaned by crash")

	if _, err := s.Start(ctx, task.ID, "agent-1"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	done, err := s.Complete(ctx, task.ID, "")
	if err != nil {
		t.Fatalf("Complete() without agent failed: %v", err)
	}
	if done.Status != types.StatusCompleted {
		t.Errorf("Status = %q, want %q", done.Status, types.StatusCompleted)
	}
	if done.LockedBy != "" {
		t.Error("lease should be cleared even on bypass")
	}
}

func TestComplete_ExpiredLockDoesNotBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "timed out")

	if _, err := s.Start(ctx, task.ID, "agent-1"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	backdateLease(t, s, task.ID, types.LeaseTTL+time.Minute)

	if _, err := s.Complete(ctx, task.ID, "agent-2"); err != nil {
		t.Errorf("Complete() over an expired lease failed: %v", err)
	}
}
