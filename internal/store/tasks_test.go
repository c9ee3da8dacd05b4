package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/types"
)

func TestCreateTask_Defaults(t *testing.T) {
	s := newTestStore(t)
	task := mustCreateTask(t, s, "first task")

	if task.ID == "" {
		t.Error("expected a generated id")
	}
	if task.Version != 1 {
		t.Errorf("Version = %d, want 1", task.Version)
	}

	got, err := s.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if got.Status != types.StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, types.StatusPending)
	}
	if got.Priority != types.PriorityMedium {
		t.Errorf("Priority = %q, want %q", got.Priority, types.PriorityMedium)
	}
	if got.Version != 1 {
		t.Errorf("stored Version = %d, want 1", got.Version)
	}
	if got.LockedBy != "" || got.LockedAt != nil {
		t.Error("new task should not carry a lease")
	}
}

func TestCreateTask_ForcesVersionOne(t *testing.T) {
	s := newTestStore(t)

	task := &types.Task{Title: "versioned", Version: 42}
	if err := s.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	if task.Version != 1 {
		t.Errorf("Version = %d, want 1", task.Version)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTask(context.Background(), "missing")
	if !types.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestUpdateTask_BumpsVersionByOne(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "bump me")

	title := "bumped"
	updated, err := s.UpdateTask(ctx, task.ID, TaskPatch{Title: &title}, 1)
	if err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("Version = %d, want 2", updated.Version)
	}
	if updated.Title != "bumped" {
		t.Errorf("Title = %q, want %q", updated.Title, "bumped")
	}

	title = "bumped again"
	updated, err = s.UpdateTask(ctx, task.ID, TaskPatch{Title: &title}, 2)
	if err != nil {
		t.Fatalf("second UpdateTask() failed: %v", err)
	}
	if updated.Version != 3 {
		t.Errorf("Version = %d, want 3", updated.Version)
	}
}

func TestUpdateTask_VersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "contested")

	title := "winner"
	if _, err := s.UpdateTask(ctx, task.ID, TaskPatch{Title: &title}, 1); err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}

	// Second writer still holds the stale version.
	stale := "loser"
	_, err := s.UpdateTask(ctx, task.ID, TaskPatch{Title: &stale}, 1)
	var vc *types.VersionConflictError
	if !errors.As(err, &vc) {
		t.Fatalf("expected VersionConflictError, got %v", err)
	}
	if vc.Expected != 1 || vc.Actual != 2 {
		t.Errorf("conflict Expected=%d Actual=%d, want 1 and 2", vc.Expected, vc.Actual)
	}

	// The losing write must not have changed anything.
	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if got.Title != "winner" {
		t.Errorf("Title = %q, want %q", got.Title, "winner")
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
}

func TestUpdateTask_NotFound(t *testing.T) {
	s := newTestStore(t)

	title := "ghost"
	_, err := s.UpdateTask(context.Background(), "missing", TaskPatch{Title: &title}, 1)
	if !types.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestUpdateTask_ClearField(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &types.Task{Title: "assigned", AssignedTo: "agent-1"}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	empty := ""
	updated, err := s.UpdateTask(ctx, task.ID, TaskPatch{AssignedTo: &empty}, 1)
	if err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	if updated.AssignedTo != "" {
		t.Errorf("AssignedTo = %q, want empty", updated.AssignedTo)
	}

	// An absent field leaves the value alone.
	desc := "still assigned elsewhere"
	updated, err = s.UpdateTask(ctx, task.ID, TaskPatch{Description: &desc}, 2)
	if err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	if updated.AssignedTo != "" {
		t.Errorf("AssignedTo = %q, want empty after unrelated patch", updated.AssignedTo)
	}
}

func TestUpdateTask_CompletedStampsCompletedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "finish me")

	status := types.StatusCompleted
	updated, err := s.UpdateTask(ctx, task.ID, TaskPatch{Status: &status}, 1)
	if err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	if updated.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
}

func TestUpdateTask_InvalidStatus(t *testing.T) {
	s := newTestStore(t)
	task := mustCreateTask(t, s, "strict")

	bad := types.Status("bogus")
	if _, err := s.UpdateTask(context.Background(), task.ID, TaskPatch{Status: &bad}, 1); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestListTasks_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &types.Task{Title: "a", Status: types.StatusPending, Tags: []string{"urgent"}}
	b := &types.Task{Title: "b", Status: types.StatusInProgress, AssignedTo: "agent-1"}
	c := &types.Task{Title: "c", Status: types.StatusPending}
	for _, task := range []*types.Task{a, b, c} {
		if err := s.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask(%q) failed: %v", task.Title, err)
		}
	}

	pending, err := s.ListTasks(ctx, TaskFilter{Status: types.StatusPending})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending count = %d, want 2", len(pending))
	}

	byAgent, err := s.ListTasks(ctx, TaskFilter{AssignedTo: "agent-1"})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(byAgent) != 1 || byAgent[0].Title != "b" {
		t.Errorf("assigned filter returned %d tasks", len(byAgent))
	}

	tagged, err := s.ListTasks(ctx, TaskFilter{Tag: "urgent"})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(tagged) != 1 || tagged[0].Title != "a" {
		t.Errorf("tag filter returned %d tasks", len(tagged))
	}

	limited, err := s.ListTasks(ctx, TaskFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited count = %d, want 2", len(limited))
	}
}

func TestDeleteTask_CascadesToSubtasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := mustCreateTask(t, s, "parent")
	child := &types.Task{Title: "child", ParentID: parent.ID}
	if err := s.CreateTask(ctx, child); err != nil {
		t.Fatalf("CreateTask(child) failed: %v", err)
	}
	grandchild := &types.Task{Title: "grandchild", ParentID: child.ID}
	if err := s.CreateTask(ctx, grandchild); err != nil {
		t.Fatalf("CreateTask(grandchild) failed: %v", err)
	}

	if err := s.DeleteTask(ctx, parent.ID); err != nil {
		t.Fatalf("DeleteTask() failed: %v", err)
	}

	for _, id := range []string{parent.ID, child.ID, grandchild.ID} {
		if _, err := s.GetTask(ctx, id); !types.IsNotFound(err) {
			t.Errorf("task %s still exists after subtree delete", id)
		}
	}
}

func TestDeleteTask_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.DeleteTask(context.Background(), "missing")
	if !types.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestResolveID_Prefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreateTask(t, s, "resolvable")

	got, err := s.ResolveID(ctx, task.ID[:8])
	if err != nil {
		t.Fatalf("ResolveID() failed: %v", err)
	}
	if got != task.ID {
		t.Errorf("ResolveID() = %q, want %q", got, task.ID)
	}
}

func TestResolveID_ShortID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &types.Project{Name: "Task Mesh"}
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject() failed: %v", err)
	}
	task := &types.Task{Title: "short", ProjectID: p.ID}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	if task.ShortID == "" {
		t.Fatal("expected a minted short id")
	}

	got, err := s.ResolveID(ctx, task.ShortID)
	if err != nil {
		t.Fatalf("ResolveID() failed: %v", err)
	}
	if got != task.ID {
		t.Errorf("ResolveID() = %q, want %q", got, task.ID)
	}
}

func TestResolveID_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ResolveID(context.Background(), "nope")
	if !types.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestFindTaskByMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &types.Task{
		Title: "mirrored",
		Metadata: map[string]any{
			"codex_sync": map[string]any{"external_id": "codex-0001"},
		},
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	got, err := s.FindTaskByMetadata(ctx, "codex_sync", "codex-0001")
	if err != nil {
		t.Fatalf("FindTaskByMetadata() failed: %v", err)
	}
	if got.ID != task.ID {
		t.Errorf("found %q, want %q", got.ID, task.ID)
	}

	if _, err := s.FindTaskByMetadata(ctx, "codex_sync", "codex-9999"); !types.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestListTasks_OffsetWithoutLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"first", "second", "third"} {
		mustCreateTask(t, s, title)
	}

	rest, err := s.ListTasks(ctx, TaskFilter{Offset: 1})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("offset 1 returned %d tasks, want 2", len(rest))
	}
	if rest[0].Title != "second" || rest[1].Title != "third" {
		t.Errorf("offset skipped the wrong tasks: %q, %q", rest[0].Title, rest[1].Title)
	}

	page, err := s.ListTasks(ctx, TaskFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(page) != 1 || page[0].Title != "second" {
		t.Errorf("limit+offset page = %d tasks, want the middle one", len(page))
	}

	past, err := s.ListTasks(ctx, TaskFilter{Offset: 10})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(past) != 0 {
		t.Errorf("offset past the end returned %d tasks, want 0", len(past))
	}
}

func TestCreateTask_PreservesCompletedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done := time.Now().Add(-time.Hour).UTC().Truncate(time.Microsecond)
	task := &types.Task{
		Title:       "already done",
		Status:      types.StatusCompleted,
		CompletedAt: &done,
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at was dropped on insert")
	}
	if !got.CompletedAt.Equal(done) {
		t.Errorf("completed_at = %v, want %v", got.CompletedAt, done)
	}
}
