package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/taskmesh/taskmesh/internal/store"
	"github.com/taskmesh/taskmesh/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return st
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"one", "two", "three"} {
		task := &types.Task{Title: title, Tags: []string{"exported"}}
		if err := src.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask() failed: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "dump", "tasks.jsonl")
	res, err := ToJSONL(ctx, src, store.TaskFilter{}, path)
	if err != nil {
		t.Fatalf("ToJSONL() failed: %v", err)
	}
	if res.Tasks != 3 {
		t.Errorf("exported %d tasks, want 3", res.Tasks)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	lines := strings.Count(strings.TrimSpace(string(data)), "\n") + 1
	if lines != 3 {
		t.Errorf("export has %d lines, want 3", lines)
	}

	dst := newTestStore(t)
	ires, err := FromJSONL(ctx, dst, path)
	if err != nil {
		t.Fatalf("FromJSONL() failed: %v", err)
	}
	if ires.Tasks != 3 || len(ires.Errors) != 0 {
		t.Errorf("imported %d tasks, errors %v", ires.Tasks, ires.Errors)
	}

	tasks, err := dst.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Errorf("destination holds %d tasks, want 3", len(tasks))
	}
}

func TestFromJSONL_SkipsExisting(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := &types.Task{Title: "already here"}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "tasks.jsonl")
	if _, err := ToJSONL(ctx, st, store.TaskFilter{}, path); err != nil {
		t.Fatalf("ToJSONL() failed: %v", err)
	}

	res, err := FromJSONL(ctx, st, path)
	if err != nil {
		t.Fatalf("FromJSONL() failed: %v", err)
	}
	if res.Tasks != 0 {
		t.Errorf("re-import created %d tasks, want 0", res.Tasks)
	}
}

func TestFromJSONL_BadRecordDoesNotStopImport(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	content := `{"title": "good one"}
{"title": ""}
{"title": "good two"}
`
	path := filepath.Join(t.TempDir(), "tasks.jsonl")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write import file: %v", err)
	}

	res, err := FromJSONL(ctx, st, path)
	if err != nil {
		t.Fatalf("FromJSONL() failed: %v", err)
	}
	if res.Tasks != 2 {
		t.Errorf("imported %d tasks, want 2", res.Tasks)
	}
	if len(res.Errors) != 1 {
		t.Errorf("got %d errors, want 1: %v", len(res.Errors), res.Errors)
	}
}

func TestFromJSONL_MissingFile(t *testing.T) {
	st := newTestStore(t)
	if _, err := FromJSONL(context.Background(), st, "/nonexistent/tasks.jsonl"); err == nil {
		t.Error("expected error for missing import file")
	}
}
