// Package export moves tasks between the store and JSONL files, one
// task object per line. Used for backups and for seeding a store from
// another tool's dump.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/taskmesh/taskmesh/internal/store"
	"github.com/taskmesh/taskmesh/internal/types"
)

// Result summarizes an import or export run.
type Result struct {
	Tasks  int
	Errors []string
}

// ToJSONL writes every task matching filter to path as JSONL.
func ToJSONL(ctx context.Context, st *store.Store, filter store.TaskFilter, path string) (*Result, error) {
	tasks, err := st.ListTasks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	result := &Result{}
	enc := json.NewEncoder(w)
	for _, task := range tasks {
		if err := enc.Encode(task); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("export %s: %v", task.ID, err))
			continue
		}
		result.Tasks++
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush export file: %w", err)
	}
	return result, nil
}

// FromJSONL reads tasks from a JSONL file and creates them in the
// store. Tasks whose id already exists are skipped; individual failures
// are collected and do not stop the import.
func FromJSONL(ctx context.Context, st *store.Store, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	result := &Result{}
	dec := json.NewDecoder(f)
	line := 0
	for {
		var task types.Task
		if err := dec.Decode(&task); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at record %d: %w", line+1, err)
		}
		line++

		if task.ID != "" {
			if _, err := st.GetTask(ctx, task.ID); err == nil {
				continue // already present
			} else if !types.IsNotFound(err) {
				result.Errors = append(result.Errors,
					fmt.Sprintf("import %s: %v", task.ID, err))
				continue
			}
		}

		task.SetDefaults()
		if err := st.CreateTask(ctx, &task); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("import record %d: %v", line, err))
			continue
		}
		result.Tasks++
	}
	return result, nil
}
