package store

import (
	"context"
	"fmt"
	"time"

	"github.com/taskmesh/taskmesh/internal/graph"
	"github.com/taskmesh/taskmesh/internal/types"
)

// AddDependency inserts the edge taskID -> dependsOn after validating
// both endpoints exist and the edge would not close a cycle. Inserting
// an already-present edge is a no-op.
func (s *Store) AddDependency(ctx context.Context, taskID, dependsOn string) error {
	if taskID == dependsOn {
		return &types.DependencyCycleError{TaskID: taskID, DependsOn: dependsOn}
	}
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return err
	}
	if _, err := s.GetTask(ctx, dependsOn); err != nil {
		return err
	}

	// BFS from dependsOn over depends_on edges; reaching taskID means
	// the new edge would complete a cycle.
	cyc, err := graph.WouldCycle(ctx, taskID, dependsOn, s.dependencyNeighbors)
	if err != nil {
		return fmt.Errorf("failed to check for cycles: %w", err)
	}
	if cyc {
		return &types.DependencyCycleError{TaskID: taskID, DependsOn: dependsOn}
	}

	_, err = s.conn.ExecContext(ctx, `
	INSERT OR IGNORE INTO task_deps (task_id, depends_on, created_at)
	VALUES (?, ?, ?)
	`, taskID, dependsOn, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to add dependency %s -> %s: %w", taskID, dependsOn, err)
	}
	return nil
}

// RemoveDependency deletes the edge and reports whether one existed.
func (s *Store) RemoveDependency(ctx context.Context, taskID, dependsOn string) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM task_deps WHERE task_id = ? AND depends_on = ?`,
		taskID, dependsOn)
	if err != nil {
		return false, fmt.Errorf("failed to remove dependency %s -> %s: %w", taskID, dependsOn, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n > 0, nil
}

// DependenciesOf returns the ids this task depends on.
func (s *Store) DependenciesOf(ctx context.Context, taskID string) ([]string, error) {
	return s.queryIDs(ctx,
		`SELECT depends_on FROM task_deps WHERE task_id = ? ORDER BY created_at ASC`,
		taskID)
}

// DependentsOf returns the ids of tasks that depend on this task.
func (s *Store) DependentsOf(ctx context.Context, taskID string) ([]string, error) {
	return s.queryIDs(ctx,
		`SELECT task_id FROM task_deps WHERE depends_on = ? ORDER BY created_at ASC`,
		taskID)
}

// dependencyNeighbors adapts the edge table to graph.NeighborFunc.
func (s *Store) dependencyNeighbors(ctx context.Context, id string) ([]string, error) {
	return s.queryIDs(ctx,
		`SELECT depends_on FROM task_deps WHERE task_id = ?`, id)
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return ids, nil
}
