package store

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/internal/types"
)

// UpdateSyncState persists a mirror's sync mapping under key in the
// task's metadata, conditionally on expectedVersion like any other
// mutation. The version advances but updated_at is deliberately left
// unchanged: sync bookkeeping is not a content edit, and bumping
// updated_at here would make every completed sync look like a fresh
// local change to the next pass.
func (s *Store) UpdateSyncState(ctx context.Context, taskID, key string, st *types.SyncState, expectedVersion int) (*types.Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	meta := types.PutSyncState(task.Metadata, key, st)
	metaJSON, err := marshalMetadata(meta)
	if err != nil {
		return nil, err
	}

	res, err := s.conn.ExecContext(ctx, `
	UPDATE tasks SET metadata = ?, version = version + 1
	WHERE id = ? AND version = ?`,
		metaJSON, taskID, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update sync state for task %s: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		cur, err := s.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		return nil, &types.VersionConflictError{
			TaskID:   taskID,
			Expected: expectedVersion,
			Actual:   cur.Version,
		}
	}
	return s.GetTask(ctx, taskID)
}
