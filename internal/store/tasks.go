package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/taskmesh/internal/types"
)

const taskColumns = `id, short_id, title, description, status, priority,
	parent_id, project_id, plan_id, agent_id, assigned_to,
	version, locked_by, locked_at, tags, metadata,
	created_at, updated_at, completed_at`

// CreateTask inserts a new task. ID is generated when empty; version is
// always 1. If the task belongs to a project, a short id is minted from
// the project's counter as part of creation.
func (s *Store) CreateTask(ctx context.Context, task *types.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.SetDefaults()
	task.Version = 1
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	if task.ProjectID != "" && task.ShortID == "" {
		shortID, err := s.mintShortID(ctx, task.ProjectID)
		if err != nil {
			return err
		}
		task.ShortID = shortID
	}

	tagsJSON, err := json.Marshal(task.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	metaJSON, err := marshalMetadata(task.Metadata)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO tasks (
		id, short_id, title, description, status, priority,
		parent_id, project_id, plan_id, agent_id, assigned_to,
		version, locked_by, locked_at, tags, metadata,
		created_at, updated_at, completed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, '', NULL, ?, ?, ?, ?, ?)
	`

	_, err = s.conn.ExecContext(ctx, query,
		task.ID,
		task.ShortID,
		task.Title,
		task.Description,
		string(task.Status),
		string(task.Priority),
		stringToNull(task.ParentID),
		stringToNull(task.ProjectID),
		task.PlanID,
		task.AgentID,
		task.AssignedTo,
		string(tagsJSON),
		metaJSON,
		formatTime(task.CreatedAt),
		formatTime(task.UpdatedAt),
		timeToNullString(task.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask retrieves a single task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Kind: "task", ID: id}
	}
	return task, err
}

// TaskFilter configures ListTasks.
type TaskFilter struct {
	Status     types.Status
	Priority   types.Priority
	ProjectID  string
	ParentID   string
	AssignedTo string
	Tag        string
	Limit      int
	Offset     int
}

// ListTasks retrieves tasks matching the filter, ordered by creation
// time. A best-effort sweep of expired leases runs first so stale locks
// never survive past a read.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*types.Task, error) {
	// Lazy lease expiry: piggy-backed on reads, no background timer.
	_, _ = s.sweepExpiredLeases(ctx, time.Now())

	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "t.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		conditions = append(conditions, "t.priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.ProjectID != "" {
		conditions = append(conditions, "t.project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.ParentID != "" {
		conditions = append(conditions, "t.parent_id = ?")
		args = append(args, filter.ParentID)
	}
	if filter.AssignedTo != "" {
		conditions = append(conditions, "t.assigned_to = ?")
		args = append(args, filter.AssignedTo)
	}

	selectClause := "SELECT"
	if filter.Tag != "" {
		selectClause += " DISTINCT"
	}

	query := selectClause + " " + prefixColumns("t") + " FROM tasks t"
	if filter.Tag != "" {
		query += ", json_each(t.tags)"
		conditions = append(conditions, "json_each.value = ?")
		args = append(args, filter.Tag)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY t.created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		// SQLite only accepts OFFSET after a LIMIT clause; -1 means no cap.
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// TaskPatch describes a partial update. Nil fields are left unchanged;
// a non-nil pointer to a zero value explicitly clears the field, so
// "not provided" and "cleared" are distinguishable at the call site.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *types.Status
	Priority    *types.Priority
	ParentID    *string
	ProjectID   *string
	PlanID      *string
	AssignedTo  *string
	Tags        *[]string
	Metadata    *map[string]any
}

// UpdateTask applies patch to the task iff its current version equals
// expectedVersion, advancing the version by exactly 1 in the same
// conditional write. A transition to completed stamps completed_at as
// part of the same statement.
//
// Zero rows affected is re-read to distinguish NotFoundError from
// VersionConflictError; on conflict no field changes.
func (s *Store) UpdateTask(ctx context.Context, id string, patch TaskPatch, expectedVersion int) (*types.Task, error) {
	var sets []string
	var args []any

	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Status != nil {
		if !patch.Status.IsValid() {
			return nil, fmt.Errorf("invalid status: %s", *patch.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
		if *patch.Status == types.StatusCompleted {
			sets = append(sets, "completed_at = ?")
			args = append(args, formatTime(time.Now()))
		}
	}
	if patch.Priority != nil {
		if !patch.Priority.IsValid() {
			return nil, fmt.Errorf("invalid priority: %s", *patch.Priority)
		}
		sets = append(sets, "priority = ?")
		args = append(args, string(*patch.Priority))
	}
	if patch.ParentID != nil {
		sets = append(sets, "parent_id = ?")
		args = append(args, stringToNull(*patch.ParentID))
	}
	if patch.ProjectID != nil {
		sets = append(sets, "project_id = ?")
		args = append(args, stringToNull(*patch.ProjectID))
		if *patch.ProjectID != "" {
			// First association with a project mints the short id.
			cur, err := s.GetTask(ctx, id)
			if err != nil {
				return nil, err
			}
			if cur.ShortID == "" {
				shortID, err := s.mintShortID(ctx, *patch.ProjectID)
				if err != nil {
					return nil, err
				}
				sets = append(sets, "short_id = ?")
				args = append(args, shortID)
			}
		}
	}
	if patch.PlanID != nil {
		sets = append(sets, "plan_id = ?")
		args = append(args, *patch.PlanID)
	}
	if patch.AssignedTo != nil {
		sets = append(sets, "assigned_to = ?")
		args = append(args, *patch.AssignedTo)
	}
	if patch.Tags != nil {
		tagsJSON, err := json.Marshal(*patch.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tags: %w", err)
		}
		sets = append(sets, "tags = ?")
		args = append(args, string(tagsJSON))
	}
	if patch.Metadata != nil {
		metaJSON, err := marshalMetadata(*patch.Metadata)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "metadata = ?")
		args = append(args, metaJSON)
	}

	sets = append(sets, "version = version + 1", "updated_at = ?")
	args = append(args, formatTime(time.Now()))
	args = append(args, id, expectedVersion)

	query := "UPDATE tasks SET " + strings.Join(sets, ", ") +
		" WHERE id = ? AND version = ?"

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish missing row from stale version.
		cur, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &types.VersionConflictError{
			TaskID:   id,
			Expected: expectedVersion,
			Actual:   cur.Version,
		}
	}

	return s.GetTask(ctx, id)
}

// DeleteTask removes a task, cascading to its subtasks. Dependency edges
// referencing any deleted task are removed by the schema's foreign keys.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, `
	DELETE FROM tasks WHERE id IN (
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM tasks WHERE id = ?
			UNION ALL
			SELECT t.id FROM tasks t JOIN subtree s ON t.parent_id = s.id
		)
		SELECT id FROM subtree
	)`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return &types.NotFoundError{Kind: "task", ID: id}
	}
	return nil
}

// ResolveID expands a partial task id (or exact short id) to the full
// id. Fails unless the prefix matches exactly one task.
func (s *Store) ResolveID(ctx context.Context, partial string) (string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id FROM tasks WHERE id LIKE ? || '%' OR short_id = ? LIMIT 2`,
		partial, partial)
	if err != nil {
		return "", fmt.Errorf("failed to resolve id %s: %w", partial, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", &types.NotFoundError{Kind: "task", ID: partial}
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("ambiguous task id %q: multiple matches", partial)
	}
}

// FindTaskByMetadata returns the first task whose metadata, under key,
// holds an object whose external_id field equals externalID. Used by the
// sync engine's local index fallback.
func (s *Store) FindTaskByMetadata(ctx context.Context, key, externalID string) (*types.Task, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE json_extract(metadata, '$.' || ? || '.external_id') = ?
		 LIMIT 1`, key, externalID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Kind: "task", ID: externalID}
	}
	return task, err
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var task types.Task
	var status, priority string
	var parentID, projectID sql.NullString
	var lockedAt, completedAt sql.NullString
	var tagsJSON, metaJSON string
	var createdAt, updatedAt string

	err := row.Scan(
		&task.ID,
		&task.ShortID,
		&task.Title,
		&task.Description,
		&status,
		&priority,
		&parentID,
		&projectID,
		&task.PlanID,
		&task.AgentID,
		&task.AssignedTo,
		&task.Version,
		&task.LockedBy,
		&lockedAt,
		&tagsJSON,
		&metaJSON,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = types.Status(status)
	task.Priority = types.Priority(priority)
	task.ParentID = parentID.String
	task.ProjectID = projectID.String
	task.LockedAt = nullStringToTime(lockedAt)
	task.CompletedAt = nullStringToTime(completedAt)
	task.CreatedAt = parseTime(createdAt)
	task.UpdatedAt = parseTime(updatedAt)

	if tagsJSON != "" && tagsJSON != "null" {
		if err := json.Unmarshal([]byte(tagsJSON), &task.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	} else {
		task.Tags = []string{}
	}
	if metaJSON != "" && metaJSON != "null" {
		if err := json.Unmarshal([]byte(metaJSON), &task.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]*types.Task, error) {
	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func prefixColumns(alias string) string {
	cols := strings.Split(taskColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func marshalMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
