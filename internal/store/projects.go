package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/taskmesh/taskmesh/internal/types"
)

// CreateProject inserts a new project. ID is generated when empty and a
// prefix is derived from the name, disambiguated with a numeric suffix
// if the derived prefix already belongs to another project.
func (s *Store) CreateProject(ctx context.Context, p *types.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	if p.Prefix == "" {
		prefix, err := s.allocatePrefix(ctx, p.Name)
		if err != nil {
			return err
		}
		p.Prefix = prefix
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid project: %w", err)
	}

	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO projects (id, name, path, description, prefix, next_seq, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`, p.ID, p.Name, p.Path, p.Description, p.Prefix,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create project %s: %w", p.Name, err)
	}
	return nil
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*types.Project, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT id, name, path, description, prefix, next_seq, created_at, updated_at
	FROM projects WHERE id = ?`, id)
	return scanProject(row, id)
}

// GetProjectByPath retrieves a project by its filesystem-unique path.
func (s *Store) GetProjectByPath(ctx context.Context, path string) (*types.Project, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT id, name, path, description, prefix, next_seq, created_at, updated_at
	FROM projects WHERE path = ?`, path)
	return scanProject(row, path)
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]*types.Project, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, name, path, description, prefix, next_seq, created_at, updated_at
	FROM projects ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*types.Project
	for rows.Next() {
		p, err := scanProject(rows, "")
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	return projects, nil
}

// UpdateProject updates the mutable project fields (name, description).
// Identity, path, prefix, and the counter are immutable after creation.
func (s *Store) UpdateProject(ctx context.Context, id string, name, description *string) (*types.Project, error) {
	var sets []string
	var args []any
	if name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *name)
	}
	if description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *description)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now()), id)

	res, err := s.conn.ExecContext(ctx,
		"UPDATE projects SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update project %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return nil, &types.NotFoundError{Kind: "project", ID: id}
	}
	return s.GetProject(ctx, id)
}

// DeleteProject removes the project. Its tasks are disassociated, not
// deleted; the schema's ON DELETE SET NULL clears their project_id.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return &types.NotFoundError{Kind: "project", ID: id}
	}
	return nil
}

// mintShortID allocates the next short id for a project. The counter
// increment is a single atomic increment-and-read so two concurrent
// creations under the same project never collide.
func (s *Store) mintShortID(ctx context.Context, projectID string) (string, error) {
	var prefix string
	var seq int
	err := s.conn.QueryRowContext(ctx, `
	UPDATE projects SET next_seq = next_seq + 1
	WHERE id = ?
	RETURNING prefix, next_seq`, projectID).Scan(&prefix, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &types.NotFoundError{Kind: "project", ID: projectID}
	}
	if err != nil {
		return "", fmt.Errorf("failed to mint short id for project %s: %w", projectID, err)
	}
	return types.FormatShortID(prefix, seq), nil
}

// EnsureShortID mints a short id for the task if it belongs to a project
// and does not have one yet. Returns the task's short id (possibly
// empty when the task has no project).
func (s *Store) EnsureShortID(ctx context.Context, taskID string) (string, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if task.ShortID != "" || task.ProjectID == "" {
		return task.ShortID, nil
	}
	shortID, err := s.mintShortID(ctx, task.ProjectID)
	if err != nil {
		return "", err
	}
	res, err := s.conn.ExecContext(ctx, `
	UPDATE tasks SET short_id = ?, version = version + 1, updated_at = ?
	WHERE id = ? AND short_id = ''`,
		shortID, formatTime(time.Now()), taskID)
	if err != nil {
		return "", fmt.Errorf("failed to assign short id to task %s: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		// Raced with another minter; their id won.
		cur, err := s.GetTask(ctx, taskID)
		if err != nil {
			return "", err
		}
		return cur.ShortID, nil
	}
	return shortID, nil
}

// allocatePrefix derives a project prefix from name and disambiguates
// against existing projects with an increasing numeric suffix.
func (s *Store) allocatePrefix(ctx context.Context, name string) (string, error) {
	base := derivePrefix(name)
	candidate := base
	for suffix := 2; ; suffix++ {
		var count int
		err := s.conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM projects WHERE prefix = ?`, candidate).Scan(&count)
		if err != nil {
			return "", fmt.Errorf("failed to check prefix %s: %w", candidate, err)
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%d", base, suffix)
	}
}

// derivePrefix builds a 3-4 uppercase-letter code from a project name:
// initials of the first three words, padded from the last word if the
// name has fewer words, or the first four letters of a single word.
func derivePrefix(name string) string {
	var words []string
	for _, w := range strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if w != "" {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return "PRJ"
	}

	var prefix string
	if len(words) == 1 {
		runes := []rune(words[0])
		if len(runes) > 4 {
			runes = runes[:4]
		}
		prefix = string(runes)
	} else {
		if len(words) > 3 {
			words = words[:3]
		}
		var b strings.Builder
		for _, w := range words {
			b.WriteRune([]rune(w)[0])
		}
		// Pad two-word names up to three letters from the last word.
		for b.Len() < 3 {
			last := []rune(words[len(words)-1])
			if len(last) < 2 {
				break
			}
			b.WriteRune(last[1])
		}
		prefix = b.String()
	}
	// Names too short for three letters repeat the last letter.
	for r := []rune(prefix); len(r) < 3; r = []rune(prefix) {
		prefix += string(r[len(r)-1])
	}
	return strings.ToUpper(prefix)
}

func scanProject(row rowScanner, id string) (*types.Project, error) {
	var p types.Project
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &p.Path, &p.Description, &p.Prefix,
		&p.NextSeq, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Kind: "project", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}
