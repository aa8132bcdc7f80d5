package store

import (
	"context"
	"fmt"
)

const projectColumns = `p.id, p.owner_id, p.name, p.description, p.archived, p.created_at, p.updated_at`

func (s *PostgresStore) CreateProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, owner_id, name, description, archived)
		VALUES ($1, $2, $3, $4, $5)
	`, project.ID, project.OwnerID, project.Name, project.Description, project.Archived)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var project Project
	err := s.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+`,
			(SELECT COUNT(*) FROM documents d WHERE d.project_id = p.id AND d.deleted_at IS NULL)
		FROM projects p
		WHERE p.id=$1
	`, projectID).Scan(
		&project.ID, &project.OwnerID, &project.Name, &project.Description,
		&project.Archived, &project.CreatedAt, &project.UpdatedAt, &project.DocumentCount,
	)
	if err != nil {
		return Project{}, err
	}
	return project, nil
}

// ListProjectsForUser returns projects the user owns plus projects shared
// with them through a project-scoped permission.
func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string, includeArchived bool) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT `+projectColumns+`,
			(SELECT COUNT(*) FROM documents d WHERE d.project_id = p.id AND d.deleted_at IS NULL)
		FROM projects p
		LEFT JOIN permissions perm
			ON perm.resource_type='project' AND perm.resource_id=p.id AND perm.subject_id=$1
			AND (perm.expires_at IS NULL OR perm.expires_at > NOW())
		WHERE (p.owner_id=$1 OR perm.id IS NOT NULL)
			AND ($2 OR NOT p.archived)
		ORDER BY p.updated_at DESC
	`, userID, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]Project, 0)
	for rows.Next() {
		var project Project
		if err := rows.Scan(
			&project.ID, &project.OwnerID, &project.Name, &project.Description,
			&project.Archived, &project.CreatedAt, &project.UpdatedAt, &project.DocumentCount,
		); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name=$2, description=$3, archived=$4, updated_at=NOW()
		WHERE id=$1
	`, project.ID, project.Name, project.Description, project.Archived)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

// DeleteProject removes the project row and its permission grants.
// Documents keep their content and fall back to project_id NULL via the
// FK.
func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete project: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM permissions WHERE resource_type='project' AND resource_id=$1
	`, projectID); err != nil {
		return fmt.Errorf("delete project permissions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return tx.Commit()
}
