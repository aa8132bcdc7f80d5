package store

import (
	"context"
	"fmt"
)

// UpsertPermission grants a role on a resource or replaces an existing
// grant for the same subject and resource.
func (s *PostgresStore) UpsertPermission(ctx context.Context, perm Permission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (id, subject_id, resource_type, resource_id, role, granted_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (subject_id, resource_type, resource_id)
		DO UPDATE SET role=EXCLUDED.role, granted_by=EXCLUDED.granted_by, expires_at=EXCLUDED.expires_at, granted_at=NOW()
	`, perm.ID, perm.SubjectID, perm.ResourceType, perm.ResourceID, perm.Role, perm.GrantedBy, perm.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert permission: %w", err)
	}
	return nil
}

// GetPermissionRole returns the live granted role for a subject on one
// resource. Expired grants behave as absent.
func (s *PostgresStore) GetPermissionRole(ctx context.Context, subjectID, resourceType, resourceID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM permissions
		WHERE subject_id=$1 AND resource_type=$2 AND resource_id=$3
			AND (expires_at IS NULL OR expires_at > NOW())
	`, subjectID, resourceType, resourceID).Scan(&role)
	if err != nil {
		return "", err
	}
	return role, nil
}

func (s *PostgresStore) ListPermissionsForResource(ctx context.Context, resourceType, resourceID string) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.subject_id, p.resource_type, p.resource_id, p.role, p.granted_by, p.granted_at, p.expires_at,
			u.email, u.name
		FROM permissions p
		JOIN users u ON u.id = p.subject_id
		WHERE p.resource_type=$1 AND p.resource_id=$2
		ORDER BY p.granted_at ASC
	`, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	perms := make([]Permission, 0)
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(
			&perm.ID, &perm.SubjectID, &perm.ResourceType, &perm.ResourceID, &perm.Role,
			&perm.GrantedBy, &perm.GrantedAt, &perm.ExpiresAt, &perm.UserEmail, &perm.UserName,
		); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}
	return perms, nil
}

func (s *PostgresStore) GetPermission(ctx context.Context, permID string) (Permission, error) {
	var perm Permission
	err := s.db.QueryRowContext(ctx, `
		SELECT id, subject_id, resource_type, resource_id, role, granted_by, granted_at, expires_at
		FROM permissions WHERE id=$1
	`, permID).Scan(
		&perm.ID, &perm.SubjectID, &perm.ResourceType, &perm.ResourceID, &perm.Role,
		&perm.GrantedBy, &perm.GrantedAt, &perm.ExpiresAt,
	)
	if err != nil {
		return Permission{}, err
	}
	return perm, nil
}

func (s *PostgresStore) UpdatePermissionRole(ctx context.Context, permID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE permissions SET role=$2, granted_at=NOW() WHERE id=$1
	`, permID, role)
	if err != nil {
		return fmt.Errorf("update permission role: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePermission(ctx context.Context, subjectID, resourceType, resourceID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM permissions WHERE subject_id=$1 AND resource_type=$2 AND resource_id=$3
	`, subjectID, resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("delete permission: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePermissionByID(ctx context.Context, permID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM permissions WHERE id=$1`, permID)
	if err != nil {
		return fmt.Errorf("delete permission: %w", err)
	}
	return nil
}

// DeleteExpiredPermissions sweeps expired grants for one resource. The
// permission check already treats them as absent; this just keeps the
// collaborator list clean.
func (s *PostgresStore) DeleteExpiredPermissions(ctx context.Context, resourceType, resourceID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM permissions
		WHERE resource_type=$1 AND resource_id=$2 AND expires_at IS NOT NULL AND expires_at <= NOW()
	`, resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("delete expired permissions: %w", err)
	}
	return nil
}

// ---- share links

func (s *PostgresStore) CreateShareLink(ctx context.Context, link ShareLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO share_links (id, document_id, token_hash, role, password_hash, created_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, link.ID, link.DocumentID, link.TokenHash, link.Role, link.PasswordHash, link.CreatedBy, link.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert share link: %w", err)
	}
	return nil
}

func scanShareLink(row interface{ Scan(...any) error }) (ShareLink, error) {
	var link ShareLink
	err := row.Scan(
		&link.ID, &link.DocumentID, &link.TokenHash, &link.Role, &link.PasswordHash,
		&link.CreatedBy, &link.CreatedAt, &link.ExpiresAt, &link.RevokedAt,
		&link.AccessCount, &link.LastAccessedAt,
	)
	return link, err
}

const shareLinkColumns = `id, document_id, token_hash, role, password_hash, created_by, created_at, expires_at, revoked_at, access_count, last_accessed_at`

// GetShareLinkByTokenHash returns the link whatever its state; the
// service decides how revoked or expired links answer.
func (s *PostgresStore) GetShareLinkByTokenHash(ctx context.Context, tokenHash string) (ShareLink, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shareLinkColumns+` FROM share_links WHERE token_hash=$1`, tokenHash)
	return scanShareLink(row)
}

func (s *PostgresStore) GetShareLink(ctx context.Context, linkID string) (ShareLink, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shareLinkColumns+` FROM share_links WHERE id=$1`, linkID)
	return scanShareLink(row)
}

func (s *PostgresStore) ListShareLinksForDocument(ctx context.Context, documentID string) ([]ShareLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shareLinkColumns+`
		FROM share_links
		WHERE document_id=$1
		ORDER BY created_at DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list share links: %w", err)
	}
	defer rows.Close()

	links := make([]ShareLink, 0)
	for rows.Next() {
		link, err := scanShareLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate share links: %w", err)
	}
	return links, nil
}

func (s *PostgresStore) RevokeShareLink(ctx context.Context, linkID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE share_links SET revoked_at=NOW() WHERE id=$1 AND revoked_at IS NULL
	`, linkID)
	if err != nil {
		return fmt.Errorf("revoke share link: %w", err)
	}
	return nil
}

// TouchShareLink bumps the access counter after a successful resolve.
func (s *PostgresStore) TouchShareLink(ctx context.Context, linkID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE share_links SET access_count = access_count + 1, last_accessed_at=NOW() WHERE id=$1
	`, linkID)
	if err != nil {
		return fmt.Errorf("touch share link: %w", err)
	}
	return nil
}
