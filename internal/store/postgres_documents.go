package store

import (
	"context"
	"fmt"
)

const documentColumns = `d.id, d.owner_id, d.project_id, d.title, d.content, d.content_text, d.word_count, d.background_id, d.updated_by, d.created_at, d.updated_at, d.deleted_at`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var doc Document
	err := row.Scan(
		&doc.ID, &doc.OwnerID, &doc.ProjectID, &doc.Title, &doc.Content, &doc.ContentText,
		&doc.WordCount, &doc.BackgroundID, &doc.UpdatedBy, &doc.CreatedAt, &doc.UpdatedAt, &doc.DeletedAt,
	)
	return doc, err
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, project_id, title, content, content_text, word_count, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, doc.ID, doc.OwnerID, doc.ProjectID, doc.Title, doc.Content, doc.ContentText, doc.WordCount, doc.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument returns the document regardless of trash state. Callers
// decide whether a trashed document is visible for their operation.
func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents d WHERE d.id=$1`, documentID)
	return scanDocument(row)
}

// ListDocumentsForUser returns live documents the user owns or can read
// through a direct document permission or a project-level permission.
func (s *PostgresStore) ListDocumentsForUser(ctx context.Context, userID string, projectID *string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT `+documentColumns+`
		FROM documents d
		LEFT JOIN permissions dp
			ON dp.resource_type='document' AND dp.resource_id=d.id AND dp.subject_id=$1
			AND (dp.expires_at IS NULL OR dp.expires_at > NOW())
		LEFT JOIN permissions pp
			ON pp.resource_type='project' AND pp.resource_id=d.project_id AND pp.subject_id=$1
			AND (pp.expires_at IS NULL OR pp.expires_at > NOW())
		WHERE d.deleted_at IS NULL
			AND (d.owner_id=$1 OR dp.id IS NOT NULL OR pp.id IS NOT NULL)
			AND ($2::text IS NULL OR d.project_id=$2)
		ORDER BY d.updated_at DESC
	`, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// CountProjectDocuments counts every document still pointing at the
// project, including trashed ones and documents owned by collaborators.
// Project deletion keys off this, not an ACL-scoped listing, so nothing
// in the project can be silently orphaned.
func (s *PostgresStore) CountProjectDocuments(ctx context.Context, projectID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE project_id=$1`, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count project documents: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListTrashedDocuments(ctx context.Context, ownerID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents d
		WHERE d.owner_id=$1 AND d.deleted_at IS NOT NULL
		ORDER BY d.deleted_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list trashed documents: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func collectDocuments(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]Document, error) {
	docs := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func (s *PostgresStore) UpdateDocumentContent(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title=$2, content=$3, content_text=$4, word_count=$5, updated_by=$6, updated_at=NOW()
		WHERE id=$1
	`, doc.ID, doc.Title, doc.Content, doc.ContentText, doc.WordCount, doc.UpdatedBy)
	if err != nil {
		return fmt.Errorf("update document content: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocumentMeta(ctx context.Context, documentID string, projectID *string, backgroundID *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET project_id=$2, background_id=$3, updated_at=NOW()
		WHERE id=$1
	`, documentID, projectID, backgroundID)
	if err != nil {
		return fmt.Errorf("update document meta: %w", err)
	}
	return nil
}

func (s *PostgresStore) TrashDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET deleted_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL
	`, documentID)
	if err != nil {
		return fmt.Errorf("trash document: %w", err)
	}
	return nil
}

func (s *PostgresStore) RestoreDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET deleted_at=NULL, updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NOT NULL
	`, documentID)
	if err != nil {
		return fmt.Errorf("restore document: %w", err)
	}
	return nil
}

// PurgeDocument permanently removes a trashed document. Chunks, share
// links and conversations go by FK cascade; permission rows reference
// resources polymorphically and are removed here.
func (s *PostgresStore) PurgeDocument(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purge document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM permissions WHERE resource_type='document' AND resource_id=$1
	`, documentID); err != nil {
		return fmt.Errorf("purge document permissions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id=$1 AND deleted_at IS NOT NULL`, documentID); err != nil {
		return fmt.Errorf("purge document: %w", err)
	}
	return tx.Commit()
}

