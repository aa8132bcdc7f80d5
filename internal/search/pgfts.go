package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a
// fallback when Meilisearch is down or not configured.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is
// down.
func (p *PgFTS) Healthy() bool {
	return true
}

const pgftsACLJoin = `
	FROM documents d
	LEFT JOIN permissions dp
		ON dp.resource_type = 'document' AND dp.resource_id = d.id AND dp.subject_id = $2
		AND (dp.expires_at IS NULL OR dp.expires_at > NOW())
	LEFT JOIN permissions pp
		ON pp.resource_type = 'project' AND pp.resource_id = d.project_id AND pp.subject_id = $2
		AND (pp.expires_at IS NULL OR pp.expires_at > NOW())`

// Search runs plainto_tsquery over title and extracted text, restricted
// to live documents the user owns or holds a grant on.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := `d.deleted_at IS NULL
		AND (d.owner_id = $2 OR dp.id IS NOT NULL OR pp.id IS NOT NULL)
		AND to_tsvector('english', d.title || ' ' || d.content_text) @@ plainto_tsquery('english', $1)`
	args := []any{q.Text, q.UserID}
	if q.ProjectID != "" {
		where += " AND d.project_id = $3"
		args = append(args, q.ProjectID)
	}

	ctx := context.Background()

	countSQL := fmt.Sprintf(`SELECT count(DISTINCT d.id) %s WHERE %s`, pgftsACLJoin, where)
	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT DISTINCT d.id, d.title,
			ts_headline('english', d.content_text, plainto_tsquery('english', $1),
				'MaxFragments=1, MaxWords=30, StartSel=<mark>, StopSel=</mark>') AS snippet,
			COALESCE(d.project_id, ''),
			EXTRACT(EPOCH FROM d.updated_at)::bigint AS updated_at,
			ts_rank(to_tsvector('english', d.title || ' ' || d.content_text), plainto_tsquery('english', $1)) AS rank
		%s
		WHERE %s
		ORDER BY rank DESC, updated_at DESC
		LIMIT %d OFFSET %d`, pgftsACLJoin, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rank float64
		if err := rows.Scan(&r.DocumentID, &r.Title, &r.Snippet, &r.ProjectID, &r.UpdatedAt, &rank); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

const loadRecordSQL = `
	SELECT d.id, d.title, d.content_text, COALESCE(d.project_id, ''),
		EXTRACT(EPOCH FROM d.updated_at)::bigint,
		d.owner_id || ' ' || COALESCE((
			SELECT string_agg(DISTINCT p.subject_id, ' ')
			FROM permissions p
			WHERE (p.resource_type = 'document' AND p.resource_id = d.id)
				OR (p.resource_type = 'project' AND p.resource_id = d.project_id)
		), '')
	FROM documents d
	WHERE d.deleted_at IS NULL`

// LoadRecord builds the index record for one document, including its
// allowed-user list.
func (p *PgFTS) LoadRecord(ctx context.Context, documentID string) (DocumentRecord, error) {
	row := p.db.QueryRowContext(ctx, loadRecordSQL+` AND d.id = $1`, documentID)
	return scanRecord(row)
}

// LoadAllRecords returns index records for every live document, used for
// full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, loadRecordSQL)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	records := make([]DocumentRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func scanRecord(row interface{ Scan(...any) error }) (DocumentRecord, error) {
	var record DocumentRecord
	var allowed string
	if err := row.Scan(&record.ID, &record.Title, &record.Content, &record.ProjectID, &record.UpdatedAt, &allowed); err != nil {
		return DocumentRecord{}, fmt.Errorf("scan record: %w", err)
	}
	record.AllowedUserIDs = strings.Fields(allowed)
	return record, nil
}
