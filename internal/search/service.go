package search

import (
	"context"
	"log/slog"
)

// Service is the facade that tries Meilisearch first and falls back to
// PG FTS.
type Service struct {
	meili  *Meili
	pgfts  *PgFTS
	logger *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch
// is not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *slog.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, logger: logger}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", "error", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.logger.Error("pgfts search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocumentByID loads the index record for a document and pushes it
// to Meilisearch, fire-and-forget. Called after content or permission
// changes; the PG fallback needs no indexing.
func (s *Service) IndexDocumentByID(documentID string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		record, err := s.pgfts.LoadRecord(context.Background(), documentID)
		if err != nil {
			s.logger.Warn("load index record", "document_id", documentID, "error", err)
			return
		}
		if err := s.meili.IndexDocument(record); err != nil {
			s.logger.Warn("index document", "document_id", documentID, "error", err)
		}
	}()
}

// DeleteDocument removes a document from the search index,
// fire-and-forget. Called on trash and purge.
func (s *Service) DeleteDocument(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteDocument(id); err != nil {
			s.logger.Warn("delete document from index", "document_id", id, "error", err)
		}
	}()
}

// ReindexAllFromPG reindexes every live document from PostgreSQL into
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", "error", err)
		return
	}
	if err := s.meili.IndexDocuments(records); err != nil {
		s.logger.Error("reindex push failed", "error", err)
		return
	}
	s.logger.Info("search reindex complete", "documents", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
