package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"inkwell/api/internal/export"
	"inkwell/api/internal/gitrepo"
	"inkwell/api/internal/rbac"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

// emptyDoc is the editor's blank document: one empty paragraph.
var emptyDoc = json.RawMessage(`{"type":"doc","content":[{"type":"paragraph"}]}`)

type CreateDocumentInput struct {
	Title     string          `json:"title"`
	ProjectID string          `json:"projectId"`
	Content   json.RawMessage `json:"content"`
}

// UpdateDocumentInput distinguishes absent fields (nil, untouched) from
// provided ones. An empty ProjectID or BackgroundID clears the field.
type UpdateDocumentInput struct {
	Title        *string         `json:"title"`
	Content      json.RawMessage `json:"content"`
	ProjectID    *string         `json:"projectId"`
	BackgroundID *string         `json:"backgroundId"`
}

func (s *Service) CreateDocument(ctx context.Context, session Session, input CreateDocumentInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Untitled"
	}

	var projectID *string
	if input.ProjectID != "" {
		if _, _, err := s.requireProjectAction(ctx, session.UserID, input.ProjectID, rbac.ActionWrite); err != nil {
			return nil, err
		}
		projectID = &input.ProjectID
	}

	content := input.Content
	if len(content) == 0 {
		content = emptyDoc
	}
	if !json.Valid(content) {
		return nil, domainError(http.StatusBadRequest, "INVALID_CONTENT", "Content must be a JSON document", nil)
	}

	doc := store.Document{
		ID:          util.NewID("doc"),
		OwnerID:     session.UserID,
		ProjectID:   projectID,
		Title:       title,
		Content:     content,
		ContentText: export.PlainText(content),
		WordCount:   export.CountWords(content),
		UpdatedBy:   session.UserName,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.git.EnsureDocumentRepo(doc.ID, gitrepo.Content{Title: doc.Title, Doc: doc.Content}, session.UserName); err != nil {
		return nil, err
	}
	s.reindexDocumentAsync(doc.ID, doc.ContentText)

	return documentPayload(doc, rbac.RoleAdmin, true), nil
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, role, err := s.requireDocumentAction(ctx, session.UserID, documentID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	return documentPayload(doc, role, true), nil
}

// ListDocuments returns accessible live documents, optionally filtered
// by project, or the caller's own trash.
func (s *Service) ListDocuments(ctx context.Context, session Session, projectID string, trashed bool) ([]map[string]any, error) {
	var (
		docs []store.Document
		err  error
	)
	if trashed {
		docs, err = s.store.ListTrashedDocuments(ctx, session.UserID)
	} else {
		var filter *string
		if projectID != "" {
			filter = &projectID
		}
		docs, err = s.store.ListDocumentsForUser(ctx, session.UserID, filter)
	}
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		items = append(items, documentSummary(doc))
	}
	return items, nil
}

// UpdateDocument is the save path. Content and title changes recompute
// the extracted text and word count, commit a snapshot to the
// document's history and kick off search and chunk reindexing.
func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID string, input UpdateDocumentInput) (map[string]any, error) {
	doc, role, err := s.requireDocumentAction(ctx, session.UserID, documentID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}

	if input.ProjectID != nil || input.BackgroundID != nil {
		if err := s.updateDocumentMeta(ctx, session, &doc, input); err != nil {
			return nil, err
		}
	}

	contentChanged := len(input.Content) > 0
	titleChanged := input.Title != nil && strings.TrimSpace(*input.Title) != doc.Title
	if contentChanged || titleChanged {
		if titleChanged {
			title := strings.TrimSpace(*input.Title)
			if title == "" {
				return nil, domainError(http.StatusUnprocessableEntity, "INVALID_TITLE", "Title must not be empty", nil)
			}
			doc.Title = title
		}
		if contentChanged {
			if !json.Valid(input.Content) {
				return nil, domainError(http.StatusBadRequest, "INVALID_CONTENT", "Content must be a JSON document", nil)
			}
			doc.Content = input.Content
			doc.ContentText = export.PlainText(input.Content)
			doc.WordCount = export.CountWords(input.Content)
		}
		doc.UpdatedBy = session.UserName

		if err := s.store.UpdateDocumentContent(ctx, doc); err != nil {
			return nil, err
		}
		s.commitSnapshot(doc, session.UserName, "Update document")
		if contentChanged {
			s.reindexDocumentAsync(doc.ID, doc.ContentText)
		} else {
			s.search.IndexDocumentByID(doc.ID)
		}
	}

	fresh, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return documentPayload(fresh, role, true), nil
}

func (s *Service) updateDocumentMeta(ctx context.Context, session Session, doc *store.Document, input UpdateDocumentInput) error {
	projectID := doc.ProjectID
	if input.ProjectID != nil {
		if *input.ProjectID == "" {
			projectID = nil
		} else {
			if _, _, err := s.requireProjectAction(ctx, session.UserID, *input.ProjectID, rbac.ActionWrite); err != nil {
				return err
			}
			projectID = input.ProjectID
		}
	}

	backgroundID := doc.BackgroundID
	if input.BackgroundID != nil {
		if *input.BackgroundID == "" {
			backgroundID = nil
		} else {
			img, err := s.store.GetBackgroundImage(ctx, *input.BackgroundID)
			if err != nil {
				return err
			}
			if img.OwnerID != session.UserID {
				return sql.ErrNoRows
			}
			backgroundID = input.BackgroundID
		}
	}

	if err := s.store.UpdateDocumentMeta(ctx, doc.ID, projectID, backgroundID); err != nil {
		return err
	}
	doc.ProjectID = projectID
	doc.BackgroundID = backgroundID
	// A project move changes who may read the document.
	s.search.IndexDocumentByID(doc.ID)
	return nil
}

// DeleteDocument soft-deletes a live document; deleting a document that
// is already in the trash purges it permanently.
func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	role, err := s.effectiveDocumentRole(ctx, session.UserID, doc)
	if err != nil {
		return nil, err
	}
	if role == "" {
		return nil, sql.ErrNoRows
	}
	if !rbac.Can(role, rbac.ActionAdmin) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only a document admin can delete it", nil)
	}

	if doc.DeletedAt == nil {
		if err := s.store.TrashDocument(ctx, documentID); err != nil {
			return nil, err
		}
		s.search.DeleteDocument(documentID)
		return map[string]any{"id": documentID, "status": "trashed"}, nil
	}

	if err := s.store.PurgeDocument(ctx, documentID); err != nil {
		return nil, err
	}
	s.search.DeleteDocument(documentID)
	if err := s.git.DeleteDocumentRepo(documentID); err != nil {
		s.logger.Warn("remove document repo failed", "documentId", documentID, "error", err)
	}
	return map[string]any{"id": documentID, "status": "purged"}, nil
}

// RestoreFromTrash brings a soft-deleted document back. Owner only.
func (s *Service) RestoreFromTrash(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != session.UserID {
		return nil, sql.ErrNoRows
	}
	if doc.DeletedAt == nil {
		return nil, domainError(http.StatusConflict, "NOT_IN_TRASH", "Document is not in the trash", nil)
	}

	if err := s.store.RestoreDocument(ctx, documentID); err != nil {
		return nil, err
	}
	doc.DeletedAt = nil
	s.reindexDocumentAsync(doc.ID, doc.ContentText)
	return documentPayload(doc, rbac.RoleAdmin, false), nil
}

// DuplicateDocument copies a readable document into the caller's own
// space. The project assignment survives only when the caller can write
// to that project.
func (s *Service) DuplicateDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, _, err := s.requireDocumentAction(ctx, session.UserID, documentID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}

	copyDoc := store.Document{
		ID:          util.NewID("doc"),
		OwnerID:     session.UserID,
		Title:       doc.Title + " (copy)",
		Content:     doc.Content,
		ContentText: doc.ContentText,
		WordCount:   doc.WordCount,
		UpdatedBy:   session.UserName,
	}
	if doc.ProjectID != nil {
		if _, _, err := s.requireProjectAction(ctx, session.UserID, *doc.ProjectID, rbac.ActionWrite); err == nil {
			copyDoc.ProjectID = doc.ProjectID
		}
	}

	if err := s.store.CreateDocument(ctx, copyDoc); err != nil {
		return nil, err
	}
	if err := s.git.EnsureDocumentRepo(copyDoc.ID, gitrepo.Content{Title: copyDoc.Title, Doc: copyDoc.Content}, session.UserName); err != nil {
		return nil, err
	}
	s.reindexDocumentAsync(copyDoc.ID, copyDoc.ContentText)

	return documentPayload(copyDoc, rbac.RoleAdmin, true), nil
}

// ---- history

func (s *Service) History(ctx context.Context, session Session, documentID string, limit int) (map[string]any, error) {
	if _, _, err := s.requireDocumentAction(ctx, session.UserID, documentID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	commits, err := s.git.History(documentID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, commitPayload(commit))
	}
	return map[string]any{"commits": items}, nil
}

func (s *Service) GetRevision(ctx context.Context, session Session, documentID, hash string) (map[string]any, error) {
	if _, _, err := s.requireDocumentAction(ctx, session.UserID, documentID, rbac.ActionRead); err != nil {
		return nil, err
	}

	commit, err := s.git.GetCommitByHash(documentID, hash)
	if err != nil {
		return nil, err
	}
	content, err := s.git.GetContentByHash(documentID, hash)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"commit": commitPayload(commit),
		"content": map[string]any{
			"title": content.Title,
			"doc":   content.Doc,
		},
	}, nil
}

// RestoreRevision re-commits an old snapshot as the new head and writes
// it back to the database, so history stays append-only.
func (s *Service) RestoreRevision(ctx context.Context, session Session, documentID, hash string) (map[string]any, error) {
	doc, role, err := s.requireDocumentAction(ctx, session.UserID, documentID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}

	content, commit, err := s.git.Restore(documentID, hash, session.UserName)
	if err != nil {
		return nil, err
	}

	doc.Title = content.Title
	doc.Content = content.Doc
	doc.ContentText = export.PlainText(content.Doc)
	doc.WordCount = export.CountWords(content.Doc)
	doc.UpdatedBy = session.UserName
	if err := s.store.UpdateDocumentContent(ctx, doc); err != nil {
		return nil, err
	}
	s.reindexDocumentAsync(doc.ID, doc.ContentText)

	return map[string]any{
		"commit":   commitPayload(commit),
		"document": documentPayload(doc, role, true),
	}, nil
}

// ---- export

func (s *Service) ExportDocument(ctx context.Context, session Session, documentID, format, version string) (*export.Result, error) {
	if _, _, err := s.requireDocumentAction(ctx, session.UserID, documentID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if format == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_FORMAT", "format query parameter is required (pdf, docx, md, html)", nil)
	}
	return s.export.Export(ctx, export.Request{
		DocumentID: documentID,
		Version:    version,
		Format:     export.Format(format),
	})
}

// GetExportDocument feeds the export renderer. Access was checked by
// ExportDocument before the renderer calls back in.
func (s *Service) GetExportDocument(ctx context.Context, id string) (export.DocumentInfo, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return export.DocumentInfo{}, err
	}

	info := export.DocumentInfo{
		ID:        doc.ID,
		Title:     doc.Title,
		WordCount: doc.WordCount,
		UpdatedAt: doc.UpdatedAt,
	}
	if owner, err := s.store.GetUserByID(ctx, doc.OwnerID); err == nil {
		info.AuthorName = owner.Name
	}
	if doc.ProjectID != nil {
		if project, err := s.store.GetProject(ctx, *doc.ProjectID); err == nil {
			info.ProjectName = project.Name
		}
	}
	return info, nil
}

// GetExportContent returns current content, or the content at a given
// revision when version carries a commit hash.
func (s *Service) GetExportContent(ctx context.Context, documentID, version string) (json.RawMessage, error) {
	if version == "" {
		doc, err := s.store.GetDocument(ctx, documentID)
		if err != nil {
			return nil, err
		}
		return doc.Content, nil
	}
	content, err := s.git.GetContentByHash(documentID, version)
	if err != nil {
		return nil, err
	}
	return content.Doc, nil
}

// ---- search

func (s *Service) SearchDocuments(ctx context.Context, session Session, text, projectID string, limit, offset int) search.Response {
	return s.search.Search(search.Query{
		Text:      text,
		UserID:    session.UserID,
		ProjectID: projectID,
		Limit:     limit,
		Offset:    offset,
	})
}

// ---- pipeline helpers

// commitSnapshot records the save in the document's git history. A
// failed commit is logged, not surfaced: the database is already
// updated and the next successful save captures the newer state.
func (s *Service) commitSnapshot(doc store.Document, author, message string) {
	next := gitrepo.Content{Title: doc.Title, Doc: doc.Content}
	head, _, err := s.git.GetHeadContent(doc.ID)
	if err == nil && !gitrepo.HasChanges(head, next) {
		return
	}
	if _, err := s.git.CommitContent(doc.ID, next, author, message); err != nil {
		s.logger.Warn("history commit failed", "documentId", doc.ID, "error", err)
	}
}

// reindexDocumentAsync refreshes the search index and, when the
// assistant is configured, re-chunks and re-embeds the document in the
// background.
func (s *Service) reindexDocumentAsync(documentID, contentText string) {
	s.search.IndexDocumentByID(documentID)
	if s.assist == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.assist.ReindexDocument(ctx, documentID, contentText); err != nil {
			s.logger.Warn("chunk reindex failed", "documentId", documentID, "error", err)
		}
	}()
}

// ---- payloads

func documentSummary(doc store.Document) map[string]any {
	payload := map[string]any{
		"id":        doc.ID,
		"ownerId":   doc.OwnerID,
		"title":     doc.Title,
		"wordCount": doc.WordCount,
		"updatedBy": doc.UpdatedBy,
		"createdAt": doc.CreatedAt,
		"updatedAt": doc.UpdatedAt,
	}
	if doc.ProjectID != nil {
		payload["projectId"] = *doc.ProjectID
	}
	if doc.BackgroundID != nil {
		payload["backgroundId"] = *doc.BackgroundID
	}
	if doc.DeletedAt != nil {
		payload["deletedAt"] = *doc.DeletedAt
	}
	return payload
}

func documentPayload(doc store.Document, role rbac.Role, includeContent bool) map[string]any {
	payload := documentSummary(doc)
	payload["role"] = string(role)
	if includeContent {
		payload["content"] = doc.Content
	}
	return payload
}

func commitPayload(commit store.CommitInfo) map[string]any {
	return map[string]any{
		"hash":      commit.Hash,
		"message":   commit.Message,
		"author":    commit.Author,
		"createdAt": commit.CreatedAt,
	}
}
