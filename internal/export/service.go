package export

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetExportDocument(ctx context.Context, id string) (DocumentInfo, error)
	GetExportContent(ctx context.Context, documentID, version string) (json.RawMessage, error)
}

// Service provides document export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	docInfo, err := s.store.GetExportDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	content, err := s.store.GetExportContent(ctx, req.DocumentID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("get document content: %w", err)
	}

	switch req.Format {
	case FormatMarkdown:
		md := "# " + docInfo.Title + "\n\n" + ProseMirrorToMarkdown(content)
		return &Result{
			Data:     []byte(md),
			Filename: sanitizeFilename(docInfo.Title) + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	case FormatHTML, FormatPDF, FormatDOCX:
		// HTML is the common base for the remaining formats.
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	data := TemplateData{
		Title:       docInfo.Title,
		ProjectName: docInfo.ProjectName,
		ContentHTML: template.HTML(ProseMirrorToHTML(content)),
		Author:      docInfo.AuthorName,
		UpdatedAt:   docInfo.UpdatedAt,
		WordCount:   docInfo.WordCount,
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(docInfo.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(html, docInfo.Title)
	default:
		return exportDOCX(html, docInfo.Title)
	}
}
