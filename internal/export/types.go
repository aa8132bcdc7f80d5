// Package export renders documents to PDF, DOCX, Markdown, and HTML.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
)

// Request contains parameters for an export operation
type Request struct {
	DocumentID string
	Version    string // "latest" or commit hash
	Format     Format
}

// DocumentInfo holds the document metadata the renderers need
type DocumentInfo struct {
	ID          string
	Title       string
	ProjectName string
	AuthorName  string
	WordCount   int
	UpdatedAt   time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates document content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	// ErrUnsupportedFormat indicates the requested format is not one of pdf, docx, md, html.
	ErrUnsupportedFormat = errors.New("export format unsupported")
)
