// Package export renders documents to downloadable formats.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
)

// Request contains parameters for an export operation
type Request struct {
	DocumentID      string
	Format          Format
	IncludeComments bool
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// DocumentInfo holds document metadata for export
type DocumentInfo struct {
	ID            string
	Title         string
	Description   string
	Content       interface{} // block editor JSON
	OwnerName     string
	WorkspaceName string
	UpdatedAt     time.Time
}

// ThreadInfo holds a comment thread and its comments for export
type ThreadInfo struct {
	ID         string
	IsResolved bool
	Comments   []CommentInfo
}

// CommentInfo holds a single comment for export
type CommentInfo struct {
	Author    string
	Content   string
	CreatedAt time.Time
}

var (
	// ErrContentUnavailable indicates document content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
