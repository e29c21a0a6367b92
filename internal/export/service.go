package export

import (
	"context"
	"fmt"
	"html/template"
)

// DataStore defines the data access the export service needs
type DataStore interface {
	GetExportDocument(ctx context.Context, documentID string) (DocumentInfo, error)
	ListExportThreads(ctx context.Context, documentID string) ([]ThreadInfo, error)
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

	contentHTML := ContentToHTML(docInfo.Content)

	data := TemplateData{
		Title:         docInfo.Title,
		Description:   docInfo.Description,
		ContentHTML:   template.HTML(contentHTML),
		Author:        docInfo.OwnerName,
		WorkspaceName: docInfo.WorkspaceName,
		UpdatedAt:     docInfo.UpdatedAt,
		Threads:       []TemplateThread{},
	}

	if req.IncludeComments {
		threads, err := s.store.ListExportThreads(ctx, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("list threads: %w", err)
		}

		for _, t := range threads {
			thread := TemplateThread{
				IsResolved: t.IsResolved,
				Comments:   []TemplateComment{},
			}
			for _, c := range t.Comments {
				thread.Comments = append(thread.Comments, TemplateComment{
					Author:  c.Author,
					Content: c.Content,
				})
			}
			data.Threads = append(data.Threads, thread)
		}
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, docInfo.Title)
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(docInfo.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
