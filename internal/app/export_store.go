package app

import (
	"context"
	"encoding/json"

	"mukit/api/internal/export"
)

// exportStore feeds document data to the export renderer from the primary
// store, resolving owner and workspace names for the title page.
type exportStore struct {
	store dataStore
}

func (e *exportStore) GetExportDocument(ctx context.Context, documentID string) (export.DocumentInfo, error) {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return export.DocumentInfo{}, err
	}

	info := export.DocumentInfo{
		ID:          doc.ID,
		Title:       doc.Title,
		Description: doc.Description,
		UpdatedAt:   doc.UpdatedAt,
	}
	if len(doc.Content) > 0 {
		var content any
		if err := json.Unmarshal(doc.Content, &content); err != nil {
			return export.DocumentInfo{}, export.ErrContentUnavailable
		}
		info.Content = content
	}

	if owner, err := e.store.GetUserByID(ctx, doc.OwnerID); err == nil {
		info.OwnerName = owner.Username
	}
	if doc.WorkspaceID != nil {
		if workspace, err := e.store.GetWorkspace(ctx, *doc.WorkspaceID); err == nil {
			info.WorkspaceName = workspace.Name
		}
	}
	return info, nil
}

func (e *exportStore) ListExportThreads(ctx context.Context, documentID string) ([]export.ThreadInfo, error) {
	threads, err := e.store.ListThreadsByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	infos := make([]export.ThreadInfo, 0, len(threads))
	for _, thread := range threads {
		comments, err := e.store.ListCommentsByThread(ctx, thread.ID)
		if err != nil {
			return nil, err
		}
		info := export.ThreadInfo{ID: thread.ID, IsResolved: thread.IsResolved}
		for _, comment := range comments {
			info.Comments = append(info.Comments, export.CommentInfo{
				Author:    comment.AuthorName,
				Content:   comment.Content,
				CreatedAt: comment.CreatedAt,
			})
		}
		infos = append(infos, info)
	}
	return infos, nil
}
