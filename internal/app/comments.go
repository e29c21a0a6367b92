package app

import (
	"context"
	"net/http"
	"strings"

	"mukit/api/internal/search"
	"mukit/api/internal/store"
	"mukit/api/internal/util"
)

type CreateThreadInput struct {
	DocumentID string  `json:"document_id"`
	BlockID    *string `json:"block_id"`
	Position   string  `json:"position"`
	Content    string  `json:"content"`
}

func (s *Service) CreateThread(ctx context.Context, session Session, input CreateThreadInput) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, input.DocumentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkReadAccess(ctx, session.UserID, doc); err != nil {
		return nil, err
	}

	thread := store.CommentThread{
		ID:         util.NewID("thr"),
		DocumentID: input.DocumentID,
		BlockID:    input.BlockID,
		Position:   strings.TrimSpace(input.Position),
	}
	if err := s.store.InsertThread(ctx, thread); err != nil {
		return nil, err
	}

	payload := threadPayload(thread)
	payload["comments"] = []map[string]any{}

	if content := strings.TrimSpace(input.Content); content != "" {
		comment, err := s.insertComment(ctx, session, thread, content, nil)
		if err != nil {
			return nil, err
		}
		payload["comments"] = []map[string]any{commentPayload(comment)}
	}
	return payload, nil
}

func (s *Service) GetThread(ctx context.Context, session Session, threadID string) (map[string]any, error) {
	thread, _, err := s.loadThread(ctx, session, threadID)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.ListCommentsByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	payload := threadPayload(thread)
	payload["comments"] = commentPayloads(comments)
	return payload, nil
}

func (s *Service) ListThreads(ctx context.Context, session Session, documentID string) ([]map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkReadAccess(ctx, session.UserID, doc); err != nil {
		return nil, err
	}

	threads, err := s.store.ListThreadsByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(threads))
	for _, thread := range threads {
		comments, err := s.store.ListCommentsByThread(ctx, thread.ID)
		if err != nil {
			return nil, err
		}
		payload := threadPayload(thread)
		payload["comments"] = commentPayloads(comments)
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

func (s *Service) SetThreadResolved(ctx context.Context, session Session, threadID string, resolved bool) (map[string]any, error) {
	thread, _, err := s.loadThread(ctx, session, threadID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateThreadResolved(ctx, threadID, resolved); err != nil {
		return nil, err
	}
	thread.IsResolved = resolved
	return threadPayload(thread), nil
}

func (s *Service) DeleteThread(ctx context.Context, session Session, threadID string) error {
	thread, doc, err := s.loadThread(ctx, session, threadID)
	if err != nil {
		return err
	}
	if doc.OwnerID != session.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the document owner can delete a thread", nil)
	}
	comments, err := s.store.ListCommentsByThread(ctx, thread.ID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteThread(ctx, threadID); err != nil {
		return err
	}
	for _, comment := range comments {
		s.search.DeleteComment(comment.ID)
	}
	return nil
}

type CreateCommentInput struct {
	ThreadID string  `json:"thread_id"`
	Content  string  `json:"content"`
	ParentID *string `json:"parent_id"`
}

func (s *Service) CreateComment(ctx context.Context, session Session, input CreateCommentInput) (map[string]any, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	thread, _, err := s.loadThread(ctx, session, input.ThreadID)
	if err != nil {
		return nil, err
	}
	comment, err := s.insertComment(ctx, session, thread, content, input.ParentID)
	if err != nil {
		return nil, err
	}
	return commentPayload(comment), nil
}

func (s *Service) GetComment(ctx context.Context, session Session, commentID string) (map[string]any, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.loadThread(ctx, session, comment.ThreadID); err != nil {
		return nil, err
	}
	return commentPayload(comment), nil
}

func (s *Service) ListComments(ctx context.Context, session Session, threadID string) ([]map[string]any, error) {
	if _, _, err := s.loadThread(ctx, session, threadID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListCommentsByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return commentPayloads(comments), nil
}

func (s *Service) UpdateComment(ctx context.Context, session Session, commentID, content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if comment.AuthorID != session.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can edit a comment", nil)
	}
	if err := s.store.UpdateComment(ctx, commentID, content); err != nil {
		return nil, err
	}

	updated, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	s.indexComment(ctx, updated)
	return commentPayload(updated), nil
}

func (s *Service) DeleteComment(ctx context.Context, session Session, commentID string) error {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	_, doc, err := s.loadThread(ctx, session, comment.ThreadID)
	if err != nil {
		return err
	}
	if comment.AuthorID != session.UserID && doc.OwnerID != session.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the author or the document owner can delete a comment", nil)
	}
	if err := s.store.DeleteComment(ctx, commentID); err != nil {
		return err
	}
	s.search.DeleteComment(commentID)
	return nil
}

// loadThread resolves a thread and its document, enforcing read access.
func (s *Service) loadThread(ctx context.Context, session Session, threadID string) (store.CommentThread, store.Document, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return store.CommentThread{}, store.Document{}, err
	}
	doc, err := s.store.GetDocument(ctx, thread.DocumentID)
	if err != nil {
		return store.CommentThread{}, store.Document{}, err
	}
	if err := s.checkReadAccess(ctx, session.UserID, doc); err != nil {
		return store.CommentThread{}, store.Document{}, err
	}
	return thread, doc, nil
}

func (s *Service) insertComment(ctx context.Context, session Session, thread store.CommentThread, content string, parentID *string) (store.Comment, error) {
	comment := store.Comment{
		ID:       util.NewID("cmt"),
		ThreadID: thread.ID,
		AuthorID: session.UserID,
		ParentID: parentID,
		Content:  content,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, err
	}
	comment.AuthorName = session.Username
	s.indexComment(ctx, comment)
	return comment, nil
}

func (s *Service) indexComment(ctx context.Context, comment store.Comment) {
	thread, err := s.store.GetThread(ctx, comment.ThreadID)
	if err != nil {
		return
	}
	doc, err := s.store.GetDocument(ctx, thread.DocumentID)
	if err != nil {
		return
	}
	workspaceID := ""
	if doc.WorkspaceID != nil {
		workspaceID = *doc.WorkspaceID
	}
	s.search.IndexComment(search.CommentRecord{
		ID:          comment.ID,
		Content:     comment.Content,
		ThreadID:    comment.ThreadID,
		DocumentID:  doc.ID,
		WorkspaceID: workspaceID,
		AuthorID:    comment.AuthorID,
	})
}

func threadPayload(thread store.CommentThread) map[string]any {
	return map[string]any{
		"id":          thread.ID,
		"document_id": thread.DocumentID,
		"block_id":    thread.BlockID,
		"position":    thread.Position,
		"is_resolved": thread.IsResolved,
		"created_at":  thread.CreatedAt,
		"updated_at":  thread.UpdatedAt,
	}
}

func commentPayloads(comments []store.Comment) []map[string]any {
	payloads := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		payloads = append(payloads, commentPayload(comment))
	}
	return payloads
}

func commentPayload(comment store.Comment) map[string]any {
	return map[string]any{
		"id":          comment.ID,
		"thread_id":   comment.ThreadID,
		"author_id":   comment.AuthorID,
		"author_name": comment.AuthorName,
		"parent_id":   comment.ParentID,
		"content":     comment.Content,
		"is_edited":   comment.IsEdited,
		"created_at":  comment.CreatedAt,
		"updated_at":  comment.UpdatedAt,
	}
}
