package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mukit/api/internal/export"
	"mukit/api/internal/history"
	"mukit/api/internal/rbac"
	"mukit/api/internal/search"
	"mukit/api/internal/store"
	"mukit/api/internal/util"
)

type CreateDocumentInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Content     json.RawMessage `json:"content"`
	WorkspaceID *string         `json:"workspace_id"`
	IsPublic    bool            `json:"is_public"`
	Settings    json.RawMessage `json:"settings"`
}

type UpdateDocumentInput struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Content     json.RawMessage `json:"content"`
	IsPublic    *bool           `json:"is_public"`
	Settings    json.RawMessage `json:"settings"`
}

func (s *Service) CreateDocument(ctx context.Context, session Session, input CreateDocumentInput) (map[string]any, error) {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if input.WorkspaceID != nil {
		if _, err := s.store.GetWorkspaceMember(ctx, *input.WorkspaceID, session.UserID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Not a member of the workspace", nil)
			}
			return nil, err
		}
	}

	doc := store.Document{
		ID:          util.NewID("doc"),
		Title:       input.Title,
		Description: strings.TrimSpace(input.Description),
		Content:     input.Content,
		OwnerID:     session.UserID,
		WorkspaceID: input.WorkspaceID,
		IsPublic:    input.IsPublic,
		Settings:    input.Settings,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	content := history.Content{Title: doc.Title, Description: doc.Description, Body: doc.Content}
	if err := s.history.EnsureDocumentRepo(doc.ID, content, session.Username); err != nil {
		return nil, fmt.Errorf("init document history: %w", err)
	}
	_, head, err := s.history.HeadContent(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("read document head: %w", err)
	}
	if err := s.store.InsertDocumentVersion(ctx, store.DocumentVersion{
		ID:                util.NewID("ver"),
		DocumentID:        doc.ID,
		VersionNumber:     1,
		ContentHash:       history.ContentHash(content),
		CommitHash:        head.Hash,
		AuthorID:          session.UserID,
		ChangeDescription: "Create document",
	}); err != nil {
		return nil, err
	}

	s.search.IndexDocument(searchRecord(doc))
	return documentPayload(doc), nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session, workspaceID *string) ([]map[string]any, error) {
	items, err := s.store.ListDocumentsByOwner(ctx, session.UserID, workspaceID)
	if err != nil {
		return nil, err
	}
	return documentPayloads(items), nil
}

func (s *Service) ListPublicDocuments(ctx context.Context) ([]map[string]any, error) {
	items, err := s.store.ListPublicDocuments(ctx)
	if err != nil {
		return nil, err
	}
	return documentPayloads(items), nil
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkReadAccess(ctx, session.UserID, doc); err != nil {
		return nil, err
	}
	return documentPayload(doc), nil
}

func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID string, input UpdateDocumentInput) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkWriteAccess(ctx, session.UserID, doc); err != nil {
		return nil, err
	}

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title cannot be blank", nil)
		}
		doc.Title = title
	}
	if input.Description != nil {
		doc.Description = strings.TrimSpace(*input.Description)
	}
	if input.Content != nil {
		doc.Content = input.Content
	}
	if input.IsPublic != nil {
		doc.IsPublic = *input.IsPublic
	}
	if input.Settings != nil {
		doc.Settings = input.Settings
	}

	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}

	content := history.Content{Title: doc.Title, Description: doc.Description, Body: doc.Content}
	commit, err := s.history.Commit(doc.ID, content, session.Username, "Update document")
	if err != nil {
		return nil, fmt.Errorf("commit document history: %w", err)
	}
	versionNumber, err := s.store.NextVersionNumber(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertDocumentVersion(ctx, store.DocumentVersion{
		ID:                util.NewID("ver"),
		DocumentID:        doc.ID,
		VersionNumber:     versionNumber,
		ContentHash:       history.ContentHash(content),
		CommitHash:        commit.Hash,
		AuthorID:          session.UserID,
		ChangeDescription: "Update document",
	}); err != nil {
		return nil, err
	}

	s.search.IndexDocument(searchRecord(doc))
	return documentPayload(doc), nil
}

func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.OwnerID != session.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can delete a document", nil)
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	s.search.DeleteDocument(documentID)
	return nil
}

func (s *Service) ListDocumentVersions(ctx context.Context, session Session, documentID string) ([]map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkReadAccess(ctx, session.UserID, doc); err != nil {
		return nil, err
	}

	versions, err := s.store.ListDocumentVersions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		items = append(items, map[string]any{
			"id":                 v.ID,
			"version_number":     v.VersionNumber,
			"content_hash":       v.ContentHash,
			"commit_hash":        v.CommitHash,
			"author_id":          v.AuthorID,
			"change_description": v.ChangeDescription,
			"created_at":         v.CreatedAt,
		})
	}
	return items, nil
}

// RestoreVersion makes an older revision the current document content. The
// restore itself is recorded as a new version, so the version history only
// ever moves forward.
func (s *Service) RestoreVersion(ctx context.Context, session Session, documentID string, versionNumber int) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkWriteAccess(ctx, session.UserID, doc); err != nil {
		return nil, err
	}

	version, err := s.store.GetDocumentVersion(ctx, documentID, versionNumber)
	if err != nil {
		return nil, err
	}
	content, err := s.history.ContentAt(documentID, version.CommitHash)
	if err != nil {
		return nil, fmt.Errorf("load version content: %w", err)
	}

	doc.Title = content.Title
	doc.Description = content.Description
	doc.Content = content.Body
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}

	message := fmt.Sprintf("Restore version %d", versionNumber)
	commit, err := s.history.Commit(documentID, content, session.Username, message)
	if err != nil {
		return nil, fmt.Errorf("commit restored content: %w", err)
	}
	nextNumber, err := s.store.NextVersionNumber(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertDocumentVersion(ctx, store.DocumentVersion{
		ID:                util.NewID("ver"),
		DocumentID:        documentID,
		VersionNumber:     nextNumber,
		ContentHash:       history.ContentHash(content),
		CommitHash:        commit.Hash,
		AuthorID:          session.UserID,
		ChangeDescription: message,
	}); err != nil {
		return nil, err
	}

	s.search.IndexDocument(searchRecord(doc))
	return documentPayload(doc), nil
}

// ---- sharing ----

type ShareDocumentInput struct {
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// ShareDocument grants a per-user role on a document. Re-sharing with the
// same user replaces the previous grant.
func (s *Service) ShareDocument(ctx context.Context, session Session, documentID string, input ShareDocumentInput) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != session.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can share a document", nil)
	}

	role := rbac.Role(input.Role)
	switch role {
	case rbac.RoleViewer, rbac.RoleCommenter, rbac.RoleEditor:
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be 'viewer', 'commenter' or 'editor'", nil)
	}
	if input.ExpiresAt != nil && input.ExpiresAt.Before(time.Now()) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "expires_at must be in the future", nil)
	}

	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(input.Email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "USER_NOT_FOUND", "No user with this email", nil)
		}
		return nil, err
	}
	if user.ID == doc.OwnerID {
		return nil, domainError(http.StatusConflict, "ALREADY_OWNER", "The owner already has full access", nil)
	}

	grantedBy := session.UserID
	if err := s.store.UpsertPermission(ctx, store.Permission{
		ID:         util.NewID("prm"),
		DocumentID: documentID,
		UserID:     user.ID,
		Role:       string(role),
		GrantedBy:  &grantedBy,
		ExpiresAt:  input.ExpiresAt,
	}); err != nil {
		return nil, err
	}
	return map[string]any{
		"document_id": documentID,
		"user_id":     user.ID,
		"email":       user.Email,
		"role":        string(role),
		"expires_at":  input.ExpiresAt,
	}, nil
}

// ---- blocks ----

type BlockInput struct {
	ID        string          `json:"id"`
	BlockType string          `json:"block_type"`
	Content   json.RawMessage `json:"content"`
	Position  int             `json:"position"`
	ParentID  *string         `json:"parent_id"`
	Metadata  json.RawMessage `json:"metadata"`
}

func (s *Service) ListBlocks(ctx context.Context, session Session, documentID string) ([]map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkReadAccess(ctx, session.UserID, doc); err != nil {
		return nil, err
	}

	blocks, err := s.store.ListBlocksByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		items = append(items, map[string]any{
			"id":         b.ID,
			"block_type": b.BlockType,
			"content":    rawOrNull(b.Content),
			"position":   b.Position,
			"parent_id":  b.ParentID,
			"metadata":   rawOrNull(b.Metadata),
		})
	}
	return items, nil
}

func (s *Service) ReplaceBlocks(ctx context.Context, session Session, documentID string, inputs []BlockInput) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.checkWriteAccess(ctx, session.UserID, doc); err != nil {
		return err
	}

	blocks := make([]store.Block, 0, len(inputs))
	for i, input := range inputs {
		if input.BlockType == "" {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				fmt.Sprintf("block %d is missing block_type", i), nil)
		}
		id := input.ID
		if id == "" {
			id = util.NewID("blk")
		}
		blocks = append(blocks, store.Block{
			ID:        id,
			BlockType: input.BlockType,
			Content:   input.Content,
			Position:  input.Position,
			ParentID:  input.ParentID,
			Metadata:  input.Metadata,
		})
	}
	return s.store.ReplaceDocumentBlocks(ctx, documentID, blocks)
}

// ---- export ----

func (s *Service) ExportDocument(ctx context.Context, session Session, documentID string, format export.Format, includeComments bool) (*export.Result, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkReadAccess(ctx, session.UserID, doc); err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{
		DocumentID:      documentID,
		Format:          format,
		IncludeComments: includeComments,
	})
}

// ---- helpers ----

func searchRecord(doc store.Document) search.DocumentRecord {
	workspaceID := ""
	if doc.WorkspaceID != nil {
		workspaceID = *doc.WorkspaceID
	}
	return search.DocumentRecord{
		ID:          doc.ID,
		Title:       doc.Title,
		Description: doc.Description,
		WorkspaceID: workspaceID,
		OwnerID:     doc.OwnerID,
		IsPublic:    doc.IsPublic,
	}
}

func documentPayloads(items []store.Document) []map[string]any {
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, documentPayload(item))
	}
	return payloads
}

func documentPayload(doc store.Document) map[string]any {
	return map[string]any{
		"id":           doc.ID,
		"title":        doc.Title,
		"description":  doc.Description,
		"content":      rawOrNull(doc.Content),
		"owner_id":     doc.OwnerID,
		"workspace_id": doc.WorkspaceID,
		"is_public":    doc.IsPublic,
		"settings":     rawOrNull(doc.Settings),
		"created_at":   doc.CreatedAt,
		"updated_at":   doc.UpdatedAt,
	}
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
