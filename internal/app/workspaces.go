package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"mukit/api/internal/rbac"
	"mukit/api/internal/store"
	"mukit/api/internal/util"
)

type CreateWorkspaceInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Slug        string `json:"slug"`
	AvatarURL   string `json:"avatar_url"`
}

type UpdateWorkspaceInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	AvatarURL   *string `json:"avatar_url"`
}

func (s *Service) CreateWorkspace(ctx context.Context, session Session, input CreateWorkspaceInput) (map[string]any, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = slugify(input.Name)
	}
	exists, err := s.store.WorkspaceSlugExists(ctx, slug)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domainError(http.StatusConflict, "SLUG_TAKEN", "A workspace with this slug already exists", nil)
	}

	workspace := store.Workspace{
		ID:          util.NewID("ws"),
		Name:        input.Name,
		Description: strings.TrimSpace(input.Description),
		Slug:        slug,
		AvatarURL:   strings.TrimSpace(input.AvatarURL),
		OwnerID:     session.UserID,
	}
	if err := s.store.InsertWorkspace(ctx, workspace); err != nil {
		return nil, err
	}
	if err := s.store.AddWorkspaceMember(ctx, store.WorkspaceMember{
		ID:          util.NewID("wsm"),
		WorkspaceID: workspace.ID,
		UserID:      session.UserID,
		Role:        rbac.WorkspaceOwner,
	}); err != nil {
		return nil, err
	}
	return workspacePayload(workspace), nil
}

func (s *Service) ListWorkspaces(ctx context.Context, session Session) ([]map[string]any, error) {
	items, err := s.store.ListWorkspacesByUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, workspacePayload(item))
	}
	return payloads, nil
}

func (s *Service) GetWorkspace(ctx context.Context, session Session, workspaceID string) (map[string]any, error) {
	member, err := s.store.GetWorkspaceMember(ctx, workspaceID, session.UserID)
	if err != nil {
		// Non-members get the same answer as a missing workspace.
		return nil, err
	}
	workspace, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	payload := workspacePayload(workspace)
	payload["member_role"] = member.Role
	return payload, nil
}

func (s *Service) UpdateWorkspace(ctx context.Context, session Session, workspaceID string, input UpdateWorkspaceInput) (map[string]any, error) {
	workspace, err := s.requireWorkspaceManager(ctx, session, workspaceID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name cannot be blank", nil)
		}
		workspace.Name = name
	}
	if input.Description != nil {
		workspace.Description = strings.TrimSpace(*input.Description)
	}
	if input.AvatarURL != nil {
		workspace.AvatarURL = strings.TrimSpace(*input.AvatarURL)
	}

	if err := s.store.UpdateWorkspace(ctx, workspaceID, workspace.Name, workspace.Description, workspace.AvatarURL); err != nil {
		return nil, err
	}
	return workspacePayload(workspace), nil
}

func (s *Service) DeleteWorkspace(ctx context.Context, session Session, workspaceID string) error {
	workspace, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if workspace.OwnerID != session.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can delete a workspace", nil)
	}
	return s.store.DeleteWorkspace(ctx, workspaceID)
}

type AddMemberInput struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (s *Service) AddWorkspaceMember(ctx context.Context, session Session, workspaceID string, input AddMemberInput) (map[string]any, error) {
	if _, err := s.requireWorkspaceManager(ctx, session, workspaceID); err != nil {
		return nil, err
	}

	role := input.Role
	if role == "" {
		role = rbac.WorkspaceMember
	}
	if role != rbac.WorkspaceMember && role != rbac.WorkspaceAdmin {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be 'member' or 'admin'", nil)
	}

	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(input.Email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "USER_NOT_FOUND", "No user with this email", nil)
		}
		return nil, err
	}

	member := store.WorkspaceMember{
		ID:          util.NewID("wsm"),
		WorkspaceID: workspaceID,
		UserID:      user.ID,
		Role:        role,
	}
	if err := s.store.AddWorkspaceMember(ctx, member); err != nil {
		return nil, err
	}
	return map[string]any{
		"workspace_id": workspaceID,
		"user_id":      user.ID,
		"username":     user.Username,
		"email":        user.Email,
		"role":         role,
	}, nil
}

func (s *Service) ListWorkspaceMembers(ctx context.Context, session Session, workspaceID string) ([]map[string]any, error) {
	if _, err := s.store.GetWorkspaceMember(ctx, workspaceID, session.UserID); err != nil {
		return nil, err
	}
	members, err := s.store.ListWorkspaceMembers(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(members))
	for _, member := range members {
		payloads = append(payloads, map[string]any{
			"user_id":   member.UserID,
			"username":  member.Username,
			"email":     member.Email,
			"role":      member.Role,
			"joined_at": member.CreatedAt,
		})
	}
	return payloads, nil
}

func (s *Service) RemoveWorkspaceMember(ctx context.Context, session Session, workspaceID, userID string) error {
	workspace, err := s.requireWorkspaceManager(ctx, session, workspaceID)
	if err != nil {
		return err
	}
	if userID == workspace.OwnerID {
		return domainError(http.StatusConflict, "CANNOT_REMOVE_OWNER", "The workspace owner cannot be removed", nil)
	}
	return s.store.RemoveWorkspaceMember(ctx, workspaceID, userID)
}

// requireWorkspaceManager loads the workspace and verifies the caller holds
// an owner or admin membership.
func (s *Service) requireWorkspaceManager(ctx context.Context, session Session, workspaceID string) (store.Workspace, error) {
	member, err := s.store.GetWorkspaceMember(ctx, workspaceID, session.UserID)
	if err != nil {
		return store.Workspace{}, err
	}
	if !rbac.CanManageWorkspace(member.Role) {
		return store.Workspace{}, domainError(http.StatusForbidden, "FORBIDDEN", "Requires an admin role in the workspace", nil)
	}
	return s.store.GetWorkspace(ctx, workspaceID)
}

func workspacePayload(workspace store.Workspace) map[string]any {
	return map[string]any{
		"id":          workspace.ID,
		"name":        workspace.Name,
		"description": workspace.Description,
		"slug":        workspace.Slug,
		"avatar_url":  workspace.AvatarURL,
		"owner_id":    workspace.OwnerID,
		"created_at":  workspace.CreatedAt,
		"updated_at":  workspace.UpdatedAt,
	}
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
