package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, username, password_hash, first_name, last_name, avatar_url, bio, is_active, is_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, user.ID, user.Email, user.Username, user.PasswordHash, user.FirstName, user.LastName,
		user.AvatarURL, user.Bio, user.IsActive, user.IsVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `id, email, username, password_hash, COALESCE(first_name,''), COALESCE(last_name,''), COALESCE(avatar_url,''), COALESCE(bio,''), is_active, is_verified, COALESCE(verification_token,''), created_at, updated_at`

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.Username, &user.PasswordHash,
		&user.FirstName, &user.LastName, &user.AvatarURL, &user.Bio,
		&user.IsActive, &user.IsVerified, &user.VerificationToken,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email))
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username))
}

func (s *PostgresStore) UpdateUserAvatar(ctx context.Context, userID, avatarURL string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET avatar_url=$2, updated_at=NOW() WHERE id=$1`, userID, avatarURL)
	if err != nil {
		return fmt.Errorf("update avatar: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_verified=TRUE, verification_token=NULL, updated_at=NOW()
		WHERE verification_token=$1
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- refresh sessions (postgres fallback when redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users u
		WHERE u.id = (
			SELECT user_id FROM refresh_sessions
			WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
		)
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, tokenHash))
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// ---- workspaces ----

func (s *PostgresStore) InsertWorkspace(ctx context.Context, item Workspace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, description, slug, avatar_url, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.Name, item.Description, item.Slug, item.AvatarURL, item.OwnerID)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

const workspaceColumns = `id, name, COALESCE(description,''), slug, COALESCE(avatar_url,''), owner_id, created_at, updated_at`

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var item Workspace
	err := s.db.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id=$1`, workspaceID).
		Scan(&item.ID, &item.Name, &item.Description, &item.Slug, &item.AvatarURL, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Workspace{}, err
	}
	return item, nil
}

func (s *PostgresStore) WorkspaceSlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM workspaces WHERE slug=$1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check workspace slug: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListWorkspacesByUser(ctx context.Context, userID string) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workspaceColumns+`
		FROM workspaces
		WHERE id IN (SELECT workspace_id FROM workspace_members WHERE user_id=$1)
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]Workspace, 0)
	for rows.Next() {
		var item Workspace
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.Slug, &item.AvatarURL, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateWorkspace(ctx context.Context, workspaceID, name, description, avatarURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workspaces
		SET name=$2, description=$3, avatar_url=$4, updated_at=NOW()
		WHERE id=$1
	`, workspaceID, name, description, avatarURL)
	if err != nil {
		return fmt.Errorf("update workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id=$1`, workspaceID)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddWorkspaceMember(ctx context.Context, member WorkspaceMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_members (id, workspace_id, user_id, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, member.ID, member.WorkspaceID, member.UserID, member.Role)
	if err != nil {
		return fmt.Errorf("add workspace member: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkspaceMember(ctx context.Context, workspaceID, userID string) (WorkspaceMember, error) {
	var member WorkspaceMember
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, user_id, role, created_at
		FROM workspace_members
		WHERE workspace_id=$1 AND user_id=$2
	`, workspaceID, userID).Scan(&member.ID, &member.WorkspaceID, &member.UserID, &member.Role, &member.CreatedAt)
	if err != nil {
		return WorkspaceMember{}, err
	}
	return member, nil
}

func (s *PostgresStore) ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]WorkspaceMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wm.id, wm.workspace_id, wm.user_id, wm.role, wm.created_at, u.username, u.email
		FROM workspace_members wm
		JOIN users u ON u.id = wm.user_id
		WHERE wm.workspace_id=$1
		ORDER BY wm.created_at
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list workspace members: %w", err)
	}
	defer rows.Close()

	items := make([]WorkspaceMember, 0)
	for rows.Next() {
		var member WorkspaceMember
		if err := rows.Scan(&member.ID, &member.WorkspaceID, &member.UserID, &member.Role, &member.CreatedAt, &member.Username, &member.Email); err != nil {
			return nil, fmt.Errorf("scan workspace member: %w", err)
		}
		items = append(items, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspace members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) RemoveWorkspaceMember(ctx context.Context, workspaceID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workspace_members WHERE workspace_id=$1 AND user_id=$2`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("remove workspace member: %w", err)
	}
	return nil
}

// ---- documents ----

const documentColumns = `id, title, COALESCE(description,''), content, owner_id, workspace_id, is_public, settings, created_at, updated_at`

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, description, content, owner_id, workspace_id, is_public, settings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.Title, item.Description, nullableJSON(item.Content), item.OwnerID, item.WorkspaceID, item.IsPublic, nullableJSON(item.Settings))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanDocument(scan func(dest ...any) error) (Document, error) {
	var item Document
	var content, settings sql.NullString
	err := scan(&item.ID, &item.Title, &item.Description, &content, &item.OwnerID,
		&item.WorkspaceID, &item.IsPublic, &settings, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	if content.Valid {
		item.Content = []byte(content.String)
	}
	if settings.Valid {
		item.Settings = []byte(settings.String)
	}
	return item, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, documentID)
	return s.scanDocument(row.Scan)
}

func (s *PostgresStore) ListDocumentsByOwner(ctx context.Context, ownerID string, workspaceID *string) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE owner_id=$1`
	args := []any{ownerID}
	if workspaceID != nil {
		query += ` AND workspace_id=$2`
		args = append(args, *workspaceID)
	}
	query += ` ORDER BY updated_at DESC`
	return s.queryDocuments(ctx, query, args...)
}

func (s *PostgresStore) ListPublicDocuments(ctx context.Context) ([]Document, error) {
	return s.queryDocuments(ctx, `SELECT `+documentColumns+` FROM documents WHERE is_public=TRUE ORDER BY updated_at DESC`)
}

func (s *PostgresStore) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := s.scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title=$2, description=$3, content=$4, is_public=$5, settings=$6, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Description, nullableJSON(item.Content), item.IsPublic, nullableJSON(item.Settings))
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// ---- document versions ----

func (s *PostgresStore) InsertDocumentVersion(ctx context.Context, item DocumentVersion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_versions (id, document_id, version_number, content_hash, commit_hash, author_id, change_description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.DocumentID, item.VersionNumber, item.ContentHash, item.CommitHash, item.AuthorID, item.ChangeDescription)
	if err != nil {
		return fmt.Errorf("insert document version: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocumentVersions(ctx context.Context, documentID string) ([]DocumentVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, version_number, content_hash, commit_hash, author_id, COALESCE(change_description,''), created_at
		FROM document_versions
		WHERE document_id=$1
		ORDER BY version_number DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document versions: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentVersion, 0)
	for rows.Next() {
		var item DocumentVersion
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.VersionNumber, &item.ContentHash, &item.CommitHash, &item.AuthorID, &item.ChangeDescription, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocumentVersion(ctx context.Context, documentID string, versionNumber int) (DocumentVersion, error) {
	var item DocumentVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, version_number, content_hash, commit_hash, author_id, COALESCE(change_description,''), created_at
		FROM document_versions
		WHERE document_id=$1 AND version_number=$2
	`, documentID, versionNumber).Scan(&item.ID, &item.DocumentID, &item.VersionNumber, &item.ContentHash, &item.CommitHash, &item.AuthorID, &item.ChangeDescription, &item.CreatedAt)
	if err != nil {
		return DocumentVersion{}, err
	}
	return item, nil
}

func (s *PostgresStore) NextVersionNumber(ctx context.Context, documentID string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version_number), 0) + 1 FROM document_versions WHERE document_id=$1
	`, documentID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next version number: %w", err)
	}
	return next, nil
}

// ---- blocks ----

func (s *PostgresStore) ListBlocksByDocument(ctx context.Context, documentID string) ([]Block, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, block_type, content, position, parent_id, metadata, created_at, updated_at
		FROM blocks
		WHERE document_id=$1
		ORDER BY position
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	items := make([]Block, 0)
	for rows.Next() {
		var item Block
		var metadata sql.NullString
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.BlockType, &item.Content, &item.Position, &item.ParentID, &metadata, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		if metadata.Valid {
			item.Metadata = []byte(metadata.String)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return items, nil
}

// ReplaceDocumentBlocks swaps a document's block rows in one transaction.
func (s *PostgresStore) ReplaceDocumentBlocks(ctx context.Context, documentID string, blocks []Block) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin blocks tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE document_id=$1`, documentID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear blocks: %w", err)
	}
	for _, block := range blocks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO blocks (id, document_id, block_type, content, position, parent_id, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, block.ID, documentID, block.BlockType, nullableJSON(block.Content), block.Position, block.ParentID, nullableJSON(block.Metadata)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert block: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit blocks tx: %w", err)
	}
	return nil
}

// ---- comment threads and comments ----

func (s *PostgresStore) InsertThread(ctx context.Context, item CommentThread) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comment_threads (id, document_id, block_id, position, is_resolved)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.DocumentID, item.BlockID, item.Position, item.IsResolved)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetThread(ctx context.Context, threadID string) (CommentThread, error) {
	var item CommentThread
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, block_id, COALESCE(position,''), is_resolved, created_at, updated_at
		FROM comment_threads
		WHERE id=$1
	`, threadID).Scan(&item.ID, &item.DocumentID, &item.BlockID, &item.Position, &item.IsResolved, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return CommentThread{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListThreadsByDocument(ctx context.Context, documentID string) ([]CommentThread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, block_id, COALESCE(position,''), is_resolved, created_at, updated_at
		FROM comment_threads
		WHERE document_id=$1
		ORDER BY created_at
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	items := make([]CommentThread, 0)
	for rows.Next() {
		var item CommentThread
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.BlockID, &item.Position, &item.IsResolved, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateThreadResolved(ctx context.Context, threadID string, isResolved bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE comment_threads SET is_resolved=$2, updated_at=NOW() WHERE id=$1`, threadID, isResolved)
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteThread(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM comment_threads WHERE id=$1`, threadID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, thread_id, author_id, parent_id, content, is_edited)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.ThreadID, item.AuthorID, item.ParentID, item.Content, item.IsEdited)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var item Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.thread_id, c.author_id, c.parent_id, c.content, c.is_edited, c.created_at, c.updated_at, u.username
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.id=$1
	`, commentID).Scan(&item.ID, &item.ThreadID, &item.AuthorID, &item.ParentID, &item.Content, &item.IsEdited, &item.CreatedAt, &item.UpdatedAt, &item.AuthorName)
	if err != nil {
		return Comment{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListCommentsByThread(ctx context.Context, threadID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.thread_id, c.author_id, c.parent_id, c.content, c.is_edited, c.created_at, c.updated_at, u.username
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.thread_id=$1
		ORDER BY c.created_at
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.ThreadID, &item.AuthorID, &item.ParentID, &item.Content, &item.IsEdited, &item.CreatedAt, &item.UpdatedAt, &item.AuthorName); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateComment(ctx context.Context, commentID, content string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE comments SET content=$2, is_edited=TRUE, updated_at=NOW() WHERE id=$1`, commentID, content)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

// ---- permissions ----

func (s *PostgresStore) GetPermission(ctx context.Context, documentID, userID string) (Permission, error) {
	var item Permission
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, user_id, role, granted_by, granted_at, expires_at
		FROM permissions
		WHERE document_id=$1 AND user_id=$2 AND (expires_at IS NULL OR expires_at > NOW())
	`, documentID, userID).Scan(&item.ID, &item.DocumentID, &item.UserID, &item.Role, &item.GrantedBy, &item.GrantedAt, &item.ExpiresAt)
	if err != nil {
		return Permission{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpsertPermission(ctx context.Context, item Permission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (id, document_id, user_id, role, granted_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (document_id, user_id) DO UPDATE SET role=EXCLUDED.role, granted_by=EXCLUDED.granted_by, expires_at=EXCLUDED.expires_at
	`, item.ID, item.DocumentID, item.UserID, item.Role, item.GrantedBy, item.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert permission: %w", err)
	}
	return nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
