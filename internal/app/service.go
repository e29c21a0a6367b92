package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mukit/api/internal/auth"
	"mukit/api/internal/collab"
	"mukit/api/internal/config"
	"mukit/api/internal/email"
	"mukit/api/internal/export"
	"mukit/api/internal/history"
	"mukit/api/internal/rbac"
	"mukit/api/internal/search"
	"mukit/api/internal/session"
	"mukit/api/internal/store"
	"mukit/api/internal/upload"
	"mukit/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	Username     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByUsername(context.Context, string) (store.User, error)
	UpdateUserAvatar(context.Context, string, string) error
	VerifyUserEmail(context.Context, string) error
	InsertWorkspace(context.Context, store.Workspace) error
	GetWorkspace(context.Context, string) (store.Workspace, error)
	WorkspaceSlugExists(context.Context, string) (bool, error)
	ListWorkspacesByUser(context.Context, string) ([]store.Workspace, error)
	UpdateWorkspace(context.Context, string, string, string, string) error
	DeleteWorkspace(context.Context, string) error
	AddWorkspaceMember(context.Context, store.WorkspaceMember) error
	GetWorkspaceMember(context.Context, string, string) (store.WorkspaceMember, error)
	ListWorkspaceMembers(context.Context, string) ([]store.WorkspaceMember, error)
	RemoveWorkspaceMember(context.Context, string, string) error
	InsertDocument(context.Context, store.Document) error
	GetDocument(context.Context, string) (store.Document, error)
	ListDocumentsByOwner(context.Context, string, *string) ([]store.Document, error)
	ListPublicDocuments(context.Context) ([]store.Document, error)
	UpdateDocument(context.Context, store.Document) error
	DeleteDocument(context.Context, string) error
	InsertDocumentVersion(context.Context, store.DocumentVersion) error
	ListDocumentVersions(context.Context, string) ([]store.DocumentVersion, error)
	GetDocumentVersion(context.Context, string, int) (store.DocumentVersion, error)
	NextVersionNumber(context.Context, string) (int, error)
	ListBlocksByDocument(context.Context, string) ([]store.Block, error)
	ReplaceDocumentBlocks(context.Context, string, []store.Block) error
	InsertThread(context.Context, store.CommentThread) error
	GetThread(context.Context, string) (store.CommentThread, error)
	ListThreadsByDocument(context.Context, string) ([]store.CommentThread, error)
	UpdateThreadResolved(context.Context, string, bool) error
	DeleteThread(context.Context, string) error
	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string) (store.Comment, error)
	ListCommentsByThread(context.Context, string) ([]store.Comment, error)
	UpdateComment(context.Context, string, string) error
	DeleteComment(context.Context, string) error
	GetPermission(context.Context, string, string) (store.Permission, error)
	UpsertPermission(context.Context, store.Permission) error
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Redis when configured, the primary
// database otherwise.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type historyService interface {
	EnsureDocumentRepo(string, history.Content, string) error
	Commit(string, history.Content, string, string) (history.CommitInfo, error)
	HeadContent(string) (history.Content, history.CommitInfo, error)
	ContentAt(string, string) (history.Content, error)
	History(string, int) ([]history.CommitInfo, error)
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	IndexComment(c search.CommentRecord)
	DeleteDocument(id string)
	DeleteComment(id string)
}

type avatarStore interface {
	PutAvatar(ctx context.Context, userID, filename, contentType string, size int64, reader io.Reader) (string, error)
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	history  historyService
	search   searchService
	exporter *export.Service
	uploader avatarStore
	mailer   mailer
	hub      *collab.Hub
}

func New(cfg config.Config, dataStore *store.PostgresStore, historyService *history.Service, searchService *search.Service, hub *collab.Hub) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		history:  historyService,
		search:   searchService,
		hub:      hub,
	}
	s.exporter = export.NewService(&exportStore{store: s.store})
	return s
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, historyService *history.Service, searchService *search.Service, hub *collab.Hub) *Service {
	s := New(cfg, dataStore, historyService, searchService, hub)
	s.sessions = sessions
	return s
}

// SetUploader enables avatar uploads. Without it the avatar endpoint
// reports the feature unavailable.
func (s *Service) SetUploader(uploader *upload.Service) {
	s.uploader = uploader
}

// SetMailer enables verification emails. Without it registration returns
// the verification token directly.
func (s *Service) SetMailer(mailer *email.Service) {
	s.mailer = mailer
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Hub() *collab.Hub {
	return s.hub
}

// ---- auth ----

type RegisterInput struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (Session, map[string]any, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Username = strings.TrimSpace(input.Username)

	if input.Email == "" || !strings.Contains(input.Email, "@") {
		return Session{}, nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a valid email is required", nil)
	}
	if len(input.Username) < 3 {
		return Session{}, nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "username must be at least 3 characters", nil)
	}
	if len(input.Password) < 8 {
		return Session{}, nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "password must be at least 8 characters", nil)
	}

	if _, err := s.store.GetUserByEmail(ctx, input.Email); err == nil {
		return Session{}, nil, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, nil, fmt.Errorf("check email: %w", err)
	}
	if _, err := s.store.GetUserByUsername(ctx, input.Username); err == nil {
		return Session{}, nil, domainError(http.StatusConflict, "USERNAME_EXISTS", "Username already taken", nil)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, nil, fmt.Errorf("check username: %w", err)
	}

	passwordHash, err := auth.HashPassword(input.Password)
	if err != nil {
		return Session{}, nil, fmt.Errorf("hash password: %w", err)
	}

	emailConfigured := s.mailer != nil && s.mailer.IsConfigured()
	verificationToken := util.NewID("verify")
	user := store.User{
		ID:                util.NewID("usr"),
		Email:             input.Email,
		Username:          input.Username,
		PasswordHash:      passwordHash,
		FirstName:         strings.TrimSpace(input.FirstName),
		LastName:          strings.TrimSpace(input.LastName),
		IsActive:          true,
		IsVerified:        !emailConfigured,
		VerificationToken: verificationToken,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return Session{}, nil, fmt.Errorf("create user: %w", err)
	}

	extra := map[string]any{}
	if emailConfigured {
		verifyURL := strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/verify-email?token=" + verificationToken
		if err := s.mailer.SendVerificationEmail(user.Email, user.Username, verifyURL); err != nil {
			// Registration already succeeded; the token can be re-sent.
			extra["email_error"] = "verification email could not be sent"
		}
	} else {
		extra["dev_verification_token"] = verificationToken
	}

	sess, err := s.issueSession(ctx, user)
	if err != nil {
		return Session{}, nil, err
	}
	return sess, extra, nil
}

func (s *Service) Login(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(emailAddr)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		}
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return Session{}, domainError(http.StatusForbidden, "ACCOUNT_DISABLED", "Account is disabled", nil)
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	found, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The session store may only carry the user id; load the full record.
	user, err := s.store.GetUserByID(ctx, found.ID)
	if err != nil {
		return Session{}, fmt.Errorf("load refreshed user: %w", err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		Username:     user.Username,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		Username:  user.Username,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "token is required", nil)
	}
	if err := s.store.VerifyUserEmail(ctx, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusBadRequest, "VERIFICATION_FAILED", "Invalid or already used verification token", nil)
		}
		return err
	}
	return nil
}

func (s *Service) CurrentUser(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

// ---- search ----

func (s *Service) Search(ctx context.Context, session Session, text, filterType, workspaceID string, limit, offset int) (search.Response, error) {
	if strings.TrimSpace(text) == "" {
		return search.Response{Results: []search.Result{}}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.search.Search(search.Query{
		Text:              text,
		FilterType:        search.ResultType(filterType),
		FilterWorkspaceID: workspaceID,
		UserID:            session.UserID,
		Limit:             limit,
		Offset:            offset,
	}), nil
}

// ---- avatar upload ----

func (s *Service) UploadAvatar(ctx context.Context, session Session, filename, contentType string, size int64, reader io.Reader) (map[string]any, error) {
	if s.uploader == nil {
		return nil, domainError(http.StatusServiceUnavailable, "UPLOAD_UNAVAILABLE", "Object storage is not configured", nil)
	}
	if size <= 0 || size > s.cfg.MaxUploadBytes {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("file size must be between 1 byte and %d bytes", s.cfg.MaxUploadBytes), nil)
	}

	key, err := s.uploader.PutAvatar(ctx, session.UserID, filename, contentType, size, reader)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "UPLOAD_FAILED", err.Error(), nil)
	}
	if err := s.store.UpdateUserAvatar(ctx, session.UserID, key); err != nil {
		return nil, err
	}

	url, err := s.uploader.PresignedURL(ctx, key, 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("presign avatar: %w", err)
	}
	return map[string]any{"avatar_url": url, "key": key}, nil
}

// ---- collab authorization ----
//
// Service satisfies collab.Authorizer: the websocket handshake carries an
// access token in the query string, which maps to a user and an access
// check against the target document.

func (s *Service) VerifyToken(token string) (string, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return "", err
	}
	return claims.Sub, nil
}

func (s *Service) ResolveUser(ctx context.Context, subject string) (collab.UserInfo, error) {
	user, err := s.store.GetUserByID(ctx, subject)
	if err != nil {
		return collab.UserInfo{}, err
	}
	return collab.UserInfo{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
	}, nil
}

func (s *Service) CheckDocumentAccess(ctx context.Context, documentID, userID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	return s.checkReadAccess(ctx, userID, doc)
}

// ---- document access policy ----

// checkReadAccess grants read on public documents, to the owner, to
// workspace members, and to holders of an unexpired share grant. Denial is
// reported as a missing row so handlers do not leak document existence.
func (s *Service) checkReadAccess(ctx context.Context, userID string, doc store.Document) error {
	if doc.IsPublic || doc.OwnerID == userID {
		return nil
	}
	if doc.WorkspaceID != nil {
		if _, err := s.store.GetWorkspaceMember(ctx, *doc.WorkspaceID, userID); err == nil {
			return nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	perm, err := s.store.GetPermission(ctx, doc.ID, userID)
	if err == nil && rbac.Can(rbac.Normalize(perm.Role), rbac.ActionRead) {
		return nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return sql.ErrNoRows
}

// checkWriteAccess grants write to the owner and to share grants whose
// role allows writing.
func (s *Service) checkWriteAccess(ctx context.Context, userID string, doc store.Document) error {
	if doc.OwnerID == userID {
		return nil
	}
	perm, err := s.store.GetPermission(ctx, doc.ID, userID)
	if err == nil && rbac.Can(rbac.Normalize(perm.Role), rbac.ActionWrite) {
		return nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

// ---- payload helpers ----

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":          user.ID,
		"email":       user.Email,
		"username":    user.Username,
		"first_name":  user.FirstName,
		"last_name":   user.LastName,
		"avatar_url":  user.AvatarURL,
		"bio":         user.Bio,
		"is_verified": user.IsVerified,
		"created_at":  user.CreatedAt,
	}
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"access_token":  session.Token,
		"refresh_token": session.RefreshToken,
		"token_type":    "bearer",
		"expires_at":    session.ExpiresAt.Unix(),
		"user_id":       session.UserID,
		"username":      session.Username,
	}
}
