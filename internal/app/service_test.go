package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"mukit/api/internal/auth"
	"mukit/api/internal/collab"
	"mukit/api/internal/config"
	"mukit/api/internal/export"
	"mukit/api/internal/history"
	"mukit/api/internal/search"
	"mukit/api/internal/store"
)

type fakeStore struct {
	createUserFn            func(context.Context, store.User) error
	getUserByIDFn           func(context.Context, string) (store.User, error)
	getUserByEmailFn        func(context.Context, string) (store.User, error)
	getUserByUsernameFn     func(context.Context, string) (store.User, error)
	updateUserAvatarFn      func(context.Context, string, string) error
	verifyUserEmailFn       func(context.Context, string) error
	insertWorkspaceFn       func(context.Context, store.Workspace) error
	getWorkspaceFn          func(context.Context, string) (store.Workspace, error)
	workspaceSlugExistsFn   func(context.Context, string) (bool, error)
	addWorkspaceMemberFn    func(context.Context, store.WorkspaceMember) error
	getWorkspaceMemberFn    func(context.Context, string, string) (store.WorkspaceMember, error)
	removeWorkspaceMemberFn func(context.Context, string, string) error
	insertDocumentFn        func(context.Context, store.Document) error
	getDocumentFn           func(context.Context, string) (store.Document, error)
	updateDocumentFn        func(context.Context, store.Document) error
	insertDocumentVersionFn func(context.Context, store.DocumentVersion) error
	getDocumentVersionFn    func(context.Context, string, int) (store.DocumentVersion, error)
	nextVersionNumberFn     func(context.Context, string) (int, error)
	replaceBlocksFn         func(context.Context, string, []store.Block) error
	insertThreadFn          func(context.Context, store.CommentThread) error
	getThreadFn             func(context.Context, string) (store.CommentThread, error)
	insertCommentFn         func(context.Context, store.Comment) error
	getCommentFn            func(context.Context, string) (store.Comment, error)
	listCommentsByThreadFn  func(context.Context, string) ([]store.Comment, error)
	getPermissionFn         func(context.Context, string, string) (store.Permission, error)
	upsertPermissionFn      func(context.Context, store.Permission) error
	pingFn                  func(context.Context) error

	saveRefreshFn   func(context.Context, string, string, time.Time) error
	lookupRefreshFn func(context.Context, string) (store.User, error)
	revokeRefreshFn func(context.Context, string) error
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	if f.getUserByUsernameFn != nil {
		return f.getUserByUsernameFn(ctx, username)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateUserAvatar(ctx context.Context, userID, key string) error {
	if f.updateUserAvatarFn != nil {
		return f.updateUserAvatarFn(ctx, userID, key)
	}
	return nil
}
func (f *fakeStore) VerifyUserEmail(ctx context.Context, token string) error {
	if f.verifyUserEmailFn != nil {
		return f.verifyUserEmailFn(ctx, token)
	}
	return sql.ErrNoRows
}
func (f *fakeStore) InsertWorkspace(ctx context.Context, workspace store.Workspace) error {
	if f.insertWorkspaceFn != nil {
		return f.insertWorkspaceFn(ctx, workspace)
	}
	return nil
}
func (f *fakeStore) GetWorkspace(ctx context.Context, id string) (store.Workspace, error) {
	if f.getWorkspaceFn != nil {
		return f.getWorkspaceFn(ctx, id)
	}
	return store.Workspace{}, sql.ErrNoRows
}
func (f *fakeStore) WorkspaceSlugExists(ctx context.Context, slug string) (bool, error) {
	if f.workspaceSlugExistsFn != nil {
		return f.workspaceSlugExistsFn(ctx, slug)
	}
	return false, nil
}
func (f *fakeStore) ListWorkspacesByUser(context.Context, string) ([]store.Workspace, error) {
	return nil, nil
}
func (f *fakeStore) UpdateWorkspace(context.Context, string, string, string, string) error {
	return nil
}
func (f *fakeStore) DeleteWorkspace(context.Context, string) error { return nil }
func (f *fakeStore) AddWorkspaceMember(ctx context.Context, member store.WorkspaceMember) error {
	if f.addWorkspaceMemberFn != nil {
		return f.addWorkspaceMemberFn(ctx, member)
	}
	return nil
}
func (f *fakeStore) GetWorkspaceMember(ctx context.Context, workspaceID, userID string) (store.WorkspaceMember, error) {
	if f.getWorkspaceMemberFn != nil {
		return f.getWorkspaceMemberFn(ctx, workspaceID, userID)
	}
	return store.WorkspaceMember{}, sql.ErrNoRows
}
func (f *fakeStore) ListWorkspaceMembers(context.Context, string) ([]store.WorkspaceMember, error) {
	return nil, nil
}
func (f *fakeStore) RemoveWorkspaceMember(ctx context.Context, workspaceID, userID string) error {
	if f.removeWorkspaceMemberFn != nil {
		return f.removeWorkspaceMemberFn(ctx, workspaceID, userID)
	}
	return nil
}
func (f *fakeStore) InsertDocument(ctx context.Context, doc store.Document) error {
	if f.insertDocumentFn != nil {
		return f.insertDocumentFn(ctx, doc)
	}
	return nil
}
func (f *fakeStore) GetDocument(ctx context.Context, id string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, id)
	}
	return store.Document{}, sql.ErrNoRows
}
func (f *fakeStore) ListDocumentsByOwner(context.Context, string, *string) ([]store.Document, error) {
	return nil, nil
}
func (f *fakeStore) ListPublicDocuments(context.Context) ([]store.Document, error) {
	return nil, nil
}
func (f *fakeStore) UpdateDocument(ctx context.Context, doc store.Document) error {
	if f.updateDocumentFn != nil {
		return f.updateDocumentFn(ctx, doc)
	}
	return nil
}
func (f *fakeStore) DeleteDocument(context.Context, string) error { return nil }
func (f *fakeStore) InsertDocumentVersion(ctx context.Context, version store.DocumentVersion) error {
	if f.insertDocumentVersionFn != nil {
		return f.insertDocumentVersionFn(ctx, version)
	}
	return nil
}
func (f *fakeStore) ListDocumentVersions(context.Context, string) ([]store.DocumentVersion, error) {
	return nil, nil
}
func (f *fakeStore) GetDocumentVersion(ctx context.Context, documentID string, versionNumber int) (store.DocumentVersion, error) {
	if f.getDocumentVersionFn != nil {
		return f.getDocumentVersionFn(ctx, documentID, versionNumber)
	}
	return store.DocumentVersion{}, sql.ErrNoRows
}
func (f *fakeStore) NextVersionNumber(ctx context.Context, documentID string) (int, error) {
	if f.nextVersionNumberFn != nil {
		return f.nextVersionNumberFn(ctx, documentID)
	}
	return 1, nil
}
func (f *fakeStore) ListBlocksByDocument(context.Context, string) ([]store.Block, error) {
	return nil, nil
}
func (f *fakeStore) ReplaceDocumentBlocks(ctx context.Context, documentID string, blocks []store.Block) error {
	if f.replaceBlocksFn != nil {
		return f.replaceBlocksFn(ctx, documentID, blocks)
	}
	return nil
}
func (f *fakeStore) InsertThread(ctx context.Context, thread store.CommentThread) error {
	if f.insertThreadFn != nil {
		return f.insertThreadFn(ctx, thread)
	}
	return nil
}
func (f *fakeStore) GetThread(ctx context.Context, id string) (store.CommentThread, error) {
	if f.getThreadFn != nil {
		return f.getThreadFn(ctx, id)
	}
	return store.CommentThread{}, sql.ErrNoRows
}
func (f *fakeStore) ListThreadsByDocument(context.Context, string) ([]store.CommentThread, error) {
	return nil, nil
}
func (f *fakeStore) UpdateThreadResolved(context.Context, string, bool) error { return nil }
func (f *fakeStore) DeleteThread(context.Context, string) error               { return nil }
func (f *fakeStore) InsertComment(ctx context.Context, comment store.Comment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, comment)
	}
	return nil
}
func (f *fakeStore) GetComment(ctx context.Context, id string) (store.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, id)
	}
	return store.Comment{}, sql.ErrNoRows
}
func (f *fakeStore) ListCommentsByThread(ctx context.Context, threadID string) ([]store.Comment, error) {
	if f.listCommentsByThreadFn != nil {
		return f.listCommentsByThreadFn(ctx, threadID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateComment(context.Context, string, string) error { return nil }
func (f *fakeStore) DeleteComment(context.Context, string) error         { return nil }
func (f *fakeStore) GetPermission(ctx context.Context, documentID, userID string) (store.Permission, error) {
	if f.getPermissionFn != nil {
		return f.getPermissionFn(ctx, documentID, userID)
	}
	return store.Permission{}, sql.ErrNoRows
}
func (f *fakeStore) UpsertPermission(ctx context.Context, p store.Permission) error {
	if f.upsertPermissionFn != nil {
		return f.upsertPermissionFn(ctx, p)
	}
	return nil
}
func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if f.saveRefreshFn != nil {
		return f.saveRefreshFn(ctx, tokenHash, userID, expiresAt)
	}
	return nil
}
func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupRefreshFn != nil {
		return f.lookupRefreshFn(ctx, tokenHash)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeRefreshFn != nil {
		return f.revokeRefreshFn(ctx, tokenHash)
	}
	return nil
}

type fakeHistory struct {
	ensureFn    func(string, history.Content, string) error
	commitFn    func(string, history.Content, string, string) (history.CommitInfo, error)
	contentAtFn func(string, string) (history.Content, error)
}

func (f *fakeHistory) EnsureDocumentRepo(documentID string, content history.Content, author string) error {
	if f.ensureFn != nil {
		return f.ensureFn(documentID, content, author)
	}
	return nil
}
func (f *fakeHistory) Commit(documentID string, content history.Content, message, author string) (history.CommitInfo, error) {
	if f.commitFn != nil {
		return f.commitFn(documentID, content, message, author)
	}
	return history.CommitInfo{Hash: "deadbeef"}, nil
}
func (f *fakeHistory) HeadContent(string) (history.Content, history.CommitInfo, error) {
	return history.Content{}, history.CommitInfo{Hash: "deadbeef"}, nil
}
func (f *fakeHistory) ContentAt(documentID, hash string) (history.Content, error) {
	if f.contentAtFn != nil {
		return f.contentAtFn(documentID, hash)
	}
	return history.Content{}, errors.New("no such commit")
}
func (f *fakeHistory) History(string, int) ([]history.CommitInfo, error) { return nil, nil }

type fakeSearch struct {
	searchFn        func(search.Query) search.Response
	indexedDocs     []search.DocumentRecord
	indexedComments []search.CommentRecord
	deletedDocs     []string
	deletedComments []string
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text}
}
func (f *fakeSearch) IndexDocument(doc search.DocumentRecord) {
	f.indexedDocs = append(f.indexedDocs, doc)
}
func (f *fakeSearch) IndexComment(c search.CommentRecord) {
	f.indexedComments = append(f.indexedComments, c)
}
func (f *fakeSearch) DeleteDocument(id string) { f.deletedDocs = append(f.deletedDocs, id) }
func (f *fakeSearch) DeleteComment(id string)  { f.deletedComments = append(f.deletedComments, id) }

func newTestService(fs *fakeStore) *Service {
	s := &Service{
		cfg: config.Config{
			JWTSecret:      "test-secret",
			AccessTTL:      30 * time.Minute,
			RefreshTTL:     24 * time.Hour,
			MaxUploadBytes: 1 << 20,
			PublicBaseURL:  "http://localhost:3000",
		},
		store:    fs,
		sessions: fs,
		history:  &fakeHistory{},
		search:   &fakeSearch{},
		hub:      collab.NewHub(),
	}
	s.exporter = export.NewService(&exportStore{store: fs})
	return s
}

func testSession(userID string) Session {
	return Session{UserID: userID, Username: "tester", Email: userID + "@example.com"}
}

func domainStatus(t *testing.T, err error) int {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected domain error, got %v", err)
	}
	return domainErr.Status
}

func TestRegisterValidation(t *testing.T) {
	service := newTestService(&fakeStore{})

	cases := []RegisterInput{
		{Email: "not-an-email", Username: "alice", Password: "longenough"},
		{Email: "alice@example.com", Username: "al", Password: "longenough"},
		{Email: "alice@example.com", Username: "alice", Password: "short"},
	}
	for _, input := range cases {
		_, _, err := service.Register(context.Background(), input)
		if status := domainStatus(t, err); status != 422 {
			t.Fatalf("input %+v: expected 422, got %d", input, status)
		}
	}
}

func TestRegisterEmailConflict(t *testing.T) {
	service := newTestService(&fakeStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "usr_existing"}, nil
		},
	})

	_, _, err := service.Register(context.Background(), RegisterInput{
		Email: "taken@example.com", Username: "alice", Password: "longenough",
	})
	if status := domainStatus(t, err); status != 409 {
		t.Fatalf("expected 409, got %d", status)
	}
}

func TestRegisterWithoutMailerReturnsDevToken(t *testing.T) {
	var created store.User
	var savedHash string
	fs := &fakeStore{
		createUserFn: func(_ context.Context, user store.User) error {
			created = user
			return nil
		},
		saveRefreshFn: func(_ context.Context, tokenHash, userID string, _ time.Time) error {
			savedHash = tokenHash
			return nil
		},
	}
	service := newTestService(fs)

	session, extra, err := service.Register(context.Background(), RegisterInput{
		Email: "Alice@Example.com", Username: "alice", Password: "longenough",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if created.Email != "alice@example.com" {
		t.Fatalf("expected lowercased email, got %q", created.Email)
	}
	if !created.IsVerified {
		t.Fatalf("expected auto-verified user when no mailer is configured")
	}
	token, ok := extra["dev_verification_token"].(string)
	if !ok || token == "" {
		t.Fatalf("expected dev_verification_token, got %v", extra)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatalf("expected issued tokens, got %+v", session)
	}
	if savedHash != auth.HashToken(session.RefreshToken) {
		t.Fatalf("stored refresh hash does not match issued token")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	hash, err := auth.HashPassword("correct-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	service := newTestService(&fakeStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "usr_1", PasswordHash: hash, IsActive: true}, nil
		},
	})

	_, err = service.Login(context.Background(), "alice@example.com", "wrong-password")
	if status := domainStatus(t, err); status != 401 {
		t.Fatalf("expected 401, got %d", status)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	hash, err := auth.HashPassword("correct-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	service := newTestService(&fakeStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "usr_1", PasswordHash: hash, IsActive: false}, nil
		},
	})

	_, err = service.Login(context.Background(), "alice@example.com", "correct-password")
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	var revokedHash string
	var savedHash string
	fs := &fakeStore{
		lookupRefreshFn: func(_ context.Context, tokenHash string) (store.User, error) {
			if tokenHash != auth.HashToken("old-refresh") {
				return store.User{}, sql.ErrNoRows
			}
			return store.User{ID: "usr_1"}, nil
		},
		revokeRefreshFn: func(_ context.Context, tokenHash string) error {
			revokedHash = tokenHash
			return nil
		},
		saveRefreshFn: func(_ context.Context, tokenHash, userID string, _ time.Time) error {
			savedHash = tokenHash
			return nil
		},
		getUserByIDFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "usr_1", Email: "alice@example.com", Username: "alice"}, nil
		},
	}
	service := newTestService(fs)

	session, err := service.Refresh(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if revokedHash != auth.HashToken("old-refresh") {
		t.Fatalf("expected old refresh token revoked")
	}
	if session.RefreshToken == "old-refresh" {
		t.Fatalf("expected a rotated refresh token")
	}
	if savedHash != auth.HashToken(session.RefreshToken) {
		t.Fatalf("stored hash does not match the new refresh token")
	}
}

func TestRefreshUnknownToken(t *testing.T) {
	service := newTestService(&fakeStore{})

	_, err := service.Refresh(context.Background(), "never-issued")
	if !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestSessionFromTokenRoundtrip(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			if id != "usr_1" {
				return store.User{}, sql.ErrNoRows
			}
			return store.User{ID: "usr_1", Email: "alice@example.com", Username: "alice"}, nil
		},
	}
	service := newTestService(fs)

	issued, err := service.issueSession(context.Background(), store.User{
		ID: "usr_1", Email: "alice@example.com", Username: "alice",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	session, err := service.SessionFromToken(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if session.UserID != "usr_1" || session.Username != "alice" {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestVerifyEmailUnknownToken(t *testing.T) {
	service := newTestService(&fakeStore{})

	err := service.VerifyEmail(context.Background(), "bogus")
	if status := domainStatus(t, err); status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestSearchEmptyQueryShortCircuits(t *testing.T) {
	searcher := &fakeSearch{
		searchFn: func(search.Query) search.Response {
			panic("search should not be called for an empty query")
		},
	}
	service := newTestService(&fakeStore{})
	service.search = searcher

	response, err := service.Search(context.Background(), testSession("usr_1"), "   ", "", "", 20, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(response.Results) != 0 {
		t.Fatalf("expected empty results, got %+v", response)
	}
}

func TestSearchClampsLimitAndScopesUser(t *testing.T) {
	var got search.Query
	service := newTestService(&fakeStore{})
	service.search = &fakeSearch{
		searchFn: func(q search.Query) search.Response {
			got = q
			return search.Response{Results: []search.Result{}, Query: q.Text}
		},
	}

	if _, err := service.Search(context.Background(), testSession("usr_1"), "design notes", "document", "ws_1", 5000, -3); err != nil {
		t.Fatalf("search: %v", err)
	}
	if got.Limit != 20 || got.Offset != 0 {
		t.Fatalf("expected clamped limit/offset, got %+v", got)
	}
	if got.UserID != "usr_1" || got.FilterType != search.ResultDocument || got.FilterWorkspaceID != "ws_1" {
		t.Fatalf("unexpected query %+v", got)
	}
}

func TestUploadAvatarWithoutUploader(t *testing.T) {
	service := newTestService(&fakeStore{})

	_, err := service.UploadAvatar(context.Background(), testSession("usr_1"), "a.png", "image/png", 100, strings.NewReader("x"))
	if status := domainStatus(t, err); status != 503 {
		t.Fatalf("expected 503, got %d", status)
	}
}
