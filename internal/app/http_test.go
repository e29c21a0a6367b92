package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mukit/api/internal/auth"
	"mukit/api/internal/store"
)

func newTestServer(fs *fakeStore) *HTTPServer {
	return NewHTTPServer(newTestService(fs), "*")
}

func doRequest(t *testing.T, server *HTTPServer, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{})

	recorder := doRequest(t, server, http.MethodGet, "/api/health", "", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if payload := decodeResponse(t, recorder); payload["ok"] != true {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestReadyReportsDatabaseFailure(t *testing.T) {
	server := newTestServer(&fakeStore{
		pingFn: func(context.Context) error { return errors.New("connection refused") },
	})

	recorder := doRequest(t, server, http.MethodGet, "/api/ready", "", "")
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	if payload["status"] != "not_ready" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestPreflightGetsCORSHeaders(t *testing.T) {
	server := newTestServer(&fakeStore{})

	recorder := doRequest(t, server, http.MethodOptions, "/api/v1/documents", "", "")
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}

func TestRegisterEndpointReturnsSessionAndDevToken(t *testing.T) {
	server := newTestServer(&fakeStore{})

	recorder := doRequest(t, server, http.MethodPost, "/api/v1/auth/register",
		`{"email":"alice@example.com","username":"alice","password":"longenough"}`, "")
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	if payload["access_token"] == "" || payload["access_token"] == nil {
		t.Fatalf("expected access token, got %v", payload)
	}
	if payload["dev_verification_token"] == nil {
		t.Fatalf("expected dev verification token, got %v", payload)
	}
}

func TestRegisterEndpointValidation(t *testing.T) {
	server := newTestServer(&fakeStore{})

	recorder := doRequest(t, server, http.MethodPost, "/api/v1/auth/register",
		`{"email":"alice@example.com","username":"alice","password":"short"}`, "")
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", recorder.Code)
	}
	if payload := decodeResponse(t, recorder); payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestLoginEndpointBadCredentials(t *testing.T) {
	server := newTestServer(&fakeStore{})

	recorder := doRequest(t, server, http.MethodPost, "/api/v1/auth/login",
		`{"email":"nobody@example.com","password":"whatever!"}`, "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestMeRequiresBearerToken(t *testing.T) {
	server := newTestServer(&fakeStore{})

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/auth/me", "", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestMeReturnsCurrentUser(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "usr_1", Email: "alice@example.com", Username: "alice"}, nil
		},
	}
	server := newTestServer(fs)

	session, err := server.service.issueSession(context.Background(), store.User{
		ID: "usr_1", Email: "alice@example.com", Username: "alice",
	})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/auth/me", "", session.Token)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if payload := decodeResponse(t, recorder); payload["username"] != "alice" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	server := newTestServer(&fakeStore{})

	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub: "usr_1", Email: "alice@example.com", JTI: "jti_1", Exp: 1,
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/auth/me", "", token)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestUnknownRouteWithoutTokenIsUnauthorized(t *testing.T) {
	server := newTestServer(&fakeStore{})

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/definitely-not-a-route", "", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "usr_1", Username: "alice"}, nil
		},
	}
	server := newTestServer(fs)

	session, err := server.service.issueSession(context.Background(), store.User{ID: "usr_1"})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/definitely-not-a-route", "", session.Token)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestPublicDocumentsNeedNoSession(t *testing.T) {
	server := newTestServer(&fakeStore{})

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/documents/public", "", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestRequestIDHeaderIsSet(t *testing.T) {
	server := newTestServer(&fakeStore{})

	recorder := doRequest(t, server, http.MethodGet, "/api/health", "", "")
	if recorder.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-fixed")
	second := httptest.NewRecorder()
	server.Handler().ServeHTTP(second, req)
	if second.Header().Get("X-Request-ID") != "req-fixed" {
		t.Fatalf("expected caller request id echoed")
	}
}
