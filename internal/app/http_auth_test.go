package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"vidtube/internal/store"
)

type sessionResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	ExpiresAt    int64  `json:"expiresAt"`
}

func postJSON(handler http.Handler, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestSignUpEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, Deps{}), "*")

	w := postJSON(server.Handler(), "/api/auth/signup", "", `{"email":"avery@example.com","password":"correct-horse","name":"Avery"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var session sessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &session); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if session.AccessToken == "" || session.RefreshToken == "" || session.UserID != testUserID {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestSignUpEndpointRejectsTakenEmail(t *testing.T) {
	fs := &fakeStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: otherUserID}, nil
		},
	}
	server := NewHTTPServer(newTestService(fs, Deps{}), "*")

	w := postJSON(server.Handler(), "/api/auth/signup", "", `{"email":"avery@example.com","password":"correct-horse","name":"Avery"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestSignInEndpoint(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			return store.User{ID: testUserID, Name: "Avery", Email: email, PasswordHash: string(hash)}, nil
		},
	}
	server := NewHTTPServer(newTestService(fs, Deps{}), "*")

	w := postJSON(server.Handler(), "/api/auth/signin", "", `{"email":"avery@example.com","password":"wrong-horse"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", w.Code)
	}

	w = postJSON(server.Handler(), "/api/auth/signin", "", `{"email":"avery@example.com","password":"correct-horse"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var session sessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &session); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if session.UserName != "Avery" {
		t.Fatalf("unexpected user name %q", session.UserName)
	}
}

func TestSessionLifecycle(t *testing.T) {
	svc := newTestService(&fakeStore{}, Deps{})
	server := NewHTTPServer(svc, "*")
	handler := server.Handler()

	issued, err := svc.issueSession(context.Background(), store.User{ID: testUserID, Name: "Avery"})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	var current map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &current); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if current["authenticated"] != true || current["userId"] != testUserID {
		t.Fatalf("unexpected session response: %v", current)
	}

	w = postJSON(handler, "/api/session/refresh", "", `{"refreshToken":"`+issued.RefreshToken+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from refresh, got %d", w.Code)
	}
	var refreshed sessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &refreshed); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	w = postJSON(handler, "/api/session/refresh", "", `{"refreshToken":"`+issued.RefreshToken+`"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected rotated refresh token to be rejected, got %d", w.Code)
	}

	w = postJSON(handler, "/api/session/logout", refreshed.AccessToken, `{"refreshToken":"`+refreshed.RefreshToken+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from logout, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+refreshed.AccessToken)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if err := json.Unmarshal(w.Body.Bytes(), &current); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if current["authenticated"] != false {
		t.Fatalf("expected logged out session, got %v", current)
	}
}

func TestRefreshRequiresToken(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, Deps{}), "*")
	w := postJSON(server.Handler(), "/api/session/refresh", "", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestLogoutRequiresSession(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, Deps{}), "*")
	w := postJSON(server.Handler(), "/api/session/logout", "", `{}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
