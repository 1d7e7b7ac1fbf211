package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/oauthgate/internal/auth"
	"github.com/hitoshi/oauthgate/internal/model"
	"github.com/hitoshi/oauthgate/internal/session"
)

// --- モック定義 ---

type mockAuthService struct {
	beginLoginFn    func(ctx context.Context, callbackURL string) (*auth.LoginRedirect, error)
	completeLoginFn func(ctx context.Context, params auth.CallbackParams) (*auth.LoginResult, error)
}

func (m *mockAuthService) BeginLogin(ctx context.Context, callbackURL string) (*auth.LoginRedirect, error) {
	if m.beginLoginFn != nil {
		return m.beginLoginFn(ctx, callbackURL)
	}
	return &auth.LoginRedirect{URL: "https://idp.example.com/authorize", Nonce: "nonce"}, nil
}

func (m *mockAuthService) CompleteLogin(ctx context.Context, params auth.CallbackParams) (*auth.LoginResult, error) {
	if m.completeLoginFn != nil {
		return m.completeLoginFn(ctx, params)
	}
	return nil, errors.New("not configured")
}

func (m *mockAuthService) StateTTL() time.Duration {
	return 10 * time.Minute
}

type mockSessionManager struct {
	startFn func(ctx context.Context, w http.ResponseWriter, account *model.FederatedAccount) (*model.Session, error)
	endFn   func(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

func (m *mockSessionManager) Start(ctx context.Context, w http.ResponseWriter, account *model.FederatedAccount) (*model.Session, error) {
	if m.startFn != nil {
		return m.startFn(ctx, w, account)
	}
	return &model.Session{ID: "session-1", AccountID: account.ID}, nil
}

func (m *mockSessionManager) End(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if m.endFn != nil {
		return m.endFn(ctx, w, r)
	}
	return nil
}

func (m *mockSessionManager) LoadMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

func (m *mockSessionManager) RequireMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

var _ SessionManager = (*session.Manager)(nil)

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	return body
}

func callbackRequest(query string, nonce string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "http://app.example.com/login/callback?"+query, nil)
	if nonce != "" {
		req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: nonce})
	}
	return req
}

// --- Login ---

func TestAuthHandler_Login_RedirectsWithSecureCallbackURL(t *testing.T) {
	var gotCallback string
	svc := &mockAuthService{
		beginLoginFn: func(ctx context.Context, callbackURL string) (*auth.LoginRedirect, error) {
			gotCallback = callbackURL
			return &auth.LoginRedirect{URL: "https://idp.example.com/authorize?state=s", Nonce: "nonce-abc"}, nil
		},
	}
	h := NewAuthHandler(svc, &mockSessionManager{}, AuthHandlerConfig{CookieSecure: true})

	req := httptest.NewRequest(http.MethodGet, "http://app.example.com/login", nil)
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); loc != "https://idp.example.com/authorize?state=s" {
		t.Errorf("Location = %q", loc)
	}
	if gotCallback != "https://app.example.com/login/callback" {
		t.Errorf("callback URL = %q, want %q", gotCallback, "https://app.example.com/login/callback")
	}

	cookie := findCookie(w.Result(), oauthStateCookie)
	if cookie == nil {
		t.Fatal("state cookie not set")
	}
	if cookie.Value != "nonce-abc" {
		t.Errorf("cookie value = %q, want %q", cookie.Value, "nonce-abc")
	}
	if !cookie.HttpOnly || !cookie.Secure {
		t.Error("state cookie must be HttpOnly and Secure")
	}
	if cookie.MaxAge != 600 {
		t.Errorf("MaxAge = %d, want 600", cookie.MaxAge)
	}
}

func TestAuthHandler_Login_DiscoveryFailure_Returns500(t *testing.T) {
	svc := &mockAuthService{
		beginLoginFn: func(ctx context.Context, callbackURL string) (*auth.LoginRedirect, error) {
			return nil, errors.New("discovery unavailable")
		},
	}
	h := NewAuthHandler(svc, &mockSessionManager{}, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest(http.MethodGet, "/login", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if findCookie(w.Result(), oauthStateCookie) != nil {
		t.Error("state cookie must not be set on failure")
	}
}

// --- Callback ---

func TestAuthHandler_Callback_MissingCode(t *testing.T) {
	called := false
	svc := &mockAuthService{
		completeLoginFn: func(ctx context.Context, params auth.CallbackParams) (*auth.LoginResult, error) {
			called = true
			return nil, nil
		},
	}
	h := NewAuthHandler(svc, &mockSessionManager{}, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.Callback(w, callbackRequest("state=s&error=access_denied", "nonce"))

	if called {
		t.Error("CompleteLogin must not be called without code")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != model.ErrCodeMissingCode {
		t.Errorf("code = %v, want %q", body["code"], model.ErrCodeMissingCode)
	}
	if c := findCookie(w.Result(), oauthStateCookie); c == nil || c.MaxAge >= 0 {
		t.Error("state cookie should be cleared")
	}
}

func TestAuthHandler_Callback_PassesParamsToService(t *testing.T) {
	var got auth.CallbackParams
	svc := &mockAuthService{
		completeLoginFn: func(ctx context.Context, params auth.CallbackParams) (*auth.LoginResult, error) {
			got = params
			return &auth.LoginResult{Account: &model.FederatedAccount{ID: "sub-1"}}, nil
		},
	}
	h := NewAuthHandler(svc, &mockSessionManager{}, AuthHandlerConfig{})

	h.Callback(httptest.NewRecorder(), callbackRequest("code=abc&state=signed", "nonce-1"))

	want := auth.CallbackParams{
		Code:        "abc",
		State:       "signed",
		Nonce:       "nonce-1",
		CallbackURL: "https://app.example.com/login/callback",
	}
	if got != want {
		t.Errorf("params = %+v, want %+v", got, want)
	}
}

func TestAuthHandler_Callback_InvalidState_Returns400JSON(t *testing.T) {
	svc := &mockAuthService{
		completeLoginFn: func(ctx context.Context, params auth.CallbackParams) (*auth.LoginResult, error) {
			return nil, fmt.Errorf("%w: nonce mismatch", auth.ErrInvalidState)
		},
	}
	h := NewAuthHandler(svc, &mockSessionManager{}, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.Callback(w, callbackRequest("code=abc&state=forged", ""))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != model.ErrCodeInvalidState {
		t.Errorf("code = %v, want %q", body["code"], model.ErrCodeInvalidState)
	}
}

func TestAuthHandler_Callback_EmailNotVerified_ReturnsPlainText(t *testing.T) {
	started := false
	svc := &mockAuthService{
		completeLoginFn: func(ctx context.Context, params auth.CallbackParams) (*auth.LoginResult, error) {
			return nil, auth.ErrEmailNotVerified
		},
	}
	sessions := &mockSessionManager{
		startFn: func(ctx context.Context, w http.ResponseWriter, account *model.FederatedAccount) (*model.Session, error) {
			started = true
			return nil, nil
		},
	}
	h := NewAuthHandler(svc, sessions, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.Callback(w, callbackRequest("code=abc&state=s", "nonce"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	if got := strings.TrimSpace(w.Body.String()); got != emailNotVerifiedMessage {
		t.Errorf("body = %q, want %q", got, emailNotVerifiedMessage)
	}
	if started {
		t.Error("session must not be started")
	}
}

func TestAuthHandler_Callback_ProviderError_Returns500(t *testing.T) {
	svc := &mockAuthService{
		completeLoginFn: func(ctx context.Context, params auth.CallbackParams) (*auth.LoginResult, error) {
			return nil, errors.New("failed to exchange authorization code: invalid_grant")
		},
	}
	h := NewAuthHandler(svc, &mockSessionManager{}, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.Callback(w, callbackRequest("code=abc&state=s", "nonce"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "invalid_grant") {
		t.Error("provider error details must not leak")
	}
}

func TestAuthHandler_Callback_Success_StartsSessionAndRedirects(t *testing.T) {
	account := &model.FederatedAccount{ID: "sub-1", Email: "a@example.com"}
	svc := &mockAuthService{
		completeLoginFn: func(ctx context.Context, params auth.CallbackParams) (*auth.LoginResult, error) {
			return &auth.LoginResult{Account: account, Created: true}, nil
		},
	}
	var startedFor *model.FederatedAccount
	sessions := &mockSessionManager{
		startFn: func(ctx context.Context, w http.ResponseWriter, a *model.FederatedAccount) (*model.Session, error) {
			startedFor = a
			return &model.Session{ID: "s"}, nil
		},
	}
	h := NewAuthHandler(svc, sessions, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.Callback(w, callbackRequest("code=abc&state=s", "nonce"))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://app.example.com/" {
		t.Errorf("Location = %q, want %q", loc, "https://app.example.com/")
	}
	if startedFor != account {
		t.Error("session should be started for the logged in account")
	}
}

func TestAuthHandler_Callback_SessionStartFailure_Returns500(t *testing.T) {
	svc := &mockAuthService{
		completeLoginFn: func(ctx context.Context, params auth.CallbackParams) (*auth.LoginResult, error) {
			return &auth.LoginResult{Account: &model.FederatedAccount{ID: "sub-1"}}, nil
		},
	}
	sessions := &mockSessionManager{
		startFn: func(ctx context.Context, w http.ResponseWriter, a *model.FederatedAccount) (*model.Session, error) {
			return nil, errors.New("db down")
		},
	}
	h := NewAuthHandler(svc, sessions, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.Callback(w, callbackRequest("code=abc&state=s", "nonce"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// --- Logout / Me ---

func TestAuthHandler_Logout_EndsSessionAndRedirects(t *testing.T) {
	ended := false
	sessions := &mockSessionManager{
		endFn: func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			ended = true
			return errors.New("delete failed")
		},
	}
	h := NewAuthHandler(&mockAuthService{}, sessions, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.Logout(w, httptest.NewRequest(http.MethodPost, "/logout", nil))

	if !ended {
		t.Error("End should be called")
	}
	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want 303", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
}

func TestAuthHandler_Me_ReturnsCurrentAccount(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, &mockSessionManager{}, AuthHandlerConfig{})
	account := &model.FederatedAccount{
		ID:                "sub-1",
		Email:             "a@example.com",
		DisplayName:       "Alice",
		ProfilePictureURL: "https://example.com/a.png",
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req = req.WithContext(session.ContextWithAccount(req.Context(), account))
	w := httptest.NewRecorder()
	h.Me(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	want := map[string]any{
		"id":      "sub-1",
		"email":   "a@example.com",
		"kind":    "federated",
		"name":    "Alice",
		"picture": "https://example.com/a.png",
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("%s = %v, want %v", k, body[k], v)
		}
	}
}

func TestAuthHandler_Me_Anonymous_Returns401(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, &mockSessionManager{}, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.Me(w, httptest.NewRequest(http.MethodGet, "/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
