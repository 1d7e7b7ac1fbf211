// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/oauthgate/internal/auth"
	"github.com/hitoshi/oauthgate/internal/middleware"
	"github.com/hitoshi/oauthgate/internal/model"
	"github.com/hitoshi/oauthgate/internal/session"
)

const (
	oauthStateCookie = "oauth_state"
	callbackPath     = "/login/callback"

	// emailNotVerifiedMessage はメールアドレス未確認時にプレーンテキストで返すメッセージ。
	emailNotVerifiedMessage = "User email not available or not verified by Google."
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginLogin(ctx context.Context, callbackURL string) (*auth.LoginRedirect, error)
	CompleteLogin(ctx context.Context, params auth.CallbackParams) (*auth.LoginResult, error)
	StateTTL() time.Duration
}

// SessionManager はセッションの開始・終了と認証ガードを提供するインターフェース。
type SessionManager interface {
	Start(ctx context.Context, w http.ResponseWriter, account *model.FederatedAccount) (*model.Session, error)
	End(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	LoadMiddleware() func(next http.Handler) http.Handler
	RequireMiddleware() func(next http.Handler) http.Handler
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	sessions SessionManager
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, sessions SessionManager, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		config:   config,
	}
}

// Login はGoogle OAuthフローを開始する。
// GET /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	redirect, err := h.service.BeginLogin(r.Context(), externalURL(r, callbackPath))
	if err != nil {
		middleware.HandleError(w, r, err)
		return
	}

	// stateと対になるnonceをCookieに保存する
	http.SetCookie(w, h.stateCookie(redirect.Nonce, int(h.service.StateTTL().Seconds())))

	http.Redirect(w, r, redirect.URL, http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// GET /login/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateクッキーは結果に関わらず1回で破棄する
	var nonce string
	if c, err := r.Cookie(oauthStateCookie); err == nil {
		nonce = c.Value
	}
	http.SetCookie(w, h.stateCookie("", -1))

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		slog.WarnContext(r.Context(), "oauth callback without code",
			slog.String("provider_error", r.URL.Query().Get("error")),
		)
		middleware.WriteErrorResponse(w, model.NewMissingCodeError())
		return
	}

	// 3. 認証処理
	result, err := h.service.CompleteLogin(r.Context(), auth.CallbackParams{
		Code:        code,
		State:       r.URL.Query().Get("state"),
		Nonce:       nonce,
		CallbackURL: externalURL(r, callbackPath),
	})
	switch {
	case errors.Is(err, auth.ErrInvalidState):
		slog.WarnContext(r.Context(), "oauth state rejected", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, model.NewInvalidStateError())
		return
	case errors.Is(err, auth.ErrEmailNotVerified):
		http.Error(w, emailNotVerifiedMessage, http.StatusBadRequest)
		return
	case err != nil:
		middleware.HandleError(w, r, err)
		return
	}

	// 4. セッションの開始
	if _, err := h.sessions.Start(r.Context(), w, result.Account); err != nil {
		middleware.HandleError(w, r, err)
		return
	}

	http.Redirect(w, r, externalURL(r, "/"), http.StatusFound)
}

// Logout はセッションを破棄し、サイトマップへ303でリダイレクトする。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.End(r.Context(), w, r); err != nil {
		// 削除に失敗してもCookieはクリア済み
		slog.ErrorContext(r.Context(), "failed to logout", slog.String("error", err.Error()))
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// meResponse はログイン中のアカウント情報のレスポンス。
type meResponse struct {
	ID      string            `json:"id"`
	Email   string            `json:"email"`
	Kind    model.AccountKind `json:"kind"`
	Name    string            `json:"name"`
	Picture string            `json:"picture"`
}

// Me は現在のログインアカウント情報を返す。
// GET /me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	account := session.CurrentAccount(r.Context())
	if account == nil {
		middleware.WriteErrorResponse(w, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		ID:      account.PrincipalID(),
		Email:   account.PrincipalEmail(),
		Kind:    account.Kind(),
		Name:    account.DisplayName,
		Picture: account.ProfilePictureURL,
	})
}

func (h *AuthHandler) stateCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/login",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// externalURL はリクエストのホストに対する絶対URLを返す。
// TLS終端がプロキシにある前提でスキームは常にhttpsとする。
func externalURL(r *http.Request, path string) string {
	return "https://" + r.Host + path
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
