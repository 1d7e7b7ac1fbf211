// Package session はFederatedAccountのログインセッションを管理する。
// Cookieの発行と破棄、リクエストからのアカウント解決、認証ガードを提供する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/oauthgate/internal/middleware"
	"github.com/hitoshi/oauthgate/internal/model"
	"github.com/hitoshi/oauthgate/internal/repository"
)

// CookieName はセッションIDを保持するCookie名。
const CookieName = "session_id"

// sessionIDBytes はセッションIDの乱数バイト長（256bit）。
const sessionIDBytes = 32

type accountContextKey struct{}

// UserLoader はセッションに紐づくアカウントIDからアカウントを取得する。
// 見つからない場合はnil, nilを返す。
type UserLoader func(ctx context.Context, id string) (*model.FederatedAccount, error)

// Config はセッションCookieの設定。
type Config struct {
	MaxAge       int // セッションの有効期間（秒）
	CookieSecure bool
	CookieDomain string
}

// Manager はセッションのライフサイクルを管理する。
type Manager struct {
	store  repository.SessionRepository
	loader UserLoader
	config Config
	now    func() time.Time
}

// NewManager はManagerを生成する。
func NewManager(store repository.SessionRepository, loader UserLoader, config Config) *Manager {
	return &Manager{
		store:  store,
		loader: loader,
		config: config,
		now:    time.Now,
	}
}

// Start はアカウントのセッションを作成し、セッションCookieを設定する。
func (m *Manager) Start(ctx context.Context, w http.ResponseWriter, account *model.FederatedAccount) (*model.Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := m.now()
	sess := &model.Session{
		ID:        id,
		AccountID: account.ID,
		ExpiresAt: now.Add(time.Duration(m.config.MaxAge) * time.Second),
		CreatedAt: now,
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	http.SetCookie(w, m.cookie(id, m.config.MaxAge))

	slog.InfoContext(ctx, "session started", slog.String("account_id", account.ID))
	return sess, nil
}

// End はリクエストのセッションを削除し、Cookieを失効させる。
// セッション行の削除に失敗してもCookieはクリアする。
func (m *Manager) End(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var endErr error
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		if err := m.store.DeleteByID(ctx, cookie.Value); err != nil {
			endErr = fmt.Errorf("failed to end session: %w", err)
		}
	}

	http.SetCookie(w, m.cookie("", -1))
	return endErr
}

// Resolve はCookie、有効なセッション、アカウントの順に解決する。
// いずれかの段階で見つからない場合はnil, nilを返す。
func (m *Manager) Resolve(r *http.Request) (*model.FederatedAccount, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	sess, err := m.store.FindByID(r.Context(), cookie.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if sess == nil {
		return nil, nil
	}

	account, err := m.loader(r.Context(), sess.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return account, nil
}

// LoadMiddleware はセッションを解決してアカウントをコンテキストに格納する。
// 未ログインのリクエストもそのまま通す。
func (m *Manager) LoadMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, err := m.Resolve(r)
			if err != nil {
				slog.ErrorContext(r.Context(), "failed to resolve session",
					slog.String("error", err.Error()),
				)
			}
			if account != nil {
				r = r.WithContext(ContextWithAccount(r.Context(), account))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireMiddleware はログイン必須のルートを保護する。
// LoadMiddlewareの後に配置する。未ログインの場合は401 UNAUTHORIZEDを返す。
func (m *Manager) RequireMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if CurrentAccount(r.Context()) == nil {
				middleware.WriteErrorResponse(w, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CurrentAccount はコンテキストからログイン中のアカウントを取得する。
// 未ログインの場合はnilを返す。
func CurrentAccount(ctx context.Context) *model.FederatedAccount {
	account, _ := ctx.Value(accountContextKey{}).(*model.FederatedAccount)
	return account
}

// ContextWithAccount はコンテキストにアカウントを格納する。
// リクエストログ用にアカウントIDも併せて設定する。
func ContextWithAccount(ctx context.Context, account *model.FederatedAccount) context.Context {
	ctx = middleware.ContextWithAccountID(ctx, account.ID)
	return context.WithValue(ctx, accountContextKey{}, account)
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Domain:   m.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// generateSessionID は256bitのランダムなセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
