package handler

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	sentryhttp "github.com/getsentry/sentry-go/http"

	"github.com/hitoshi/oauthgate/internal/metrics"
	"github.com/hitoshi/oauthgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger  *slog.Logger
	Metrics metrics.MetricsCollector

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig
	Sessions    SessionManager

	// /login, /login/callback のレート制限。nilの場合は制限しない。
	LoginRateLimiter *middleware.RateLimiter

	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// CSRF は/me、/csrf-token、/logoutに適用するダブルサブミットトークンの設定。
	CSRF middleware.CSRFConfig

	// TrustedProxies は転送ヘッダーを信頼する接続元。空の場合は接続元アドレスのみを使う。
	TrustedProxies []netip.Prefix

	// HSTS はStrict-Transport-Securityヘッダーを付与するかどうか。
	HSTS bool
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP(信頼済みプロキシのみ) → Logging → Metrics → Recovery → Sentry → SecurityHeaders → StripSlashes → Session(Load)
//
// ルートはサイトマップに平坦な一覧として現れるよう、サブルーターを使わず登録する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewTrustedRealIPMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(chimw.StripSlashes)
	r.Use(deps.Sessions.LoadMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.Sessions, deps.AuthConfig)

	// --- 認証不要のルート ---
	r.Get("/", NewSitemapHandler(r).ServeHTTP)

	login := r.With()
	if deps.LoginRateLimiter != nil {
		login = r.With(deps.LoginRateLimiter.Middleware())
	}
	login.Get("/login", authHandler.Login)
	login.Get(callbackPath, authHandler.Callback)

	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker).ServeHTTP)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	// 状態を変更するPOSTはCSRFトークンの一致を要求する
	guarded := r.With(deps.Sessions.RequireMiddleware(), middleware.NewCSRFMiddleware(deps.CSRF))
	guarded.Get("/me", authHandler.Me)
	guarded.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)
	guarded.Post("/logout", authHandler.Logout)

	return r
}
