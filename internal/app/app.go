// Package app はアプリケーションの初期化、依存関係のワイヤリング、サブコマンドの実行を提供する。
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/hitoshi/oauthgate/internal/account"
	"github.com/hitoshi/oauthgate/internal/auth"
	"github.com/hitoshi/oauthgate/internal/config"
	"github.com/hitoshi/oauthgate/internal/database"
	"github.com/hitoshi/oauthgate/internal/handler"
	"github.com/hitoshi/oauthgate/internal/logger"
	"github.com/hitoshi/oauthgate/internal/metrics"
	"github.com/hitoshi/oauthgate/internal/middleware"
	"github.com/hitoshi/oauthgate/internal/model"
	"github.com/hitoshi/oauthgate/internal/repository"
	"github.com/hitoshi/oauthgate/internal/security"
	"github.com/hitoshi/oauthgate/internal/session"
	"github.com/hitoshi/oauthgate/internal/telemetry"
	"github.com/hitoshi/oauthgate/internal/worker/cleanup"
)

const (
	serviceName = "oauthgate"

	// localPasswordEnv はcreate-userでパスワードを渡すための環境変数。
	localPasswordEnv = "LOCAL_ACCOUNT_PASSWORD"

	defaultHealthcheckPort = "3000"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = defaultHealthcheckPort
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("env", cfg.AppEnv),
	)

	var subArgs []string
	if len(args) > 1 {
		subArgs = args[1:]
	}

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCreateUser:
		return runCreateUser(cfg, subArgs)
	case CommandVerifyUser:
		return runVerifyUser(cfg, subArgs)
	case CommandShowUser:
		return runShowUser(cfg, w, subArgs)
	case CommandPruneSessions:
		return runPruneSessions(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はHTTPサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	trustedProxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	// 1. エラー報告とトレーシング
	flushSentry, err := initSentry(cfg)
	if err != nil {
		return err
	}
	defer flushSentry()

	shutdownTracing, err := telemetry.Setup(context.Background(), serviceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Error("failed to shut down tracing", slog.String("error", err.Error()))
		}
	}()

	// 2. DB接続
	db, gormDB, err := openDatabases(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 3. リポジトリの初期化
	federatedRepo := repository.NewGormFederatedAccountRepo(gormDB)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 4. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 5. IdPクライアントの初期化
	if !cfg.OAuthConfigured() {
		slog.Warn("GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET is not set; OAuth login will not work")
	}
	guard := security.NewSSRFGuard(cfg.ProviderAllowPrivateNetworks)
	providerClient := guard.NewClient(cfg.ProviderTimeout)
	providerClient.Transport = otelhttp.NewTransport(providerClient.Transport)

	discovery := auth.NewDiscoveryClient(auth.DiscoveryConfig{
		URL:              cfg.GoogleDiscoveryURL,
		HTTPClient:       providerClient,
		Retries:          cfg.ProviderRetries,
		ValidateEndpoint: guard.ValidateEndpoint,
		Metrics:          collector,
	})
	provider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		HTTPClient:   providerClient,
		Retries:      cfg.ProviderRetries,
		Metrics:      collector,
	})
	authService := auth.NewService(
		discovery, provider, federatedRepo,
		auth.NewStateSigner(cfg.SessionSecret, cfg.OAuthStateTTL),
		collector,
	)

	// 6. セッション管理
	sessions := session.NewManager(sessionRepo, federatedRepo.FindByID, session.Config{
		MaxAge:       cfg.SessionMaxAge,
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	})

	// 7. ルーターの構築
	loginLimiter := middleware.NewRateLimiter(middleware.LoginRateLimiterConfig(cfg.RateLimitLogin))
	defer loginLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:           slog.Default(),
		Metrics:          collector,
		AuthService:      authService,
		AuthConfig:       handler.AuthHandlerConfig{CookieSecure: cfg.CookieSecure},
		Sessions:         sessions,
		LoginRateLimiter: loginLimiter,
		HealthChecker:    db,
		MetricsHandler:   metrics.Handler(registry),
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		TrustedProxies: trustedProxies,
		HSTS:           cfg.CookieSecure,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      otelhttp.NewHandler(router, serviceName),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ProviderTimeout*3 + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-listenErr:
		return fmt.Errorf("server listen failed: %w", err)
	}
	slog.Info("shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runCreateUser はローカルアカウントを登録する。
// パスワードは -password フラグまたは LOCAL_ACCOUNT_PASSWORD 環境変数で渡す。
func runCreateUser(cfg *config.Config, args []string) error {
	email, password, err := parseCredentialFlags(CommandCreateUser, args)
	if err != nil {
		return err
	}

	db, gormDB, err := openDatabases(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := account.NewService(repository.NewGormLocalAccountRepo(gormDB))
	created, err := svc.Register(context.Background(), email, password)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("local account created",
		slog.Int64("account_id", created.ID),
		slog.String("email", created.Email),
	)
	return nil
}

// runVerifyUser はメールアドレスとパスワードでローカルアカウントを認証する。
// 認証に失敗した場合はINVALID_CREDENTIALSまたはACCOUNT_INACTIVEのエラーを返す。
func runVerifyUser(cfg *config.Config, args []string) error {
	email, password, err := parseCredentialFlags(CommandVerifyUser, args)
	if err != nil {
		return err
	}

	db, gormDB, err := openDatabases(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := account.NewService(repository.NewGormLocalAccountRepo(gormDB))
	verified, err := svc.Authenticate(context.Background(), email, password)
	if err != nil {
		return fmt.Errorf("failed to verify user: %w", err)
	}

	slog.Info("local account verified",
		slog.Int64("account_id", verified.ID),
		slog.String("email", verified.Email),
	)
	return nil
}

// runShowUser は-idまたは-emailで指定したローカルアカウントをJSONでwに出力する。
// パスワードハッシュは出力しない。
func runShowUser(cfg *config.Config, w io.Writer, args []string) error {
	fs := flag.NewFlagSet(string(CommandShowUser), flag.ContinueOnError)
	id := fs.Int64("id", 0, "ID of the local account")
	email := fs.String("email", "", "email address of the local account")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if (*id == 0) == (*email == "") {
		return errors.New("show-user requires exactly one of -id or -email")
	}

	db, gormDB, err := openDatabases(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := account.NewService(repository.NewGormLocalAccountRepo(gormDB))
	var found *model.LocalAccount
	if *id != 0 {
		found, err = svc.FindByID(context.Background(), *id)
	} else {
		found, err = svc.FindByEmail(context.Background(), *email)
	}
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if found == nil {
		return errors.New("local account not found")
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(found)
}

// parseCredentialFlags は-emailと-password（未指定時は環境変数）を解析する。
func parseCredentialFlags(cmd Command, args []string) (email, password string, err error) {
	fs := flag.NewFlagSet(string(cmd), flag.ContinueOnError)
	fs.StringVar(&email, "email", "", "email address of the local account")
	fs.StringVar(&password, "password", "", "password (defaults to $"+localPasswordEnv+")")
	if err := fs.Parse(args); err != nil {
		return "", "", fmt.Errorf("invalid arguments: %w", err)
	}
	if password == "" {
		password = os.Getenv(localPasswordEnv)
	}
	if email == "" || password == "" {
		return "", "", fmt.Errorf("%s requires -email and a password (-password or $%s)", cmd, localPasswordEnv)
	}
	return email, password, nil
}

// runPruneSessions は期限切れセッションを削除する。
func runPruneSessions(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(db), nil, slog.Default())
	if _, err := job.Run(context.Background()); err != nil {
		return err
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// initSentry はSENTRY_DSNが設定されている場合にSentryを初期化する。
// 返り値の関数で未送信イベントをフラッシュする。
func initSentry(cfg *config.Config) (func(), error) {
	if cfg.SentryDSN == "" {
		return func() {}, nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.AppEnv,
		AttachStacktrace: true,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}

	return func() { sentry.Flush(2 * time.Second) }, nil
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// openDatabases はDB接続と、同じ接続プールを共有するgormハンドルを返す。
func openDatabases(cfg *config.Config) (*sql.DB, *gorm.DB, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}

	gormDB, err := database.OpenGorm(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	return db, gormDB, nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
