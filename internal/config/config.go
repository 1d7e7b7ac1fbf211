package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultGoogleDiscoveryURL はGoogleのOpenID Connectディスカバリドキュメントの公開URL。
const DefaultGoogleDiscoveryURL = "https://accounts.google.com/.well-known/openid-configuration"

// minSessionSecretLen はstate署名に用いるシークレットの最小バイト長。
const minSessionSecretLen = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DB_CONNECTION_STRING,required,notEmpty"`

	// OAuth
	// 未設定でも起動は継続する。その場合OAuthフローは機能しない。
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	GoogleDiscoveryURL string        `env:"GOOGLE_DISCOVERY_URL" envDefault:"https://accounts.google.com/.well-known/openid-configuration"`
	OAuthStateTTL      time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`

	// Provider
	ProviderTimeout              time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
	ProviderRetries              int           `env:"PROVIDER_RETRIES" envDefault:"1"`
	ProviderAllowPrivateNetworks bool          `env:"PROVIDER_ALLOW_PRIVATE_NETWORKS" envDefault:"false"`

	// Session
	SessionSecret string `env:"SESSION_SECRET,required,notEmpty"`
	SessionMaxAge int    `env:"SESSION_MAX_AGE" envDefault:"86400"`

	// Rate Limit（req/min/IP）
	RateLimitLogin int `env:"RATE_LIMIT_LOGIN" envDefault:"30"`

	// Server
	ServerPort string `env:"PORT" envDefault:"3000"`
	// TrustedProxies は転送ヘッダー（X-Forwarded-For等）を信頼するプロキシのCIDRまたはIP。
	// 空の場合は転送ヘッダーを一切使わない。
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Cookie
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"true"`
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// Observability
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	SentryDSN    string `env:"SENTRY_DSN"`
	AppEnv       string `env:"APP_ENV" envDefault:"production"`
	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate はタグで表現できない制約を検証する。
func (c *Config) validate() error {
	if len(c.SessionSecret) < minSessionSecretLen {
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLen)
	}
	if c.ProviderRetries < 0 {
		return fmt.Errorf("PROVIDER_RETRIES must be >= 0, got %d", c.ProviderRetries)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive, got %s", c.ProviderTimeout)
	}
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be positive, got %d", c.SessionMaxAge)
	}
	if c.RateLimitLogin <= 0 {
		return fmt.Errorf("RATE_LIMIT_LOGIN must be positive, got %d", c.RateLimitLogin)
	}
	return nil
}

// OAuthConfigured はGoogle OAuthのクライアント認証情報が揃っているかを返す。
func (c *Config) OAuthConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}
