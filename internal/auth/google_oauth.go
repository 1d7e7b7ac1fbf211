package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/oauthgate/internal/metrics"
)

// loginScopes はGoogleに要求するスコープ。
var loginScopes = []string{"openid", "email", "profile"}

// UserInfo はuserinfoエンドポイントから取得したユーザー情報を表す。
type UserInfo struct {
	Subject       string
	Email         string
	EmailVerified bool
	Picture       string
	GivenName     string
}

// Provider は認可コードフローのIdP側操作を抽象化する。
// エンドポイントは呼び出しごとにディスカバリ結果から渡す。
type Provider interface {
	// AuthCodeURL は認可エンドポイントへのリダイレクトURLを生成する。
	AuthCodeURL(cfg *ProviderConfig, redirectURL, state string) string
	// Exchange は認可コードをアクセストークンに交換する。
	Exchange(ctx context.Context, cfg *ProviderConfig, redirectURL, code string) (*oauth2.Token, error)
	// FetchUserInfo はアクセストークンでユーザー情報を取得する。
	FetchUserInfo(ctx context.Context, cfg *ProviderConfig, token *oauth2.Token) (*UserInfo, error)
}

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Retries      int
	RetryWait    time.Duration
	Metrics      metrics.MetricsCollector
}

// GoogleOAuthProvider はgolang.org/x/oauth2によるGoogleの認可コードフローを提供する。
type GoogleOAuthProvider struct {
	config GoogleOAuthConfig
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.RetryWait <= 0 {
		config.RetryWait = defaultRetryWait
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NopCollector{}
	}
	return &GoogleOAuthProvider{config: config}
}

// oauth2Config はディスカバリ結果からoauth2.Configを組み立てる。
// クライアント認証情報はBasic認証ヘッダーで送る。
func (p *GoogleOAuthProvider) oauth2Config(cfg *ProviderConfig, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: p.config.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       loginScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthorizationEndpoint,
			TokenURL:  cfg.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// AuthCodeURL は認可エンドポイントへのリダイレクトURLを生成する。
// response_type=code、client_id、redirect_uri、scope、stateを含む。
func (p *GoogleOAuthProvider) AuthCodeURL(cfg *ProviderConfig, redirectURL, state string) string {
	return p.oauth2Config(cfg, redirectURL).AuthCodeURL(state)
}

// Exchange は認可コードをアクセストークンに交換する。
// 認可コードは1回しか使えないため再試行しない。
func (p *GoogleOAuthProvider) Exchange(ctx context.Context, cfg *ProviderConfig, redirectURL, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.config.HTTPClient)

	start := time.Now()
	token, err := p.oauth2Config(cfg, redirectURL).Exchange(ctx, code)
	p.config.Metrics.RecordProviderRequest(metrics.ProviderEndpointToken, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return token, nil
}

// googleUserInfo はuserinfoエンドポイントのレスポンス。
type googleUserInfo struct {
	Sub           string   `json:"sub"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Picture       string   `json:"picture"`
	GivenName     string   `json:"given_name"`
}

// FetchUserInfo はアクセストークンでユーザー情報を取得する。
// トークンはこの呼び出しの中でのみ使用し、保存しない。
func (p *GoogleOAuthProvider) FetchUserInfo(ctx context.Context, cfg *ProviderConfig, token *oauth2.Token) (*UserInfo, error) {
	start := time.Now()
	info, err := p.fetchUserInfo(ctx, cfg.UserInfoEndpoint, token.AccessToken)
	p.config.Metrics.RecordProviderRequest(metrics.ProviderEndpointUserInfo, time.Since(start), err)
	return info, err
}

func (p *GoogleOAuthProvider) fetchUserInfo(ctx context.Context, endpoint, accessToken string) (*UserInfo, error) {
	resp, err := doWithRetry(ctx, p.config.HTTPClient, p.config.Retries, p.config.RetryWait,
		func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to create user info request: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+accessToken)
			req.Header.Set("Accept", "application/json")
			return req, nil
		})
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d", resp.StatusCode)
	}

	var raw googleUserInfo
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}

	return &UserInfo{
		Subject:       raw.Sub,
		Email:         raw.Email,
		EmailVerified: bool(raw.EmailVerified),
		Picture:       raw.Picture,
		GivenName:     raw.GivenName,
	}, nil
}

// flexBool はJSONの真偽値と文字列 "true"/"false" の両方を受け付ける。
// それ以外の値やnullはfalseとして扱う。
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("true")):
		*b = true
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = flexBool(strings.EqualFold(strings.TrimSpace(s), "true"))
	default:
		*b = false
	}
	return nil
}

// compile-time interface check
var _ Provider = (*GoogleOAuthProvider)(nil)
