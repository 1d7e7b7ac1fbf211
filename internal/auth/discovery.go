package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/oauthgate/internal/metrics"
)

// ProviderConfig はOpenID Connectディスカバリドキュメントのうち利用するエンドポイント。
type ProviderConfig struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
}

// Discoverer はIdPのエンドポイント設定を取得するインターフェース。
type Discoverer interface {
	Fetch(ctx context.Context) (*ProviderConfig, error)
}

// DiscoveryConfig はDiscoveryClientの設定。
type DiscoveryConfig struct {
	URL        string
	HTTPClient *http.Client
	Retries    int
	RetryWait  time.Duration

	// ValidateEndpoint が設定されている場合、取得した各エンドポイントURLを検証する。
	ValidateEndpoint func(rawURL string) error
	Metrics          metrics.MetricsCollector
}

// DiscoveryClient はディスカバリドキュメントを取得する。
// 結果はキャッシュせず、呼び出しのたびに取得し直す。
type DiscoveryClient struct {
	config DiscoveryConfig
}

// NewDiscoveryClient はDiscoveryClientを生成する。
func NewDiscoveryClient(config DiscoveryConfig) *DiscoveryClient {
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.RetryWait <= 0 {
		config.RetryWait = defaultRetryWait
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NopCollector{}
	}
	return &DiscoveryClient{config: config}
}

// Fetch はディスカバリドキュメントを取得し、必須エンドポイントを検証して返す。
func (c *DiscoveryClient) Fetch(ctx context.Context) (*ProviderConfig, error) {
	start := time.Now()
	cfg, err := c.fetch(ctx)
	c.config.Metrics.RecordProviderRequest(metrics.ProviderEndpointDiscovery, time.Since(start), err)
	return cfg, err
}

func (c *DiscoveryClient) fetch(ctx context.Context) (*ProviderConfig, error) {
	resp, err := doWithRetry(ctx, c.config.HTTPClient, c.config.Retries, c.config.RetryWait,
		func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to create discovery request: %w", err)
			}
			req.Header.Set("Accept", "application/json")
			return req, nil
		})
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery document: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("discovery failed with status %d", resp.StatusCode)
	}

	var cfg ProviderConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse discovery document: %w", err)
	}

	endpoints := []struct {
		key   string
		value string
	}{
		{"authorization_endpoint", cfg.AuthorizationEndpoint},
		{"token_endpoint", cfg.TokenEndpoint},
		{"userinfo_endpoint", cfg.UserInfoEndpoint},
	}
	for _, ep := range endpoints {
		if ep.value == "" {
			return nil, fmt.Errorf("discovery document missing %s", ep.key)
		}
		if c.config.ValidateEndpoint != nil {
			if err := c.config.ValidateEndpoint(ep.value); err != nil {
				return nil, fmt.Errorf("untrusted %s: %w", ep.key, err)
			}
		}
	}

	return &cfg, nil
}

var _ Discoverer = (*DiscoveryClient)(nil)
