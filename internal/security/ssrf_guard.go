// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ProviderGuard は外部IdPへの送信リクエストを保護するインターフェース。
// ディスカバリドキュメントが返すエンドポイントは外部入力として扱う。
type ProviderGuard interface {
	// NewClient はIdP呼び出し用のHTTPクライアントを生成する。
	NewClient(timeout time.Duration) *http.Client

	// ValidateEndpoint はIdPエンドポイントURLを事前に検証する。
	ValidateEndpoint(rawURL string) error
}

// blockedNetworks はSSRF防止でブロックされるネットワーク範囲。
// パッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック (RFC 1122)
		"127.0.0.0/8",
		// リンクローカル (RFC 3927) - クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		// カレントネットワーク
		"0.0.0.0/8",
		// IPv6ループバック
		"::1/128",
		// IPv6リンクローカル
		"fe80::/10",
		// IPv6ユニークローカル
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// ssrfGuard はProviderGuardの実装。
type ssrfGuard struct {
	// allowPrivateNetworks がtrueの場合は検証を行わない。
	// ローカルのモックIdPに接続する開発環境向け。
	allowPrivateNetworks bool
}

// NewSSRFGuard はProviderGuardの新しいインスタンスを生成する。
func NewSSRFGuard(allowPrivateNetworks bool) *ssrfGuard {
	return &ssrfGuard{allowPrivateNetworks: allowPrivateNetworks}
}

// NewClient はIdP呼び出し用のHTTPクライアントを生成する。
// 通常はsafeurlによりhttps/443以外とプライベートIP宛ての接続を拒否する。
// safeurlはDialerのControlフックでDNS解決後のIPアドレスも検証する。
func (g *ssrfGuard) NewClient(timeout time.Duration) *http.Client {
	if g.allowPrivateNetworks {
		return &http.Client{Timeout: timeout}
	}

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateEndpoint はIdPエンドポイントURLを事前に検証する。
// DNS解決を伴わない静的な検証で、DNS再バインディングはNewClient側で防ぐ。
func (g *ssrfGuard) ValidateEndpoint(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := parsed.Hostname()

	if g.allowPrivateNetworks {
		if scheme != "https" && scheme != "http" {
			return fmt.Errorf("disallowed scheme: %s", scheme)
		}
		if host == "" {
			return fmt.Errorf("empty host in URL: %s", rawURL)
		}
		return nil
	}

	if scheme != "https" {
		return fmt.Errorf("disallowed scheme: %s (https required)", scheme)
	}
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

// isBlockedIP はIPアドレスがブロック対象のネットワーク範囲に含まれるかを検証する。
func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

var _ ProviderGuard = (*ssrfGuard)(nil)
