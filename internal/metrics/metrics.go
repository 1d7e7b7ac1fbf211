// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン完了の結果ラベル
const (
	LoginResultNewAccount      = "new_account"
	LoginResultExistingAccount = "existing_account"
	LoginResultEmailUnverified = "email_unverified"
	LoginResultInvalidState    = "invalid_state"
	LoginResultProviderError   = "provider_error"
)

// IdPエンドポイントのラベル
const (
	ProviderEndpointDiscovery = "discovery"
	ProviderEndpointToken     = "token"
	ProviderEndpointUserInfo  = "userinfo"
)

const (
	providerResultSuccess = "success"
	providerResultFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスやミドルウェアから利用する。
type MetricsCollector interface {
	RecordLoginStarted()
	RecordLoginCompleted(result string)
	RecordProviderRequest(endpoint string, duration time.Duration, err error)
	RecordHTTPStatus(statusCode int)
	RecordSessionsPruned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginStarted    prometheus.Counter
	loginCompleted  *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	providerResult  *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	sessionsPruned  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oauthgate_login_started_total",
			Help: "開始されたOAuthログインの合計数",
		}),
		loginCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauthgate_login_completed_total",
			Help: "結果別のOAuthコールバック処理数",
		}, []string{"result"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oauthgate_provider_request_duration_seconds",
			Help:    "IdPエンドポイント呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		providerResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauthgate_provider_requests_total",
			Help: "エンドポイントと結果別のIdP呼び出し数",
		}, []string{"endpoint", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauthgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oauthgate_sessions_pruned_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.loginStarted,
		c.loginCompleted,
		c.providerLatency,
		c.providerResult,
		c.httpStatus,
		c.sessionsPruned,
	)

	return c
}

// RecordLoginStarted はログイン開始を記録する。
func (c *Collector) RecordLoginStarted() {
	c.loginStarted.Inc()
}

// RecordLoginCompleted はコールバック処理の結果を記録する。
func (c *Collector) RecordLoginCompleted(result string) {
	c.loginCompleted.WithLabelValues(result).Inc()
}

// RecordProviderRequest はIdP呼び出しのレイテンシと成否を記録する。
func (c *Collector) RecordProviderRequest(endpoint string, duration time.Duration, err error) {
	c.providerLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
	result := providerResultSuccess
	if err != nil {
		result = providerResultFailure
	}
	c.providerResult.WithLabelValues(endpoint, result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsPruned は削除したセッション数を記録する。
func (c *Collector) RecordSessionsPruned(count int64) {
	c.sessionsPruned.Add(float64(count))
}

// NopCollector は何も記録しないMetricsCollector。
// テストやメトリクス不要なサブコマンドで使用する。
type NopCollector struct{}

func (NopCollector) RecordLoginStarted() {}
func (NopCollector) RecordLoginCompleted(string) {}
func (NopCollector) RecordProviderRequest(string, time.Duration, error) {}
func (NopCollector) RecordHTTPStatus(int) {}
func (NopCollector) RecordSessionsPruned(int64) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
