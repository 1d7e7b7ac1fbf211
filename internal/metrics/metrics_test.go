package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は収集結果から指定名・ラベルのメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordLoginStarted_IncrementsCounter はログイン開始カウンタが増加することを検証する。
func TestRecordLoginStarted_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLoginStarted()
	c.RecordLoginStarted()

	m := findMetric(t, reg, "oauthgate_login_started_total", nil)
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("login_started_total = %v, want 2", got)
	}
}

// TestRecordLoginCompleted_LabelsByResult は結果ラベルごとに集計されることを検証する。
func TestRecordLoginCompleted_LabelsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLoginCompleted(LoginResultNewAccount)
	c.RecordLoginCompleted(LoginResultExistingAccount)
	c.RecordLoginCompleted(LoginResultExistingAccount)

	m := findMetric(t, reg, "oauthgate_login_completed_total", map[string]string{"result": LoginResultExistingAccount})
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("existing_account = %v, want 2", got)
	}
	m = findMetric(t, reg, "oauthgate_login_completed_total", map[string]string{"result": LoginResultNewAccount})
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("new_account = %v, want 1", got)
	}
}

// TestRecordProviderRequest_RecordsLatencyAndResult はIdP呼び出しのレイテンシと成否が記録されることを検証する。
func TestRecordProviderRequest_RecordsLatencyAndResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProviderRequest(ProviderEndpointToken, 200*time.Millisecond, nil)
	c.RecordProviderRequest(ProviderEndpointToken, 100*time.Millisecond, errors.New("timeout"))

	h := findMetric(t, reg, "oauthgate_provider_request_duration_seconds", map[string]string{"endpoint": ProviderEndpointToken})
	if got := h.GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}

	fail := findMetric(t, reg, "oauthgate_provider_requests_total", map[string]string{"endpoint": ProviderEndpointToken, "result": "failure"})
	if got := fail.GetCounter().GetValue(); got != 1 {
		t.Errorf("failure count = %v, want 1", got)
	}
}

// TestRecordHTTPStatus_LabelsByStatusCode はステータスコード別に集計されることを検証する。
func TestRecordHTTPStatus_LabelsByStatusCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(302)
	c.RecordHTTPStatus(302)
	c.RecordHTTPStatus(400)

	m := findMetric(t, reg, "oauthgate_http_status_total", map[string]string{"status_code": "302"})
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("302 count = %v, want 2", got)
	}
}

// TestRecordSessionsPruned_AddsCount は削除件数が加算されることを検証する。
func TestRecordSessionsPruned_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionsPruned(5)
	c.RecordSessionsPruned(0)

	m := findMetric(t, reg, "oauthgate_sessions_pruned_total", nil)
	if got := m.GetCounter().GetValue(); got != 5 {
		t.Errorf("sessions_pruned_total = %v, want 5", got)
	}
}

// TestNewCollector_DoubleRegistration_Panics は同じレジストリへの二重登録がpanicすることを検証する。
func TestNewCollector_DoubleRegistration_Panics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewCollector(reg)
}

// TestHandler_ServesMetrics はスクレイプ用ハンドラーがメトリクスを返すことを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordLoginStarted()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "oauthgate_login_started_total") {
		t.Error("response should contain oauthgate_login_started_total metric")
	}
}
