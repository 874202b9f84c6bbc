package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は収集結果から指定名のメトリクスファミリーを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labelValue は指定ラベルの値を返す。
func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordRoleChange_CountsByActionAndOutcome は権限変更カウンタがラベル別に増加することを検証する。
func TestRecordRoleChange_CountsByActionAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRoleChange("grant", "granted")
	c.RecordRoleChange("grant", "granted")
	c.RecordRoleChange("revoke", "not_found")

	mf := findMetric(t, reg, "podcastadmin_role_changes_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		action := labelValue(m, "action")
		outcome := labelValue(m, "outcome")
		val := m.GetCounter().GetValue()
		switch {
		case action == "grant" && outcome == "granted":
			if val != 2 {
				t.Errorf("role_changes_total{grant,granted} = %v, want 2", val)
			}
		case action == "revoke" && outcome == "not_found":
			if val != 1 {
				t.Errorf("role_changes_total{revoke,not_found} = %v, want 1", val)
			}
		default:
			t.Errorf("unexpected labels: action=%s outcome=%s", action, outcome)
		}
	}
}

// TestRecordFetchScheduled_IncrementsCounter はジョブ投入カウンタが増加することを検証する。
func TestRecordFetchScheduled_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchScheduled()
	c.RecordFetchScheduled()

	mf := findMetric(t, reg, "podcastadmin_fetch_scheduled_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 2 {
		t.Errorf("fetch_scheduled_total = %v, want 2", val)
	}
}

// TestRecordFetchScheduleFailure_IncrementsCounterWithReason は投入失敗カウンタが理由別に増加することを検証する。
func TestRecordFetchScheduleFailure_IncrementsCounterWithReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchScheduleFailure("queue")

	mf := findMetric(t, reg, "podcastadmin_fetch_schedule_failures_total")
	m := mf.GetMetric()[0]
	if labelValue(m, "reason") != "queue" {
		t.Errorf("reason = %q, want %q", labelValue(m, "reason"), "queue")
	}
	if val := m.GetCounter().GetValue(); val != 1 {
		t.Errorf("fetch_schedule_failures_total = %v, want 1", val)
	}
}

// TestRecordFetchDeduplicated_IncrementsCounter は重複スキップカウンタが増加することを検証する。
func TestRecordFetchDeduplicated_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchDeduplicated()

	mf := findMetric(t, reg, "podcastadmin_fetch_deduplicated_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 1 {
		t.Errorf("fetch_deduplicated_total = %v, want 1", val)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(404)

	mf := findMetric(t, reg, "podcastadmin_feed_http_status_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		label := labelValue(m, "status_code")
		val := m.GetCounter().GetValue()
		switch label {
		case "200":
			if val != 2 {
				t.Errorf("feed_http_status_total{status_code=200} = %v, want 2", val)
			}
		case "404":
			if val != 1 {
				t.Errorf("feed_http_status_total{status_code=404} = %v, want 1", val)
			}
		default:
			t.Errorf("unexpected label value: %s", label)
		}
	}
}

func TestRecordPanic_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPanic()

	mf := findMetric(t, reg, "podcastadmin_http_panics_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 1 {
		t.Errorf("http_panics_total = %v, want 1", val)
	}
}

// TestRecordJobLatency_ObservesHistogram はジョブ処理時間のヒストグラムに値が記録されることを検証する。
func TestRecordJobLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordJobLatency(100 * time.Millisecond)
	c.RecordJobLatency(2 * time.Second)

	mf := findMetric(t, reg, "podcastadmin_worker_job_duration_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は0.1 + 2.0 = 2.1秒
	if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRoleChange("grant", "granted")
	c.RecordFetchScheduled()
	c.RecordFetchScheduleFailure("queue")
	c.RecordJobResult("processed")
	c.RecordJobLatency(500 * time.Millisecond)

	handler := SetupMetricsRoute(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"podcastadmin_role_changes_total",
		"podcastadmin_fetch_scheduled_total",
		"podcastadmin_fetch_schedule_failures_total",
		"podcastadmin_worker_jobs_total",
		"podcastadmin_worker_job_duration_seconds",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordJobResult("processed")
	c2.RecordJobResult("processed")
	c2.RecordJobResult("processed")

	val1 := findMetric(t, reg1, "podcastadmin_worker_jobs_total").GetMetric()[0].GetCounter().GetValue()
	val2 := findMetric(t, reg2, "podcastadmin_worker_jobs_total").GetMetric()[0].GetCounter().GetValue()

	if val1 != 1 {
		t.Errorf("reg1 worker_jobs = %v, want 1", val1)
	}
	if val2 != 2 {
		t.Errorf("reg2 worker_jobs = %v, want 2", val2)
	}
}
