// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やワーカーから利用する。
type MetricsCollector interface {
	RecordRoleChange(action, outcome string)
	RecordFetchScheduled()
	RecordFetchScheduleFailure(reason string)
	RecordFetchDeduplicated()
	RecordJobResult(result string)
	RecordJobLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordPanic()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	roleChanges      *prometheus.CounterVec
	fetchScheduled   prometheus.Counter
	fetchFail        *prometheus.CounterVec
	fetchDedup       prometheus.Counter
	jobResults       *prometheus.CounterVec
	jobLatency       prometheus.Histogram
	feedHTTPStatuses *prometheus.CounterVec
	panics           prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		roleChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podcastadmin_role_changes_total",
			Help: "権限付与・剥奪の操作数（結果別）",
		}, []string{"action", "outcome"}),
		fetchScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podcastadmin_fetch_scheduled_total",
			Help: "キューに投入されたエピソード取得ジョブの合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podcastadmin_fetch_schedule_failures_total",
			Help: "エピソード取得ジョブの投入失敗数（理由別）",
		}, []string{"reason"}),
		fetchDedup: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podcastadmin_fetch_deduplicated_total",
			Help: "リクエストトークン重複により投入をスキップした数",
		}),
		jobResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podcastadmin_worker_jobs_total",
			Help: "ワーカーが処理したジョブ数（結果別）",
		}, []string{"result"}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "podcastadmin_worker_job_duration_seconds",
			Help:    "ワーカーのジョブ処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		feedHTTPStatuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podcastadmin_feed_http_status_total",
			Help: "フィード取得時のHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podcastadmin_http_panics_total",
			Help: "ハンドラーで回復したpanicの数",
		}),
	}

	reg.MustRegister(
		c.roleChanges,
		c.fetchScheduled,
		c.fetchFail,
		c.fetchDedup,
		c.jobResults,
		c.jobLatency,
		c.feedHTTPStatuses,
		c.panics,
	)

	return c
}

// RecordRoleChange は権限付与・剥奪の結果を記録する。
func (c *Collector) RecordRoleChange(action, outcome string) {
	c.roleChanges.WithLabelValues(action, outcome).Inc()
}

// RecordFetchScheduled はジョブ投入成功を記録する。
func (c *Collector) RecordFetchScheduled() {
	c.fetchScheduled.Inc()
}

// RecordFetchScheduleFailure はジョブ投入失敗を記録する。
func (c *Collector) RecordFetchScheduleFailure(reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

// RecordFetchDeduplicated は重複リクエストによるスキップを記録する。
func (c *Collector) RecordFetchDeduplicated() {
	c.fetchDedup.Inc()
}

// RecordJobResult はワーカーのジョブ処理結果を記録する。
// resultは "processed", "requeued", "dropped" のいずれか。
func (c *Collector) RecordJobResult(result string) {
	c.jobResults.WithLabelValues(result).Inc()
}

// RecordJobLatency はジョブ処理時間を記録する。
func (c *Collector) RecordJobLatency(duration time.Duration) {
	c.jobLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はフィード取得時のHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.feedHTTPStatuses.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordPanic はハンドラーで回復したpanicを記録する。
func (c *Collector) RecordPanic() {
	c.panics.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカープロセスで単独のメトリクスサーバーとして使用する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
