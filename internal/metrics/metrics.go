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
// Blobアダプタ、Catalog、Gate、投稿処理、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordImageUpload(slot string, success bool, duration time.Duration)
	RecordCacheLookup(hit bool)
	RecordGateDecision(state string)
	RecordSubmission(kind, outcome string)
	RecordHTTPStatus(statusCode int)
	RecordSessionsPurged(count int64)
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	imageUploads   *prometheus.CounterVec
	uploadLatency  prometheus.Histogram
	cacheLookups   *prometheus.CounterVec
	gateDecisions  *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	sessionsPurged prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		imageUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "articledesk_image_uploads_total",
			Help: "画像アップロードの合計数（枠・結果別）",
		}, []string{"slot", "result"}),
		uploadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "articledesk_image_upload_seconds",
			Help:    "画像アップロードのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "articledesk_list_cache_lookups_total",
			Help: "記事一覧キャッシュの参照数（hit / miss）",
		}, []string{"result"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "articledesk_gate_decisions_total",
			Help: "Gateの判定結果の合計数",
		}, []string{"state"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "articledesk_submissions_total",
			Help: "記事投稿の合計数（種別・結果別）",
		}, []string{"kind", "outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "articledesk_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "articledesk_sessions_purged_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.imageUploads,
		c.uploadLatency,
		c.cacheLookups,
		c.gateDecisions,
		c.submissions,
		c.httpStatus,
		c.sessionsPurged,
	)

	return c
}

// RecordImageUpload は画像アップロードの結果とレイテンシを記録する。
func (c *Collector) RecordImageUpload(slot string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.imageUploads.WithLabelValues(slot, result).Inc()
	c.uploadLatency.Observe(duration.Seconds())
}

// RecordCacheLookup は一覧キャッシュの参照結果を記録する。
func (c *Collector) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// RecordGateDecision はGateの確定状態を記録する。
func (c *Collector) RecordGateDecision(state string) {
	c.gateDecisions.WithLabelValues(state).Inc()
}

// RecordSubmission は投稿の結果を記録する。
func (c *Collector) RecordSubmission(kind, outcome string) {
	c.submissions.WithLabelValues(kind, outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsPurged は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
