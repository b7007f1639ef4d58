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
// ゲートウェイ、セッション、ダッシュボードから利用する。
type MetricsCollector interface {
	RecordBackendCall(operation string, statusCode int)
	RecordBackendLatency(operation string, duration time.Duration)
	RecordRefresh(success bool)
	RecordSessionTransition(state string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	backendRequests *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
	refreshes       *prometheus.CounterVec
	transitions     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dentalfront_backend_requests_total",
			Help: "バックエンド呼び出しの操作・ステータスコード別の合計数（通信失敗は0）",
		}, []string{"operation", "status_code"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dentalfront_backend_request_duration_seconds",
			Help:    "バックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dentalfront_dashboard_refresh_total",
			Help: "ダッシュボード再取得の結果別の合計数",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dentalfront_session_transitions_total",
			Help: "セッション状態遷移の遷移先別の合計数",
		}, []string{"state"}),
	}

	reg.MustRegister(
		c.backendRequests,
		c.backendLatency,
		c.refreshes,
		c.transitions,
	)

	return c
}

// RecordBackendCall はバックエンド呼び出しの結果を記録する。
func (c *Collector) RecordBackendCall(operation string, statusCode int) {
	c.backendRequests.WithLabelValues(operation, strconv.Itoa(statusCode)).Inc()
}

// RecordBackendLatency はバックエンド呼び出しのレイテンシを記録する。
func (c *Collector) RecordBackendLatency(operation string, duration time.Duration) {
	c.backendLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRefresh はダッシュボード再取得の成否を記録する。
func (c *Collector) RecordRefresh(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.refreshes.WithLabelValues(result).Inc()
}

// RecordSessionTransition はセッションの遷移先状態を記録する。
func (c *Collector) RecordSessionTransition(state string) {
	c.transitions.WithLabelValues(state).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordBackendCall(string, int) {}
func (Nop) RecordBackendLatency(string, time.Duration) {}
func (Nop) RecordRefresh(bool) {}
func (Nop) RecordSessionTransition(string) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
