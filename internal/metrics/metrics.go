// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// auth.LoginRecorder、middleware.HTTPStatusRecorder、cleanup.Recorder、post.Recorderを満たす。
type Collector struct {
	logins           *prometheus.CounterVec
	exchangeLatency  prometheus.Histogram
	usersProvisioned prometheus.Counter
	httpStatus       *prometheus.CounterVec
	sessionsPurged   prometheus.Counter
	postsWritten     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postboard_login_total",
			Help: "ログイン試行の合計数（方式・結果別）",
		}, []string{"method", "result"}),
		exchangeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "postboard_code_exchange_latency_seconds",
			Help:    "認可コード交換のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		usersProvisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postboard_users_provisioned_total",
			Help: "外部ログインで作成されたユーザーの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postboard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postboard_sessions_purged_total",
			Help: "削除された期限切れセッションの合計数",
		}),
		postsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postboard_posts_written_total",
			Help: "投稿の作成・更新の合計数",
		}, []string{"action"}),
	}

	reg.MustRegister(
		c.logins,
		c.exchangeLatency,
		c.usersProvisioned,
		c.httpStatus,
		c.sessionsPurged,
		c.postsWritten,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(method, result string) {
	c.logins.WithLabelValues(method, result).Inc()
}

// RecordExchangeLatency は認可コード交換のレイテンシを記録する。
func (c *Collector) RecordExchangeLatency(d time.Duration) {
	c.exchangeLatency.Observe(d.Seconds())
}

// RecordUserProvisioned はJITプロビジョニングによるユーザー作成を記録する。
func (c *Collector) RecordUserProvisioned() {
	c.usersProvisioned.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsPurged は削除したセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// RecordPostWritten は投稿の作成（"create"）または更新（"update"）を記録する。
func (c *Collector) RecordPostWritten(action string) {
	c.postsWritten.WithLabelValues(action).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// workerプロセスが単体でメトリクスを公開する際に使用する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
