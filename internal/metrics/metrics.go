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
// 同期エンジンとワーカーから利用する。
type MetricsCollector interface {
	RecordSyncSuccess()
	RecordSyncFailure(reason string)
	RecordSeriesSynced()
	RecordSeriesSkippedFresh()
	RecordEpisodesUpserted(count int)
	RecordEpisodesDropped(count int)
	RecordUpstreamStatus(statusCode int)
	RecordUpstreamLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncSuccess        prometheus.Counter
	syncFail           *prometheus.CounterVec
	seriesSynced       prometheus.Counter
	seriesSkippedFresh prometheus.Counter
	episodesUpserted   prometheus.Counter
	episodesDropped    prometheus.Counter
	upstreamStatus     *prometheus.CounterVec
	upstreamLatency    prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvcal_sync_success_total",
			Help: "ユーザー同期成功の合計数",
		}),
		syncFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tvcal_sync_fail_total",
			Help: "理由別のユーザー同期失敗数",
		}, []string{"reason"}),
		seriesSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvcal_series_synced_total",
			Help: "エピソードまで更新されたシリーズの合計数",
		}),
		seriesSkippedFresh: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvcal_series_skipped_fresh_total",
			Help: "鮮度ウィンドウ内のためスキップしたシリーズの合計数",
		}),
		episodesUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvcal_episodes_upserted_total",
			Help: "アップサートされたエピソードの合計数",
		}),
		episodesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvcal_episodes_dropped_total",
			Help: "必須フィールド欠落で除外したエピソードの合計数",
		}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tvcal_upstream_status_total",
			Help: "上流APIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tvcal_upstream_latency_seconds",
			Help:    "上流API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.syncSuccess,
		c.syncFail,
		c.seriesSynced,
		c.seriesSkippedFresh,
		c.episodesUpserted,
		c.episodesDropped,
		c.upstreamStatus,
		c.upstreamLatency,
	)

	return c
}

// RecordSyncSuccess はユーザー同期の成功を記録する。
func (c *Collector) RecordSyncSuccess() {
	c.syncSuccess.Inc()
}

// RecordSyncFailure はユーザー同期の失敗を理由付きで記録する。
func (c *Collector) RecordSyncFailure(reason string) {
	c.syncFail.WithLabelValues(reason).Inc()
}

// RecordSeriesSynced はエピソードまで更新したシリーズを記録する。
func (c *Collector) RecordSeriesSynced() {
	c.seriesSynced.Inc()
}

// RecordSeriesSkippedFresh は鮮度ウィンドウ内でスキップしたシリーズを記録する。
func (c *Collector) RecordSeriesSkippedFresh() {
	c.seriesSkippedFresh.Inc()
}

// RecordEpisodesUpserted はアップサートしたエピソード数を記録する。
func (c *Collector) RecordEpisodesUpserted(count int) {
	c.episodesUpserted.Add(float64(count))
}

// RecordEpisodesDropped は必須フィールド欠落で除外したエピソード数を記録する。
func (c *Collector) RecordEpisodesDropped(count int) {
	c.episodesDropped.Add(float64(count))
}

// RecordUpstreamStatus は上流APIのHTTPステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(statusCode int) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordUpstreamLatency は上流API呼び出しのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(duration time.Duration) {
	c.upstreamLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
