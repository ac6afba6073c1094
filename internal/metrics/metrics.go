// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/mercadash/internal/model"
)

// Collector はPrometheusメトリクスを収集する実装。
// アップストリームクライアントと収集パイプラインから利用する。
type Collector struct {
	upstreamStatus   *prometheus.CounterVec
	retries          prometheus.Counter
	pipelineRuns     *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	hydrationGap     prometheus.Counter
	unresolvedRefs   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mercadash_upstream_status_total",
			Help: "アップストリームAPIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mercadash_upstream_retry_total",
			Help: "アップストリーム呼び出しのリトライ回数",
		}),
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mercadash_pipeline_runs_total",
			Help: "収集パイプラインの実行数（パイプライン・終端状態別）",
		}, []string{"pipeline", "state"}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mercadash_pipeline_duration_seconds",
			Help:    "収集パイプラインの実行時間（秒）",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"pipeline"}),
		hydrationGap: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mercadash_hydration_gap_total",
			Help: "詳細をハイドレートできなかった出品数の累計",
		}),
		unresolvedRefs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mercadash_unresolved_refs_total",
			Help: "カタログに解決できず集計から除外した出品参照の累計",
		}),
	}

	reg.MustRegister(
		c.upstreamStatus,
		c.retries,
		c.pipelineRuns,
		c.pipelineDuration,
		c.hydrationGap,
		c.unresolvedRefs,
	)

	return c
}

// RecordUpstreamStatus はアップストリームのHTTPステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(statusCode int) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRetry はアップストリーム呼び出しのリトライを記録する。
func (c *Collector) RecordRetry() {
	c.retries.Inc()
}

// RecordPipelineRun はパイプライン実行の終端状態と所要時間を記録する。
func (c *Collector) RecordPipelineRun(pipeline string, state model.RunState, duration time.Duration) {
	c.pipelineRuns.WithLabelValues(pipeline, string(state)).Inc()
	c.pipelineDuration.WithLabelValues(pipeline).Observe(duration.Seconds())
}

// RecordHydrationGap はハイドレーション欠落数を記録する。
func (c *Collector) RecordHydrationGap(gap int) {
	if gap > 0 {
		c.hydrationGap.Add(float64(gap))
	}
}

// RecordUnresolvedRefs は未解決の出品参照数を記録する。
func (c *Collector) RecordUnresolvedRefs(count int) {
	if count > 0 {
		c.unresolvedRefs.Add(float64(count))
	}
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
