// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス記録のインターフェース。
// セッション、決済、APIクライアント、ニュース取得から利用する。
type Recorder interface {
	RecordTokenExchange(outcome string)
	RecordPaymentConfirmation(outcome string)
	RecordCheckoutStart(outcome string)
	RecordUpstreamCall(endpoint string, statusCode int, duration time.Duration)
	RecordBreakerState(name string, state int)
	RecordNewsRefresh(success bool, items int)
	RecordHTTPRequest(method string, statusCode int, duration time.Duration)
}

// トークン交換の結果ラベル
const (
	ExchangeSuccess = "success"
	ExchangeFailure = "failure"
	ExchangeStale   = "stale"
)

// 決済確認の結果ラベル
const (
	ConfirmConfirmed = "confirmed"
	ConfirmFailed    = "failed"
	ConfirmDuplicate = "duplicate"
	ConfirmCanceled  = "canceled"
)

// チェックアウト開始の結果ラベル
const (
	CheckoutStarted      = "started"
	CheckoutBelowMinimum = "below_minimum"
	CheckoutLatched      = "latched"
	CheckoutFailed       = "failed"
	CheckoutInvalidURL   = "invalid_url"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	tokenExchanges  *prometheus.CounterVec
	confirmations   *prometheus.CounterVec
	checkoutStarts  *prometheus.CounterVec
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec
	newsRefreshes   *prometheus.CounterVec
	newsItems       prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpLatency     prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokenExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_token_exchanges_total",
			Help: "セッショントークン交換の結果別件数（staleは破棄された古い結果）",
		}, []string{"outcome"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_payment_confirmations_total",
			Help: "決済確認の結果別件数",
		}, []string{"outcome"}),
		checkoutStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_checkout_starts_total",
			Help: "チェックアウト開始の結果別件数",
		}, []string{"outcome"}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_upstream_requests_total",
			Help: "リモートAPI呼び出しのエンドポイント・ステータス別件数",
		}, []string{"endpoint", "status_code"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bloodlink_upstream_latency_seconds",
			Help:    "リモートAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bloodlink_circuit_breaker_state",
			Help: "サーキットブレーカーの状態（0=closed, 1=half-open, 2=open）",
		}, []string{"name"}),
		newsRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_news_refreshes_total",
			Help: "ニュースフィード更新の結果別件数",
		}, []string{"outcome"}),
		newsItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bloodlink_news_items",
			Help: "キャッシュ中のニュース記事数",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bloodlink_http_requests_total",
			Help: "HTTPリクエストのメソッド・ステータス別件数",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bloodlink_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.tokenExchanges,
		c.confirmations,
		c.checkoutStarts,
		c.upstreamCalls,
		c.upstreamLatency,
		c.breakerState,
		c.newsRefreshes,
		c.newsItems,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

// RecordTokenExchange はトークン交換の結果を記録する。
func (c *Collector) RecordTokenExchange(outcome string) {
	c.tokenExchanges.WithLabelValues(outcome).Inc()
}

// RecordPaymentConfirmation は決済確認の結果を記録する。
func (c *Collector) RecordPaymentConfirmation(outcome string) {
	c.confirmations.WithLabelValues(outcome).Inc()
}

// RecordCheckoutStart はチェックアウト開始の結果を記録する。
func (c *Collector) RecordCheckoutStart(outcome string) {
	c.checkoutStarts.WithLabelValues(outcome).Inc()
}

// RecordUpstreamCall はリモートAPI呼び出しを記録する。
// 通信エラーでステータスが得られない場合は0を渡す。
func (c *Collector) RecordUpstreamCall(endpoint string, statusCode int, duration time.Duration) {
	c.upstreamCalls.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	c.upstreamLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordBreakerState はサーキットブレーカーの状態を記録する。
func (c *Collector) RecordBreakerState(name string, state int) {
	c.breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordNewsRefresh はニュースフィード更新の結果を記録する。
func (c *Collector) RecordNewsRefresh(success bool, items int) {
	if !success {
		c.newsRefreshes.WithLabelValues("failure").Inc()
		return
	}
	c.newsRefreshes.WithLabelValues("success").Inc()
	c.newsItems.Set(float64(items))
}

// RecordHTTPRequest はHTTPリクエストを記録する。
func (c *Collector) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないRecorder。メトリクス不要のテストやツールで使う。
type Nop struct{}

func (Nop) RecordTokenExchange(string)                    {}
func (Nop) RecordPaymentConfirmation(string)              {}
func (Nop) RecordCheckoutStart(string)                    {}
func (Nop) RecordUpstreamCall(string, int, time.Duration) {}
func (Nop) RecordBreakerState(string, int)                {}
func (Nop) RecordNewsRefresh(bool, int)                   {}
func (Nop) RecordHTTPRequest(string, int, time.Duration)  {}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
