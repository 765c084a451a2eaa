// Package metrics Prometheus 指标，同时实现各组件的观察者接口
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crypto-arbitrage-engine/pkg/common"
)

const namespace = "arbitrage"

// Metrics 指标集合，使用独立 Registry
type Metrics struct {
	Registry *prometheus.Registry

	ticksAccepted *prometheus.CounterVec
	ticksRejected *prometheus.CounterVec
	ticksDropped  *prometheus.CounterVec
	reconnects    *prometheus.CounterVec
	rateLimitWait *prometheus.HistogramVec
	restRequests  *prometheus.CounterVec
	restDuration  *prometheus.HistogramVec
	exchangeState *prometheus.GaugeVec
	cycleDuration prometheus.Histogram
	cyclesSkipped prometheus.Counter
	opportunities *prometheus.GaugeVec
	staleExcluded prometheus.Gauge
}

// New 创建并注册全部指标
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ticksAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ticks", Name: "accepted_total",
			Help: "Ticks applied by the price aggregator.",
		}, []string{"exchange"}),
		ticksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ticks", Name: "rejected_total",
			Help: "Ticks rejected by the price aggregator.",
		}, []string{"exchange", "reason"}),
		ticksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ticks", Name: "dropped_total",
			Help: "Ticks dropped because the aggregator channel was full.",
		}, []string{"exchange"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "reconnects_total",
			Help: "WebSocket reconnects.",
		}, []string{"exchange"}),
		rateLimitWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ratelimit", Name: "wait_seconds",
			Help:    "Time spent waiting for rate limiter tokens.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"exchange", "category"}),
		restRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rest", Name: "requests_total",
			Help: "REST requests by status code.",
		}, []string{"exchange", "endpoint", "status"}),
		restDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "rest", Name: "request_duration_seconds",
			Help:    "REST request latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"exchange"}),
		exchangeState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "exchange", Name: "contributing",
			Help: "1 when the exchange contributes fresh data to detection.",
		}, []string{"exchange"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "detector", Name: "cycle_duration_seconds",
			Help:    "Detection cycle duration.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		cyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "detector", Name: "cycles_skipped_total",
			Help: "Scheduled cycles skipped because the previous one was still running.",
		}),
		opportunities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "detector", Name: "opportunities",
			Help: "Opportunities found in the last cycle.",
		}, []string{"kind"}),
		staleExcluded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "detector", Name: "stale_ticks",
			Help: "Ticks excluded as stale from the last snapshot.",
		}),
	}

	m.Registry.MustRegister(
		m.ticksAccepted, m.ticksRejected, m.ticksDropped, m.reconnects,
		m.rateLimitWait, m.restRequests, m.restDuration, m.exchangeState,
		m.cycleDuration, m.cyclesSkipped, m.opportunities, m.staleExcluded,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// exchange.Observer

func (m *Metrics) RateLimitWait(exchange, category string, waited time.Duration) {
	m.rateLimitWait.WithLabelValues(exchange, category).Observe(waited.Seconds())
}

func (m *Metrics) TickDropped(exchange string) {
	m.ticksDropped.WithLabelValues(exchange).Inc()
}

func (m *Metrics) Reconnect(exchange string) {
	m.reconnects.WithLabelValues(exchange).Inc()
}

func (m *Metrics) RESTRequest(exchange, endpoint string, status int, elapsed time.Duration) {
	m.restRequests.WithLabelValues(exchange, endpoint, strconv.Itoa(status)).Inc()
	m.restDuration.WithLabelValues(exchange).Observe(elapsed.Seconds())
}

// pricestore.Observer

func (m *Metrics) TickAccepted(exchange string) {
	m.ticksAccepted.WithLabelValues(exchange).Inc()
}

func (m *Metrics) TickRejected(exchange, reason string) {
	m.ticksRejected.WithLabelValues(exchange, reason).Inc()
}

// arbitrage.CycleObserver

func (m *Metrics) DetectorCycle(duration time.Duration, counts map[common.OpportunityKind]int, stale int) {
	m.cycleDuration.Observe(duration.Seconds())
	for kind, n := range counts {
		m.opportunities.WithLabelValues(string(kind)).Set(float64(n))
	}
	m.staleExcluded.Set(float64(stale))
}

func (m *Metrics) DetectorSkipped() { m.cyclesSkipped.Inc() }

// SetContributing 状态刷新时更新
func (m *Metrics) SetContributing(exchange string, contributing bool) {
	v := 0.0
	if contributing {
		v = 1
	}
	m.exchangeState.WithLabelValues(exchange).Set(v)
}
