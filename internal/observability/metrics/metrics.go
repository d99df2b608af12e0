// Package metrics 汇总历史缓存、任务轮询与 HTTP 层的 Prometheus 指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 持有所有指标。每个实例绑定一个 Registerer，测试可使用独立注册表。
type Metrics struct {
	gatherer prometheus.Gatherer

	cacheLoads         *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	cacheWrites        prometheus.Counter
	cacheEntries       prometheus.Gauge
	fetches            *prometheus.CounterVec
	fetchDuration      *prometheus.HistogramVec
	diffs              *prometheus.CounterVec
	pollOutcomes       *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New 在 reg 上注册全部指标。reg 为 nil 时创建私有注册表。
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		cacheLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "genconsole_history_loads_total",
			Help: "History loads by source (fresh, stale, fetched, forced).",
		}, []string{"source"}),
		cacheInvalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "genconsole_history_cache_invalidations_total",
			Help: "Cache clears by reason.",
		}, []string{"reason"}),
		cacheWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "genconsole_history_cache_writes_total",
			Help: "Accepted cache overwrites.",
		}),
		cacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "genconsole_history_cache_entries",
			Help: "Entries held by the last cache write.",
		}),
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "genconsole_history_fetches_total",
			Help: "Upstream history fetches by mode and result.",
		}, []string{"mode", "result"}),
		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "genconsole_history_fetch_duration_seconds",
			Help:    "Upstream history fetch latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"mode"}),
		diffs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "genconsole_history_sync_total",
			Help: "Sync outcomes (incremental or full).",
		}, []string{"kind"}),
		pollOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "genconsole_poll_outcomes_total",
			Help: "Task polling terminal outcomes by profile.",
		}, []string{"profile", "outcome"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "genconsole_http_requests_total",
			Help: "HTTP requests by handler, method and status code.",
		}, []string{"handler", "method", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "genconsole_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"handler", "method"}),
	}
}

// Gatherer 暴露底层注册表，供 /metrics 使用。
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.gatherer
}

// ObserveLoad 记录一次 SmartLoad 的数据来源。
func (m *Metrics) ObserveLoad(source string) {
	if m == nil {
		return
	}
	m.cacheLoads.WithLabelValues(source).Inc()
}

// ObserveFetch 记录一次上游拉取。
func (m *Metrics) ObserveFetch(mode string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetches.WithLabelValues(mode, result).Inc()
	m.fetchDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveWrite 记录一次缓存覆盖写。
func (m *Metrics) ObserveWrite(entries int) {
	if m == nil {
		return
	}
	m.cacheWrites.Inc()
	m.cacheEntries.Set(float64(entries))
}

// ObserveInvalidation 记录一次缓存清理。
func (m *Metrics) ObserveInvalidation(reason string) {
	if m == nil {
		return
	}
	m.cacheInvalidations.WithLabelValues(reason).Inc()
	m.cacheEntries.Set(0)
}

// ObserveSync 记录增量同步结果。
func (m *Metrics) ObserveSync(incremental bool) {
	if m == nil {
		return
	}
	kind := "full"
	if incremental {
		kind = "incremental"
	}
	m.diffs.WithLabelValues(kind).Inc()
}

// ObservePoll 记录轮询终态。
func (m *Metrics) ObservePoll(profile, outcome string) {
	if m == nil {
		return
	}
	m.pollOutcomes.WithLabelValues(profile, outcome).Inc()
}
