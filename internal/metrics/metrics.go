package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/stancemap/internal/version"
)

type ServerMetrics struct {
	reg                    *prometheus.Registry
	handler                http.Handler
	inflight               prometheus.Gauge
	reqTotal               *prometheus.CounterVec
	reqDur                 *prometheus.HistogramVec
	respBytes              *prometheus.HistogramVec
	httpPanicTotal         prometheus.Counter
	buildInfo              *prometheus.GaugeVec
	ratelimitDeniedTotal   *prometheus.CounterVec
	ratelimitCapacityTotal prometheus.Counter

	errorsTotal *prometheus.CounterVec

	profilingActive prometheus.Gauge

	// response cache
	cacheHitsTotal      *prometheus.CounterVec
	cacheMissesTotal    *prometheus.CounterVec
	cacheEvictionsTotal *prometheus.CounterVec
	cacheEntries        prometheus.GaugeFunc

	// summarize scheduler
	summarizeRunsTotal    *prometheus.CounterVec
	summarizeDuration     prometheus.Histogram
	summarizeLastSuccessT prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 52428800},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter by action",
		}, []string{"action"}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		cacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total response cache hits by key namespace",
		}, []string{"namespace"}),
		cacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total response cache misses by key namespace, including stale reads",
		}, []string{"namespace"}),
		cacheEvictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total response cache entries removed by reason",
		}, []string{"reason"}),
		summarizeRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "summarize_runs_total",
			Help: "Total scheduled room summarizations by result",
		}, []string{"result"}),
		summarizeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "summarize_duration_seconds",
			Help:    "Time to summarize one room, including the model call",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		summarizeLastSuccessT: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "summarize_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last scheduler tick where every room succeeded",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.errorsTotal,
		m.profilingActive,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.cacheEvictionsTotal,
		m.summarizeRunsTotal,
		m.summarizeDuration,
		m.summarizeLastSuccessT,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied(action string) {
	m.ratelimitDeniedTotal.WithLabelValues(action).Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// namespace should come from cache.Namespace, never the full key
func (m *ServerMetrics) IncCacheHit(namespace string) {
	m.cacheHitsTotal.WithLabelValues(namespace).Inc()
}

func (m *ServerMetrics) IncCacheMiss(namespace string) {
	m.cacheMissesTotal.WithLabelValues(namespace).Inc()
}

func (m *ServerMetrics) AddCacheEvictions(reason string, n int) {
	if n <= 0 {
		return
	}
	m.cacheEvictionsTotal.WithLabelValues(reason).Add(float64(n))
}

// RegisterCacheEntries exposes the live entry count, read at scrape time.
// Calling it more than once is a no-op.
func (m *ServerMetrics) RegisterCacheEntries(count func() int) {
	if m.cacheEntries != nil {
		return
	}
	m.cacheEntries = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cache_entries",
		Help: "Current number of entries in the response cache, expired entries included until swept",
	}, func() float64 { return float64(count()) })
	m.reg.MustRegister(m.cacheEntries)
}

func (m *ServerMetrics) IncSummarizeRun(result string) {
	m.summarizeRunsTotal.WithLabelValues(result).Inc()
}

func (m *ServerMetrics) ObserveSummarizeDuration(seconds float64) {
	m.summarizeDuration.Observe(seconds)
}

func (m *ServerMetrics) SetSummarizeLastSuccess(unixSeconds float64) {
	m.summarizeLastSuccessT.Set(unixSeconds)
}
