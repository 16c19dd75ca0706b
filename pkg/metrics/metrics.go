package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/getmockd/mockproxy/pkg/cache"
	"github.com/getmockd/mockproxy/pkg/engine"
	"github.com/getmockd/mockproxy/pkg/routing"
	"github.com/getmockd/mockproxy/pkg/rule"
)

const namespace = "mockproxy"

// DefaultBuckets are the resolve latency buckets in seconds.
var DefaultBuckets = []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.1, 0.5, 1}

// Metrics holds the proxy collectors.
type Metrics struct {
	registry *prometheus.Registry

	decisions       *prometheus.CounterVec
	resolveDuration prometheus.Histogram
	cacheLookups    *prometheus.CounterVec
	patternTimeouts *prometheus.CounterVec
	tableRules      prometheus.Gauge
	tableEpoch      prometheus.Gauge
	reloads         *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

var _ engine.Observer = (*Metrics)(nil)

// New creates the collectors on a fresh registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Routing decisions by kind and whether a rule matched.",
		}, []string{"decision", "matched"}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving a request to a decision.",
			Buckets:   DefaultBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by outcome.",
		}, []string{"result"}),
		patternTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pattern_timeouts_total",
			Help:      "Pattern evaluations that exceeded their time bound.",
		}, []string{"rule"}),
		tableRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_rules",
			Help:      "Rules in the active table.",
		}),
		tableEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_epoch",
			Help:      "Epoch of the active table.",
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Rule table reloads by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Proxied HTTP requests by method and status.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "End-to-end HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.decisions,
		m.resolveDuration,
		m.cacheLookups,
		m.patternTimeouts,
		m.tableRules,
		m.tableEpoch,
		m.reloads,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WatchCache exports the entry count of c. Call it once per Metrics.
func (m *Metrics) WatchCache(c cache.Cache) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Entries in the result cache, -1 when unknown.",
	}, func() float64 {
		return float64(c.Stats().Entries)
	}))
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// CacheLookup implements engine.Observer.
func (m *Metrics) CacheLookup(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// Decided implements engine.Observer.
func (m *Metrics) Decided(_ *http.Request, d routing.Decision, elapsed time.Duration) {
	m.decisions.WithLabelValues(string(d.Kind()), strconv.FormatBool(routing.Matched(d))).Inc()
	m.resolveDuration.Observe(elapsed.Seconds())
}

// PatternTimeout implements engine.Observer.
func (m *Metrics) PatternTimeout(ruleID string, _ error) {
	m.patternTimeouts.WithLabelValues(ruleID).Inc()
}

// TablePublished implements engine.Observer.
func (m *Metrics) TablePublished(t *rule.Table) {
	m.tableRules.Set(float64(t.Len()))
	m.tableEpoch.Set(float64(t.Epoch()))
	m.reloads.WithLabelValues("success").Inc()
}

// ReloadFailed implements engine.Observer.
func (m *Metrics) ReloadFailed(error) {
	m.reloads.WithLabelValues("failure").Inc()
}

// Middleware records request counts and latency.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			m.httpRequests.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
			m.httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
