package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheLookupOutcome captures the result of a session cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the lookup reused a cached session.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no cached session was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the lookup failed and degraded to a miss.
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a session cache store attempt.
type CacheStoreOutcome string

const (
	// CacheStoreStored indicates the session entry was persisted.
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStoreError indicates the store attempt failed.
	CacheStoreError CacheStoreOutcome = "error"
)

// Recorder publishes Prometheus metrics for forward-auth activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	decisions       *prometheus.CounterVec
	decisionLatency *prometheus.HistogramVec

	sessionFetches  *prometheus.CounterVec
	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authgate",
		Subsystem: "gate",
		Name:      "decisions_total",
		Help:      "Forward-auth decisions returned to the proxy.",
	}, []string{"route", "outcome", "status_code"})

	decisionLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "authgate",
		Subsystem: "gate",
		Name:      "decision_duration_seconds",
		Help:      "Latency distribution for completed forward-auth decisions.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"route", "outcome"})

	sessionFetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authgate",
		Subsystem: "session",
		Name:      "fetches_total",
		Help:      "Session endpoint fetches grouped by result.",
	}, []string{"result"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authgate",
		Subsystem: "session_cache",
		Name:      "operations_total",
		Help:      "Session cache operations executed by the resolver.",
	}, []string{"operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "authgate",
		Subsystem: "session_cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for session cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"operation", "result"})

	reg.MustRegister(decisions, decisionLatency, sessionFetches, cacheOperations, cacheLatency)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		decisions:       decisions,
		decisionLatency: decisionLatency,
		sessionFetches:  sessionFetches,
		cacheOperations: cacheOperations,
		cacheLatency:    cacheLatency,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveDecision records the outcome and latency of a completed
// forward-auth request. The route label is the matched pattern, or
// "unmatched" when the catalogue did not cover the request.
func (r *Recorder) ObserveDecision(route, outcome string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	routeLabel := normalizeLabel(route)
	outcomeLabel := normalizeLabel(outcome)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.decisions.WithLabelValues(routeLabel, outcomeLabel, statusLabel).Inc()
	r.decisionLatency.WithLabelValues(routeLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveSessionFetch records one upstream session endpoint call.
func (r *Recorder) ObserveSessionFetch(result string) {
	if r == nil {
		return
	}
	r.sessionFetches.WithLabelValues(normalizeLabel(result)).Inc()
}

// ObserveSessionCacheLookup records the result of a session cache lookup.
func (r *Recorder) ObserveSessionCacheLookup(result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache("lookup", resultLabel, duration)
}

// ObserveSessionCacheStore records the result of a session cache store
// attempt.
func (r *Recorder) ObserveSessionCacheStore(result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache("store", resultLabel, duration)
}

func (r *Recorder) observeCache(operation, result string, duration time.Duration) {
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(operation, resLabel).Inc()
	r.cacheLatency.WithLabelValues(operation, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
