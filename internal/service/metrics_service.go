package service

import (
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/jobs"
)

// eventRecorder is the sink services report domain events to.
type eventRecorder interface {
	RecordEvent(name string)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvent(string) {}

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	startedAt       time.Time
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	domainEvents    *prometheus.CounterVec
	jobResults      *prometheus.CounterVec

	cacheHitCount  uint64
	cacheMissCount uint64
	requestCount   uint64
	errorCount     uint64
	// latencyBuckets mirrors the request histogram so snapshots can
	// estimate percentiles without scraping the registry.
	latencyBuckets []uint64

	mu     sync.Mutex
	events map[string]int64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	domainEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "domain_events_total",
		Help: "Domain events emitted by the appointment, availability and message services",
	}, []string{"event"})

	jobResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "background_jobs_total",
		Help: "Background jobs by type and outcome",
	}, []string{"type", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses, domainEvents, jobResults, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		startedAt:       time.Now(),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		domainEvents:    domainEvents,
		jobResults:      jobResults,
		latencyBuckets:  make([]uint64, len(prometheus.DefBuckets)+1),
		events:          make(map[string]int64),
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	if status >= http.StatusInternalServerError {
		atomic.AddUint64(&m.errorCount, 1)
	}
	idx := sort.SearchFloat64s(prometheus.DefBuckets, duration.Seconds())
	atomic.AddUint64(&m.latencyBuckets[idx], 1)
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	if ratio, ok := m.hitRatio(); ok {
		m.cacheHitRatio.Set(ratio)
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordEvent counts a named domain event such as "appointment.booked".
func (m *MetricsService) RecordEvent(name string) {
	if m == nil || name == "" {
		return
	}
	m.domainEvents.WithLabelValues(name).Inc()
	m.mu.Lock()
	m.events[name]++
	m.mu.Unlock()
}

// RecordJobResult is a jobs.ResultHook counting finished background jobs.
func (m *MetricsService) RecordJobResult(job jobs.Job, err error) {
	if m == nil {
		return
	}
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	m.jobResults.WithLabelValues(job.Type, outcome).Inc()
}

func (m *MetricsService) hitRatio() (float64, bool) {
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if hits+misses == 0 {
		return 0, false
	}
	return float64(hits) / float64(hits+misses), true
}

// p95 returns the upper bound of the bucket holding the 95th percentile
// request, in milliseconds. Requests slower than the last bucket report the
// last bound.
func (m *MetricsService) p95() float64 {
	counts := make([]uint64, len(m.latencyBuckets))
	var total uint64
	for i := range m.latencyBuckets {
		counts[i] = atomic.LoadUint64(&m.latencyBuckets[i])
		total += counts[i]
	}
	if total == 0 {
		return 0
	}
	target := uint64(float64(total)*0.95 + 0.5)
	if target == 0 {
		target = 1
	}
	var seen uint64
	bounds := prometheus.DefBuckets
	for i, c := range counts {
		seen += c
		if seen >= target {
			if i >= len(bounds) {
				i = len(bounds) - 1
			}
			return bounds[i] * 1000
		}
	}
	return bounds[len(bounds)-1] * 1000
}

// Snapshot returns aggregated metrics for the admin metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{GeneratedAt: time.Now().UTC(), DomainEvents: map[string]int64{}}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	errs := atomic.LoadUint64(&m.errorCount)

	var errorRate float64
	if requests > 0 {
		errorRate = float64(errs) / float64(requests)
	}
	ratio, _ := m.hitRatio()

	m.mu.Lock()
	events := make(map[string]int64, len(m.events))
	for k, v := range m.events {
		events[k] = v
	}
	m.mu.Unlock()

	return models.SystemMetrics{
		GeneratedAt:   time.Now().UTC(),
		Uptime:        time.Since(m.startedAt).Round(time.Second).String(),
		TotalRequests: float64(requests),
		ErrorRequests: float64(errs),
		ErrorRate:     errorRate,
		P95LatencyMS:  m.p95(),
		CacheHitRatio: ratio,
		DomainEvents:  events,
	}
}
