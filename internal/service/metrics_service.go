package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/fix-delete-modules/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec
	symptomsTotal   *prometheus.CounterVec
	stepsTotal      *prometheus.CounterVec
	outcomesTotal   *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
	symptomCount         uint64
	stepFailureCount     uint64
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

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repair_run_cache_hits_total",
		Help: "Repair run lookups served from the cache",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repair_run_cache_misses_total",
		Help: "Repair run lookups that missed the cache",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	symptomsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deletion_symptoms_total",
		Help: "Symptoms found while diagnosing deletion jobs",
	}, []string{"symptom"})

	stepsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "repair_steps_total",
		Help: "Force-complete repair steps by result",
	}, []string{"step", "status"})

	outcomesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "repair_outcomes_total",
		Help: "Repaired deletion jobs by result",
	}, []string{"success"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses, dbQueryDuration, symptomsTotal, stepsTotal, outcomesTotal, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		dbQueryDuration: dbQueryDuration,
		symptomsTotal:   symptomsTotal,
		stepsTotal:      stepsTotal,
		outcomesTotal:   outcomesTotal,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
		return
	}
	m.cacheMisses.Inc()
	atomic.AddUint64(&m.cacheMissCount, 1)
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordSymptom counts a diagnosed symptom.
func (m *MetricsService) RecordSymptom(kind models.SymptomKind) {
	if m == nil {
		return
	}
	m.symptomsTotal.WithLabelValues(string(kind)).Inc()
	atomic.AddUint64(&m.symptomCount, 1)
}

// RecordStep counts a repair step result.
func (m *MetricsService) RecordStep(result models.StepResult) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(string(result.Step), string(result.Status)).Inc()
	if result.Status == models.StepFailed {
		atomic.AddUint64(&m.stepFailureCount, 1)
	}
}

// RecordOutcome counts a finished repair.
func (m *MetricsService) RecordOutcome(outcome *models.Outcome) {
	if m == nil || outcome == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(fmt.Sprintf("%t", outcome.Success)).Inc()
}

// Snapshot returns aggregated metrics for the readiness endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)

	var avgDBMs float64
	if dbCount > 0 {
		avgDBMs = float64(dbDuration) / float64(dbCount) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            atomic.LoadUint64(&m.requestCount),
		CacheHits:                atomic.LoadUint64(&m.cacheHitCount),
		CacheMisses:              atomic.LoadUint64(&m.cacheMissCount),
		DBQueryCount:             dbCount,
		AverageDBQueryDurationMs: avgDBMs,
		SymptomsFound:            atomic.LoadUint64(&m.symptomCount),
		StepFailures:             atomic.LoadUint64(&m.stepFailureCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
