package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Visit outcome labels.
const (
	VisitOutcomeRecorded  = "recorded"
	VisitOutcomeDuplicate = "duplicate"
	VisitOutcomeNotFound  = "not_found"
	VisitOutcomeInvalid   = "invalid"
	VisitOutcomeTransient = "transient"
	VisitOutcomeError     = "error"
)

// MetricsSnapshot is a lightweight aggregate of the collected metrics.
type MetricsSnapshot struct {
	RequestsTotal            uint64            `json:"requestsTotal"`
	AverageRequestDurationMs float64           `json:"averageRequestDurationMs"`
	CacheHits                uint64            `json:"cacheHits"`
	CacheMisses              uint64            `json:"cacheMisses"`
	CacheHitRatio            float64           `json:"cacheHitRatio"`
	VisitOutcomes            map[string]uint64 `json:"visitOutcomes"`
	TxRetries                uint64            `json:"txRetries"`
	Goroutines               int               `json:"goroutines"`
	GeneratedAt              time.Time         `json:"generatedAt"`
}

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	visitOutcomes   *prometheus.CounterVec
	visitDuration   prometheus.Observer
	txRetries       prometheus.Counter

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	txRetryCount         uint64
	outcomeCounts        map[string]*uint64
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
		Name:    "identifier_snapshot_cache_latency_seconds",
		Help:    "Latency of identifier snapshot cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "identifier_snapshot_cache_write_seconds",
		Help:    "Latency of identifier snapshot cache writes",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "identifier_snapshot_cache_hit_ratio",
		Help: "Share of identifier snapshot requests served from cache",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identifier_snapshot_cache_hits_total",
		Help: "Identifier snapshot requests served from cache",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identifier_snapshot_cache_misses_total",
		Help: "Identifier snapshot requests rebuilt from the database",
	})

	visitOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "visit_outcomes_total",
		Help: "RecordVisit calls by outcome",
	}, []string{"outcome"})

	visitDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "visit_record_duration_seconds",
		Help:    "Duration of RecordVisit including transaction retries",
		Buckets: prometheus.DefBuckets,
	})

	txRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "visit_tx_retries_total",
		Help: "RecordVisit transactions retried after a write conflict",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		visitOutcomes, visitDuration, txRetries, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	outcomes := make(map[string]*uint64)
	for _, outcome := range []string{VisitOutcomeRecorded, VisitOutcomeDuplicate, VisitOutcomeNotFound, VisitOutcomeInvalid, VisitOutcomeTransient, VisitOutcomeError} {
		outcomes[outcome] = new(uint64)
	}

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		visitOutcomes:   visitOutcomes,
		visitDuration:   visitDuration,
		txRetries:       txRetries,
		outcomeCounts:   outcomes,
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
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordSnapshotCacheLookup counts one identifier snapshot lookup and updates the hit ratio.
func (m *MetricsService) RecordSnapshotCacheLookup(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveSnapshotCacheWrite tracks identifier snapshot cache writes.
func (m *MetricsService) ObserveSnapshotCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordVisitOutcome counts one finished RecordVisit call.
func (m *MetricsService) RecordVisitOutcome(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.visitOutcomes.WithLabelValues(outcome).Inc()
	m.visitDuration.Observe(duration.Seconds())
	if counter, ok := m.outcomeCounts[outcome]; ok {
		atomic.AddUint64(counter, 1)
	}
}

// RecordTxRetry counts one retried visit transaction.
func (m *MetricsService) RecordTxRetry() {
	if m == nil {
		return
	}
	m.txRetries.Inc()
	atomic.AddUint64(&m.txRetryCount, 1)
}

// Snapshot returns aggregated metrics suitable for the summary endpoint.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	outcomes := make(map[string]uint64, len(m.outcomeCounts))
	for outcome, counter := range m.outcomeCounts {
		outcomes[outcome] = atomic.LoadUint64(counter)
	}

	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		CacheHits:                hits,
		CacheMisses:              misses,
		CacheHitRatio:            cacheRatio,
		VisitOutcomes:            outcomes,
		TxRetries:                atomic.LoadUint64(&m.txRetryCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
