package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP, cache, ledger and sync activity.
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
	dbQueryDuration *prometheus.HistogramVec
	ledgerOps       *prometheus.CounterVec
	badgeUnlocks    *prometheus.CounterVec
	tierFallbacks   *prometheus.CounterVec
	syncBatches     *prometheus.CounterVec
	syncDuration    prometheus.Observer

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	ledgerOpCount        uint64
	unlockCount          uint64
	fallbackCount        uint64
	syncFailureCount     uint64
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

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	ledgerOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lxc_ledger_operations_total",
		Help: "Committed ledger operations by kind",
	}, []string{"op"})

	badgeUnlocks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lxc_badge_unlocks_total",
		Help: "Badges granted by automatic unlock evaluation",
	}, []string{"badge_id"})

	tierFallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lxc_tier_fallbacks_total",
		Help: "Tier lookups that matched no rule and fell back to the first tier",
	}, []string{"bimester"})

	syncBatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lxc_sync_batches_total",
		Help: "Ledger batches replayed against the database by result",
	}, []string{"result"})

	syncDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lxc_sync_batch_duration_seconds",
		Help:    "Time spent applying one ledger batch",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses, dbQueryDuration,
		ledgerOps, badgeUnlocks, tierFallbacks, syncBatches, syncDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

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
		dbQueryDuration: dbQueryDuration,
		ledgerOps:       ledgerOps,
		badgeUnlocks:    badgeUnlocks,
		tierFallbacks:   tierFallbacks,
		syncBatches:     syncBatches,
		syncDuration:    syncDuration,
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

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
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

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordLedgerOperation counts a committed ledger write.
func (m *MetricsService) RecordLedgerOperation(op string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(op).Inc()
	atomic.AddUint64(&m.ledgerOpCount, 1)
}

// RecordBadgeUnlock counts an automatic badge grant.
func (m *MetricsService) RecordBadgeUnlock(badgeID string) {
	if m == nil {
		return
	}
	m.badgeUnlocks.WithLabelValues(badgeID).Inc()
	atomic.AddUint64(&m.unlockCount, 1)
}

// RecordTierFallback counts a tier lookup that matched no rule.
func (m *MetricsService) RecordTierFallback(bimester int) {
	if m == nil {
		return
	}
	m.tierFallbacks.WithLabelValues(fmt.Sprintf("%d", bimester)).Inc()
	atomic.AddUint64(&m.fallbackCount, 1)
}

// ObserveSyncBatch records the result of replaying one ledger batch.
func (m *MetricsService) ObserveSyncBatch(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.syncBatches.WithLabelValues(result).Inc()
	m.syncDuration.Observe(duration.Seconds())
	if result == string(models.SyncFailed) {
		atomic.AddUint64(&m.syncFailureCount, 1)
	}
}

// Snapshot returns aggregated metrics suitable for the status endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
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

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		LedgerOperations:         atomic.LoadUint64(&m.ledgerOpCount),
		BadgeUnlocks:             atomic.LoadUint64(&m.unlockCount),
		TierFallbacks:            atomic.LoadUint64(&m.fallbackCount),
		SyncFailures:             atomic.LoadUint64(&m.syncFailureCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
