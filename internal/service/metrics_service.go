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

// MetricsService encapsulates Prometheus instrumentation for the auth API.
// A nil *MetricsService is valid and records nothing.
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
	cacheReloads    *prometheus.CounterVec
	logins          *prometheus.CounterVec
	validations     *prometheus.CounterVec
	apiKeyChecks    *prometheus.CounterVec
	rotations       prometheus.Counter
	activeSecrets   prometheus.Gauge
	invalidations   *prometheus.CounterVec

	cacheHitCount  uint64
	cacheMissCount uint64
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

	cacheReloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_cache_reloads_total",
		Help: "Reloads of in-memory directories by cache and result",
	}, []string{"cache", "result"})

	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_login_attempts_total",
		Help: "Login attempts by result",
	}, []string{"result"})

	validations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_token_validations_total",
		Help: "Access token validations by path and result",
	}, []string{"path", "result"})

	apiKeyChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_api_key_checks_total",
		Help: "API key checks by result",
	}, []string{"result"})

	rotations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_secret_rotations_total",
		Help: "Signing secrets generated by the rolling ring",
	})

	activeSecrets := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "auth_active_secrets",
		Help: "Signing secrets currently accepted for verification",
	})

	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_token_invalidations_total",
		Help: "Invalidation marks recorded by scope",
	}, []string{"scope"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		cacheReloads, logins, validations, apiKeyChecks, rotations, activeSecrets, invalidations, goroutines)

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
		cacheReloads:    cacheReloads,
		logins:          logins,
		validations:     validations,
		apiKeyChecks:    apiKeyChecks,
		rotations:       rotations,
		activeSecrets:   activeSecrets,
		invalidations:   invalidations,
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

// Registry returns the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
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
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordCacheReload counts a reload of an in-memory directory.
func (m *MetricsService) RecordCacheReload(cache string, ok bool) {
	if m == nil {
		return
	}
	m.cacheReloads.WithLabelValues(cache, resultLabel(ok)).Inc()
}

// RecordLogin counts a login attempt outcome.
func (m *MetricsService) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

// RecordTokenValidation counts a token validation on the fast or slow path.
func (m *MetricsService) RecordTokenValidation(path, result string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(path, result).Inc()
}

// RecordAPIKeyCheck counts an API key check outcome.
func (m *MetricsService) RecordAPIKeyCheck(result string) {
	if m == nil {
		return
	}
	m.apiKeyChecks.WithLabelValues(result).Inc()
}

// RecordRotation tracks ring size after a rotation.
func (m *MetricsService) RecordRotation(generated bool, active int) {
	if m == nil {
		return
	}
	if generated {
		m.rotations.Inc()
	}
	m.activeSecrets.Set(float64(active))
}

// RecordInvalidation counts an invalidation mark for "session" or "user".
func (m *MetricsService) RecordInvalidation(scope string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(scope).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
