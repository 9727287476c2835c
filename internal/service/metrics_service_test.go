package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceCounters(t *testing.T) {
	m := NewMetricsService()

	m.RecordLogin("success")
	m.RecordLogin("success")
	m.RecordLogin("cooldown")
	m.RecordTokenValidation("slow", "refreshed")
	m.RecordAPIKeyCheck("invalid")
	m.RecordRotation(true, 2)
	m.RecordInvalidation("user")
	m.RecordCacheReload("roles", false)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.logins.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("cooldown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.validations.WithLabelValues("slow", "refreshed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.apiKeyChecks.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rotations))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.activeSecrets))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invalidations.WithLabelValues("user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheReloads.WithLabelValues("roles", "error")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.cacheHitRatio))
}

func TestMetricsServiceHandler(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodPost, "/auth/login", http.StatusOK, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="POST",path="/auth/login",status="200"} 1`)
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	m.RecordLogin("success")
	m.RecordRotation(true, 1)
	m.ObserveHTTPRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
