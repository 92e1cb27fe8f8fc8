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

func TestMetricsServiceGenerationLifecycle(t *testing.T) {
	metrics := NewMetricsService()

	metrics.GenerationStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runningJobs))

	metrics.RecordMove("swap_lessons", "accepted")
	metrics.RecordMove("swap_lessons", "rolled_back")
	metrics.RecordMove("swap_lessons", "accepted")
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.movesTotal.WithLabelValues("swap_lessons", "accepted")))

	metrics.SetBestScore("job-1", -1200)
	assert.Equal(t, -1200.0, testutil.ToFloat64(metrics.bestScore.WithLabelValues("job-1")))

	metrics.GenerationFinished("job-1", "local_search", "completed", 3*time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.runningJobs))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.generationsTotal.WithLabelValues("local_search", "completed")))
	assert.Equal(t, 0, testutil.CollectAndCount(metrics.bestScore))
}

func TestMetricsServiceCacheHitRatio(t *testing.T) {
	metrics := NewMetricsService()

	metrics.RecordCacheOperation(true, time.Millisecond)
	metrics.RecordCacheOperation(false, time.Millisecond)
	metrics.RecordCacheOperation(true, time.Millisecond)
	metrics.RecordCacheOperation(true, time.Millisecond)

	assert.Equal(t, 0.75, testutil.ToFloat64(metrics.cacheHitRatio))
}

func TestMetricsServiceServesRegistry(t *testing.T) {
	metrics := NewMetricsService()
	metrics.ObserveHTTPRequest(http.MethodGet, "/api/v1/schedules", http.StatusOK, 20*time.Millisecond)
	metrics.ObserveDBQuery("replace_active", 5*time.Millisecond)

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	assert.True(t, names["http_requests_total"])
	assert.True(t, names["db_query_duration_seconds"])

	w := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestMetricsServiceNilIsSafe(t *testing.T) {
	var metrics *MetricsService
	metrics.GenerationStarted()
	metrics.RecordMove("swap_lessons", "accepted")
	metrics.SetBestScore("job", 1)
	metrics.GenerationFinished("job", "local_search", "failed", time.Second)
	assert.Nil(t, metrics.Registry())

	w := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
