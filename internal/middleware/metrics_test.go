package middleware

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-engine/internal/service"
)

func requestLabels(t *testing.T, metrics *service.MetricsService) []map[string]string {
	t.Helper()
	families, err := metrics.Registry().Gather()
	require.NoError(t, err)

	var out []map[string]string
	for _, family := range families {
		if family.GetName() != "http_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			out = append(out, labels)
		}
	}
	return out
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	router := gin.New()
	router.Use(Metrics(metrics))
	router.GET("/generations/:jobId", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(router, http.MethodGet, "/generations/abc", "")
	serve(router, http.MethodGet, "/generations/def", "")
	serve(router, http.MethodGet, "/nowhere", "")

	labels := requestLabels(t, metrics)
	paths := make([]string, 0, len(labels))
	for _, l := range labels {
		paths = append(paths, l["path"])
	}
	assert.ElementsMatch(t, []string{"/generations/:jobId", unmatchedRoute}, paths)
}

func TestMetricsWithoutServicePassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Metrics(nil))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	assert.Equal(t, http.StatusTeapot, serve(router, http.MethodGet, "/", ""))
}
