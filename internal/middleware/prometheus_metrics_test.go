package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/zfogg/orbit/internal/metrics"
)

func TestMetricsMiddleware_StatusCodesAreNumeric(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(MetricsMiddleware(m))

	router.GET("/friend-messages/:id/read-status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"read": true})
	})
	router.GET("/boom", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})

	for _, path := range []string{"/friend-messages/a/read-status", "/friend-messages/b/read-status", "/boom", "/missing"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("GET", "/friend-messages/:id/read-status", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("GET", "/boom", "500")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, float64(0), testutil.ToFloat64(
		m.HTTPActiveConnections.WithLabelValues("GET", "/boom")))
}
