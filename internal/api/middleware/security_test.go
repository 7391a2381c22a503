package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSecurityHeaders(t *testing.T) {
	router := setupTestRouter()
	router.Use(SecurityHeaders())
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/ok", "/missing"} {
		t.Run(path, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
			assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
			assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
		})
	}
}

func TestMetricsMiddleware(t *testing.T) {
	router := setupTestRouter()
	router.Use(MetricsMiddleware())
	router.GET("/app/delivery/v1", func(c *gin.Context) { c.String(http.StatusOK, "hello") })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/app/delivery/v1", "200"))
	unmatchedBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unmatched", "404"))

	for _, path := range []string{"/app/delivery/v1", "/app/delivery/v1", "/nope"} {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, before+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/app/delivery/v1", "200")))
	assert.Equal(t, unmatchedBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}
