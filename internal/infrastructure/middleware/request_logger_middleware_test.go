package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"reelcast/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLoggerMiddleware_LogsStreamFromContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	router := gin.New()
	router.Use(RequestLoggerMiddleware(logger.NewContextLogger(zap.New(core))))
	router.POST("/api/v1/join", func(c *gin.Context) {
		c.Request = c.Request.WithContext(logger.WithStreamID(c.Request.Context(), "s1"))
		c.Status(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/join", nil))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "s1", fields["stream_id"])
	assert.Equal(t, "/api/v1/join", fields["path"])
	assert.Equal(t, int64(http.StatusAccepted), fields["status_code"])
	assert.NotContains(t, fields, "trace_id", "no span without tracing")
}
