package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/worklog-auth/pkg/config"
)

func TestNewHonoursFormat(t *testing.T) {
	l, err := New(&config.Config{Env: config.EnvProduction, Log: config.LogConfig{Level: "debug", Format: "console"}})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestGinMiddlewareIncludesAnnotations(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(GinMiddleware(zap.New(core)))
	r.GET("/ping", func(c *gin.Context) {
		Annotate(c, zap.Int64("user_id", 42))
		Annotate(c, zap.String("credential", "session"))
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.EqualValues(t, 42, ctx["user_id"])
	assert.Equal(t, "session", ctx["credential"])
	assert.EqualValues(t, http.StatusOK, ctx["status"])
}
