package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSystemRouter(h *SystemHandler) *gin.Engine {
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/system/info", h.GetSystemInfo)
	return r
}

func TestSystemHandler_Health(t *testing.T) {
	ok := func(context.Context) error { return nil }

	t.Run("healthy", func(t *testing.T) {
		h := NewSystemHandler("hms-billing", "1.0.0", map[string]HealthCheck{"database": ok, "redis": ok})
		w := serve(setupSystemRouter(h), http.MethodGet, "/health", "")

		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeResponse(t, w)
		assert.True(t, resp.Success)
		data, isMap := resp.Data.(map[string]any)
		require.True(t, isMap)
		assert.Equal(t, "healthy", data["status"])
		assert.Equal(t, map[string]any{"database": "ok", "redis": "ok"}, data["dependencies"])
	})

	t.Run("dependency down", func(t *testing.T) {
		h := NewSystemHandler("hms-billing", "1.0.0", map[string]HealthCheck{
			"database": ok,
			"redis":    func(context.Context) error { return errors.New("dial tcp: connection refused") },
		})
		w := serve(setupSystemRouter(h), http.MethodGet, "/health", "")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		resp := decodeResponse(t, w)
		assert.False(t, resp.Success)
		data := resp.Data.(map[string]any)
		assert.Equal(t, "unhealthy", data["status"])
		assert.NotContains(t, w.Body.String(), "connection refused")
	})

	t.Run("no checks", func(t *testing.T) {
		h := NewSystemHandler("hms-billing", "1.0.0", nil)
		w := serve(setupSystemRouter(h), http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestSystemHandler_GetSystemInfo(t *testing.T) {
	h := NewSystemHandler("hms-billing", "1.2.3", nil)
	w := serve(setupSystemRouter(h), http.MethodGet, "/system/info", "")

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeResponse(t, w).Data.(map[string]any)
	assert.Equal(t, "hms-billing", data["name"])
	assert.Equal(t, "1.2.3", data["version"])
	assert.NotEmpty(t, data["go_version"])
}
