package router

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"classifieds-messaging/backend/pkg/config"
	"classifieds-messaging/backend/pkg/di"
	"classifieds-messaging/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dbSeq atomic.Int64

func newTestRouter(t *testing.T, mutate func(*config.Config)) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_SQLITE_PATH", fmt.Sprintf("file:routertest%d?mode=memory&cache=shared", dbSeq.Add(1)))
	t.Setenv("QUOTA_BACKEND", "memory")
	t.Setenv("JWT_SECRET", "router-test-secret")
	cfg := config.Load()
	if mutate != nil {
		mutate(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c, err := di.New(ctx, cfg, logger.Nop())
	require.NoError(t, err)
	c.Health.RunChecks(ctx)

	r := New(c)
	require.NoError(t, r.SetupRoutes())
	t.Cleanup(func() {
		r.Close()
		c.Close()
		cancel()
	})
	return r
}

func (r *Router) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t, nil)

	w := r.serve(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database"`)

	w = r.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dm_http_requests_total")
}

func TestAPIRequiresToken(t *testing.T) {
	r := newTestRouter(t, nil)

	w := r.serve(httptest.NewRequest(http.MethodGet, "/api/v1/quota", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	token, err := r.Container.JWTService.GenerateToken("alice")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/quota", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = r.serve(req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"limit":25,"used":0,"remaining":25,"premium":false}`, w.Body.String())
}

func TestOpenAPIValidation(t *testing.T) {
	r := newTestRouter(t, func(cfg *config.Config) {
		cfg.OpenAPISchemaPath = "../../api/openapi.yaml"
	})

	token, err := r.Container.JWTService.GenerateToken("alice")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(`{"body":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	w := r.serve(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_input")

	w = r.serve(httptest.NewRequest(http.MethodGet, "/api/docs/openapi.yaml", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(t, func(cfg *config.Config) {
		cfg.Security.AllowedOrigins = []string{"https://classifieds.example"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/messages", nil)
	req.Header.Set("Origin", "https://classifieds.example")
	w := r.serve(req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://classifieds.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/messages", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = r.serve(req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
