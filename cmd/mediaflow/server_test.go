package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/config"
	"github.com/BaSui01/mediaflow/internal/metrics"
	"github.com/BaSui01/mediaflow/task"
)

func newTestServer(t *testing.T, cfg *config.Config) (*Server, http.Handler) {
	t.Helper()
	s := NewServer(cfg, zap.NewNop(), nil)
	s.collector = metrics.NewCollectorWith(prometheus.NewRegistry(), "srvtest", zap.NewNop())
	require.NoError(t, s.initComponents(context.Background()))
	h := s.routes()
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s, h
}

func TestServer_ProvidersRegistered(t *testing.T) {
	_, h := newTestServer(t, config.DefaultConfig())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []task.ProviderInfo `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	names := make([]string, 0, len(resp.Data))
	for _, p := range resp.Data {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"bfl", "runway", "tripo", "volc_visual", "fal", "ark", "google_search", "openai", "gemini"}, names)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServer_HealthRoutes(t *testing.T) {
	_, h := newTestServer(t, config.DefaultConfig())

	for _, path := range []string{"/health", "/healthz", "/ready", "/version"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestServer_UnconfiguredProvider(t *testing.T) {
	_, h := newTestServer(t, config.DefaultConfig())

	r := httptest.NewRequest(http.MethodPost, "/api/v1/providers/bfl/generate", strings.NewReader(`{"payload":{"prompt":"p"}}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"CONFIGURATION"`)
}

func TestServer_RedisReadiness(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	s, h := newTestServer(t, cfg)
	require.NotNil(t, s.cache)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"redis"`)

	mr.Close()
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_RedisUnavailableDegrades(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	s, _ := newTestServer(t, cfg)
	assert.Nil(t, s.cache)
}
