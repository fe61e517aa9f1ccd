package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Zero(t, cfg.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestManager_Lifecycle(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	m := NewManager(handler, cfg, zap.NewNop())

	assert.False(t, m.IsRunning())
	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.Error(t, m.Start())

	resp, err := http.Get("http://" + m.Addr())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
	assert.Error(t, m.Start())
}

func TestManager_ListenError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:-1"
	m := NewManager(http.NewServeMux(), cfg, nil)
	assert.Error(t, m.Start())
}
