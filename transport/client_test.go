package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyFunc_Disabled(t *testing.T) {
	fn, err := ProxyFunc(ProxyConfig{URL: "http://proxy:8080"})
	require.NoError(t, err)
	assert.Nil(t, fn)
}

func TestProxyFunc_Selection(t *testing.T) {
	fn, err := ProxyFunc(ProxyConfig{
		Enabled: true,
		URL:     "http://proxy.internal:3128",
		Exclude: []string{"internal.example.com", " "},
	})
	require.NoError(t, err)
	require.NotNil(t, fn)

	tests := []struct {
		target  string
		proxied bool
	}{
		{"https://api.bfl.ai/v1/get_result?id=1", true},
		{"http://api.tripo3d.ai/v2/openapi/task", true},
		{"http://internal.example.com/x", false},
		{"http://localhost:8080/x", false},
		{"http://127.0.0.1:9000/x", false},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, tt.target, nil)
			u, err := fn(req)
			require.NoError(t, err)
			if tt.proxied {
				require.NotNil(t, u)
				assert.Equal(t, "proxy.internal:3128", u.Host)
			} else {
				assert.Nil(t, u)
			}
		})
	}
}

func TestProxyConfig_Validate(t *testing.T) {
	assert.NoError(t, ProxyConfig{}.Validate())
	assert.Error(t, ProxyConfig{Enabled: true}.Validate())
	assert.Error(t, ProxyConfig{Enabled: true, URL: "not a url"}.Validate())
	assert.NoError(t, ProxyConfig{Enabled: true, URL: "socks5://127.0.0.1:1080"}.Validate())

	_, err := NewClient(ProxyConfig{Enabled: true}, time.Second)
	assert.Error(t, err)
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(ProxyConfig{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, c.Timeout)

	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Nil(t, tr.Proxy)
	assert.NotNil(t, tr.TLSClientConfig)
}

func TestDo_ReadsBodyAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"nope"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer srv.Close()

	c, err := NewClient(ProxyConfig{Enabled: true, URL: "http://10.255.255.1:1"}, 5*time.Second)
	require.NoError(t, err)

	resp, err := Do(context.Background(), c, http.MethodPost, srv.URL+"/ok", JSONHeader(), []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, resp.OK())
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, resp.JSON(&out))
	assert.Equal(t, "abc", out.ID)
	assert.NoError(t, resp.Err(srv.URL))

	resp, err = Do(context.Background(), c, http.MethodGet, srv.URL+"/missing", JSONHeader(), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	herr, ok := resp.Err("u").(*HTTPError)
	require.True(t, ok)
	assert.False(t, herr.Transient())
	assert.Contains(t, herr.Error(), "nope")
}

func TestIsTransientStatus(t *testing.T) {
	assert.True(t, IsTransientStatus(500))
	assert.True(t, IsTransientStatus(503))
	assert.True(t, IsTransientStatus(429))
	assert.False(t, IsTransientStatus(404))
	assert.False(t, IsTransientStatus(400))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&HTTPError{StatusCode: http.StatusServiceUnavailable}))
	assert.True(t, IsTransient(fmt.Errorf("fetch: %w", &HTTPError{StatusCode: http.StatusTooManyRequests})))
	assert.False(t, IsTransient(&HTTPError{StatusCode: http.StatusNotFound}))
	assert.False(t, IsTransient(errors.New("decode result: unexpected end of JSON input")))
	assert.False(t, IsTransient(nil))

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()
	_, err := Do(context.Background(), &http.Client{Timeout: time.Second}, http.MethodGet, addr, nil, nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
