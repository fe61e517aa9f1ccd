package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// ProxyConfig is the outbound proxy setting. It is passed to NewClient and
// never written to the process environment.
type ProxyConfig struct {
	Enabled bool     `yaml:"enabled" env:"ENABLED" json:"enabled"`
	URL     string   `yaml:"url" env:"URL" json:"url"`
	Exclude []string `yaml:"exclude" env:"EXCLUDE" json:"exclude"`
}

// alwaysDirect hosts bypass the proxy regardless of Exclude.
var alwaysDirect = []string{"localhost", "127.0.0.1"}

// Validate checks that an enabled proxy has a parseable absolute URL.
func (p ProxyConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.URL == "" {
		return fmt.Errorf("proxy enabled but url is empty")
	}
	u, err := url.Parse(p.URL)
	if err != nil {
		return fmt.Errorf("invalid proxy url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid proxy url %q: scheme and host required", p.URL)
	}
	return nil
}

// ProxyFunc returns the http.Transport.Proxy hook for cfg, or nil when the
// proxy is disabled.
func ProxyFunc(cfg ProxyConfig) (func(*http.Request) (*url.URL, error), error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	noProxy := make([]string, 0, len(cfg.Exclude)+len(alwaysDirect))
	for _, h := range cfg.Exclude {
		if h = strings.TrimSpace(h); h != "" {
			noProxy = append(noProxy, h)
		}
	}
	noProxy = append(noProxy, alwaysDirect...)

	pc := httpproxy.Config{
		HTTPProxy:  cfg.URL,
		HTTPSProxy: cfg.URL,
		NoProxy:    strings.Join(noProxy, ","),
	}
	fn := pc.ProxyFunc()
	return func(r *http.Request) (*url.URL, error) {
		return fn(r.URL)
	}, nil
}

// DefaultTLSConfig returns TLS 1.2+ with AEAD-only cipher suites.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// NewTransport builds the shared outbound transport with proxy selection.
func NewTransport(proxy ProxyConfig) (*http.Transport, error) {
	fn, err := ProxyFunc(proxy)
	if err != nil {
		return nil, err
	}
	return &http.Transport{
		Proxy:           fn,
		TLSClientConfig: DefaultTLSConfig(),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}, nil
}

// NewClient returns an http.Client honoring proxy. timeout bounds a single
// request, not a whole poll loop.
func NewClient(proxy ProxyConfig, timeout time.Duration) (*http.Client, error) {
	tr, err := NewTransport(proxy)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout, Transport: tr}, nil
}
