package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
)

// maxBodyBytes caps how much of a provider response is buffered.
const maxBodyBytes = 32 << 20

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return fmt.Errorf("empty response body (status %d)", r.StatusCode)
	}
	return json.Unmarshal(r.Body, v)
}

// Err returns an *HTTPError for non-2xx responses and nil otherwise.
func (r *Response) Err(url string) error {
	if r.OK() {
		return nil
	}
	return &HTTPError{URL: url, StatusCode: r.StatusCode, Body: r.Body}
}

// HTTPError describes a non-2xx upstream answer.
type HTTPError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	body := string(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("upstream %s returned status %d: %s", e.URL, e.StatusCode, body)
}

// Transient reports whether the status is worth retrying (5xx, 429).
func (e *HTTPError) Transient() bool {
	return IsTransientStatus(e.StatusCode)
}

// IsTransientStatus reports 5xx and 429.
func IsTransientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// IsTransient reports whether err is worth retrying: a 5xx or 429 answer,
// or a failure to reach the host at all.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Transient()
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// Do sends one request and reads the whole body. Only transport-level
// failures are returned as errors; HTTP status handling is left to callers.
func Do(ctx context.Context, client *http.Client, method, url string, header http.Header, body []byte) (*Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return Send(client, req)
}

// Send executes a prepared request, used when headers must be applied by a
// signer after construction.
func Send(client *http.Client, req *http.Request) (*Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// JSONHeader returns the standard headers for a JSON exchange.
func JSONHeader() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	return h
}
