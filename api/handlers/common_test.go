package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/types"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestWriteSuccess_CarriesRequestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req-1"))
	w := httptest.NewRecorder()

	WriteSuccess(w, r, map[string]string{"key": "value"})

	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        *types.Error
		wantStatus int
	}{
		{
			name:       "explicit status wins",
			err:        types.NewInvalidRequestError("bad").WithHTTPStatus(http.StatusUnsupportedMediaType),
			wantStatus: http.StatusUnsupportedMediaType,
		},
		{
			name:       "timeout maps to 504",
			err:        types.NewError(types.ErrTimeout, "still processing").WithTaskID("t1").WithProvider("bfl"),
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "cancelled maps to 499",
			err:        types.NewError(types.ErrCancelled, "client went away").WithTaskID("t2"),
			wantStatus: StatusClientClosedRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, zap.NewNop())

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
			assert.Equal(t, tt.err.TaskID, resp.Error.TaskID)
			assert.Equal(t, tt.err.Provider, resp.Error.Provider)
		})
	}
}

func TestWriteError_Details(t *testing.T) {
	w := httptest.NewRecorder()
	err := types.NewError(types.ErrRemoteFailure, "provider refused").
		WithDetails(map[string]any{"status": "Error"})
	WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), err, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"details":{"status":"Error"}`)
}

func TestWriteAnyError_PlainErrorHidden(t *testing.T) {
	w := httptest.NewRecorder()
	WriteAnyError(w, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("db password leaked"), zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
	resp := decodeResponse(t, w)
	assert.Equal(t, string(types.ErrInternalError), resp.Error.Code)
}

func TestHTTPStatusFor(t *testing.T) {
	tests := map[types.ErrorCode]int{
		types.ErrConfiguration:    http.StatusBadRequest,
		types.ErrInvalidRequest:   http.StatusBadRequest,
		types.ErrSubmission:       http.StatusBadGateway,
		types.ErrRemoteFailure:    http.StatusUnprocessableEntity,
		types.ErrTimeout:          http.StatusGatewayTimeout,
		types.ErrPollUnreachable:  http.StatusServiceUnavailable,
		types.ErrTransientPoll:    http.StatusServiceUnavailable,
		types.ErrCancelled:        StatusClientClosedRequest,
		types.ErrProviderNotFound: http.StatusNotFound,
		types.ErrRateLimited:      http.StatusTooManyRequests,
		types.ErrUpstreamError:    http.StatusBadGateway,
		types.ErrInternalError:    http.StatusInternalServerError,
		types.ErrorCode("WHAT"):   http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, HTTPStatusFor(code), string(code))
	}
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr bool
		want    string
	}{
		{name: "valid", body: `{"name":"x"}`, want: "x"},
		{name: "empty body", body: ""},
		{name: "unknown field", body: `{"name":"x","extra":1}`, wantErr: true},
		{name: "malformed", body: `{"name":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			var dst payload

			err := DecodeJSONBody(w, r, &dst, 0, zap.NewNop())
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, w.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, dst.Name)
		})
	}
}

func TestDecodeJSONBody_MaxBodySize(t *testing.T) {
	body := `{"name":"` + strings.Repeat("a", 200) + `"}`
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	var dst map[string]any

	err := DecodeJSONBody(w, r, &dst, 64, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, w.Body.String(), "request body too large")
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        bool
	}{
		{name: "json", contentType: "application/json", body: "{}", want: true},
		{name: "json with charset", contentType: "application/json; charset=utf-8", body: "{}", want: true},
		{name: "no body no header", want: true},
		{name: "text", contentType: "text/plain", body: "{}", want: false},
		{name: "missing header with body", body: "{}", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()

			assert.Equal(t, tt.want, ValidateContentType(w, r, zap.NewNop()))
			if !tt.want {
				assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK)
	n, err := rw.Write([]byte("hello"))

	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusTeapot, rw.StatusCode)
	assert.Equal(t, int64(5), rw.Bytes)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Same(t, http.ResponseWriter(rec), rw.Unwrap())
}

func TestResponseWriter_ImplicitOK(t *testing.T) {
	rw := NewResponseWriter(httptest.NewRecorder())
	_, _ = rw.Write([]byte("x"))
	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.True(t, rw.Written)
}
