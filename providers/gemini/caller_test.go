package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/credential"
	"github.com/BaSui01/mediaflow/providers"
	"github.com/BaSui01/mediaflow/task"
	"github.com/BaSui01/mediaflow/types"
)

type memUploader struct {
	data [][]byte
	cts  []string
	err  error
}

func (m *memUploader) Upload(_ context.Context, data []byte, contentType string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.data = append(m.data, data)
	m.cts = append(m.cts, contentType)
	return "https://cdn.test/gen/" + string(rune('a'+len(m.data)-1)) + ".png", nil
}

const pngB64 = "iVBORw0KGgo=" // 8-byte PNG signature

func geminiServer(t *testing.T, got *map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1beta/models/{action}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, defaultModel+":generateContent", r.PathValue("action"))
		assert.Equal(t, "gm-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		_, _ = w.Write([]byte(`{"responseId":"resp-1","candidates":[{"content":{"parts":[` +
			`{"text":"here you go"},{"inlineData":{"mimeType":"image/png","data":"` + pngB64 + `"}}]}}]}`))
	})
	mux.HandleFunc("GET /in.jpg", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("jpeg-bytes"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGemini_GenerateUploadsInlineImages(t *testing.T) {
	var got map[string]any
	srv := geminiServer(t, &got)
	up := &memUploader{}

	r := task.NewRunner(zap.NewNop())
	r.RegisterCaller(New(providers.GeminiConfig{BaseURL: srv.URL, APIKey: "gm-key"}, srv.Client(), nil, WithUploader(up)))

	out, err := r.Call(context.Background(), Name, nil, task.Request{
		Payload: json.RawMessage(`{"prompt":"a fox","input_image":["` + srv.URL + `/in.jpg","data:image/png;base64,QUJD"],"aspect_ratio":"16:9"}`),
	})
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, "resp-1", m["requestId"])
	assert.Equal(t, "here you go", m["text"])
	assert.Equal(t, []string{"https://cdn.test/gen/a.png"}, m["images"])

	wantPNG, _ := base64.StdEncoding.DecodeString(pngB64)
	require.Len(t, up.data, 1)
	assert.Equal(t, wantPNG, up.data[0])
	assert.Equal(t, "image/png", up.cts[0])

	parts := got["contents"].([]any)[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 3)
	assert.Equal(t, "a fox", parts[0].(map[string]any)["text"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")),
		parts[1].(map[string]any)["inlineData"].(map[string]any)["data"])
	assert.Equal(t, "QUJD", parts[2].(map[string]any)["inlineData"].(map[string]any)["data"])

	genCfg := got["generationConfig"].(map[string]any)
	assert.Equal(t, []any{"TEXT", "IMAGE"}, genCfg["responseModalities"])
	assert.Equal(t, "16:9", genCfg["imageConfig"].(map[string]any)["aspectRatio"])
}

func TestGemini_WithoutStorageIsConfigurationError(t *testing.T) {
	var got map[string]any
	srv := geminiServer(t, &got)
	c := New(providers.GeminiConfig{BaseURL: srv.URL}, srv.Client(), nil)

	_, err := c.Call(context.Background(), &task.Request{
		Credential: credential.APIKey{Key: "gm-key"},
		Payload:    json.RawMessage(`{"prompt":"a fox"}`),
	})
	assert.True(t, types.IsErrorCode(err, types.ErrConfiguration))
}

func TestGemini_UploadFailure(t *testing.T) {
	var got map[string]any
	srv := geminiServer(t, &got)
	c := New(providers.GeminiConfig{BaseURL: srv.URL}, srv.Client(), nil,
		WithUploader(&memUploader{err: errors.New("bucket unavailable")}))

	_, err := c.Call(context.Background(), &task.Request{
		Credential: credential.APIKey{Key: "gm-key"},
		Payload:    json.RawMessage(`{"prompt":"a fox"}`),
	})
	assert.True(t, types.IsErrorCode(err, types.ErrInternalError))
}

func TestGemini_InputValidation(t *testing.T) {
	c := New(providers.GeminiConfig{}, nil, nil)
	cred := credential.APIKey{Key: "k"}

	_, err := c.Call(context.Background(), &task.Request{Credential: cred, Payload: json.RawMessage(`{}`)})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = c.Call(context.Background(), &task.Request{Credential: cred, Payload: json.RawMessage(`{"input_image":42}`)})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}
