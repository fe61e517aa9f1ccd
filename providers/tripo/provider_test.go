package tripo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/credential"
	"github.com/BaSui01/mediaflow/providers"
	"github.com/BaSui01/mediaflow/task"
	"github.com/BaSui01/mediaflow/types"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestTripo_SubmitAndWait(t *testing.T) {
	var submitted map[string]any
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/task", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tp-key", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &submitted))
		_, _ = w.Write([]byte(`{"code":0,"data":{"task_id":"m-1"}}`))
	})
	mux.HandleFunc("/task/m-1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls == 1 {
			_, _ = w.Write([]byte(`{"code":0,"data":{"task_id":"m-1","status":"running","progress":40}}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":0,"data":{"task_id":"m-1","status":"success","progress":100,"output":{"model":"https://tripo/m.glb"}}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := task.NewRunner(zap.NewNop(), task.WithRunnerSleep(noSleep))
	r.Register(New(providers.TripoConfig{BaseURL: srv.URL}, srv.Client(), nil))

	st, err := r.SubmitAndWait(context.Background(), Name, credential.Plain("tp-key"),
		task.Request{Operation: "image_to_model", Payload: json.RawMessage(`{"file":{"url":"https://x/a.png"}}`)})
	require.NoError(t, err)
	assert.Equal(t, "image_to_model", submitted["type"])
	assert.Equal(t, map[string]any{
		"taskId":   "m-1",
		"status":   "success",
		"progress": 100,
		"output":   map[string]any{"model": "https://tripo/m.glb"},
	}, st.Result)
}

func TestTripo_PayloadTypeWins(t *testing.T) {
	var submitted map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&submitted)
		_, _ = w.Write([]byte(`{"code":0,"data":{"task_id":"m-2"}}`))
	}))
	defer srv.Close()

	p := New(providers.TripoConfig{BaseURL: srv.URL}, srv.Client(), nil)
	h, err := p.Submit(context.Background(), &task.Request{
		Operation:  "text_to_model",
		Payload:    json.RawMessage(`{"type":"refine_model","draft_model_task_id":"d"}`),
		Credential: credential.APIKey{Key: "k"},
	})
	require.NoError(t, err)
	assert.Equal(t, "refine_model", submitted["type"])
	assert.Equal(t, "refine_model", h.Operation)
}

func TestTripo_BannedFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/task", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{"task_id":"b"}}`))
	})
	mux.HandleFunc("/task/b", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{"status":"banned"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := task.NewRunner(nil, task.WithRunnerSleep(noSleep))
	r.Register(New(providers.TripoConfig{BaseURL: srv.URL, APIKey: "cfg"}, srv.Client(), nil))

	_, err := r.SubmitAndWait(context.Background(), Name, nil, task.Request{})
	assert.True(t, types.IsErrorCode(err, types.ErrRemoteFailure))
}

func TestTripo_MissingTaskIDAndBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":2001,"message":"insufficient credit","data":{}}`))
	}))
	defer srv.Close()

	p := New(providers.TripoConfig{BaseURL: srv.URL}, srv.Client(), nil)
	cred := credential.APIKey{Key: "k"}

	_, err := p.Submit(context.Background(), &task.Request{Credential: cred})
	assert.True(t, types.IsErrorCode(err, types.ErrSubmission))

	_, err = p.Submit(context.Background(), &task.Request{Credential: cred, Payload: json.RawMessage(`[1,2]`)})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestTable(t *testing.T) {
	for _, s := range []string{"failed", "banned", "expired", "cancelled"} {
		assert.Equal(t, task.StateFailed, Table.Classify(&task.Observation{HTTPStatus: 200, Token: s}), s)
	}
	assert.Equal(t, task.StateProcessing, Table.Classify(&task.Observation{HTTPStatus: 200, Token: "unknown"}))
	assert.Equal(t, task.StateCompleted, Table.Classify(&task.Observation{HTTPStatus: 200, Token: "success"}))
}
