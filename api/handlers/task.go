package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/credential"
	"github.com/BaSui01/mediaflow/task"
	"github.com/BaSui01/mediaflow/types"
)

// TaskRunner is the part of task.Runner the HTTP surface drives.
type TaskRunner interface {
	Providers() []task.ProviderInfo
	Submit(ctx context.Context, provider string, env *credential.Envelope, req task.Request) (*task.Handle, error)
	SubmitAndWait(ctx context.Context, provider string, env *credential.Envelope, req task.Request, opts ...task.Option) (*task.Status, error)
	Query(ctx context.Context, provider string, env *credential.Envelope, h task.Handle) (*task.Status, error)
	Call(ctx context.Context, provider string, env *credential.Envelope, req task.Request) (any, error)
}

// =============================================================================
// 📨 请求结构
// =============================================================================

// GenerateRequest is the body of generate, submit and invoke calls.
type GenerateRequest struct {
	Operation  string               `json:"operation,omitempty"`
	Payload    json.RawMessage      `json:"payload"`
	Credential *credential.Envelope `json:"credential,omitempty"`
	// APIKey 直接指定的密钥，优先于 credential
	APIKey string         `json:"apiKey,omitempty"`
	Poll   *PollOverrides `json:"poll,omitempty"`
}

// PollOverrides narrows the provider's poll budget for one request.
type PollOverrides struct {
	InitialDelayMs       *int64 `json:"initial_delay_ms,omitempty"`
	IntervalMs           *int64 `json:"interval_ms,omitempty"`
	MaxAttempts          *int   `json:"max_attempts,omitempty"`
	MaxTransientFailures *int   `json:"max_transient_failures,omitempty"`
}

// StatusRequest is the body of an out-of-band status query. The
// credential must match the one used at submission. Status URLs are not
// accepted; the provider derives them from its base URL, the task id and
// the operation.
type StatusRequest struct {
	Operation  string               `json:"operation,omitempty"`
	Credential *credential.Envelope `json:"credential,omitempty"`
	APIKey     string               `json:"apiKey,omitempty"`
}

func envelope(env *credential.Envelope, apiKey string) *credential.Envelope {
	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		return credential.Plain(apiKey)
	}
	return env
}

// Options converts the overrides into poll options. Absent fields keep
// the provider default.
func (p *PollOverrides) Options() ([]task.Option, error) {
	if p == nil {
		return nil, nil
	}
	var opts []task.Option
	if p.InitialDelayMs != nil {
		if *p.InitialDelayMs < 0 {
			return nil, types.NewInvalidRequestError("poll.initial_delay_ms must be >= 0")
		}
		opts = append(opts, task.WithInitialDelay(time.Duration(*p.InitialDelayMs)*time.Millisecond))
	}
	if p.IntervalMs != nil {
		if *p.IntervalMs <= 0 {
			return nil, types.NewInvalidRequestError("poll.interval_ms must be > 0")
		}
		opts = append(opts, task.WithInterval(time.Duration(*p.IntervalMs)*time.Millisecond))
	}
	if p.MaxAttempts != nil {
		if *p.MaxAttempts <= 0 {
			return nil, types.NewInvalidRequestError("poll.max_attempts must be > 0")
		}
		opts = append(opts, task.WithMaxAttempts(*p.MaxAttempts))
	}
	if p.MaxTransientFailures != nil {
		if *p.MaxTransientFailures <= 0 {
			return nil, types.NewInvalidRequestError("poll.max_transient_failures must be > 0")
		}
		opts = append(opts, task.WithMaxTransientFailures(*p.MaxTransientFailures))
	}
	return opts, nil
}

// =============================================================================
// 🎬 Task Handler
// =============================================================================

// TaskHandler exposes the task runner over HTTP.
type TaskHandler struct {
	runner  TaskRunner
	logger  *zap.Logger
	maxBody int64
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(runner TaskRunner, logger *zap.Logger, maxBody int64) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{
		runner:  runner,
		logger:  logger.With(zap.String("component", "task_handler")),
		maxBody: maxBody,
	}
}

// withProvider tags the request context so downstream logs and errors
// carry the provider name.
func withProvider(r *http.Request) (*http.Request, string, bool) {
	provider := strings.TrimSpace(r.PathValue("provider"))
	if provider == "" {
		return r, "", false
	}
	return r.WithContext(types.WithProvider(r.Context(), provider)), provider, true
}

func (h *TaskHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !ValidateContentType(w, r, h.logger) {
		return false
	}
	return DecodeJSONBody(w, r, dst, h.maxBody, h.logger) == nil
}

// HandleGenerate 提交任务并等待终态
// POST /api/v1/providers/{provider}/generate
func (h *TaskHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	r, provider, ok := withProvider(r)
	if !ok {
		WriteError(w, r, types.NewInvalidRequestError("provider is required"), h.logger)
		return
	}
	var body GenerateRequest
	if !h.decode(w, r, &body) {
		return
	}
	opts, err := body.Poll.Options()
	if err != nil {
		WriteAnyError(w, r, err, h.logger)
		return
	}

	status, err := h.runner.SubmitAndWait(r.Context(), provider, envelope(body.Credential, body.APIKey),
		task.Request{Operation: body.Operation, Payload: body.Payload}, opts...)
	if err != nil {
		WriteAnyError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, status)
}

// HandleSubmit 仅提交任务，返回 202 和任务句柄
// POST /api/v1/providers/{provider}/tasks
func (h *TaskHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	r, provider, ok := withProvider(r)
	if !ok {
		WriteError(w, r, types.NewInvalidRequestError("provider is required"), h.logger)
		return
	}
	var body GenerateRequest
	if !h.decode(w, r, &body) {
		return
	}

	handle, err := h.runner.Submit(r.Context(), provider, envelope(body.Credential, body.APIKey),
		task.Request{Operation: body.Operation, Payload: body.Payload})
	if err != nil {
		WriteAnyError(w, r, err, h.logger)
		return
	}
	WriteStatus(w, r, http.StatusAccepted, handle)
}

// HandleStatus 单次查询已提交任务的状态，不等待
// POST /api/v1/providers/{provider}/tasks/{id}/status
func (h *TaskHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	r, provider, ok := withProvider(r)
	if !ok {
		WriteError(w, r, types.NewInvalidRequestError("provider is required"), h.logger)
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		WriteError(w, r, types.NewInvalidRequestError("task id is required"), h.logger)
		return
	}
	var body StatusRequest
	if !h.decode(w, r, &body) {
		return
	}

	status, err := h.runner.Query(r.Context(), provider, envelope(body.Credential, body.APIKey), task.Handle{
		ID:        id,
		Provider:  provider,
		Operation: body.Operation,
	})
	if err != nil {
		WriteAnyError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, status)
}

// HandleInvoke 调用同步 provider
// POST /api/v1/providers/{provider}/invoke
func (h *TaskHandler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	r, provider, ok := withProvider(r)
	if !ok {
		WriteError(w, r, types.NewInvalidRequestError("provider is required"), h.logger)
		return
	}
	var body GenerateRequest
	if !h.decode(w, r, &body) {
		return
	}

	out, err := h.runner.Call(r.Context(), provider, envelope(body.Credential, body.APIKey),
		task.Request{Operation: body.Operation, Payload: body.Payload})
	if err != nil {
		WriteAnyError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, out)
}

// HandleProviders 列出已注册的 provider
// GET /api/v1/providers
func (h *TaskHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, h.runner.Providers())
}

// Register mounts the task routes on mux.
func (h *TaskHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/providers", h.HandleProviders)
	mux.HandleFunc("POST /api/v1/providers/{provider}/generate", h.HandleGenerate)
	mux.HandleFunc("POST /api/v1/providers/{provider}/tasks", h.HandleSubmit)
	mux.HandleFunc("POST /api/v1/providers/{provider}/tasks/{id}/status", h.HandleStatus)
	mux.HandleFunc("POST /api/v1/providers/{provider}/invoke", h.HandleInvoke)
}
