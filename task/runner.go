package task

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/credential"
	"github.com/BaSui01/mediaflow/types"
)

const instrumentationName = "github.com/BaSui01/mediaflow/task"

// ProviderInfo describes a registered backend.
type ProviderInfo struct {
	Name        string `json:"name"`
	Mode        string `json:"mode"`
	Credential  string `json:"credential"`
	Configured  bool   `json:"configured"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

// Runner wires providers to pollers and applies post-processing.
// Registration happens at startup; afterwards a Runner is read-only and
// safe for concurrent use.
type Runner struct {
	mu        sync.RWMutex
	providers map[string]Provider
	callers   map[string]Caller
	pollers   map[string]*Poller

	post     PostProcessor
	observer Observer
	sleep    SleepFunc
	tracer   trace.Tracer
	logger   *zap.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPostProcessor sets the step applied to every completed result.
func WithPostProcessor(pp PostProcessor) RunnerOption {
	return func(r *Runner) { r.post = pp }
}

// WithRunnerObserver sets the lifecycle observer shared by all pollers.
func WithRunnerObserver(o Observer) RunnerOption {
	return func(r *Runner) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithRunnerSleep replaces the wait used by every poller.
func WithRunnerSleep(fn SleepFunc) RunnerOption {
	return func(r *Runner) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// NewRunner creates an empty Runner.
func NewRunner(logger *zap.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		providers: make(map[string]Provider),
		callers:   make(map[string]Caller),
		pollers:   make(map[string]*Poller),
		observer:  nopObserver{},
		sleep:     Sleep,
		tracer:    otel.Tracer(instrumentationName),
		logger:    logger.With(zap.String("component", "task_runner")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds an asynchronous provider and builds its poller.
func (r *Runner) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	r.providers[name] = p
	r.pollers[name] = NewPoller(name, p.Poll, p.Classifier(), p.Result, p.Budget(), r.logger,
		WithSleep(r.sleep), WithObserver(r.observer))
}

// RegisterCaller adds a synchronous provider.
func (r *Runner) RegisterCaller(c Caller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callers[c.Name()] = c
}

// Providers lists registered backends sorted by name.
func (r *Runner) Providers() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderInfo, 0, len(r.providers)+len(r.callers))
	for name, p := range r.providers {
		res := p.Resolver()
		out = append(out, ProviderInfo{
			Name:        name,
			Mode:        "async",
			Credential:  res.Family.String(),
			Configured:  credential.IsUsable(res.Fallback),
			MaxAttempts: p.Budget().MaxAttempts,
		})
	}
	for name, c := range r.callers {
		res := c.Resolver()
		out = append(out, ProviderInfo{
			Name:       name,
			Mode:       "sync",
			Credential: res.Family.String(),
			Configured: credential.IsUsable(res.Fallback),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Runner) lookup(name string) (Provider, *Poller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, nil, notFound(name)
	}
	return p, r.pollers[name], nil
}

func notFound(name string) error {
	return types.NewError(types.ErrProviderNotFound, fmt.Sprintf("provider %q is not registered", name)).
		WithHTTPStatus(http.StatusNotFound).
		WithProvider(name)
}

// Submit resolves the credential and creates the remote job without
// waiting for it.
func (r *Runner) Submit(ctx context.Context, provider string, env *credential.Envelope, req Request) (*Handle, error) {
	p, _, err := r.lookup(provider)
	if err != nil {
		return nil, err
	}
	ctx, span := r.tracer.Start(ctx, "task.submit", trace.WithAttributes(
		attribute.String("task.provider", provider),
		attribute.String("task.operation", req.Operation),
	))
	defer span.End()

	h, err := r.submit(ctx, p, env, &req)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("task.id", h.ID))
	return h, nil
}

func (r *Runner) submit(ctx context.Context, p Provider, env *credential.Envelope, req *Request) (*Handle, error) {
	cred, err := p.Resolver().Resolve(env)
	if err != nil {
		r.observer.Submitted(p.Name(), "configuration_error")
		return nil, err
	}
	req.Credential = cred

	h, err := p.Submit(ctx, req)
	if err != nil {
		r.observer.Submitted(p.Name(), "error")
		r.logger.Warn("submission failed", zap.String("provider", p.Name()), zap.Error(err))
		return nil, err
	}
	h.Provider = p.Name()
	h.Credential = cred
	if h.Operation == "" {
		h.Operation = req.Operation
	}
	if h.SubmittedAt.IsZero() {
		h.SubmittedAt = time.Now()
	}
	r.observer.Submitted(p.Name(), "accepted")
	r.logger.Info("task submitted",
		zap.String("provider", p.Name()),
		zap.String("task_id", h.ID),
		zap.String("operation", h.Operation))
	return h, nil
}

// SubmitAndWait submits a job and blocks until it is terminal, the budget
// is exhausted or ctx is cancelled. Completed results go through the
// post-processor. The returned Status is non-nil whenever a task id exists.
func (r *Runner) SubmitAndWait(ctx context.Context, provider string, env *credential.Envelope, req Request, opts ...Option) (*Status, error) {
	p, poller, err := r.lookup(provider)
	if err != nil {
		return nil, err
	}
	ctx, span := r.tracer.Start(ctx, "task.run", trace.WithAttributes(
		attribute.String("task.provider", provider),
		attribute.String("task.operation", req.Operation),
	))
	defer span.End()

	h, err := r.submit(ctx, p, env, &req)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("task.id", h.ID))

	status, err := poller.Wait(ctx, h, opts...)
	if status != nil {
		span.SetAttributes(
			attribute.String("task.state", string(status.State)),
			attribute.Int("task.attempts", status.Attempts))
	}
	if err != nil {
		recordError(span, err)
		return status, err
	}
	if err := r.postProcess(ctx, status); err != nil {
		recordError(span, err)
		return status, err
	}
	return status, nil
}

// Query issues a single out-of-band status query for an existing task. It
// never sleeps. A completed task carries its post-processed result, a
// failed task returns REMOTE_FAILURE.
//
// StatusURL and ResponseURL on h are discarded: the provider rebuilds them
// from its configured base URL, so a resolved credential is only ever sent
// to that host.
func (r *Runner) Query(ctx context.Context, provider string, env *credential.Envelope, h Handle) (*Status, error) {
	p, _, err := r.lookup(provider)
	if err != nil {
		return nil, err
	}
	if h.ID == "" {
		return nil, types.NewInvalidRequestError("task id is required").WithHTTPStatus(http.StatusBadRequest)
	}
	ctx, span := r.tracer.Start(ctx, "task.query", trace.WithAttributes(
		attribute.String("task.provider", provider),
		attribute.String("task.id", h.ID),
	))
	defer span.End()

	cred, err := p.Resolver().Resolve(env)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	h.Provider = provider
	h.Credential = cred
	h.StatusURL, h.ResponseURL = "", ""

	// 单次查询：一次尝试，无等待
	poller := NewPoller(provider, p.Poll, p.Classifier(), p.Result, p.Budget(), r.logger,
		WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	status, err := poller.Wait(ctx, &h, WithMaxAttempts(1), WithInitialDelay(0), WithMaxTransientFailures(1))

	var te *types.Error
	if errors.As(err, &te) && te.Code == types.ErrTimeout {
		// 单次查询仍在处理中不是错误
		status.State = StateProcessing
		span.SetAttributes(attribute.String("task.state", string(status.State)))
		return status, nil
	}
	if err != nil {
		recordError(span, err)
		return status, err
	}
	span.SetAttributes(attribute.String("task.state", string(status.State)))
	if err := r.postProcess(ctx, status); err != nil {
		recordError(span, err)
		return status, err
	}
	return status, nil
}

// Call runs a synchronous provider and post-processes its output.
func (r *Runner) Call(ctx context.Context, provider string, env *credential.Envelope, req Request) (any, error) {
	r.mu.RLock()
	c, ok := r.callers[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, notFound(provider)
	}
	ctx, span := r.tracer.Start(ctx, "task.call", trace.WithAttributes(
		attribute.String("task.provider", provider),
	))
	defer span.End()

	cred, err := c.Resolver().Resolve(env)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	req.Credential = cred

	start := time.Now()
	out, err := c.Call(ctx, &req)
	if err != nil {
		r.observer.Finished(provider, string(StateFailed), 1, time.Since(start))
		recordError(span, err)
		return nil, err
	}
	r.observer.Finished(provider, string(StateCompleted), 1, time.Since(start))
	if r.post == nil {
		return out, nil
	}
	out, err = r.post.Process(ctx, out)
	if err != nil {
		recordError(span, err)
		return nil, postProcessError(provider, "", err)
	}
	return out, nil
}

func (r *Runner) postProcess(ctx context.Context, status *Status) error {
	if r.post == nil || status.State != StateCompleted || status.Result == nil {
		return nil
	}
	out, err := r.post.Process(ctx, status.Result)
	if err != nil {
		return postProcessError(status.Provider, status.TaskID, err)
	}
	status.Result = out
	return nil
}

func postProcessError(provider, taskID string, err error) error {
	return types.NewError(types.ErrInternalError, "post-processing failed").
		WithCause(err).
		WithHTTPStatus(http.StatusInternalServerError).
		WithProvider(provider).
		WithTaskID(taskID)
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if code := types.GetErrorCode(err); code != "" {
		span.SetAttributes(attribute.String("error.code", string(code)))
	}
}
