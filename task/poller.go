package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/transport"
	"github.com/BaSui01/mediaflow/types"
)

// PollFunc performs one status query for h.
type PollFunc func(ctx context.Context, h *Handle) (*Observation, error)

// ResultFunc extracts the normalized output once a task completed.
type ResultFunc func(ctx context.Context, h *Handle, obs *Observation) (any, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Poller drives one generic poll loop. A Poller holds no per-task state and
// can serve any number of concurrent Wait calls.
type Poller struct {
	provider   string
	poll       PollFunc
	classifier Classifier
	result     ResultFunc
	budget     Budget
	sleep      SleepFunc
	observer   Observer
	logger     *zap.Logger
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithSleep replaces the timer-based wait, mainly for tests.
func WithSleep(fn SleepFunc) PollerOption {
	return func(p *Poller) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

// WithObserver attaches lifecycle hooks.
func WithObserver(o Observer) PollerOption {
	return func(p *Poller) {
		if o != nil {
			p.observer = o
		}
	}
}

// NewPoller assembles a Poller from its parts.
func NewPoller(provider string, poll PollFunc, classifier Classifier, result ResultFunc, budget Budget, logger *zap.Logger, opts ...PollerOption) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		provider:   provider,
		poll:       poll,
		classifier: classifier,
		result:     result,
		budget:     budget,
		sleep:      Sleep,
		observer:   nopObserver{},
		logger:     logger.With(zap.String("component", "poller"), zap.String("provider", provider)),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait polls h until it reaches a terminal state or the budget runs out.
//
// The first query happens after InitialDelay and each later one after
// Interval, so a task that never leaves processing is queried exactly
// MaxAttempts times. A poll error, or a transient failure fetching the
// result of a completed task, counts as a processing round; after
// MaxTransientFailures consecutive errors the loop stops with
// POLL_UNREACHABLE.
func (p *Poller) Wait(ctx context.Context, h *Handle, opts ...Option) (*Status, error) {
	budget := p.budget.Apply(opts...)
	if err := budget.Validate(); err != nil {
		return nil, types.NewInvalidRequestError("invalid poll budget: " + err.Error()).
			WithHTTPStatus(http.StatusBadRequest).WithProvider(p.provider)
	}

	start := time.Now()
	status := &Status{TaskID: h.ID, Provider: p.provider, State: StateProcessing}
	log := p.logger.With(zap.String("task_id", h.ID))
	log.Debug("poll loop started",
		zap.Duration("initial_delay", budget.InitialDelay),
		zap.Duration("interval", budget.Interval),
		zap.Int("max_attempts", budget.MaxAttempts))

	finish := func(s State, outcome string) {
		status.State = s
		status.Elapsed = time.Since(start)
		p.observer.Finished(p.provider, outcome, status.Attempts, status.Elapsed)
	}

	consecutive := 0
	var lastErr error

	for attempt := 1; attempt <= budget.MaxAttempts; attempt++ {
		wait := budget.Interval
		if attempt == 1 {
			wait = budget.InitialDelay
		}
		if err := p.sleep(ctx, wait); err != nil {
			finish(StateProcessing, OutcomeCancelled)
			return status, p.cancelled(h, err)
		}

		status.Attempts = attempt
		obs, err := p.poll(ctx, h)
		if err == nil && obs != nil && transport.IsTransientStatus(obs.HTTPStatus) {
			err = &transport.HTTPError{URL: h.StatusURL, StatusCode: obs.HTTPStatus, Body: obs.Body}
		}
		if err == nil && obs == nil {
			err = errors.New("empty poll observation")
		}
		if err != nil {
			if ctx.Err() != nil {
				finish(StateProcessing, OutcomeCancelled)
				return status, p.cancelled(h, ctx.Err())
			}
			consecutive++
			lastErr = err
			p.observer.PollRound(p.provider, "error")
			log.Warn("status query failed",
				zap.Int("attempt", attempt),
				zap.Int("consecutive_failures", consecutive),
				zap.Error(err))
			if consecutive >= budget.MaxTransientFailures {
				finish(StateProcessing, OutcomeUnreachable)
				return status, p.unreachable(h, consecutive, lastErr)
			}
			continue
		}
		consecutive = 0

		state := p.classifier.Classify(obs)
		status.RawStatus = obs.Token
		p.observer.PollRound(p.provider, string(state))
		if state != StateProcessing {
			log.Info("task reached terminal state",
				zap.String("state", string(state)),
				zap.String("raw_status", obs.Token),
				zap.Int("attempt", attempt))
		}

		switch state {
		case StateCompleted:
			result, err := p.result(ctx, h, obs)
			if err != nil && ctx.Err() != nil {
				finish(StateProcessing, OutcomeCancelled)
				return status, p.cancelled(h, ctx.Err())
			}
			if err != nil && transport.IsTransient(err) {
				// 结果拉取失败按瞬时错误计入，下一轮重新查询
				consecutive++
				lastErr = err
				p.observer.PollRound(p.provider, "error")
				log.Warn("result fetch failed",
					zap.Int("attempt", attempt),
					zap.Int("consecutive_failures", consecutive),
					zap.Error(err))
				if consecutive >= budget.MaxTransientFailures {
					finish(StateProcessing, OutcomeUnreachable)
					return status, p.unreachable(h, consecutive, lastErr)
				}
				continue
			}
			if err != nil {
				status.Detail = Diagnostic(obs.Body)
				finish(StateFailed, string(StateFailed))
				return status, types.NewError(types.ErrRemoteFailure, "completed task returned no usable result").
					WithCause(err).
					WithHTTPStatus(http.StatusUnprocessableEntity).
					WithProvider(p.provider).
					WithTaskID(h.ID).
					WithDetails(Diagnostic(obs.Body))
			}
			status.Result = result
			finish(StateCompleted, string(StateCompleted))
			return status, nil

		case StateFailed:
			status.Detail = Diagnostic(obs.Body)
			finish(StateFailed, string(StateFailed))
			return status, RemoteFailure(p.provider, h.ID, obs)
		}
	}

	finish(StateTimeout, string(StateTimeout))
	log.Warn("poll budget exhausted", zap.Int("attempts", status.Attempts), zap.Duration("elapsed", status.Elapsed))
	err := types.NewError(types.ErrTimeout,
		fmt.Sprintf("task still processing after %d status queries", status.Attempts)).
		WithHTTPStatus(http.StatusGatewayTimeout).
		WithRetryable(true).
		WithProvider(p.provider).
		WithTaskID(h.ID)
	if lastErr != nil && consecutive > 0 {
		err = err.WithCause(lastErr)
	}
	return status, err
}

func (p *Poller) unreachable(h *Handle, consecutive int, cause error) error {
	return types.NewError(types.ErrPollUnreachable,
		fmt.Sprintf("status endpoint unreachable after %d consecutive failures", consecutive)).
		WithCause(cause).
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithRetryable(true).
		WithProvider(p.provider).
		WithTaskID(h.ID)
}

func (p *Poller) cancelled(h *Handle, cause error) error {
	p.logger.Info("poll loop cancelled", zap.String("task_id", h.ID), zap.Error(cause))
	return types.NewError(types.ErrCancelled, "poll loop cancelled, resume through the status endpoint").
		WithCause(cause).
		WithHTTPStatus(499).
		WithRetryable(true).
		WithProvider(p.provider).
		WithTaskID(h.ID)
}

// RemoteFailure builds the REMOTE_FAILURE error for a failed observation,
// carrying the provider's diagnostic body.
func RemoteFailure(provider, taskID string, obs *Observation) *types.Error {
	msg := "provider reported task failure"
	if obs != nil && obs.Token != "" {
		msg += ": " + obs.Token
	}
	e := types.NewError(types.ErrRemoteFailure, msg).
		WithHTTPStatus(http.StatusUnprocessableEntity).
		WithProvider(provider).
		WithTaskID(taskID)
	if obs != nil && len(obs.Body) > 0 {
		e = e.WithDetails(Diagnostic(obs.Body))
	}
	return e
}

// Diagnostic returns body as raw JSON when it is valid JSON and as a
// string otherwise, so it can always be embedded in a response.
func Diagnostic(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}
