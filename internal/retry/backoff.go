package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/transport"
	"github.com/BaSui01/mediaflow/types"
)

// Policy 定义短请求（下载、上传、HEAD 探测）的重试策略。
// 长任务的轮询节奏由 task.Budget 控制，不经过这里。
type Policy struct {
	MaxRetries   int           // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration // 首次重试前的等待
	MaxDelay     time.Duration // 单次等待上限
	Multiplier   float64       // 指数退避倍数
	Jitter       bool          // ±25% 随机抖动
	// ShouldRetry 判断错误是否值得重试；为空时使用 IsTransient。
	ShouldRetry func(err error) bool
}

// DefaultPolicy 返回默认策略：最多重试 2 次，500ms 起步。
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer 按 Policy 执行带退避的重试。
type Retryer struct {
	policy Policy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New 创建 Retryer，非法参数回落到默认值。
func New(policy Policy, logger *zap.Logger) *Retryer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 500 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 5 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = IsTransient
	}
	return &Retryer{policy: policy, logger: logger, sleep: sleepCtx}
}

// Do 执行 fn，失败且可重试时按退避策略再次执行。
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do 是 Retryer 的泛型版本，返回 fn 的结果。
func Do[T any](ctx context.Context, r *Retryer, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delay(attempt)
			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := r.sleep(ctx, delay); err != nil {
				return zero, fmt.Errorf("retry cancelled: %w", err)
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil || !r.policy.ShouldRetry(err) {
			return zero, err
		}
	}

	r.logger.Warn("retries exhausted", zap.Int("attempts", r.policy.MaxRetries+1), zap.Error(lastErr))
	return zero, fmt.Errorf("still failing after %d retries: %w", r.policy.MaxRetries, lastErr)
}

// delay = initial * multiplier^(attempt-1)，封顶 MaxDelay，可选 ±25% 抖动。
func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if d > float64(r.policy.MaxDelay) {
		d = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		d += (rand.Float64()*2 - 1) * d * 0.25
	}
	if d < float64(r.policy.InitialDelay) {
		d = float64(r.policy.InitialDelay)
	}
	return time.Duration(d)
}

// IsTransient 判断错误是否为瞬时故障：上游 5xx/429、标记为可重试的
// types.Error，以及其余非 HTTP 的网络错误。上游 4xx 不重试。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var herr *transport.HTTPError
	if errors.As(err, &herr) {
		return herr.Transient()
	}
	if e, ok := types.AsError(err); ok {
		return e.Retryable
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
