// Package retry wraps model and tool collaborators with bounded, error-only
// retries and exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/Gurpartap/taskflow/agent"
)

// Config controls retry behavior for wrapped model and tool execution calls.
type Config struct {
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; it doubles per attempt
	// up to MaxDelay. Zero disables waiting.
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	ShouldRetry func(error) bool
	// OnRetry observes each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Retryable is implemented by errors that know whether they are transient,
// such as HTTP 429 or 5xx responses from a provider.
type Retryable interface {
	Retryable() bool
}

// WrapModel wraps a model with error-only retries.
func WrapModel(model agent.Model, cfg Config) agent.Model {
	if model == nil {
		return nil
	}
	return &modelWrapper{next: model, cfg: cfg}
}

type modelWrapper struct {
	next agent.Model
	cfg  Config
}

func (w *modelWrapper) Generate(ctx context.Context, request agent.ModelRequest) (agent.Message, error) {
	return do(ctx, w.cfg, func() (agent.Message, error) {
		return w.next.Generate(ctx, request)
	})
}

// WrapToolExecutor wraps a tool executor with error-only retries. Tool results
// flagged IsError are returned as-is; only executor errors are retried.
func WrapToolExecutor(executor agent.ToolExecutor, cfg Config) agent.ToolExecutor {
	if executor == nil {
		return nil
	}
	return &toolExecutorWrapper{next: executor, cfg: cfg}
}

type toolExecutorWrapper struct {
	next agent.ToolExecutor
	cfg  Config
}

func (w *toolExecutorWrapper) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	return do(ctx, w.cfg, func() (agent.ToolResult, error) {
		return w.next.Execute(ctx, call)
	})
}

func do[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		return zero, agent.ErrContextNil
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	attempts := normalizedAttempts(cfg.MaxAttempts)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt == attempts || !shouldRetry(ctx, cfg, err) {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if err := wait(ctx, backoff(cfg, attempt)); err != nil {
			return zero, errors.Join(lastErr, err)
		}
	}
	return zero, lastErr
}

func normalizedAttempts(maxAttempts int) int {
	if maxAttempts < 1 {
		return 1
	}
	return maxAttempts
}

func backoff(cfg Config, attempt int) time.Duration {
	if cfg.BaseDelay <= 0 {
		return 0
	}
	delay := cfg.BaseDelay << (attempt - 1)
	if cfg.MaxDelay > 0 && (delay > cfg.MaxDelay || delay <= 0) {
		delay = cfg.MaxDelay
	}
	return delay
}

func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func shouldRetry(ctx context.Context, cfg Config, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if _, ok := agent.AsSuspendRequest(err); ok {
		return false
	}
	if cfg.ShouldRetry != nil {
		return cfg.ShouldRetry(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return true
}
