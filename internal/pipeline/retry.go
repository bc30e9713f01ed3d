package pipeline

import (
	"context"
	"time"

	"docvault-go/internal/config"
)

// RetryPolicy 是协调器包裹在每个阶段调用外的显式重试策略：固定间隔，最多重试 MaxRetries 次。
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	Retryable  func(error) bool
	// Sleep 在两次尝试之间等待，测试中替换为立即返回。
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy 根据配置创建重试策略。
func NewRetryPolicy(cfg config.PipelineConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		Delay:      cfg.RetryDelay,
		Retryable:  IsRetryable,
		Sleep:      sleepContext,
	}
}

// Do 执行 fn，直到成功、遇到不可重试的错误或用尽预算。
// onRetry 在每次等待前被调用，attempt 为刚刚失败的尝试序号（从 1 开始）。
// 返回实际执行的次数和最后一次的错误。
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) (int, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if !retryable(err) || attempt > p.MaxRetries {
			return attempt, err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if serr := sleep(ctx, p.Delay); serr != nil {
			return attempt, serr
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
