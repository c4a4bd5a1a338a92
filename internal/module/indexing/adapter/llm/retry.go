package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryConfig はリトライ動作の設定です
type RetryConfig struct {
	// MaxAttempts は試行回数の上限です（初回を含む）
	MaxAttempts int
	// BaseDelay はバックオフの基準値です。n回目の失敗後は BaseDelay * 2^n 待機します
	BaseDelay time.Duration
	// MaxDelay はバックオフの上限です。0の場合は上限なし
	MaxDelay time.Duration
	// AttemptTimeout は1回の呼び出しのタイムアウトです。0の場合は設定しません
	AttemptTimeout time.Duration
}

// DefaultRetryConfig はプロバイダ呼び出しのデフォルト設定を返します
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    10,
		BaseDelay:      2 * time.Second,
		MaxDelay:       5 * time.Minute,
		AttemptTimeout: 60 * time.Second,
	}
}

// Backoff はattempt回目（0始まり）の失敗後の待機時間を返します
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if c.BaseDelay <= 0 {
		return 0
	}
	delay := c.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if c.MaxDelay > 0 && delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// RetryResult はリトライ付き呼び出しの結果です
// Errがnilの場合のみValueが有効です
type RetryResult[T any] struct {
	Value    T
	Attempts int
	Err      error
}

// OK は呼び出しが成功したかを返します
func (r RetryResult[T]) OK() bool {
	return r.Err == nil
}

// ErrRetriesExhausted は全ての試行が失敗したことを示します
var ErrRetriesExhausted = errors.New("retries exhausted")

// Retry はfnを最大MaxAttempts回呼び出し、失敗のたびに指数バックオフで待機します
// 各試行はAttemptTimeoutで打ち切られ、タイムアウトも通常の失敗としてリトライされます
// 親コンテキストがキャンセルされた場合は即座に終了します
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error), onRetry func(attempt int, err error, delay time.Duration)) RetryResult[T] {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return RetryResult[T]{Attempts: attempt, Err: err}
		}

		value, err := callWithTimeout(ctx, cfg.AttemptTimeout, fn)
		if err == nil {
			return RetryResult[T]{Value: value, Attempts: attempt + 1}
		}
		lastErr = err

		if ctx.Err() != nil {
			return RetryResult[T]{Attempts: attempt + 1, Err: ctx.Err()}
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := cfg.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt+1, err, delay)
		}
		if err := sleepContext(ctx, delay); err != nil {
			return RetryResult[T]{Attempts: attempt + 1, Err: err}
		}
	}

	return RetryResult[T]{
		Attempts: maxAttempts,
		Err:      fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr),
	}
}

func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("provider call panicked: %v", rec)}
			}
		}()
		v, err := fn(attemptCtx)
		done <- outcome{value: v, err: err}
	}()

	// タイムアウト後もfnが戻るまでは返らない。呼び出し中のまま次の試行やスロット解放に進まない
	select {
	case o := <-done:
		return o.value, o.err
	case <-attemptCtx.Done():
		<-done
		var zero T
		return zero, fmt.Errorf("attempt timed out after %s: %w", timeout, attemptCtx.Err())
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
