package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
	}
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 2 * time.Second, MaxDelay: 5 * time.Minute}

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{name: "初回失敗後", attempt: 0, want: 2 * time.Second},
		{name: "2回目失敗後", attempt: 1, want: 4 * time.Second},
		{name: "4回目失敗後", attempt: 3, want: 16 * time.Second},
		{name: "上限で頭打ち", attempt: 8, want: 5 * time.Minute},
		{name: "大きな試行回数でも上限", attempt: 100, want: 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.Backoff(tt.attempt))
		})
	}

	assert.Equal(t, time.Duration(0), RetryConfig{}.Backoff(3))
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	var calls atomic.Int32
	res := Retry(context.Background(), fastRetryConfig(3), func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "ok", nil
	}, nil)

	require.True(t, res.OK())
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	var calls atomic.Int32
	var retried []int

	res := Retry(context.Background(), fastRetryConfig(5), func(ctx context.Context) (int, error) {
		n := calls.Add(1)
		if n < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}, func(attempt int, err error, delay time.Duration) {
		retried = append(retried, attempt)
	})

	require.NoError(t, res.Err)
	assert.Equal(t, 42, res.Value)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetry_ExhaustsExactlyMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	var retries int
	cause := errors.New("always fails")

	res := Retry(context.Background(), fastRetryConfig(4), func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, cause
	}, func(int, error, time.Duration) { retries++ })

	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrRetriesExhausted)
	assert.ErrorIs(t, res.Err, cause)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, int32(4), calls.Load())
	// 最後の失敗の後は待機しない
	assert.Equal(t, 3, retries)
}

func TestRetry_AttemptTimeout(t *testing.T) {
	cfg := fastRetryConfig(2)
	cfg.AttemptTimeout = 20 * time.Millisecond

	var calls, inFlight, peak atomic.Int32
	res := Retry(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls.Add(1)
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		// コンテキストを無視して応答が遅れる呼び出し
		time.Sleep(60 * time.Millisecond)
		return 1, nil
	}, nil)

	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, ErrorTypeTimeout, ClassifyError(res.Err))
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(2), calls.Load())
	// 前の試行が戻るまで次の試行は始まらない
	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, int32(0), inFlight.Load())
}

func TestRetry_ParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 10, BaseDelay: time.Hour}

	var calls atomic.Int32
	done := make(chan RetryResult[int], 1)
	go func() {
		done <- Retry(ctx, cfg, func(ctx context.Context) (int, error) {
			calls.Add(1)
			return 0, errors.New("fail")
		}, nil)
	}()

	// バックオフ待機中にキャンセル
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.ErrorIs(t, res.Err, context.Canceled)
		assert.Equal(t, int32(1), calls.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("Retry did not return after cancellation")
	}
}

func TestRetry_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	res := Retry(ctx, fastRetryConfig(3), func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 1, nil
	}, nil)

	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRetry_PanicWithTimeoutIsRetried(t *testing.T) {
	cfg := fastRetryConfig(2)
	cfg.AttemptTimeout = time.Second

	var calls atomic.Int32
	res := Retry(context.Background(), cfg, func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return 7, nil
	}, nil)

	require.NoError(t, res.Err)
	assert.Equal(t, 7, res.Value)
	assert.Equal(t, 2, res.Attempts)
}
