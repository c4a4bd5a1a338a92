package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 0)
	require.NotNil(t, rl)
	assert.Equal(t, 10, rl.maxRequests)
	assert.Equal(t, DefaultRateWindow, rl.window)
}

func TestRateLimiter_Wait(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute)
	ctx := context.Background()

	// 最初の呼び出しは即座に成功する
	require.NoError(t, rl.Wait(ctx))

	status := rl.GetStatus()
	assert.Equal(t, 1, status.UsedInWindow)
	assert.Equal(t, 1, status.TotalRequests)
	assert.Equal(t, 0, status.ThrottledWaits)
}

func TestRateLimiter_Unlimited(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		require.NoError(t, rl.Wait(ctx))
	}

	// nilのRateLimiterは制限しない
	var nilLimiter *RateLimiter
	require.NoError(t, nilLimiter.Wait(ctx))
}

func TestRateLimiter_RateLimitExceeded(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	ctx := context.Background()

	require.NoError(t, rl.Wait(ctx))
	require.NoError(t, rl.Wait(ctx))

	// 3回目はウィンドウの切り替わりまで待機が必要
	timeoutCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := rl.Wait(timeoutCtx)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Equal(t, 1, rl.GetStatus().ThrottledWaits)
}

func TestRateLimiter_ContextCancellation(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // 即座にキャンセル

	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	// 時刻を固定して制御する
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Wait(ctx))
	}
	assert.Equal(t, 3, rl.GetStatus().UsedInWindow)

	// ウィンドウが過ぎるとカウンタがリセットされる
	now = now.Add(61 * time.Second)
	assert.Equal(t, 0, rl.GetStatus().UsedInWindow)

	require.NoError(t, rl.Wait(ctx))
	status := rl.GetStatus()
	assert.Equal(t, 1, status.UsedInWindow)
	assert.Equal(t, 4, status.TotalRequests)
	assert.Equal(t, 0, status.ThrottledWaits)
}

func TestRateLimiter_WaitsForNextWindow(t *testing.T) {
	rl := NewRateLimiter(2, 50*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, rl.Wait(ctx))
	}
	elapsed := time.Since(start)

	// 3件目で次のウィンドウまで待機する
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	status := rl.GetStatus()
	assert.Equal(t, 4, status.TotalRequests)
	assert.GreaterOrEqual(t, status.ThrottledWaits, 1)
}

func TestRateLimiter_ConcurrentRequests(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	successCount := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rl.Wait(ctx); err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// すべて同一ウィンドウ内で成功するはず
	assert.Equal(t, 10, successCount)
	assert.Equal(t, 10, rl.GetStatus().UsedInWindow)
}

func TestRateLimiterStatus_String(t *testing.T) {
	status := RateLimiterStatus{
		MaxRequests:     10,
		Window:          time.Minute,
		UsedInWindow:    5,
		TotalRequests:   25,
		ThrottledWaits:  2,
		TotalWaitedTime: 1500 * time.Millisecond,
	}

	str := status.String()
	assert.Contains(t, str, "5/10 used in 1m0s window")
	assert.Contains(t, str, "Total: 25")
	assert.Contains(t, str, "Throttled: 2 (waited 1.5s)")
}
