package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultRateWindow はレート制限のウィンドウ幅です
const DefaultRateWindow = time.Minute

// RateLimiter は固定ウィンドウのリクエストカウンタでプロバイダ呼び出しを抑制します
// 上限に達した場合はウィンドウの残り時間だけ待機してからカウンタをリセットします
// 複数のタスクで共有されるため、カウンタの更新はミューテックスで保護します
type RateLimiter struct {
	mu sync.Mutex

	maxRequests int
	window      time.Duration
	windowStart time.Time
	count       int

	totalRequests int
	throttled     int
	totalWaited   time.Duration

	now func() time.Time
}

// NewRateLimiter はウィンドウあたりmaxRequests件までを許可するRateLimiterを作成します
// maxRequestsが0以下の場合は制限しません
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// Wait はリクエストを1件消費します。上限に達している場合はウィンドウが切り替わるまで待機します
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil || rl.maxRequests <= 0 {
		return ctx.Err()
	}

	for {
		rl.mu.Lock()
		now := rl.now()
		if rl.windowStart.IsZero() || now.Sub(rl.windowStart) >= rl.window {
			rl.windowStart = now
			rl.count = 0
		}

		if rl.count < rl.maxRequests {
			rl.count++
			rl.totalRequests++
			rl.mu.Unlock()
			return nil
		}

		wait := rl.window - now.Sub(rl.windowStart)
		rl.throttled++
		rl.totalWaited += wait
		rl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RateLimiterStatus はレート制限の状態です
type RateLimiterStatus struct {
	MaxRequests     int
	Window          time.Duration
	UsedInWindow    int
	TotalRequests   int
	ThrottledWaits  int
	TotalWaitedTime time.Duration
}

// GetStatus は現在の状態を返します
func (rl *RateLimiter) GetStatus() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	used := rl.count
	if !rl.windowStart.IsZero() && rl.now().Sub(rl.windowStart) >= rl.window {
		used = 0
	}

	return RateLimiterStatus{
		MaxRequests:     rl.maxRequests,
		Window:          rl.window,
		UsedInWindow:    used,
		TotalRequests:   rl.totalRequests,
		ThrottledWaits:  rl.throttled,
		TotalWaitedTime: rl.totalWaited,
	}
}

func (s RateLimiterStatus) String() string {
	return fmt.Sprintf(
		"RateLimiter: %d/%d used in %s window | Total: %d | Throttled: %d (waited %s)",
		s.UsedInWindow,
		s.MaxRequests,
		s.Window,
		s.TotalRequests,
		s.ThrottledWaits,
		s.TotalWaitedTime.Round(time.Millisecond),
	)
}
