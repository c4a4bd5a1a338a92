package llm

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ProviderMetrics は解析/Embeddingプロバイダの呼び出し状況を集計します
type ProviderMetrics struct {
	mu sync.RWMutex

	totalRequests      int
	successfulRequests int
	failedRequests     int
	retries            int
	fallbacks          int
	requestsByOp       map[Operation]int
	requestsByModel    map[string]int
	errorsByType       map[ErrorType]int

	tokens     TokenUsage
	tokensByOp map[Operation]TokenUsage

	latencyByOp map[Operation][]time.Duration

	startTime       time.Time
	lastRequestTime time.Time
}

// NewProviderMetrics は新しいProviderMetricsを作成します
func NewProviderMetrics() *ProviderMetrics {
	m := &ProviderMetrics{}
	m.resetLocked()
	return m
}

// RequestMetric は1回の論理的な呼び出し（リトライを含む）のメトリクスです
type RequestMetric struct {
	Operation    Operation
	Model        string
	Usage        TokenUsage
	Latency      time.Duration
	Success      bool
	Attempts     int
	UsedFallback bool
	ErrorType    ErrorType
}

// RecordRequest はリクエストのメトリクスを記録します
func (m *ProviderMetrics) RecordRequest(metric RequestMetric) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.requestsByOp[metric.Operation]++
	if metric.Model != "" {
		m.requestsByModel[metric.Model]++
	}
	m.lastRequestTime = time.Now()

	if metric.Success {
		m.successfulRequests++
	} else {
		m.failedRequests++
		m.errorsByType[metric.ErrorType]++
	}
	if metric.Attempts > 1 {
		m.retries += metric.Attempts - 1
	}
	if metric.UsedFallback {
		m.fallbacks++
	}

	m.tokens = m.tokens.Add(metric.Usage)
	m.tokensByOp[metric.Operation] = m.tokensByOp[metric.Operation].Add(metric.Usage)

	m.latencyByOp[metric.Operation] = append(m.latencyByOp[metric.Operation], metric.Latency)
}

// MetricsSnapshot はメトリクスのスナップショット
type MetricsSnapshot struct {
	CapturedAt      time.Time     `json:"captured_at"`
	StartTime       time.Time     `json:"start_time"`
	ElapsedTime     time.Duration `json:"elapsed_time"`
	LastRequestTime time.Time     `json:"last_request_time"`

	TotalRequests      int                      `json:"total_requests"`
	SuccessfulRequests int                      `json:"successful_requests"`
	FailedRequests     int                      `json:"failed_requests"`
	Retries            int                      `json:"retries"`
	Fallbacks          int                      `json:"fallbacks"`
	SuccessRate        float64                  `json:"success_rate"`
	RequestsByOp       map[Operation]int        `json:"requests_by_operation"`
	RequestsByModel    map[string]int           `json:"requests_by_model"`
	ErrorsByType       map[ErrorType]int        `json:"errors_by_type"`
	Tokens             TokenUsage               `json:"tokens"`
	TokensByOp         map[Operation]TokenUsage `json:"tokens_by_operation"`

	LatencyByOp map[Operation]LatencyStat `json:"latency_by_operation"`
}

// LatencyStat はレイテンシの統計情報
type LatencyStat struct {
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Average time.Duration `json:"average"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
}

// GetSnapshot は現在のメトリクスのスナップショットを返します
func (m *ProviderMetrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := MetricsSnapshot{
		CapturedAt:         time.Now(),
		StartTime:          m.startTime,
		ElapsedTime:        time.Since(m.startTime),
		LastRequestTime:    m.lastRequestTime,
		TotalRequests:      m.totalRequests,
		SuccessfulRequests: m.successfulRequests,
		FailedRequests:     m.failedRequests,
		Retries:            m.retries,
		Fallbacks:          m.fallbacks,
		RequestsByOp:       copyMap(m.requestsByOp),
		RequestsByModel:    copyMap(m.requestsByModel),
		ErrorsByType:       copyMap(m.errorsByType),
		Tokens:             m.tokens,
		TokensByOp:         copyMap(m.tokensByOp),
		LatencyByOp:        make(map[Operation]LatencyStat, len(m.latencyByOp)),
	}

	if m.totalRequests > 0 {
		snapshot.SuccessRate = float64(m.successfulRequests) / float64(m.totalRequests) * 100.0
	}
	for op, latencies := range m.latencyByOp {
		snapshot.LatencyByOp[op] = calculateLatencyStat(latencies)
	}

	return snapshot
}

// ExportJSON はメトリクスをJSON形式でエクスポートします
func (m *ProviderMetrics) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(m.GetSnapshot(), "", "  ")
}

// Reset はメトリクスをリセットします
func (m *ProviderMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *ProviderMetrics) resetLocked() {
	m.totalRequests = 0
	m.successfulRequests = 0
	m.failedRequests = 0
	m.retries = 0
	m.fallbacks = 0
	m.requestsByOp = make(map[Operation]int)
	m.requestsByModel = make(map[string]int)
	m.errorsByType = make(map[ErrorType]int)
	m.tokens = TokenUsage{}
	m.tokensByOp = make(map[Operation]TokenUsage)
	m.latencyByOp = make(map[Operation][]time.Duration)
	m.startTime = time.Now()
	m.lastRequestTime = time.Time{}
}

// LogSummary はサマリーを構造化ログとして出力します
func (m *ProviderMetrics) LogSummary(log *slog.Logger) {
	s := m.GetSnapshot()

	attrs := []any{
		"requests", s.TotalRequests,
		"successful", s.SuccessfulRequests,
		"failed", s.FailedRequests,
		"retries", s.Retries,
		"fallbacks", s.Fallbacks,
		"successRate", s.SuccessRate,
		"totalTokens", s.Tokens.TotalTokens,
		"elapsed", s.ElapsedTime.Round(time.Second).String(),
	}
	for op, stat := range s.LatencyByOp {
		attrs = append(attrs, string(op)+"P95", stat.P95.Round(time.Millisecond).String())
	}
	log.Info("provider metrics summary", attrs...)
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func calculateLatencyStat(latencies []time.Duration) LatencyStat {
	if len(latencies) == 0 {
		return LatencyStat{}
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	stat := LatencyStat{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
	}

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	stat.Average = sum / time.Duration(len(sorted))

	// パーセンタイル
	stat.P50 = sorted[len(sorted)*50/100]
	if len(sorted) > 1 {
		stat.P95 = sorted[len(sorted)*95/100]
		stat.P99 = sorted[len(sorted)*99/100]
	} else {
		stat.P95 = stat.Max
		stat.P99 = stat.Max
	}

	return stat
}
