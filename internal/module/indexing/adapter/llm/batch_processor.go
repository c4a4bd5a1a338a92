package llm

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// TaskFunc は1項目分の処理です。indexは入力全体でのインデックスです
type TaskFunc[T, R any] func(ctx context.Context, index int, item T) (R, error)

// CommitFunc はバッチ内の成功結果をまとめて確定します
// エラーを返した場合、そのバッチの成功結果は全て失敗として扱われます
type CommitFunc[R any] func(ctx context.Context, batchIndex int, results []R) error

// BatchResult はバッチ処理の結果です
// Errorsのキーは入力のインデックスで、Failedに含まれる項目のみを指します
type BatchResult[T, R any] struct {
	Successful []R
	Failed     []T
	Errors     map[int]error

	successIndex []int
	failedIndex  []int
}

func newBatchResult[T, R any]() *BatchResult[T, R] {
	return &BatchResult[T, R]{Errors: make(map[int]error)}
}

func (r *BatchResult[T, R]) SuccessCount() int { return len(r.Successful) }
func (r *BatchResult[T, R]) FailureCount() int { return len(r.Failed) }
func (r *BatchResult[T, R]) TotalCount() int   { return len(r.Successful) + len(r.Failed) }

// FailedIndices は失敗した項目の入力インデックスをFailedと同じ順序で返します
func (r *BatchResult[T, R]) FailedIndices() []int {
	out := make([]int, len(r.failedIndex))
	copy(out, r.failedIndex)
	return out
}

func (r *BatchResult[T, R]) addSuccess(index int, value R) {
	r.Successful = append(r.Successful, value)
	r.successIndex = append(r.successIndex, index)
}

func (r *BatchResult[T, R]) addFailure(index int, item T, err error) {
	r.Failed = append(r.Failed, item)
	r.failedIndex = append(r.failedIndex, index)
	r.Errors[index] = err
}

// failAll は成功結果を全て失敗に付け替えます
func (r *BatchResult[T, R]) failAll(items func(index int) T, err error) {
	for _, idx := range r.successIndex {
		r.addFailure(idx, items(idx), err)
	}
	r.Successful = nil
	r.successIndex = nil
}

// merge はotherの結果をoffset分ずらして取り込みます
func (r *BatchResult[T, R]) merge(other *BatchResult[T, R], offset int) {
	for i, v := range other.Successful {
		r.addSuccess(other.successIndex[i]+offset, v)
	}
	for i, item := range other.Failed {
		idx := other.failedIndex[i]
		r.addFailure(idx+offset, item, other.Errors[idx])
	}
}

// BatchProcessorConfig はバッチ処理の設定
type BatchProcessorConfig struct {
	// MaxConcurrency は全バッチを通した項目単位の同時実行数の上限
	MaxConcurrency int
	// MaxConcurrentBatches は同時に処理するバッチ数の上限
	MaxConcurrentBatches int
	// ProgressCallback はプログレス更新時に呼ばれるコールバック
	ProgressCallback func(progress BatchProgress)
}

// BatchProgress はバッチ処理の進捗状況
type BatchProgress struct {
	Total                  int
	Completed              int
	Failed                 int
	ElapsedTime            time.Duration
	EstimatedTimeRemaining time.Duration
}

// String はプログレスを文字列表現で返す
func (p BatchProgress) String() string {
	percentage := 0.0
	if p.Total > 0 {
		percentage = float64(p.Completed) / float64(p.Total) * 100
	}

	eta := "N/A"
	if p.EstimatedTimeRemaining > 0 {
		eta = p.EstimatedTimeRemaining.Round(time.Second).String()
	}

	return fmt.Sprintf(
		"Progress: %d/%d (%.1f%%) | Failed: %d | Elapsed: %s | ETA: %s",
		p.Completed,
		p.Total,
		percentage,
		p.Failed,
		p.ElapsedTime.Round(time.Second),
		eta,
	)
}

// BatchProcessor は項目を固定サイズのバッチに分け、同時実行数を制限して処理します
// 項目単位のセマフォは全バッチで共有されるため、同時に実行されるタスク数は常にMaxConcurrency以下です
type BatchProcessor[T, R any] struct {
	task   TaskFunc[T, R]
	commit CommitFunc[R]
	config BatchProcessorConfig
	sem    *semaphore.Weighted
	log    *slog.Logger
}

// NewBatchProcessor は新しいBatchProcessorを作成する
func NewBatchProcessor[T, R any](task TaskFunc[T, R], config BatchProcessorConfig, log *slog.Logger) *BatchProcessor[T, R] {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 5
	}
	if config.MaxConcurrentBatches <= 0 {
		config.MaxConcurrentBatches = 1
	}
	if log == nil {
		log = slog.Default()
	}

	return &BatchProcessor[T, R]{
		task:   task,
		config: config,
		sem:    semaphore.NewWeighted(int64(config.MaxConcurrency)),
		log:    log,
	}
}

// WithCommit はバッチ単位の確定処理を設定します
func (bp *BatchProcessor[T, R]) WithCommit(commit CommitFunc[R]) *BatchProcessor[T, R] {
	bp.commit = commit
	return bp
}

// ProcessBatch は1バッチ分の項目を並列に処理します
// 個々の項目のエラーやpanicは結果に記録され、呼び出し元には伝播しません
func (bp *BatchProcessor[T, R]) ProcessBatch(ctx context.Context, items []T) *BatchResult[T, R] {
	progress := newProgressTracker(len(items), bp.config.ProgressCallback)
	return bp.processBatch(ctx, items, 0, progress)
}

func (bp *BatchProcessor[T, R]) processBatch(ctx context.Context, items []T, offset int, progress *progressTracker) *BatchResult[T, R] {
	result := newBatchResult[T, R]()
	if len(items) == 0 {
		return result
	}

	type outcome struct {
		value R
		err   error
	}
	outcomes := make([]outcome, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()

			// セマフォを取得（並列度を制限）
			if err := bp.sem.Acquire(ctx, 1); err != nil {
				outcomes[i] = outcome{err: err}
				progress.done(false)
				return
			}
			defer bp.sem.Release(1)

			value, err := bp.runTask(ctx, offset+i, item)
			outcomes[i] = outcome{value: value, err: err}
			progress.done(err == nil)
		}(i, item)
	}
	wg.Wait()

	for i, o := range outcomes {
		if o.err != nil {
			result.addFailure(i, items[i], o.err)
			continue
		}
		result.addSuccess(i, o.value)
	}
	return result
}

func (bp *BatchProcessor[T, R]) runTask(ctx context.Context, index int, item T) (value R, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			bp.log.Error("task panicked", "index", index, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return bp.task(ctx, index, item)
}

// ProcessAll は項目をbatchSize件ずつのバッチに分けて処理します
// 最大MaxConcurrentBatches個のバッチが同時に処理され、Commitが設定されていれば各バッチの完了後に呼ばれます
// 結果のインデックスは入力全体でのインデックスに変換されます
func (bp *BatchProcessor[T, R]) ProcessAll(ctx context.Context, items []T, batchSize int) *BatchResult[T, R] {
	if batchSize <= 0 {
		batchSize = len(items)
	}
	total := len(items)
	result := newBatchResult[T, R]()
	if total == 0 {
		return result
	}

	numBatches := (total + batchSize - 1) / batchSize
	batchResults := make([]*BatchResult[T, R], numBatches)
	progress := newProgressTracker(total, bp.config.ProgressCallback)

	var g errgroup.Group
	g.SetLimit(bp.config.MaxConcurrentBatches)

	for b := 0; b < numBatches; b++ {
		start := b * batchSize
		end := min(start+batchSize, total)
		batch := items[start:end]

		// キャンセル後は未着手のバッチを開始しない
		if err := ctx.Err(); err != nil {
			batchResults[b] = cancelledBatch[T, R](batch, err)
			progress.skip(len(batch))
			continue
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				batchResults[b] = cancelledBatch[T, R](batch, err)
				progress.skip(len(batch))
				return nil
			}

			started := time.Now()
			br := bp.processBatch(ctx, batch, start, progress)
			bp.commitBatch(ctx, b, batch, br)
			batchResults[b] = br

			bp.log.Debug("batch finished",
				"batchIndex", b,
				"size", len(batch),
				"success", br.SuccessCount(),
				"failed", br.FailureCount(),
				"duration", time.Since(started))
			return nil
		})
	}
	_ = g.Wait()

	for b, br := range batchResults {
		result.merge(br, b*batchSize)
	}
	return result
}

func (bp *BatchProcessor[T, R]) commitBatch(ctx context.Context, batchIndex int, batch []T, br *BatchResult[T, R]) {
	if bp.commit == nil || len(br.Successful) == 0 {
		return
	}
	if err := bp.commit(ctx, batchIndex, br.Successful); err != nil {
		bp.log.Error("batch commit failed",
			"batchIndex", batchIndex,
			"records", len(br.Successful),
			"error", err)
		br.failAll(func(i int) T { return batch[i] }, err)
	}
}

func cancelledBatch[T, R any](batch []T, err error) *BatchResult[T, R] {
	br := newBatchResult[T, R]()
	for i, item := range batch {
		br.addFailure(i, item, fmt.Errorf("batch not started: %w", err))
	}
	return br
}

// progressTracker は複数のゴルーチンから進捗を集計します
type progressTracker struct {
	mu        sync.Mutex
	total     int
	completed int
	failed    int
	start     time.Time
	callback  func(BatchProgress)
}

func newProgressTracker(total int, callback func(BatchProgress)) *progressTracker {
	return &progressTracker{total: total, start: time.Now(), callback: callback}
}

func (p *progressTracker) done(ok bool) {
	p.add(1, !ok)
}

func (p *progressTracker) skip(n int) {
	p.mu.Lock()
	p.completed += n
	p.failed += n
	snapshot := p.snapshotLocked()
	p.mu.Unlock()
	p.notify(snapshot)
}

func (p *progressTracker) add(n int, failed bool) {
	p.mu.Lock()
	p.completed += n
	if failed {
		p.failed += n
	}
	snapshot := p.snapshotLocked()
	p.mu.Unlock()
	p.notify(snapshot)
}

func (p *progressTracker) snapshotLocked() BatchProgress {
	elapsed := time.Since(p.start)

	// 推定残り時間を計算
	var eta time.Duration
	if p.completed > 0 {
		avg := elapsed / time.Duration(p.completed)
		eta = avg * time.Duration(p.total-p.completed)
	}

	return BatchProgress{
		Total:                  p.total,
		Completed:              p.completed,
		Failed:                 p.failed,
		ElapsedTime:            elapsed,
		EstimatedTimeRemaining: eta,
	}
}

func (p *progressTracker) notify(progress BatchProgress) {
	if p.callback != nil {
		p.callback(progress)
	}
}
