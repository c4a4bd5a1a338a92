package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/repo-indexer/internal/module/indexing/adapter/llm"
	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

// PipelineConfig はバッチ処理パイプラインの設定です
type PipelineConfig struct {
	// BatchSize は1トランザクションにまとめるファイル数
	BatchSize int
	// MaxParallelRequests は全バッチを通したファイル単位の同時実行数
	MaxParallelRequests int
	// MaxConcurrentBatches は同時に処理するバッチ数
	MaxConcurrentBatches int
	// Retry は解析呼び出しのリトライ設定。AttemptTimeoutはEmbedding呼び出しにも適用されます
	Retry llm.RetryConfig
	// RequestsPerMinute はプロバイダ呼び出しの1分あたりの上限。0以下で無制限
	RequestsPerMinute int
	// Dimension はEmbeddingの次元数。0の場合はEmbedderの値を使います
	Dimension int
	// ProgressCallback は進捗更新時に呼ばれます
	ProgressCallback func(progress llm.BatchProgress)
}

// DefaultPipelineConfig はデフォルト設定を返します
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BatchSize:            5,
		MaxParallelRequests:  5,
		MaxConcurrentBatches: 3,
		Retry:                llm.DefaultRetryConfig(),
		RequestsPerMinute:    100,
	}
}

// ProcessTarget は処理対象のリポジトリです
type ProcessTarget struct {
	RepositoryID   uuid.UUID
	RepositoryName string
	Handle         domain.RepositoryHandle
	// ContextText は解析時に渡す補助情報（README等）
	ContextText string
}

// ProcessingReport はProcessRepositoryの集計結果です
// FailedPathsとErrorsは失敗したファイルのみを含みます
type ProcessingReport struct {
	SuccessCount  int
	FailureCount  int
	FailedPaths   []string
	Errors        map[string]error
	FallbackPaths []string
	DeletedCount  int
	Duration      time.Duration
}

func newProcessingReport() *ProcessingReport {
	return &ProcessingReport{Errors: make(map[string]error)}
}

func (r *ProcessingReport) addFailure(path string, err error) {
	r.FailureCount++
	r.FailedPaths = append(r.FailedPaths, path)
	r.Errors[path] = err
}

// OK は失敗したファイルがないかを返します
func (r *ProcessingReport) OK() bool {
	return r.FailureCount == 0
}

// AnalysisResult はリトライ付き解析の結果です
// Errがnilでない場合、Analysisはnilで呼び出し側がフォールバックを決めます
type AnalysisResult struct {
	Analysis *domain.Analysis
	Attempts int
	Err      error
}

// OK は解析が成功したかを返します
func (r AnalysisResult) OK() bool {
	return r.Err == nil && r.Analysis != nil
}

// Pipeline は変更セットを解析・Embedding・永続化まで処理します
type Pipeline struct {
	// ドメインポート
	extractor domain.ContentExtractor
	analyzer  domain.Analyzer
	embedder  domain.Embedder
	store     domain.BatchTransactor

	// 技術基盤
	limiter  *llm.RateLimiter
	metrics  *llm.ProviderMetrics
	errorLog *llm.ErrorHandler

	cfg PipelineConfig
	log *slog.Logger
}

// NewPipeline は新しいPipelineを作成します
func NewPipeline(
	extractor domain.ContentExtractor,
	analyzer domain.Analyzer,
	embedder domain.Embedder,
	store domain.BatchTransactor,
	cfg PipelineConfig,
	log *slog.Logger,
) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.MaxParallelRequests <= 0 {
		cfg.MaxParallelRequests = 5
	}
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = 1
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if log == nil {
		log = slog.Default()
	}

	return &Pipeline{
		extractor: extractor,
		analyzer:  analyzer,
		embedder:  embedder,
		store:     store,
		limiter:   llm.NewRateLimiter(cfg.RequestsPerMinute, llm.DefaultRateWindow),
		metrics:   llm.NewProviderMetrics(),
		cfg:       cfg,
		log:       log,
	}
}

// WithErrorHandler はプロバイダエラーの記録先を設定します
func (p *Pipeline) WithErrorHandler(h *llm.ErrorHandler) *Pipeline {
	p.errorLog = h
	return p
}

// Metrics はプロバイダ呼び出しのメトリクスを返します
func (p *Pipeline) Metrics() *llm.ProviderMetrics {
	return p.metrics
}

// RateLimiterStatus はレート制限の状態を返します
func (p *Pipeline) RateLimiterStatus() llm.RateLimiterStatus {
	return p.limiter.GetStatus()
}

func (p *Pipeline) dimension() int {
	if p.cfg.Dimension > 0 {
		return p.cfg.Dimension
	}
	return p.embedder.Dimension()
}

// ProcessRepository は変更セットを処理し、集計結果を返します
// 削除エントリは独立したトランザクションで削除し、それ以外はBatchSize件ごとに1トランザクションで確定します
// ファイル単位の失敗は結果に記録され、エラーとして返されることはありません
func (p *Pipeline) ProcessRepository(ctx context.Context, target ProcessTarget, changes []domain.FileStatusEntry) *ProcessingReport {
	started := time.Now()
	report := newProcessingReport()

	deleted, entries := partitionChanges(changes)
	p.log.Info("Starting pipeline",
		"repository", target.RepositoryName,
		"files", len(entries),
		"deleted", len(deleted),
		"batchSize", p.cfg.BatchSize,
		"maxParallel", p.cfg.MaxParallelRequests,
		"maxBatches", p.cfg.MaxConcurrentBatches)

	if len(deleted) > 0 {
		p.removeDeleted(ctx, target, deleted, report)
	}

	if len(entries) > 0 {
		processor := llm.NewBatchProcessor(
			func(ctx context.Context, _ int, entry domain.FileStatusEntry) (*domain.ProcessedFile, error) {
				return p.processFile(ctx, target, entry)
			},
			llm.BatchProcessorConfig{
				MaxConcurrency:       p.cfg.MaxParallelRequests,
				MaxConcurrentBatches: p.cfg.MaxConcurrentBatches,
				ProgressCallback:     p.cfg.ProgressCallback,
			},
			p.log,
		).WithCommit(func(ctx context.Context, batchIndex int, records []*domain.ProcessedFile) error {
			return p.commitBatch(ctx, target.RepositoryID, batchIndex, records)
		})

		result := processor.ProcessAll(ctx, entries, p.cfg.BatchSize)

		for _, record := range result.Successful {
			report.SuccessCount++
			if record.UsedFallbackAnalysis {
				report.FallbackPaths = append(report.FallbackPaths, record.Path)
			}
		}
		for _, idx := range result.FailedIndices() {
			path := entries[idx].Path
			err := result.Errors[idx]
			report.addFailure(path, err)
			p.log.Warn("file failed", "path", path, "error", err)
		}
	}

	sort.Strings(report.FailedPaths)
	sort.Strings(report.FallbackPaths)
	report.Duration = time.Since(started)

	p.log.Info("Pipeline completed",
		"repository", target.RepositoryName,
		"success", report.SuccessCount,
		"failed", report.FailureCount,
		"fallback", len(report.FallbackPaths),
		"deleted", report.DeletedCount,
		"duration", report.Duration)
	p.metrics.LogSummary(p.log)

	return report
}

// partitionChanges は削除エントリと処理対象エントリに分け、パスの重複を除きます
// 同じパスが複数回現れた場合は後のエントリを採用します
func partitionChanges(changes []domain.FileStatusEntry) (deleted []string, entries []domain.FileStatusEntry) {
	latest := make(map[string]int, len(changes))
	var order []string
	for i, c := range changes {
		if c.Path == "" {
			continue
		}
		if _, seen := latest[c.Path]; !seen {
			order = append(order, c.Path)
		}
		latest[c.Path] = i
	}

	for _, path := range order {
		c := changes[latest[path]]
		switch {
		case c.Status == domain.FileStatusDeleted:
			deleted = append(deleted, c.Path)
		case c.Status.NeedsProcessing():
			entries = append(entries, c)
		}
	}
	return deleted, entries
}

func (p *Pipeline) removeDeleted(ctx context.Context, target ProcessTarget, paths []string, report *ProcessingReport) {
	ctx = context.WithoutCancel(ctx)
	var removed int
	err := p.store.WithinBatch(ctx, target.RepositoryID, func(w domain.FileRecordWriter) error {
		n, err := w.DeleteByPaths(ctx, target.RepositoryID, paths)
		if err != nil {
			return fmt.Errorf("failed to delete records: %w", err)
		}
		removed = n
		return nil
	})
	if err != nil {
		p.log.Error("failed to remove deleted files", "repository", target.RepositoryName, "paths", len(paths), "error", err)
		for _, path := range paths {
			report.addFailure(path, err)
		}
		return
	}
	report.DeletedCount = removed
	p.log.Debug("removed deleted files", "requested", len(paths), "removed", removed)
}

// commitBatch はバッチ内の成功レコードを1トランザクションで置き換えます
// 処理中にキャンセルされても確定処理は最後まで実行します
func (p *Pipeline) commitBatch(ctx context.Context, repositoryID uuid.UUID, batchIndex int, records []*domain.ProcessedFile) error {
	ctx = context.WithoutCancel(ctx)
	return p.store.WithinBatch(ctx, repositoryID, func(w domain.FileRecordWriter) error {
		for _, record := range records {
			if record.OldPath != "" {
				if _, err := w.DeleteByPaths(ctx, repositoryID, []string{record.OldPath}); err != nil {
					return fmt.Errorf("failed to delete renamed record %s: %w", record.OldPath, err)
				}
			}

			existing, err := w.GetByPath(ctx, repositoryID, record.Path)
			switch {
			case err == nil:
				if _, err := w.DeleteByID(ctx, existing.ID); err != nil {
					return fmt.Errorf("failed to delete existing record %s: %w", record.Path, err)
				}
			case !errors.Is(err, domain.ErrFileNotFound):
				return fmt.Errorf("failed to look up record %s: %w", record.Path, err)
			}

			if _, err := w.Insert(ctx, record); err != nil {
				return fmt.Errorf("failed to insert record %s: %w", record.Path, err)
			}
		}
		p.log.Debug("batch committed", "batchIndex", batchIndex, "records", len(records))
		return nil
	})
}

// processFile は1ファイルを抽出・解析・Embeddingし、永続化前のレコードを作成します
func (p *Pipeline) processFile(ctx context.Context, target ProcessTarget, entry domain.FileStatusEntry) (*domain.ProcessedFile, error) {
	absPath := filepath.Join(target.Handle.WorkingDirectory(), filepath.FromSlash(entry.Path))

	content, err := p.extractor.ExtractContent(ctx, absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", entry.Path, err)
	}

	meta, err := p.extractor.Metadata(absPath)
	if err != nil {
		p.log.Warn("failed to read metadata", "path", entry.Path, "error", err)
	}

	commitHash, err := target.Handle.FileCommitHash(ctx, entry.Path)
	if err != nil {
		p.log.Warn("failed to resolve file commit", "path", entry.Path, "error", err)
		commitHash = ""
	}

	analysis := p.analyze(ctx, entry.Path, content, target.ContextText)

	source := domain.RenderEmbeddingSource(domain.EmbeddingSourceInput{
		Path:           entry.Path,
		RepositoryName: target.RepositoryName,
		Analysis:       analysis,
	})

	embedding, err := p.embed(ctx, entry.Path, source)
	if err != nil {
		return nil, err
	}

	record := &domain.ProcessedFile{
		RepositoryID:         target.RepositoryID,
		Path:                 entry.Path,
		OldPath:              entry.OldPath,
		Filename:             filepath.Base(entry.Path),
		Extension:            strings.TrimPrefix(filepath.Ext(entry.Path), "."),
		GitStatus:            entry.Status,
		CommitHash:           commitHash,
		Content:              content,
		Analysis:             analysis,
		Tags:                 analysis.Tags(),
		FileType:             analysis.DocumentType,
		TechnicalLevel:       analysis.TechnicalLevel,
		EmbeddingSource:      source,
		Embedding:            embedding,
		EmbeddingModel:       p.embedder.ModelName(),
		UsedFallbackAnalysis: analysis.UsedFallbackAnalysis,
	}
	if meta != nil {
		record.Size = meta.Size
		if !meta.LastModified.IsZero() {
			modified := meta.LastModified
			record.LastModified = &modified
		}
	} else if entry.Size != nil {
		record.Size = *entry.Size
		record.LastModified = entry.LastModified
	}

	if err := record.Complete(p.dimension()); err != nil {
		return nil, err
	}
	return record, nil
}

// analyze は解析を行い、リトライが尽きた場合はファイル名からの合成解析を返します
func (p *Pipeline) analyze(ctx context.Context, path, content, contextText string) *domain.Analysis {
	result := p.RetryAnalysis(ctx, path, content, contextText)
	if result.OK() {
		return result.Analysis
	}

	p.log.Warn("analysis failed, using fallback",
		"path", path,
		"attempts", result.Attempts,
		"error", result.Err)
	p.metrics.RecordRequest(llm.RequestMetric{
		Operation:    llm.OperationAnalysis,
		Attempts:     result.Attempts,
		UsedFallback: true,
		ErrorType:    llm.ClassifyError(result.Err),
	})
	p.recordError(llm.ErrorRecord{
		ErrorType:    llm.ClassifyError(result.Err),
		Operation:    llm.OperationAnalysis,
		Path:         path,
		Input:        content,
		ErrorMessage: result.Err.Error(),
		Attempts:     result.Attempts,
		UsedFallback: true,
	})
	return domain.FallbackAnalysis(path)
}

// RetryAnalysis は解析プロバイダをリトライ付きで呼び出します
// 不正な応答も一時的な失敗と同様にリトライし、MaxAttempts回失敗した時点でErrを設定して返します
func (p *Pipeline) RetryAnalysis(ctx context.Context, path, content, contextText string) AnalysisResult {
	started := time.Now()
	res := llm.Retry(ctx, p.cfg.Retry,
		func(ctx context.Context) (*domain.Analysis, error) {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			analysis, err := p.analyzer.AnalyzeContent(ctx, content, contextText)
			if err != nil {
				return nil, err
			}
			if analysis == nil {
				return nil, fmt.Errorf("%w: empty analysis", domain.ErrMalformedResponse)
			}
			return analysis, nil
		},
		func(attempt int, err error, delay time.Duration) {
			p.log.Warn("analysis attempt failed, retrying",
				"path", path,
				"attempt", attempt,
				"delay", delay,
				"error", err)
		},
	)

	if res.OK() {
		p.metrics.RecordRequest(llm.RequestMetric{
			Operation: llm.OperationAnalysis,
			Latency:   time.Since(started),
			Success:   true,
			Attempts:  res.Attempts,
		})
	}
	return AnalysisResult{Analysis: res.Value, Attempts: res.Attempts, Err: res.Err}
}

// embed はEmbeddingを1回だけ生成します。失敗はそのファイルの失敗になります
func (p *Pipeline) embed(ctx context.Context, path, source string) ([]float32, error) {
	started := time.Now()
	res := llm.Retry(ctx,
		llm.RetryConfig{MaxAttempts: 1, AttemptTimeout: p.cfg.Retry.AttemptTimeout},
		func(ctx context.Context) ([]float32, error) {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return p.embedder.Embed(ctx, source)
		},
		nil,
	)

	tokens := llm.EstimateTokens(source)
	usage := llm.TokenUsage{PromptTokens: tokens, TotalTokens: tokens}

	err := res.Err
	if err == nil && len(res.Value) != p.dimension() {
		err = fmt.Errorf("%w: got %d, expected %d", domain.ErrDimensionMismatch, len(res.Value), p.dimension())
	}

	metric := llm.RequestMetric{
		Operation: llm.OperationEmbedding,
		Model:     p.embedder.ModelName(),
		Usage:     usage,
		Latency:   time.Since(started),
		Success:   err == nil,
		Attempts:  1,
		ErrorType: llm.ClassifyError(err),
	}
	p.metrics.RecordRequest(metric)

	if err != nil {
		p.recordError(llm.ErrorRecord{
			ErrorType:    metric.ErrorType,
			Operation:    llm.OperationEmbedding,
			Path:         path,
			Input:        source,
			ErrorMessage: err.Error(),
			Attempts:     1,
		})
		return nil, fmt.Errorf("failed to embed %s: %w", path, err)
	}
	return res.Value, nil
}

func (p *Pipeline) recordError(record llm.ErrorRecord) {
	record.Timestamp = time.Now()
	record.Input = llm.TruncateString(record.Input, 500)
	if err := p.errorLog.LogError(record); err != nil {
		p.log.Warn("failed to write provider error log", "error", err)
	}
}
