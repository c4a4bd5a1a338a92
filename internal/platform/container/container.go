package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v3/option"

	"github.com/jinford/repo-indexer/internal/module/indexing/adapter/analyzer"
	"github.com/jinford/repo-indexer/internal/module/indexing/adapter/extractor"
	"github.com/jinford/repo-indexer/internal/module/indexing/adapter/filter"
	"github.com/jinford/repo-indexer/internal/module/indexing/adapter/git"
	"github.com/jinford/repo-indexer/internal/module/indexing/adapter/llm"
	indexingpg "github.com/jinford/repo-indexer/internal/module/indexing/adapter/pg"
	"github.com/jinford/repo-indexer/internal/module/indexing/adapter/tracker"
	"github.com/jinford/repo-indexer/internal/module/indexing/application"
	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
	llmadapter "github.com/jinford/repo-indexer/internal/module/llm/adapter"
	llmdomain "github.com/jinford/repo-indexer/internal/module/llm/domain"
	"github.com/jinford/repo-indexer/internal/platform/database"
	"github.com/jinford/repo-indexer/pkg/config"
	"github.com/jinford/repo-indexer/pkg/db"
)

// ServiceContainer はインデックス処理に必要な依存関係を保持する
type ServiceContainer struct {
	RepositoryService *application.RepositoryService
	Pipeline          *application.Pipeline
	Repositories      *indexingpg.RepositoryRepository
	Files             *indexingpg.FileRepository

	Config *config.Config
	Logger *slog.Logger

	db       *db.DB
	errorLog *llm.ErrorHandler
}

type containerOptions struct {
	logger    *slog.Logger
	llmClient llmdomain.Client
	embedder  llmdomain.Embedder
	opener    application.OpenRepositoryFunc
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerLLMClient は解析用の LLM クライアントを差し替える
func WithContainerLLMClient(client llmdomain.Client) ContainerOption {
	return func(opts *containerOptions) {
		opts.llmClient = client
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder llmdomain.Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerRepositoryOpener はリポジトリハンドルの生成方法を差し替える
func WithContainerRepositoryOpener(open application.OpenRepositoryFunc) ContainerOption {
	return func(opts *containerOptions) {
		opts.opener = open
	}
}

// NewContainer は設定からコンテナを生成する。
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	conn, err := db.New(ctx, db.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: int32(cfg.Database.MaxConns),
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}

	c, err := NewContainerWithDB(ctx, cfg, conn, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewContainerWithDB は既存の接続を受け取りコンテナを生成する。
func NewContainerWithDB(ctx context.Context, cfg *config.Config, conn *db.DB, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	log := options.logger

	client := options.llmClient
	if client == nil {
		var err error
		if client, err = NewLLMClient(ctx, cfg); err != nil {
			return nil, fmt.Errorf("LLMクライアントの初期化に失敗しました: %w", err)
		}
	}

	embedder := options.embedder
	if embedder == nil {
		var err error
		if embedder, err = NewEmbedder(ctx, cfg); err != nil {
			return nil, fmt.Errorf("Embedderの初期化に失敗しました: %w", err)
		}
	}
	embedder = llmadapter.WrapWithCache(embedder, cfg.Embedding.CacheSize, cfg.Embedding.CacheTTL)

	tokenCounter, err := llm.NewTokenCounter()
	if err != nil {
		return nil, fmt.Errorf("TokenCounterの初期化に失敗しました: %w", err)
	}

	errorLog, err := llm.NewErrorHandler(cfg.ErrorLogDir, log)
	if err != nil {
		return nil, fmt.Errorf("ErrorHandlerの初期化に失敗しました: %w", err)
	}

	opener := options.opener
	if opener == nil {
		opener = NewRepositoryOpener(cfg, log)
	}

	tp := database.NewTransactionProvider(conn.Pool)
	repos := indexingpg.NewRepositoryRepository(conn.Pool)
	fileExtractor := extractor.NewFileExtractor("", cfg.Processing.ExtractorConfig(), log)

	pipeline := application.NewPipeline(
		fileExtractor,
		analyzer.NewContentAnalyzer(client, tokenCounter, log),
		embedder,
		database.NewBatchTransactor(tp),
		cfg.Processing.PipelineConfig(cfg.EmbeddingDimension()),
		log,
	).WithErrorHandler(errorLog)

	service := application.NewRepositoryService(
		repos,
		fileExtractor,
		pipeline,
		opener,
		NewFilterFactory(cfg),
		NewTrackerFactory(cfg, log),
		log,
	).WithStatusCacheDir(cfg.StatusCacheDir).
		WithRemover(database.NewRepositoryRemover(tp))

	log.Info("Service container initialized",
		"analysisProvider", cfg.Analysis.Provider,
		"llmModel", client.ModelName(),
		"embeddingProvider", cfg.Embedding.Provider,
		"embeddingModel", embedder.ModelName(),
		"dimension", embedder.Dimension(),
	)

	return &ServiceContainer{
		RepositoryService: service,
		Pipeline:          pipeline,
		Repositories:      repos,
		Files:             indexingpg.NewFileRepository(conn.Pool),
		Config:            cfg,
		Logger:            log,
		db:                conn,
		errorLog:          errorLog,
	}, nil
}

// DB は接続プールを保持するDBを返す
func (c *ServiceContainer) DB() *db.DB {
	return c.db
}

// Close はコンテナが保持するリソースを解放する
func (c *ServiceContainer) Close() {
	if c.errorLog != nil {
		if err := c.errorLog.Close(); err != nil {
			c.Logger.Warn("failed to close error log", "error", err)
		}
	}
	if c.db != nil {
		c.db.Close()
	}
}

// NewLLMClient は設定された解析プロバイダのクライアントを作成する
func NewLLMClient(ctx context.Context, cfg *config.Config) (llmdomain.Client, error) {
	switch cfg.Analysis.Provider {
	case config.ProviderOpenAI:
		return llmadapter.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.LLMModel, openAIOptions(cfg)...)
	case config.ProviderGemini:
		return llmadapter.NewGeminiClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	}
	return nil, fmt.Errorf("unknown analysis provider: %q", cfg.Analysis.Provider)
}

// NewEmbedder は設定されたEmbeddingプロバイダのEmbedderを作成する
func NewEmbedder(ctx context.Context, cfg *config.Config) (llmdomain.Embedder, error) {
	switch cfg.Embedding.Provider {
	case config.ProviderOpenAI:
		return llmadapter.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel, cfg.EmbeddingDimension(), openAIOptions(cfg)...)
	case config.ProviderGemini:
		return llmadapter.NewGeminiEmbedder(ctx, cfg.Gemini.APIKey, cfg.Gemini.EmbeddingModel, cfg.EmbeddingDimension())
	}
	return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Embedding.Provider)
}

func openAIOptions(cfg *config.Config) []option.RequestOption {
	if cfg.OpenAI.BaseURL == "" {
		return nil
	}
	return []option.RequestOption{option.WithBaseURL(cfg.OpenAI.BaseURL)}
}

// NewRepositoryOpener はクローン先を設定から決めるOpenRepositoryFuncを作成する
// branchが空の場合は設定のデフォルトブランチを使う
func NewRepositoryOpener(cfg *config.Config, log *slog.Logger) application.OpenRepositoryFunc {
	client := git.NewGitClient(git.ClientConfig{
		SSHKeyPath:  cfg.Git.SSHKeyPath,
		SSHPassword: cfg.Git.SSHPassword,
		AccessToken: cfg.Git.AccessToken,
	}, log)

	return func(url, branch string) (domain.RepositoryHandle, error) {
		if branch == "" {
			branch = cfg.Git.DefaultBranch
		}
		return client.OpenRepository(url, cfg.Git.CloneDir, branch)
	}
}

// NewFilterFactory は設定のサイズ上限を使うFilterFactoryを作成する
func NewFilterFactory(cfg *config.Config) application.FilterFactory {
	return func(repoPath string, includeTests bool) (domain.PathFilter, error) {
		return filter.NewIgnoreFilter(repoPath, filter.Options{
			IncludeTests: includeTests,
			MaxFileSize:  cfg.Processing.MaxFileSize,
		})
	}
}

// NewTrackerFactory はリポジトリごとに独立したストアを持つTrackerFactoryを作成する
func NewTrackerFactory(cfg *config.Config, log *slog.Logger) application.TrackerFactory {
	return func() (application.ChangeTracker, error) {
		store, err := tracker.NewStatusStore(cfg.Processing.StatusCacheSize)
		if err != nil {
			return nil, err
		}
		return tracker.New(cfg.Processing.TrackerConfig(), store, log)
	}
}
