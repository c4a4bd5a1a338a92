package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jinford/repo-indexer/internal/module/indexing/adapter/extractor"
	"github.com/jinford/repo-indexer/internal/module/indexing/adapter/llm"
	"github.com/jinford/repo-indexer/internal/module/indexing/adapter/tracker"
	"github.com/jinford/repo-indexer/internal/module/indexing/application"
)

// プロバイダ名
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// OpenAI設定（解析 + Embeddings）
	OpenAI OpenAIConfig

	// Gemini設定（ANALYSIS_PROVIDER=gemini / EMBEDDING_PROVIDER=gemini の場合に使用）
	Gemini GeminiConfig

	// 解析・Embeddingプロバイダの選択
	Analysis  AnalysisConfig
	Embedding EmbeddingConfig

	// Git設定
	Git GitConfig

	// パイプライン・Tracker設定
	Processing ProcessingConfig

	// ログ設定
	Log LogConfig

	// ErrorLogDir はプロバイダエラーのJSON Lines出力先。空の場合は出力しません
	ErrorLogDir string
	// StatusCacheDir はTrackerキャッシュの保存先。空の場合は保存しません
	StatusCacheDir string
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	EmbeddingModel     string
	EmbeddingDimension int
	LLMModel           string
}

// GeminiConfig はGemini API設定
type GeminiConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
}

// AnalysisConfig は解析プロバイダの設定
type AnalysisConfig struct {
	Provider string // "openai" or "gemini"
}

// EmbeddingConfig はEmbeddingプロバイダとキャッシュの設定
type EmbeddingConfig struct {
	Provider  string // "openai" or "gemini"
	CacheSize int
	CacheTTL  time.Duration
}

// GitConfig はGit操作設定
type GitConfig struct {
	CloneDir      string
	SSHKeyPath    string
	SSHPassword   string // SSH秘密鍵のパスワード（パスフレーズ）
	AccessToken   string // HTTPS用アクセストークン
	DefaultBranch string // 空の場合はリモートのデフォルトブランチ
}

// ProcessingConfig はパイプラインとTrackerの設定
type ProcessingConfig struct {
	BatchSize            int
	ParallelWorkers      int
	MaxConcurrentBatches int

	MaxRetries      int
	RetryBaseDelay  time.Duration
	MaxRetryDelay   time.Duration
	ProviderTimeout time.Duration
	RateLimitPerMin int

	MaxFileSize     int64
	MaxContentChars int

	UseContentHash  bool
	HashMaxSize     int64
	HashAlgorithm   string
	StatusCacheSize int
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "indexer"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "repo_indexer"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			BaseURL:            getEnv("OPENAI_BASE_URL", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			LLMModel:           getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
		},
		Gemini: GeminiConfig{
			APIKey:         getEnv("GEMINI_API_KEY", ""),
			Model:          getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			EmbeddingModel: getEnv("GEMINI_EMBEDDING_MODEL", "text-embedding-004"),
		},
		Analysis: AnalysisConfig{
			Provider: strings.ToLower(getEnv("ANALYSIS_PROVIDER", ProviderOpenAI)),
		},
		Embedding: EmbeddingConfig{
			Provider:  strings.ToLower(getEnv("EMBEDDING_PROVIDER", ProviderOpenAI)),
			CacheSize: getEnvAsInt("EMBEDDING_CACHE_SIZE", 1024),
			CacheTTL:  getEnvAsDuration("EMBEDDING_CACHE_TTL", time.Hour),
		},
		Git: GitConfig{
			CloneDir:      getEnv("GIT_CLONE_DIR", "/var/lib/repo-indexer/repos"),
			SSHKeyPath:    getEnv("GIT_SSH_KEY_PATH", ""),
			SSHPassword:   getEnv("GIT_SSH_PASSWORD", ""),
			AccessToken:   getEnv("GIT_ACCESS_TOKEN", ""),
			DefaultBranch: getEnv("GIT_DEFAULT_BRANCH", ""),
		},
		Processing: ProcessingConfig{
			BatchSize:            getEnvAsInt("PROCESSING_BATCH_SIZE", 5),
			ParallelWorkers:      getEnvAsInt("PROCESSING_PARALLEL_WORKERS", 5),
			MaxConcurrentBatches: getEnvAsInt("PROCESSING_MAX_CONCURRENT_BATCHES", 3),
			MaxRetries:           getEnvAsInt("PROCESSING_MAX_RETRIES", 10),
			RetryBaseDelay:       getEnvAsDuration("PROCESSING_RETRY_BASE_DELAY", 2*time.Second),
			MaxRetryDelay:        getEnvAsDuration("PROCESSING_MAX_RETRY_DELAY", 5*time.Minute),
			ProviderTimeout:      getEnvAsDuration("PROCESSING_PROVIDER_TIMEOUT", 60*time.Second),
			RateLimitPerMin:      getEnvAsInt("PROCESSING_RATE_LIMIT_PER_MINUTE", 100),
			MaxFileSize:          getEnvAsInt64("PROCESSING_MAX_FILE_SIZE", 10*1024*1024),
			MaxContentChars:      getEnvAsInt("PROCESSING_MAX_CONTENT_CHARS", 60000),
			UseContentHash:       getEnvAsBool("TRACKER_USE_CONTENT_HASH", true),
			HashMaxSize:          getEnvAsInt64("TRACKER_HASH_MAX_SIZE", 10*1024*1024),
			HashAlgorithm:        strings.ToLower(getEnv("TRACKER_HASH_ALGORITHM", tracker.HashXXH3)),
			StatusCacheSize:      getEnvAsInt("TRACKER_STATUS_CACHE_SIZE", 0),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		ErrorLogDir:    getEnv("ERROR_LOG_DIR", ""),
		StatusCacheDir: getEnv("STATUS_CACHE_DIR", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の整合性を検証します。APIキーの有無はプロバイダ作成時に検証します
func (c *Config) Validate() error {
	for name, provider := range map[string]string{
		"ANALYSIS_PROVIDER":  c.Analysis.Provider,
		"EMBEDDING_PROVIDER": c.Embedding.Provider,
	} {
		if provider != ProviderOpenAI && provider != ProviderGemini {
			return fmt.Errorf("invalid %s: %q (must be %s or %s)", name, provider, ProviderOpenAI, ProviderGemini)
		}
	}

	p := c.Processing
	switch {
	case p.BatchSize <= 0:
		return fmt.Errorf("PROCESSING_BATCH_SIZE must be positive: %d", p.BatchSize)
	case p.ParallelWorkers <= 0:
		return fmt.Errorf("PROCESSING_PARALLEL_WORKERS must be positive: %d", p.ParallelWorkers)
	case p.MaxConcurrentBatches <= 0:
		return fmt.Errorf("PROCESSING_MAX_CONCURRENT_BATCHES must be positive: %d", p.MaxConcurrentBatches)
	case p.MaxRetries <= 0:
		return fmt.Errorf("PROCESSING_MAX_RETRIES must be positive: %d", p.MaxRetries)
	case c.OpenAI.EmbeddingDimension <= 0:
		return fmt.Errorf("OPENAI_EMBEDDING_DIMENSION must be positive: %d", c.OpenAI.EmbeddingDimension)
	}

	switch p.HashAlgorithm {
	case tracker.HashXXH3, tracker.HashSHA256, tracker.HashSHA1, tracker.HashMD5:
	default:
		return fmt.Errorf("invalid TRACKER_HASH_ALGORITHM: %q", p.HashAlgorithm)
	}
	return nil
}

// PipelineConfig はパイプラインの設定を返します
func (p ProcessingConfig) PipelineConfig(dimension int) application.PipelineConfig {
	return application.PipelineConfig{
		BatchSize:            p.BatchSize,
		MaxParallelRequests:  p.ParallelWorkers,
		MaxConcurrentBatches: p.MaxConcurrentBatches,
		Retry: llm.RetryConfig{
			MaxAttempts:    p.MaxRetries,
			BaseDelay:      p.RetryBaseDelay,
			MaxDelay:       p.MaxRetryDelay,
			AttemptTimeout: p.ProviderTimeout,
		},
		RequestsPerMinute: p.RateLimitPerMin,
		Dimension:         dimension,
	}
}

// TrackerConfig はTrackerの設定を返します
func (p ProcessingConfig) TrackerConfig() tracker.Config {
	return tracker.Config{
		UseContentHash: p.UseContentHash,
		HashAlgorithm:  p.HashAlgorithm,
		MaxHashSize:    p.HashMaxSize,
	}
}

// ExtractorConfig はContent Extractorの設定を返します
func (p ProcessingConfig) ExtractorConfig() extractor.Config {
	return extractor.Config{
		MaxFileSize:     p.MaxFileSize,
		MaxContentChars: p.MaxContentChars,
	}
}

// EmbeddingDimension は選択されたEmbeddingの次元数を返します
func (c *Config) EmbeddingDimension() int {
	return c.OpenAI.EmbeddingDimension
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を時間として取得します（例: 30s, 5m）
// 単位のない数値は秒として扱います
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
