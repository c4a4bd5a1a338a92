package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
	llmdomain "github.com/jinford/repo-indexer/internal/module/llm/domain"
)

// ErrorType はエラーの種類を表します
type ErrorType string

const (
	// ErrorTypeMalformedResponse は必須フィールド欠落・JSON解析エラー
	ErrorTypeMalformedResponse ErrorType = "malformed_response"
	// ErrorTypeRateLimitExceeded はレート制限エラー
	ErrorTypeRateLimitExceeded ErrorType = "rate_limit_exceeded"
	// ErrorTypeTimeout はタイムアウトエラー
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeDimensionMismatch はEmbedding次元数の不一致
	ErrorTypeDimensionMismatch ErrorType = "dimension_mismatch"
	// ErrorTypeUnknown は不明なエラー
	ErrorTypeUnknown ErrorType = "unknown"
)

// Operation はプロバイダ呼び出しの種類を表します
type Operation string

const (
	OperationAnalysis  Operation = "analysis"
	OperationEmbedding Operation = "embedding"
)

// ErrorRecord は失敗したプロバイダ呼び出しのログレコードです
type ErrorRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	ErrorType    ErrorType `json:"error_type"`
	Operation    Operation `json:"operation"`
	Path         string    `json:"path"`
	Input        string    `json:"input"`
	ErrorMessage string    `json:"error_message"`
	Attempts     int       `json:"attempts"`
	UsedFallback bool      `json:"used_fallback"`
}

// ClassifyError はエラーをErrorTypeに分類します
func ClassifyError(err error) ErrorType {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, domain.ErrMalformedResponse):
		return ErrorTypeMalformedResponse
	case errors.Is(err, domain.ErrDimensionMismatch):
		return ErrorTypeDimensionMismatch
	case errors.Is(err, ErrRateLimited):
		return ErrorTypeRateLimitExceeded
	default:
		return ErrorTypeUnknown
	}
}

// ErrRateLimited はプロバイダ側でレート制限されたことを示します
var ErrRateLimited = llmdomain.ErrRateLimitExceeded

// ErrorHandler はプロバイダエラーをJSON Lines形式で記録します
// logDirが空の場合は記録を行いません
type ErrorHandler struct {
	logFile  *os.File
	logMutex sync.Mutex
	enabled  bool
	log      *slog.Logger
}

// NewErrorHandler は新しいErrorHandlerを作成します
func NewErrorHandler(logDir string, log *slog.Logger) (*ErrorHandler, error) {
	if log == nil {
		log = slog.Default()
	}
	if logDir == "" {
		return &ErrorHandler{enabled: false, log: log}, nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// 日付ごとにファイルを分ける
	logFileName := fmt.Sprintf("provider_errors_%s.jsonl", time.Now().Format("2006-01-02"))
	logFilePath := filepath.Join(logDir, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &ErrorHandler{
		logFile: logFile,
		enabled: true,
		log:     log,
	}, nil
}

// Close はログファイルを閉じます
func (h *ErrorHandler) Close() error {
	if h == nil || h.logFile == nil {
		return nil
	}
	return h.logFile.Close()
}

// LogError はエラーをログに記録します
func (h *ErrorHandler) LogError(record ErrorRecord) error {
	if h == nil || !h.enabled {
		return nil
	}

	h.logMutex.Lock()
	defer h.logMutex.Unlock()

	jsonBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal error record: %w", err)
	}

	if _, err := h.logFile.Write(append(jsonBytes, '\n')); err != nil {
		return fmt.Errorf("failed to write log: %w", err)
	}

	h.log.Warn("provider error recorded",
		"operation", string(record.Operation),
		"errorType", string(record.ErrorType),
		"path", record.Path,
		"error", record.ErrorMessage)

	return nil
}

// TruncateString は文字列を指定された長さに切り詰めます（ログ記録用）
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}
