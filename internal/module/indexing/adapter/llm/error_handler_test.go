package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func errorLogPath(logDir string) string {
	return filepath.Join(logDir, "provider_errors_"+time.Now().Format("2006-01-02")+".jsonl")
}

func TestNewErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		logDir  string
		wantErr bool
		enabled bool
	}{
		{
			name:    "有効なログディレクトリ",
			logDir:  t.TempDir(),
			wantErr: false,
			enabled: true,
		},
		{
			name:    "存在しないサブディレクトリは作成する",
			logDir:  filepath.Join(t.TempDir(), "nested", "errors"),
			wantErr: false,
			enabled: true,
		},
		{
			name:    "空のログディレクトリ（無効化）",
			logDir:  "",
			wantErr: false,
			enabled: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, err := NewErrorHandler(tt.logDir, discardLogger())
			if (err != nil) != tt.wantErr {
				t.Errorf("NewErrorHandler() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if handler == nil {
				t.Fatal("handler is nil")
			}
			if handler.enabled != tt.enabled {
				t.Errorf("handler.enabled = %v, want %v", handler.enabled, tt.enabled)
			}

			// クリーンアップ
			if err := handler.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}

func TestErrorHandler_LogError(t *testing.T) {
	logDir := t.TempDir()

	handler, err := NewErrorHandler(logDir, discardLogger())
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}

	record := ErrorRecord{
		Timestamp:    time.Now(),
		ErrorType:    ErrorTypeMalformedResponse,
		Operation:    OperationAnalysis,
		Path:         "docs/guide.md",
		Input:        "test input",
		ErrorMessage: "test error",
		Attempts:     10,
		UsedFallback: true,
	}

	if err := handler.LogError(record); err != nil {
		t.Errorf("LogError() error = %v", err)
	}
	handler.Close()

	content, err := os.ReadFile(errorLogPath(logDir))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	var logged ErrorRecord
	if err := json.Unmarshal(content, &logged); err != nil {
		t.Fatalf("Failed to unmarshal log content: %v", err)
	}

	if logged.ErrorType != ErrorTypeMalformedResponse {
		t.Errorf("ErrorType = %v, want %v", logged.ErrorType, ErrorTypeMalformedResponse)
	}
	if logged.Operation != OperationAnalysis {
		t.Errorf("Operation = %v, want %v", logged.Operation, OperationAnalysis)
	}
	if logged.Path != "docs/guide.md" {
		t.Errorf("Path = %v, want %v", logged.Path, "docs/guide.md")
	}
	if logged.Attempts != 10 || !logged.UsedFallback {
		t.Errorf("Attempts = %d, UsedFallback = %v", logged.Attempts, logged.UsedFallback)
	}
}

func TestErrorHandler_LogError_Disabled(t *testing.T) {
	handler, err := NewErrorHandler("", discardLogger())
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}

	if err := handler.LogError(ErrorRecord{ErrorType: ErrorTypeTimeout}); err != nil {
		t.Errorf("LogError() error = %v, expected nil", err)
	}

	// nilハンドラーも安全に呼び出せる
	var nilHandler *ErrorHandler
	if err := nilHandler.LogError(ErrorRecord{}); err != nil {
		t.Errorf("nil LogError() error = %v, expected nil", err)
	}
	if err := nilHandler.Close(); err != nil {
		t.Errorf("nil Close() error = %v, expected nil", err)
	}
}

func TestErrorHandler_MultipleRecords(t *testing.T) {
	logDir := t.TempDir()

	handler, err := NewErrorHandler(logDir, discardLogger())
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}

	records := []ErrorRecord{
		{Timestamp: time.Now(), ErrorType: ErrorTypeMalformedResponse, Operation: OperationAnalysis, Path: "a.md"},
		{Timestamp: time.Now(), ErrorType: ErrorTypeTimeout, Operation: OperationEmbedding, Path: "b.go"},
		{Timestamp: time.Now(), ErrorType: ErrorTypeRateLimitExceeded, Operation: OperationAnalysis, Path: "c.py"},
	}
	for _, record := range records {
		if err := handler.LogError(record); err != nil {
			t.Errorf("LogError() error = %v", err)
		}
	}
	handler.Close()

	content, err := os.ReadFile(errorLogPath(logDir))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != len(records) {
		t.Fatalf("Expected %d log lines, got %d", len(records), len(lines))
	}
	for i, line := range lines {
		var logged ErrorRecord
		if err := json.Unmarshal([]byte(line), &logged); err != nil {
			t.Errorf("Failed to unmarshal line %d: %v", i+1, err)
			continue
		}
		if logged.Path != records[i].Path {
			t.Errorf("line %d: Path = %v, want %v", i+1, logged.Path, records[i].Path)
		}
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{name: "nil", err: nil, want: ""},
		{name: "タイムアウト", err: fmt.Errorf("attempt timed out: %w", context.DeadlineExceeded), want: ErrorTypeTimeout},
		{name: "不正なレスポンス", err: fmt.Errorf("parse: %w", domain.ErrMalformedResponse), want: ErrorTypeMalformedResponse},
		{name: "次元数不一致", err: fmt.Errorf("embed: %w", domain.ErrDimensionMismatch), want: ErrorTypeDimensionMismatch},
		{name: "レート制限", err: fmt.Errorf("429: %w", ErrRateLimited), want: ErrorTypeRateLimitExceeded},
		{name: "不明なエラー", err: errors.New("boom"), want: ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{
			name:   "短い文字列",
			input:  "short",
			maxLen: 10,
			want:   "short",
		},
		{
			name:   "長い文字列",
			input:  "this is a very long string that should be truncated",
			maxLen: 20,
			want:   "this is a very long ... (truncated)",
		},
		{
			name:   "ちょうどの長さ",
			input:  "exact",
			maxLen: 5,
			want:   "exact",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateString(tt.input, tt.maxLen)
			if got != tt.want {
				t.Errorf("TruncateString() = %v, want %v", got, tt.want)
			}
		})
	}
}
