package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinford/repo-indexer/internal/module/indexing/adapter/llm"
	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
	llmdomain "github.com/jinford/repo-indexer/internal/module/llm/domain"
)

// maxInputTokens はプロンプト全体のトークン上限
// 超える場合はファイル内容をトークン単位で切り詰めます
const maxInputTokens = 100000

// ContentAnalyzer はLLMを使用してファイル内容を構造化解析します（domain.Analyzer の実装）
type ContentAnalyzer struct {
	client       llmdomain.Client
	tokenCounter *llm.TokenCounter
	log          *slog.Logger
}

// NewContentAnalyzer は新しいContentAnalyzerを作成します
// tokenCounterがnilの場合は文字数からの推定値を使います
func NewContentAnalyzer(client llmdomain.Client, tokenCounter *llm.TokenCounter, log *slog.Logger) *ContentAnalyzer {
	if log == nil {
		log = slog.Default()
	}
	return &ContentAnalyzer{
		client:       client,
		tokenCounter: tokenCounter,
		log:          log,
	}
}

// AnalyzeContent はファイル内容を解析します
// 応答がJSONとして解析できない場合や必須フィールドが欠けている場合は domain.ErrMalformedResponse を返します
func (a *ContentAnalyzer) AnalyzeContent(ctx context.Context, content, contextText string) (*domain.Analysis, error) {
	prompt := buildAnalysisPrompt(content, contextText)
	if prompt.ReadmeTruncated {
		a.log.Debug("readme context truncated", "limit", maxReadmeChars)
	}
	if prompt.ContentTruncated {
		a.log.Debug("file content truncated for analysis", "originalChars", len([]rune(content)))
	}

	text := prompt.Text
	if tokens := a.tokenCounter.CountTokens(text); tokens > maxInputTokens {
		text, _ = a.tokenCounter.Truncate(text, maxInputTokens)
		a.log.Warn("analysis prompt truncated by token limit", "tokens", tokens, "max", maxInputTokens)
	}

	resp, err := a.client.GenerateCompletion(ctx, llmdomain.CompletionRequest{
		Prompt:         text,
		Temperature:    AnalysisTemperature,
		MaxTokens:      AnalysisMaxTokens,
		ResponseFormat: llmdomain.ResponseFormatJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate analysis: %w", err)
	}

	return ParseAnalysis(resp.Content)
}

// ParseAnalysis はLLMの応答をAnalysisに変換し、必須フィールドを検証します
func ParseAnalysis(raw string) (*domain.Analysis, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: response contains no JSON object", domain.ErrMalformedResponse)
	}

	var analysis domain.Analysis
	if err := json.Unmarshal([]byte(body), &analysis); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", domain.ErrMalformedResponse, err)
	}

	if err := analysis.Validate(); err != nil {
		return nil, err
	}
	// 応答側からフォールバック扱いにはさせない
	analysis.UsedFallbackAnalysis = false
	return &analysis, nil
}

// extractJSONObject はコードフェンスや前後の文章を取り除き、最初の '{' から最後の '}' までを返します
func extractJSONObject(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

var _ domain.Analyzer = (*ContentAnalyzer)(nil)
