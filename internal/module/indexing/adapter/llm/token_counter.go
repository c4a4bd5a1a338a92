package llm

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter はトークン数のカウントと切り詰めを行います
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter は新しいTokenCounterを作成する
// cl100k_baseエンコーディングを使用する
func NewTokenCounter() (*TokenCounter, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}

	return &TokenCounter{
		encoding: encoding,
	}, nil
}

// CountTokens はテキストのトークン数をカウントする
// エンコーディングが無い場合は推定値を返す
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.encoding == nil {
		return EstimateTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// Truncate はテキストをmaxTokens以内に切り詰め、切り詰めたかどうかを返します
func (tc *TokenCounter) Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return text, false
	}
	if tc == nil || tc.encoding == nil {
		// 推定: 3文字で1トークン
		runes := []rune(text)
		limit := maxTokens * 3
		if len(runes) <= limit {
			return text, false
		}
		return string(runes[:limit]), true
	}

	tokens := tc.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, false
	}
	return tc.encoding.Decode(tokens[:maxTokens]), true
}

// TokenUsage はトークン使用量を表す
type TokenUsage struct {
	PromptTokens   int `json:"prompt_tokens"`
	ResponseTokens int `json:"response_tokens"`
	TotalTokens    int `json:"total_tokens"`
}

// Add は使用量を合算します
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:   u.PromptTokens + other.PromptTokens,
		ResponseTokens: u.ResponseTokens + other.ResponseTokens,
		TotalTokens:    u.TotalTokens + other.TotalTokens,
	}
}

// EstimateTokens はテキストの推定トークン数を返す
// 正確にカウントせず、大まかな推定値を返す（文字数を基準）
func EstimateTokens(text string) int {
	// 英語の場合: 約4文字で1トークン
	// 日本語の場合: 約1文字で1トークン
	// ここでは平均的な値として3文字で1トークンとする
	return len([]rune(text)) / 3
}
