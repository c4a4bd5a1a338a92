package domain

import "context"

// ResponseFormatJSON はJSONオブジェクトでの応答を要求します
const ResponseFormatJSON = "json"

// CompletionRequest はテキスト生成のリクエスト
type CompletionRequest struct {
	Prompt         string
	Model          string
	Temperature    float64
	MaxTokens      int
	ResponseFormat string
}

// CompletionResponse はテキスト生成の結果
type CompletionResponse struct {
	Content    string
	TokensUsed int
	Model      string
}

// Client はテキスト生成を行うLLMクライアント
type Client interface {
	GenerateCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	ModelName() string
}
