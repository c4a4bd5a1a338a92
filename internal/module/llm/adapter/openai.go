package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jinford/repo-indexer/internal/module/llm/domain"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	// DefaultModel はデフォルトで使用するOpenAIモデル
	DefaultModel = "gpt-4o-mini"
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("API key not set")
)

// OpenAIClient はOpenAI APIを使用したLLMクライアント実装
// リトライは呼び出し側で行うため、SDK内部のリトライは無効にしています
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient はAPIキーとモデルを指定してOpenAIClientを作成する
// optsはテストや互換エンドポイント向けにSDKのオプションを追加します
func NewOpenAIClient(apiKey, model string, opts ...option.RequestOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	if model == "" {
		model = DefaultModel
	}

	return &OpenAIClient{
		client: openai.NewClient(clientOptions(apiKey, opts)...),
		model:  model,
	}, nil
}

func clientOptions(apiKey string, opts []option.RequestOption) []option.RequestOption {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	return append(base, opts...)
}

// ModelName はモデル名を返す
func (c *OpenAIClient) ModelName() string {
	return c.model
}

// GenerateCompletion はOpenAI APIを使用してテキストを生成する
func (c *OpenAIClient) GenerateCompletion(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.CompletionResponse{}, fmt.Errorf("%w: empty prompt", domain.ErrInvalidRequest)
	}

	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		Temperature: openai.Float(req.Temperature),
	}

	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	if req.ResponseFormat == domain.ResponseFormatJSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return domain.CompletionResponse{}, classifyOpenAIError(err)
	}

	if len(completion.Choices) == 0 {
		return domain.CompletionResponse{}, fmt.Errorf("%w: no completion choices returned", domain.ErrEmptyResponse)
	}

	return domain.CompletionResponse{
		Content:    completion.Choices[0].Message.Content,
		TokensUsed: int(completion.Usage.TotalTokens),
		Model:      string(completion.Model),
	}, nil
}

// classifyOpenAIError はSDKのエラーをドメインエラーに変換する
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", domain.ErrRateLimitExceeded, err)
	}
	return fmt.Errorf("OpenAI API call failed: %w", err)
}

// インターフェース実装の確認
var _ domain.Client = (*OpenAIClient)(nil)
