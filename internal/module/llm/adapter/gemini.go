package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jinford/repo-indexer/internal/module/llm/domain"
	"google.golang.org/genai"
)

const (
	// DefaultGeminiModel はデフォルトで使用するGeminiモデル
	DefaultGeminiModel = "gemini-2.0-flash"

	// DefaultGeminiEmbeddingModel はデフォルトのGemini Embeddingモデル
	DefaultGeminiEmbeddingModel = "text-embedding-004"

	geminiEmbeddingTaskType = "RETRIEVAL_DOCUMENT"
)

// GeminiClient はGemini APIを使用したLLMクライアント実装
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient はAPIキーとモデルを指定してGeminiClientを作成する
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := newGenAIClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{client: client, model: model}, nil
}

func newGenAIClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, nil
}

// ModelName はモデル名を返す
func (c *GeminiClient) ModelName() string {
	return c.model
}

// GenerateCompletion はGemini APIを使用してテキストを生成する
func (c *GeminiClient) GenerateCompletion(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.CompletionResponse{}, fmt.Errorf("%w: empty prompt", domain.ErrInvalidRequest)
	}

	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.ResponseFormat == domain.ResponseFormatJSON {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(
		ctx,
		model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: req.Prompt}}}},
		config,
	)
	if err != nil {
		return domain.CompletionResponse{}, classifyGeminiError(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return domain.CompletionResponse{}, fmt.Errorf("%w: gemini returned no text", domain.ErrEmptyResponse)
	}

	out := domain.CompletionResponse{Content: text, Model: model}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

// GeminiEmbedder はGemini APIを使用したEmbedder実装
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
}

// NewGeminiEmbedder は新しいGeminiEmbedderを作成します
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimension int) (*GeminiEmbedder, error) {
	client, err := newGenAIClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultGeminiEmbeddingModel
	}
	return &GeminiEmbedder{client: client, model: model, dimension: dimension}, nil
}

// Embed はテキストからEmbeddingベクトルを生成する
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	config := &genai.EmbedContentConfig{
		TaskType: geminiEmbeddingTaskType,
	}
	if e.dimension > 0 {
		config.OutputDimensionality = genai.Ptr(int32(e.dimension))
	}

	resp, err := e.client.Models.EmbedContent(
		ctx,
		e.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		config,
	)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("%w: no embedding values returned", domain.ErrEmptyResponse)
	}
	return resp.Embeddings[0].Values, nil
}

// Dimension はEmbeddingベクトルの次元数を返す
func (e *GeminiEmbedder) Dimension() int {
	return e.dimension
}

// ModelName はモデル名を返す
func (e *GeminiEmbedder) ModelName() string {
	return e.model
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", domain.ErrRateLimitExceeded, err)
	}
	return fmt.Errorf("gemini API call failed: %w", err)
}

var (
	_ domain.Client   = (*GeminiClient)(nil)
	_ domain.Embedder = (*GeminiEmbedder)(nil)
)
