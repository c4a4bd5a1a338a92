package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
	testutil "github.com/jinford/repo-indexer/internal/module/indexing/testing"
	llmdomain "github.com/jinford/repo-indexer/internal/module/llm/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

const validResponse = `{
  "title": "Grid Builder",
  "summary": "Builds model grids.",
  "key_concepts": ["grid", "discretization"],
  "potential_questions": ["How do I build a grid?"],
  "code_snippets": [{"language": "python", "purpose": "demo", "code": "g = Grid()", "summary": "creates a grid"}],
  "code_snippets_overview": "one example",
  "snippet_count": 1,
  "keywords": ["Grid", "build"],
  "related_topics": ["meshing"],
  "document_type": "Code",
  "technical_level": "Advanced",
  "prerequisites": ["numpy"]
}`

func TestParseAnalysis(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantErr   error
		wantTitle string
	}{
		{
			name:      "正常なJSON",
			raw:       validResponse,
			wantTitle: "Grid Builder",
		},
		{
			name:      "コードフェンス付き",
			raw:       "```json\n" + validResponse + "\n```",
			wantTitle: "Grid Builder",
		},
		{
			name:      "前後に文章がある",
			raw:       "Here is the analysis:\n" + validResponse + "\nThanks.",
			wantTitle: "Grid Builder",
		},
		{
			name:    "JSONが無い",
			raw:     "I cannot analyze this file.",
			wantErr: domain.ErrMalformedResponse,
		},
		{
			name:    "不正なJSON",
			raw:     `{"title": "x", "document_type": }`,
			wantErr: domain.ErrMalformedResponse,
		},
		{
			name:    "必須フィールド欠落",
			raw:     `{"title": "x", "summary": "y", "document_type": "Code"}`,
			wantErr: domain.ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAnalysis(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, got.Title)
			assert.False(t, got.UsedFallbackAnalysis)
		})
	}
}

func TestParseAnalysis_KeepsExtraFields(t *testing.T) {
	got, err := ParseAnalysis(validResponse)
	require.NoError(t, err)

	require.Len(t, got.CodeSnippets, 1)
	assert.Equal(t, "python", got.CodeSnippets[0].Language)
	assert.EqualValues(t, 1, got.Extra["snippet_count"])
}

func TestParseAnalysis_IgnoresFallbackFlagFromProvider(t *testing.T) {
	raw := `{"document_type": "Code", "technical_level": "Basic", "used_fallback_analysis": true}`
	got, err := ParseAnalysis(raw)
	require.NoError(t, err)
	assert.False(t, got.UsedFallbackAnalysis)
}

func TestBuildAnalysisPrompt(t *testing.T) {
	t.Run("READMEなし", func(t *testing.T) {
		p := buildAnalysisPrompt("package main", "")
		assert.Contains(t, p.Text, "# Analysis Task\nAnalyze the following file content")
		assert.Contains(t, p.Text, "package main")
		assert.NotContains(t, p.Text, "Repository Context")
		assert.False(t, p.ContentTruncated)
	})

	t.Run("READMEあり", func(t *testing.T) {
		p := buildAnalysisPrompt("package main", "# Project\nDoes things.")
		assert.Contains(t, p.Text, "# Repository Context (from README):\n# Project\nDoes things.\n\n")
		assert.Less(t, strings.Index(p.Text, "Repository Context"), strings.Index(p.Text, "package main"))
	})

	t.Run("内容の切り詰め", func(t *testing.T) {
		content := strings.Repeat("a", maxContentChars+10)
		p := buildAnalysisPrompt(content, "")
		assert.True(t, p.ContentTruncated)
		assert.NotContains(t, p.Text, strings.Repeat("a", maxContentChars+1))

		// READMEがある場合は上限が下がる
		p = buildAnalysisPrompt(strings.Repeat("b", maxContentCharsWithReadme+1), "readme")
		assert.True(t, p.ContentTruncated)
	})

	t.Run("READMEの切り詰め", func(t *testing.T) {
		p := buildAnalysisPrompt("x", strings.Repeat("r", maxReadmeChars+5))
		assert.True(t, p.ReadmeTruncated)
		assert.False(t, p.ContentTruncated)
	})

	t.Run("マルチバイト文字は文字単位で切り詰める", func(t *testing.T) {
		s, truncated := truncateRunes("日本語テキスト", 3)
		assert.True(t, truncated)
		assert.Equal(t, "日本語", s)
	})
}

func TestContentAnalyzer_AnalyzeContent(t *testing.T) {
	client := &testutil.MockLLMClient{
		GenerateCompletionFunc: func(ctx context.Context, req llmdomain.CompletionRequest) (llmdomain.CompletionResponse, error) {
			return llmdomain.CompletionResponse{Content: validResponse}, nil
		},
	}
	a := NewContentAnalyzer(client, nil, newTestLogger())

	got, err := a.AnalyzeContent(context.Background(), "def build(): pass", "README text")
	require.NoError(t, err)
	assert.Equal(t, "Code", got.DocumentType)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, llmdomain.ResponseFormatJSON, reqs[0].ResponseFormat)
	assert.Equal(t, AnalysisTemperature, reqs[0].Temperature)
	assert.Equal(t, AnalysisMaxTokens, reqs[0].MaxTokens)
	assert.Contains(t, reqs[0].Prompt, "README text")
	assert.Contains(t, reqs[0].Prompt, "def build(): pass")
}

func TestContentAnalyzer_ProviderError(t *testing.T) {
	cause := errors.New("connection reset")
	client := &testutil.MockLLMClient{
		GenerateCompletionFunc: func(ctx context.Context, req llmdomain.CompletionRequest) (llmdomain.CompletionResponse, error) {
			return llmdomain.CompletionResponse{}, cause
		},
	}
	a := NewContentAnalyzer(client, nil, newTestLogger())

	_, err := a.AnalyzeContent(context.Background(), "x", "")
	assert.ErrorIs(t, err, cause)
}

func TestContentAnalyzer_MalformedResponse(t *testing.T) {
	client := &testutil.MockLLMClient{
		GenerateCompletionFunc: func(ctx context.Context, req llmdomain.CompletionRequest) (llmdomain.CompletionResponse, error) {
			return llmdomain.CompletionResponse{Content: `{"title": "only title"}`}, nil
		},
	}
	a := NewContentAnalyzer(client, nil, newTestLogger())

	_, err := a.AnalyzeContent(context.Background(), "x", "")
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
}
