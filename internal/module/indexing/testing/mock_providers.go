package testing

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
	llmdomain "github.com/jinford/repo-indexer/internal/module/llm/domain"
)

// MockRepositoryHandle はテスト用のモックRepositoryHandleです
type MockRepositoryHandle struct {
	NameValue string
	Dir       string
	Cloned    bool

	CloneFunc          func(ctx context.Context) error
	PullFunc           func(ctx context.Context) ([]string, error)
	LastCommitFunc     func(ctx context.Context) (string, error)
	FileCommitHashFunc func(ctx context.Context, path string) (string, error)
	DiffCommitsFunc    func(ctx context.Context, oldCommit, newCommit string) ([]domain.FileChange, error)
}

func (m *MockRepositoryHandle) Name() string             { return m.NameValue }
func (m *MockRepositoryHandle) WorkingDirectory() string { return m.Dir }
func (m *MockRepositoryHandle) IsCloned() bool           { return m.Cloned }

func (m *MockRepositoryHandle) Clone(ctx context.Context) error {
	if m.CloneFunc != nil {
		return m.CloneFunc(ctx)
	}
	m.Cloned = true
	return nil
}

func (m *MockRepositoryHandle) Pull(ctx context.Context) ([]string, error) {
	if m.PullFunc != nil {
		return m.PullFunc(ctx)
	}
	return nil, nil
}

func (m *MockRepositoryHandle) LastCommit(ctx context.Context) (string, error) {
	if m.LastCommitFunc != nil {
		return m.LastCommitFunc(ctx)
	}
	return "", nil
}

func (m *MockRepositoryHandle) FileCommitHash(ctx context.Context, path string) (string, error) {
	if m.FileCommitHashFunc != nil {
		return m.FileCommitHashFunc(ctx, path)
	}
	return "", nil
}

func (m *MockRepositoryHandle) DiffCommits(ctx context.Context, oldCommit, newCommit string) ([]domain.FileChange, error) {
	if m.DiffCommitsFunc != nil {
		return m.DiffCommitsFunc(ctx, oldCommit, newCommit)
	}
	return nil, nil
}

// MockAnalyzer はテスト用のモックAnalyzerです
type MockAnalyzer struct {
	AnalyzeContentFunc func(ctx context.Context, content, contextText string) (*domain.Analysis, error)

	calls atomic.Int64
}

func (m *MockAnalyzer) AnalyzeContent(ctx context.Context, content, contextText string) (*domain.Analysis, error) {
	m.calls.Add(1)
	if m.AnalyzeContentFunc != nil {
		return m.AnalyzeContentFunc(ctx, content, contextText)
	}
	return TestAnalysis("Analysis"), nil
}

// Calls はAnalyzeContentの呼び出し回数を返します
func (m *MockAnalyzer) Calls() int {
	return int(m.calls.Load())
}

// MockEmbedder はテスト用のモックEmbedderです
type MockEmbedder struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
	Dim       int
	Model     string
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return make([]float32, m.Dimension()), nil
}

func (m *MockEmbedder) Dimension() int {
	if m.Dim == 0 {
		return 8
	}
	return m.Dim
}

func (m *MockEmbedder) ModelName() string {
	if m.Model == "" {
		return "mock-embedding"
	}
	return m.Model
}

// MockContentExtractor はテスト用のモックContentExtractorです
// ExtractContentFunc が未設定の場合はファイルをそのまま読み込みます
type MockContentExtractor struct {
	ExtractContentFunc func(ctx context.Context, path string) (string, error)
}

func (m *MockContentExtractor) ExtractContent(ctx context.Context, path string) (string, error) {
	if m.ExtractContentFunc != nil {
		return m.ExtractContentFunc(ctx, path)
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return "", domain.ErrExtractionSkip
	}
	return string(data), nil
}

func (m *MockContentExtractor) Metadata(path string) (*domain.FileMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &domain.FileMetadata{
		Size:         info.Size(),
		LastModified: info.ModTime(),
		DetectedType: filepath.Ext(path),
	}, nil
}

// MockLLMClient はテスト用のモックLLMクライアントです
type MockLLMClient struct {
	GenerateCompletionFunc func(ctx context.Context, req llmdomain.CompletionRequest) (llmdomain.CompletionResponse, error)
	Model                  string

	mu       sync.Mutex
	requests []llmdomain.CompletionRequest
}

func (m *MockLLMClient) GenerateCompletion(ctx context.Context, req llmdomain.CompletionRequest) (llmdomain.CompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.GenerateCompletionFunc != nil {
		return m.GenerateCompletionFunc(ctx, req)
	}
	return llmdomain.CompletionResponse{Content: "{}", Model: m.ModelName()}, nil
}

func (m *MockLLMClient) ModelName() string {
	if m.Model == "" {
		return "mock-llm"
	}
	return m.Model
}

// Requests は受け取ったリクエストを返します
func (m *MockLLMClient) Requests() []llmdomain.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llmdomain.CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// ConcurrencyGauge は同時実行数のピークを記録します
type ConcurrencyGauge struct {
	mu      sync.Mutex
	current int
	peak    int
}

// Enter は実行開始を記録し、終了時に呼ぶ関数を返します
func (p *ConcurrencyGauge) Enter() func() {
	p.mu.Lock()
	p.current++
	if p.current > p.peak {
		p.peak = p.current
	}
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		p.current--
		p.mu.Unlock()
	}
}

// Hold は実行中の状態をdの間維持します
func (p *ConcurrencyGauge) Hold(d time.Duration) {
	leave := p.Enter()
	time.Sleep(d)
	leave()
}

// Current は実行中の数を返します
func (p *ConcurrencyGauge) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *ConcurrencyGauge) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

var (
	_ domain.RepositoryHandle = (*MockRepositoryHandle)(nil)
	_ domain.Analyzer         = (*MockAnalyzer)(nil)
	_ domain.Embedder         = (*MockEmbedder)(nil)
	_ domain.ContentExtractor = (*MockContentExtractor)(nil)
	_ llmdomain.Client        = (*MockLLMClient)(nil)
)
