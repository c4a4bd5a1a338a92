package domain

import (
	"context"
)

// Embedder はテキストをベクトルに変換するインターフェース
type Embedder interface {
	// Embed は単一テキストのEmbeddingを生成します
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension はベクトル次元数を返します
	Dimension() int

	// ModelName はモデル名を返します
	ModelName() string
}

// Analyzer はファイル内容の構造化解析を行うインターフェース
type Analyzer interface {
	// AnalyzeContent はcontentを解析します。contextTextはREADME等の補助情報で空でも構いません
	// 必須フィールド欠落時は ErrMalformedResponse を返します
	AnalyzeContent(ctx context.Context, content, contextText string) (*Analysis, error)
}
