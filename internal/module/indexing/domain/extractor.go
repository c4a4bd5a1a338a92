package domain

import "context"

// ContentExtractor はファイル内容とメタデータを読み取ります
type ContentExtractor interface {
	// ExtractContent はテキスト内容を返します。空・読み取り不能の場合は ErrExtractionSkip を返します
	ExtractContent(ctx context.Context, path string) (string, error)

	Metadata(path string) (*FileMetadata, error)
}

// PathFilter は処理対象ファイルを判定します
type PathFilter interface {
	ShouldProcess(path string) bool
}
