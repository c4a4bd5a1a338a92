package domain

import "errors"

var (
	// ErrExtractionSkip はファイルが空または読み取れないことを示します（正常なスキップ）
	ErrExtractionSkip = errors.New("extraction skipped")

	// ErrTransientProvider は解析/Embeddingプロバイダの一時的な失敗です
	ErrTransientProvider = errors.New("transient provider error")

	// ErrMalformedResponse はプロバイダの応答に必須フィールドが欠けていることを示します
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrPersistence はバッチトランザクションの失敗です
	ErrPersistence = errors.New("persistence error")

	// ErrTrackingFailed はTracker内部の失敗です
	ErrTrackingFailed = errors.New("tracking failed")

	// ErrNotCloned はリポジトリがまだクローンされていないことを示します
	ErrNotCloned = errors.New("repository not cloned")

	// ErrDimensionMismatch はEmbeddingの次元数が設定と一致しないことを示します
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrRepositoryBusy は他の処理がリポジトリに書き込み中であることを示します
	ErrRepositoryBusy = errors.New("repository is being indexed")

	ErrRepositoryNotFound = errors.New("repository not found")
	ErrFileNotFound       = errors.New("file record not found")
)
