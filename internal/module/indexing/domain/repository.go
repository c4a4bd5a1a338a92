package domain

import (
	"context"

	"github.com/google/uuid"
)

// === RepositoryFile Persistence Port ===

// FileRecordWriter はバッチトランザクション内で使うファイルレコードの操作です
type FileRecordWriter interface {
	// GetByPath は該当レコードを返します。存在しない場合は ErrFileNotFound を返します
	GetByPath(ctx context.Context, repositoryID uuid.UUID, path string) (*ProcessedFile, error)
	DeleteByID(ctx context.Context, id uuid.UUID) (bool, error)
	Insert(ctx context.Context, record *ProcessedFile) (*ProcessedFile, error)
	DeleteByPaths(ctx context.Context, repositoryID uuid.UUID, paths []string) (int, error)
}

// BatchTransactor は1バッチ分の書き込みを単一トランザクションで実行します
// fn がエラーを返した場合、そのバッチの書き込みは全てロールバックされます
type BatchTransactor interface {
	WithinBatch(ctx context.Context, repositoryID uuid.UUID, fn func(w FileRecordWriter) error) error
}

// === Repository Persistence Port ===

// RepositoryStore はリポジトリ集約の永続化ポートです
type RepositoryStore interface {
	GetByURL(ctx context.Context, url string) (*Repository, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Repository, error)
	Create(ctx context.Context, repo *Repository) (*Repository, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status RepositoryStatus) error
	UpdateBranch(ctx context.Context, id uuid.UUID, branch string) error

	// MarkIndexed はステータスをreadyにし、ファイル数と最終インデックス時刻を更新します
	// commitHash が空の場合、保存済みのコミットハッシュは変更しません
	MarkIndexed(ctx context.Context, id uuid.UUID, commitHash string, fileCount int) error

	CountFiles(ctx context.Context, id uuid.UUID) (int, error)

	// List は登録済みのリポジトリをURL順に返します
	List(ctx context.Context) ([]*Repository, error)
}

// RepositoryRemover はリポジトリと保存済みファイルを削除します
// 書き込み中のバッチがある場合は ErrRepositoryBusy を返します
type RepositoryRemover interface {
	Remove(ctx context.Context, id uuid.UUID) error
}
