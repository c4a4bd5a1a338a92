package domain

import (
	"context"
)

// ChangeType はコミット間の差分種別です（git diff --name-status の記号に対応）
type ChangeType string

const (
	ChangeAdded    ChangeType = "A"
	ChangeModified ChangeType = "M"
	ChangeDeleted  ChangeType = "D"
	ChangeRenamed  ChangeType = "R"
)

// FileChange は2コミット間の1ファイル分の変更です
// リネーム時はPathが新パス、OldPathが旧パスです
type FileChange struct {
	Type    ChangeType
	Path    string
	OldPath string
}

// RepositoryHandle はクローン済みリポジトリへの操作を提供するポートです
type RepositoryHandle interface {
	// Name はリポジトリの表示名を返します
	Name() string

	// WorkingDirectory は作業ツリーの絶対パスを返します
	WorkingDirectory() string

	IsCloned() bool
	Clone(ctx context.Context) error

	// Pull はリモートの変更を取り込み、変更されたパスを返します
	Pull(ctx context.Context) ([]string, error)

	// LastCommit はHEADのコミットハッシュを返します
	LastCommit(ctx context.Context) (string, error)

	// FileCommitHash はファイルを最後に変更したコミットのハッシュを返します
	FileCommitHash(ctx context.Context, path string) (string, error)

	// DiffCommits は2コミット間の変更を分類して返します
	DiffCommits(ctx context.Context, oldCommit, newCommit string) ([]FileChange, error)
}
