package database

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

func TestGenerateLockID(t *testing.T) {
	a := GenerateLockID("repository_files", "x")
	assert.Equal(t, a, GenerateLockID("repository_files", "x"))
	assert.NotEqual(t, a, GenerateLockID("repository_files", "y"))

	id := uuid.New()
	assert.Equal(t, RepositoryLockID(id), RepositoryLockID(id))
	assert.NotEqual(t, RepositoryLockID(id), RepositoryLockID(uuid.New()))
}

func TestRenderSchema(t *testing.T) {
	ddl, err := RenderSchema(1536)
	require.NoError(t, err)
	assert.Contains(t, ddl, "embedding vector(1536) NOT NULL")
	assert.Contains(t, ddl, "UNIQUE (repository_id, filepath)")
	assert.NotContains(t, ddl, "{{")

	_, err = RenderSchema(0)
	assert.Error(t, err)
}

func newRepositoryFixture(t *testing.T, tp *TransactionProvider) *domain.Repository {
	t.Helper()
	ctx := context.Background()
	repo, err := Transact(ctx, tp, func(a *Adapter) (*domain.Repository, error) {
		return a.Repositories.Create(ctx, &domain.Repository{
			URL:           "https://github.com/example/" + uuid.NewString() + ".git",
			Name:          "example",
			DefaultBranch: "main",
			ClonePath:     "/tmp/example",
		})
	})
	require.NoError(t, err)
	return repo
}

func newRecord(repoID uuid.UUID, path string) *domain.ProcessedFile {
	modified := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	analysis := domain.FallbackAnalysis(path)
	return &domain.ProcessedFile{
		RepositoryID:         repoID,
		Path:                 path,
		Filename:             path[strings.LastIndex(path, "/")+1:],
		Extension:            ".go",
		Size:                 12,
		LastModified:         &modified,
		GitStatus:            domain.FileStatusNew,
		CommitHash:           "abc123",
		Content:              "package main",
		Analysis:             analysis,
		Tags:                 analysis.Tags(),
		FileType:             analysis.DocumentType,
		TechnicalLevel:       analysis.TechnicalLevel,
		EmbeddingSource:      "source",
		Embedding:            []float32{0.1, 0.2, 0.3, 0.4},
		EmbeddingModel:       "test-model",
		UsedFallbackAnalysis: true,
	}
}

func listPaths(t *testing.T, tp *TransactionProvider, repositoryID uuid.UUID) []string {
	t.Helper()
	ctx := context.Background()
	paths, err := Transact(ctx, tp, func(a *Adapter) ([]string, error) {
		return a.Files.ListPaths(ctx, repositoryID)
	})
	require.NoError(t, err)
	return paths
}

func TestRepositoryRepository_Integration(t *testing.T) {
	pool := requireDB(t)
	ctx := context.Background()
	tp := NewTransactionProvider(pool)

	repo := newRepositoryFixture(t, tp)
	assert.Equal(t, domain.RepositoryStatusCloning, repo.Status)
	assert.Nil(t, repo.LastCommitHash)

	_, err := Transact(ctx, tp, func(a *Adapter) (struct{}, error) {
		// 同じURLでの作成は既存行を返す
		again, err := a.Repositories.Create(ctx, &domain.Repository{URL: repo.URL, Name: "other"})
		require.NoError(t, err)
		assert.Equal(t, repo.ID, again.ID)
		assert.Equal(t, "example", again.Name)

		require.NoError(t, a.Repositories.UpdateBranch(ctx, repo.ID, "develop"))
		require.NoError(t, a.Repositories.UpdateStatus(ctx, repo.ID, domain.RepositoryStatusIndexing))
		require.NoError(t, a.Repositories.MarkIndexed(ctx, repo.ID, "c1", 3))
		// 空のコミットハッシュは保存済みの値を変更しない
		require.NoError(t, a.Repositories.MarkIndexed(ctx, repo.ID, "", 4))
		return struct{}{}, nil
	})
	require.NoError(t, err)

	got, err := Transact(ctx, tp, func(a *Adapter) (*domain.Repository, error) {
		return a.Repositories.GetByURL(ctx, repo.URL)
	})
	require.NoError(t, err)
	assert.Equal(t, "develop", got.DefaultBranch)
	assert.Equal(t, domain.RepositoryStatusReady, got.Status)
	require.NotNil(t, got.LastCommitHash)
	assert.Equal(t, "c1", *got.LastCommitHash)
	assert.Equal(t, 4, got.FileCount)
	assert.NotNil(t, got.LastIndexedAt)

	_, err = Transact(ctx, tp, func(a *Adapter) (*domain.Repository, error) {
		return a.Repositories.GetByID(ctx, uuid.New())
	})
	assert.ErrorIs(t, err, domain.ErrRepositoryNotFound)
}

func TestFileRepository_Integration(t *testing.T) {
	pool := requireDB(t)
	ctx := context.Background()
	tp := NewTransactionProvider(pool)
	repo := newRepositoryFixture(t, tp)

	inserted, err := Transact(ctx, tp, func(a *Adapter) (*domain.ProcessedFile, error) {
		return a.Files.Insert(ctx, newRecord(repo.ID, "cmd/main.go"))
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, inserted.ID)

	got, err := Transact(ctx, tp, func(a *Adapter) (*domain.ProcessedFile, error) {
		return a.Files.GetByPath(ctx, repo.ID, "cmd/main.go")
	})
	require.NoError(t, err)
	assert.Equal(t, inserted.ID, got.ID)
	assert.Equal(t, "main.go", got.Filename)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, got.Embedding)
	assert.True(t, got.UsedFallbackAnalysis)
	assert.True(t, got.Analysis.UsedFallbackAnalysis)
	assert.Equal(t, domain.FileStatusNew, got.GitStatus)
	require.NotNil(t, got.LastModified)

	// 同じパスの二重挿入は一意制約違反
	_, err = Transact(ctx, tp, func(a *Adapter) (*domain.ProcessedFile, error) {
		return a.Files.Insert(ctx, newRecord(repo.ID, "cmd/main.go"))
	})
	require.Error(t, err)

	_, err = Transact(ctx, tp, func(a *Adapter) (*domain.ProcessedFile, error) {
		return a.Files.GetByPath(ctx, repo.ID, "missing.go")
	})
	assert.ErrorIs(t, err, domain.ErrFileNotFound)

	deleted, err := Transact(ctx, tp, func(a *Adapter) (bool, error) {
		return a.Files.DeleteByID(ctx, inserted.ID)
	})
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestBatchTransactor_Integration(t *testing.T) {
	pool := requireDB(t)
	ctx := context.Background()
	tp := NewTransactionProvider(pool)
	bt := NewBatchTransactor(tp)
	repo := newRepositoryFixture(t, tp)

	t.Run("成功したバッチは全件コミットされる", func(t *testing.T) {
		err := bt.WithinBatch(ctx, repo.ID, func(w domain.FileRecordWriter) error {
			for _, p := range []string{"a.go", "b.go"} {
				if _, err := w.Insert(ctx, newRecord(repo.ID, p)); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)

		paths := listPaths(t, tp, repo.ID)
		assert.Equal(t, []string{"a.go", "b.go"}, paths)
	})

	t.Run("失敗したバッチは全件ロールバックされる", func(t *testing.T) {
		boom := errors.New("boom")
		err := bt.WithinBatch(ctx, repo.ID, func(w domain.FileRecordWriter) error {
			if _, err := w.Insert(ctx, newRecord(repo.ID, "c.go")); err != nil {
				return err
			}
			if _, err := w.DeleteByPaths(ctx, repo.ID, []string{"a.go"}); err != nil {
				return err
			}
			return boom
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrPersistence)
		assert.ErrorIs(t, err, boom)

		paths := listPaths(t, tp, repo.ID)
		assert.Equal(t, []string{"a.go", "b.go"}, paths)
	})

	t.Run("パス指定で削除", func(t *testing.T) {
		var n int
		err := bt.WithinBatch(ctx, repo.ID, func(w domain.FileRecordWriter) error {
			var err error
			n, err = w.DeleteByPaths(ctx, repo.ID, []string{"a.go", "missing.go"})
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestRepositoryRemover_Integration(t *testing.T) {
	pool := requireDB(t)
	ctx := context.Background()
	tp := NewTransactionProvider(pool)
	bt := NewBatchTransactor(tp)
	remover := NewRepositoryRemover(tp)
	repo := newRepositoryFixture(t, tp)

	require.NoError(t, bt.WithinBatch(ctx, repo.ID, func(w domain.FileRecordWriter) error {
		_, err := w.Insert(ctx, newRecord(repo.ID, "a.go"))
		return err
	}))

	repos, err := Transact(ctx, tp, func(a *Adapter) ([]*domain.Repository, error) {
		return a.Repositories.List(ctx)
	})
	require.NoError(t, err)
	var urls []string
	for _, r := range repos {
		urls = append(urls, r.URL)
	}
	assert.Contains(t, urls, repo.URL)

	t.Run("書き込み中のバッチがあれば削除しない", func(t *testing.T) {
		locked := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- bt.WithinBatch(ctx, repo.ID, func(w domain.FileRecordWriter) error {
				close(locked)
				<-release
				return nil
			})
		}()
		<-locked

		err := remover.Remove(ctx, repo.ID)
		close(release)
		require.NoError(t, <-done)

		assert.ErrorIs(t, err, domain.ErrRepositoryBusy)
		assert.Equal(t, []string{"a.go"}, listPaths(t, tp, repo.ID))
	})

	t.Run("ファイルごと削除される", func(t *testing.T) {
		require.NoError(t, remover.Remove(ctx, repo.ID))

		_, err := Transact(ctx, tp, func(a *Adapter) (*domain.Repository, error) {
			return a.Repositories.GetByID(ctx, repo.ID)
		})
		assert.ErrorIs(t, err, domain.ErrRepositoryNotFound)
		assert.Empty(t, listPaths(t, tp, repo.ID))

		assert.ErrorIs(t, remover.Remove(ctx, repo.ID), domain.ErrRepositoryNotFound)
	})
}
