package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

// BatchTransactor は1バッチ分の書き込みを1トランザクションで実行します
// 同一リポジトリへの並行バッチはアドバイザリロックで直列化されます
type BatchTransactor struct {
	tp *TransactionProvider
}

// NewBatchTransactor は新しいBatchTransactorを作成します
func NewBatchTransactor(tp *TransactionProvider) *BatchTransactor {
	return &BatchTransactor{tp: tp}
}

var _ domain.BatchTransactor = (*BatchTransactor)(nil)

// WithinBatch はfnをトランザクション内で実行します。fnがエラーを返した場合は全てロールバックされます
func (b *BatchTransactor) WithinBatch(ctx context.Context, repositoryID uuid.UUID, fn func(w domain.FileRecordWriter) error) error {
	_, err := Transact(ctx, b.tp, func(a *Adapter) (struct{}, error) {
		if err := a.Locks.Acquire(ctx, RepositoryLockID(repositoryID)); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, fn(a.Files)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return nil
}
