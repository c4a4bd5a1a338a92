package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

// RepositoryRemover はバッチ書き込みと同じアドバイザリロックを取ってからリポジトリを削除します
type RepositoryRemover struct {
	tp *TransactionProvider
}

// NewRepositoryRemover は新しいRepositoryRemoverを作成します
func NewRepositoryRemover(tp *TransactionProvider) *RepositoryRemover {
	return &RepositoryRemover{tp: tp}
}

var _ domain.RepositoryRemover = (*RepositoryRemover)(nil)

// Remove はロックを待たずに取得し、取れなければ domain.ErrRepositoryBusy を返します
func (r *RepositoryRemover) Remove(ctx context.Context, id uuid.UUID) error {
	_, err := Transact(ctx, r.tp, func(a *Adapter) (struct{}, error) {
		ok, err := a.Locks.TryAcquire(ctx, RepositoryLockID(id))
		if err != nil {
			return struct{}{}, err
		}
		if !ok {
			return struct{}{}, fmt.Errorf("%w: %s", domain.ErrRepositoryBusy, id)
		}
		return struct{}{}, a.Repositories.Delete(ctx, id)
	})
	return err
}
