package database

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LockManager はトランザクションスコープのアドバイザリロックを取得します
// ロックはトランザクション終了時に自動的に解放されます
type LockManager struct {
	tx pgx.Tx
}

// NewLockManager はトランザクションからロックマネージャーを生成します
func NewLockManager(tx pgx.Tx) *LockManager {
	return &LockManager{tx: tx}
}

// GenerateLockID は文字列からロックIDを生成します
func GenerateLockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
	}
	hash := h.Sum(nil)

	// ハッシュの最初の8バイトをint64として使用
	var id int64
	for i := range 8 {
		id = (id << 8) | int64(hash[i])
	}

	return id
}

// RepositoryLockID はリポジトリ単位の書き込みロックのIDを返します
func RepositoryLockID(repositoryID uuid.UUID) int64 {
	return GenerateLockID("repository_files", repositoryID.String())
}

// Acquire はロックを取得するまで待機します（pg_advisory_xact_lock）
func (m *LockManager) Acquire(ctx context.Context, lockID int64) error {
	if _, err := m.tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}

// TryAcquire は待機せずにロックの取得を試みます（pg_try_advisory_xact_lock）
func (m *LockManager) TryAcquire(ctx context.Context, lockID int64) (bool, error) {
	var ok bool
	if err := m.tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", lockID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to try advisory lock: %w", err)
	}
	return ok, nil
}
