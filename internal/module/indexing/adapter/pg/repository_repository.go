package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

const repositoryColumns = `id, url, name, default_branch, last_commit_hash, last_indexed_at,
	file_count, status, clone_path, created_at, updated_at`

// RepositoryRepository はrepositoriesテーブルの永続化アダプターです
type RepositoryRepository struct {
	db DBTX
}

// NewRepositoryRepository は新しいRepositoryRepositoryを作成します
func NewRepositoryRepository(db DBTX) *RepositoryRepository {
	return &RepositoryRepository{db: db}
}

var _ domain.RepositoryStore = (*RepositoryRepository)(nil)

// GetByURL はURLでリポジトリを取得します
func (r *RepositoryRepository) GetByURL(ctx context.Context, url string) (*domain.Repository, error) {
	repo, err := scanRepository(r.db.QueryRow(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE url = $1`, url))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRepositoryNotFound, url)
		}
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

// GetByID はIDでリポジトリを取得します
func (r *RepositoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Repository, error) {
	repo, err := scanRepository(r.db.QueryRow(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRepositoryNotFound, id)
		}
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

// Create はリポジトリを作成します。URLが既に存在する場合は既存の行を返します（冪等）
func (r *RepositoryRepository) Create(ctx context.Context, repo *domain.Repository) (*domain.Repository, error) {
	id := repo.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	status := repo.Status
	if status == "" {
		status = domain.RepositoryStatusCloning
	}

	created, err := scanRepository(r.db.QueryRow(ctx,
		`INSERT INTO repositories (id, url, name, default_branch, status, clone_path)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (url) DO UPDATE SET updated_at = repositories.updated_at
		RETURNING `+repositoryColumns,
		id, repo.URL, repo.Name, repo.DefaultBranch, string(status), repo.ClonePath))
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}
	return created, nil
}

// UpdateStatus はステータスを更新します
func (r *RepositoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.RepositoryStatus) error {
	return r.execOne(ctx, "update repository status",
		`UPDATE repositories SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
}

// UpdateBranch は実際にチェックアウトしたブランチを記録します
func (r *RepositoryRepository) UpdateBranch(ctx context.Context, id uuid.UUID, branch string) error {
	return r.execOne(ctx, "update repository branch",
		`UPDATE repositories SET default_branch = $2, updated_at = now() WHERE id = $1`, id, branch)
}

// MarkIndexed はステータスをreadyにし、ファイル数と最終インデックス時刻を更新します
func (r *RepositoryRepository) MarkIndexed(ctx context.Context, id uuid.UUID, commitHash string, fileCount int) error {
	var commit *string
	if commitHash != "" {
		commit = &commitHash
	}
	return r.execOne(ctx, "mark repository indexed",
		`UPDATE repositories
		SET status = $2,
			last_commit_hash = COALESCE($3, last_commit_hash),
			file_count = $4,
			last_indexed_at = now(),
			updated_at = now()
		WHERE id = $1`,
		id, string(domain.RepositoryStatusReady), StringPtrToPgtext(commit), fileCount)
}

// CountFiles はリポジトリに保存済みのファイル数を返します
func (r *RepositoryRepository) CountFiles(ctx context.Context, id uuid.UUID) (int, error) {
	return NewFileRepository(r.db).CountByRepository(ctx, id)
}

// List は登録済みのリポジトリをURL順に返します
func (r *RepositoryRepository) List(ctx context.Context) ([]*domain.Repository, error) {
	rows, err := r.db.Query(ctx, `SELECT `+repositoryColumns+` FROM repositories ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*domain.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return repos, nil
}

// Delete はリポジトリを削除します。repository_filesはカスケード削除されます
func (r *RepositoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.execOne(ctx, "delete repository", `DELETE FROM repositories WHERE id = $1`, id)
}

func (r *RepositoryRepository) execOne(ctx context.Context, op, sql string, id uuid.UUID, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRepositoryNotFound, id)
	}
	return nil
}

func scanRepository(row pgx.Row) (*domain.Repository, error) {
	var (
		repo          domain.Repository
		defaultBranch pgtype.Text
		lastCommit    pgtype.Text
		lastIndexedAt pgtype.Timestamptz
		status        string
	)
	if err := row.Scan(
		&repo.ID,
		&repo.URL,
		&repo.Name,
		&defaultBranch,
		&lastCommit,
		&lastIndexedAt,
		&repo.FileCount,
		&status,
		&repo.ClonePath,
		&repo.CreatedAt,
		&repo.UpdatedAt,
	); err != nil {
		return nil, err
	}
	repo.DefaultBranch = PgtextToString(defaultBranch)
	repo.LastCommitHash = PgtextToStringPtr(lastCommit)
	repo.LastIndexedAt = PgtypeToTimePtr(lastIndexedAt)
	repo.Status = domain.RepositoryStatus(status)
	return &repo, nil
}
