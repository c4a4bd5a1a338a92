package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

const fileColumns = `id, repository_id, filepath, filename, extension, file_size, last_modified,
	git_status, commit_hash, content, analysis, tags, file_type, technical_level,
	embedding_source, embedding, embedding_model, used_fallback_analysis, indexed_at`

// FileRepository はrepository_filesテーブルの永続化アダプターです
type FileRepository struct {
	db DBTX
}

// NewFileRepository は新しいFileRepositoryを作成します
func NewFileRepository(db DBTX) *FileRepository {
	return &FileRepository{db: db}
}

var _ domain.FileRecordWriter = (*FileRepository)(nil)

// GetByPath はリポジトリ内のパスでレコードを取得します
func (r *FileRepository) GetByPath(ctx context.Context, repositoryID uuid.UUID, path string) (*domain.ProcessedFile, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM repository_files WHERE repository_id = $1 AND filepath = $2`,
		repositoryID, path)

	file, err := scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	return file, nil
}

// DeleteByID はレコードを削除し、削除したかどうかを返します
func (r *FileRepository) DeleteByID(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM repository_files WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete file record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Insert はレコードを挿入します。IDが未設定の場合は採番します
func (r *FileRepository) Insert(ctx context.Context, record *domain.ProcessedFile) (*domain.ProcessedFile, error) {
	if record.Analysis == nil {
		return nil, fmt.Errorf("record %s has no analysis", record.Path)
	}
	analysisJSON, err := json.Marshal(record.Analysis)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis: %w", err)
	}

	saved := *record
	if saved.ID == uuid.Nil {
		saved.ID = uuid.New()
	}
	if saved.IndexedAt.IsZero() {
		saved.IndexedAt = time.Now()
	}
	tags := saved.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO repository_files (`+fileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		saved.ID,
		saved.RepositoryID,
		saved.Path,
		saved.Filename,
		saved.Extension,
		saved.Size,
		TimePtrToPgtype(saved.LastModified),
		string(saved.GitStatus),
		saved.CommitHash,
		saved.Content,
		analysisJSON,
		tags,
		saved.FileType,
		saved.TechnicalLevel,
		saved.EmbeddingSource,
		pgvector.NewVector(saved.Embedding),
		saved.EmbeddingModel,
		saved.UsedFallbackAnalysis,
		saved.IndexedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, fmt.Errorf("file record already exists: %s: %w", saved.Path, err)
		}
		return nil, fmt.Errorf("failed to insert file record: %w", err)
	}
	return &saved, nil
}

// DeleteByPaths はパスに一致するレコードをまとめて削除し、削除件数を返します
func (r *FileRepository) DeleteByPaths(ctx context.Context, repositoryID uuid.UUID, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM repository_files WHERE repository_id = $1 AND filepath = ANY($2)`,
		repositoryID, paths)
	if err != nil {
		return 0, fmt.Errorf("failed to delete file records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountByRepository はリポジトリのレコード数を返します
func (r *FileRepository) CountByRepository(ctx context.Context, repositoryID uuid.UUID) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM repository_files WHERE repository_id = $1`, repositoryID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count file records: %w", err)
	}
	return count, nil
}

// ListPaths はリポジトリに保存済みのパスを昇順で返します
func (r *FileRepository) ListPaths(ctx context.Context, repositoryID uuid.UUID) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT filepath FROM repository_files WHERE repository_id = $1 ORDER BY filepath`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list file paths: %w", err)
	}
	paths, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan file paths: %w", err)
	}
	return paths, nil
}

func scanFile(row pgx.Row) (*domain.ProcessedFile, error) {
	var (
		f            domain.ProcessedFile
		lastModified pgtype.Timestamptz
		gitStatus    string
		analysisJSON []byte
		embedding    pgvector.Vector
	)
	if err := row.Scan(
		&f.ID,
		&f.RepositoryID,
		&f.Path,
		&f.Filename,
		&f.Extension,
		&f.Size,
		&lastModified,
		&gitStatus,
		&f.CommitHash,
		&f.Content,
		&analysisJSON,
		&f.Tags,
		&f.FileType,
		&f.TechnicalLevel,
		&f.EmbeddingSource,
		&embedding,
		&f.EmbeddingModel,
		&f.UsedFallbackAnalysis,
		&f.IndexedAt,
	); err != nil {
		return nil, err
	}

	var analysis domain.Analysis
	if err := json.Unmarshal(analysisJSON, &analysis); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
	}
	f.Analysis = &analysis
	f.LastModified = PgtypeToTimePtr(lastModified)
	f.GitStatus = domain.FileStatus(gitStatus)
	f.Embedding = embedding.Slice()
	return &f, nil
}
