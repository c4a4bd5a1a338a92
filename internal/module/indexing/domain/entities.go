package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// === Repository集約 ===

// RepositoryStatus はリポジトリの処理状態を表します
type RepositoryStatus string

const (
	RepositoryStatusCloning  RepositoryStatus = "cloning"
	RepositoryStatusIndexing RepositoryStatus = "indexing"
	RepositoryStatusReady    RepositoryStatus = "ready"
	RepositoryStatusError    RepositoryStatus = "error"
)

// Repository はインデックス対象のGitリポジトリを表します
type Repository struct {
	ID             uuid.UUID        `json:"id"`
	URL            string           `json:"url"`
	Name           string           `json:"name"`
	DefaultBranch  string           `json:"defaultBranch"`
	LastCommitHash *string          `json:"lastCommitHash,omitempty"`
	LastIndexedAt  *time.Time       `json:"lastIndexedAt,omitempty"`
	FileCount      int              `json:"fileCount"`
	Status         RepositoryStatus `json:"status"`
	ClonePath      string           `json:"clonePath"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// === RepositoryFile集約 ===

// ProcessedFile はパイプラインが生成し永続化ゲートウェイが保存する1ファイル分のレコードです
// (RepositoryID, Path) で一意です
type ProcessedFile struct {
	ID                   uuid.UUID  `json:"id"`
	RepositoryID         uuid.UUID  `json:"repositoryID"`
	Path                 string     `json:"path"`
	OldPath              string     `json:"oldPath,omitempty"`
	Filename             string     `json:"filename"`
	Extension            string     `json:"extension"`
	Size                 int64      `json:"size"`
	LastModified         *time.Time `json:"lastModified,omitempty"`
	GitStatus            FileStatus `json:"gitStatus"`
	CommitHash           string     `json:"commitHash"`
	Content              string     `json:"content"`
	Analysis             *Analysis  `json:"analysis"`
	Tags                 []string   `json:"tags"`
	FileType             string     `json:"fileType"`
	TechnicalLevel       string     `json:"technicalLevel"`
	EmbeddingSource      string     `json:"embeddingSource"`
	Embedding            []float32  `json:"embedding"`
	EmbeddingModel       string     `json:"embeddingModel"`
	UsedFallbackAnalysis bool       `json:"usedFallbackAnalysis"`
	IndexedAt            time.Time  `json:"indexedAt"`
}

// Complete はコンテンツ・解析・Embeddingが全て揃っているかを検証します
func (f *ProcessedFile) Complete(dimension int) error {
	switch {
	case f.Path == "":
		return fmt.Errorf("record has empty path")
	case f.Content == "":
		return fmt.Errorf("record %s has no content", f.Path)
	case f.Analysis == nil:
		return fmt.Errorf("record %s has no analysis", f.Path)
	case len(f.Embedding) == 0:
		return fmt.Errorf("record %s has no embedding", f.Path)
	}
	if dimension > 0 && len(f.Embedding) != dimension {
		return fmt.Errorf("%w: record %s has %d dimensions, expected %d", ErrDimensionMismatch, f.Path, len(f.Embedding), dimension)
	}
	return nil
}

// FileMetadata はContent Extractorが返すファイルのメタデータです
type FileMetadata struct {
	Size         int64
	LastModified time.Time
	DetectedType string
	Language     string
	MIMEType     string
	Encoding     string
}
