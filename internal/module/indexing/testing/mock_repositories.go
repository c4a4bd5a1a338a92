package testing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

// MemoryFileStore はテスト用のインメモリ永続化ゲートウェイです
// WithinBatch はステージングした書き込みをfnの成功時のみ反映します
type MemoryFileStore struct {
	mu      sync.Mutex
	records map[string]*domain.ProcessedFile

	// FailBatchFunc がエラーを返すとそのバッチはロールバックされます
	FailBatchFunc func(inserted []*domain.ProcessedFile) error

	Commits   int
	Rollbacks int
}

// NewMemoryFileStore は空のMemoryFileStoreを作成します
func NewMemoryFileStore() *MemoryFileStore {
	return &MemoryFileStore{records: make(map[string]*domain.ProcessedFile)}
}

func recordKey(repositoryID uuid.UUID, path string) string {
	return repositoryID.String() + ":" + path
}

// Seed はトランザクションを経由せずにレコードを登録します
func (s *MemoryFileStore) Seed(record *domain.ProcessedFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	s.records[recordKey(record.RepositoryID, record.Path)] = record
}

// Get はコミット済みレコードを返します
func (s *MemoryFileStore) Get(repositoryID uuid.UUID, path string) (*domain.ProcessedFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[recordKey(repositoryID, path)]
	return r, ok
}

// Paths はコミット済みレコードのパスをソートして返します
func (s *MemoryFileStore) Paths(repositoryID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var paths []string
	for _, r := range s.records {
		if r.RepositoryID == repositoryID {
			paths = append(paths, r.Path)
		}
	}
	sort.Strings(paths)
	return paths
}

func (s *MemoryFileStore) WithinBatch(ctx context.Context, repositoryID uuid.UUID, fn func(w domain.FileRecordWriter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, staged: make(map[string]*domain.ProcessedFile), deleted: make(map[string]bool)}
	for k, v := range s.records {
		tx.staged[k] = v
	}

	err := fn(tx)
	if err == nil && s.FailBatchFunc != nil {
		err = s.FailBatchFunc(tx.inserted)
	}
	if err != nil {
		s.Rollbacks++
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	s.records = tx.staged
	s.Commits++
	return nil
}

type memoryTx struct {
	store    *MemoryFileStore
	staged   map[string]*domain.ProcessedFile
	deleted  map[string]bool
	inserted []*domain.ProcessedFile
}

func (tx *memoryTx) GetByPath(ctx context.Context, repositoryID uuid.UUID, path string) (*domain.ProcessedFile, error) {
	if r, ok := tx.staged[recordKey(repositoryID, path)]; ok {
		return r, nil
	}
	return nil, domain.ErrFileNotFound
}

func (tx *memoryTx) DeleteByID(ctx context.Context, id uuid.UUID) (bool, error) {
	for k, r := range tx.staged {
		if r.ID == id {
			delete(tx.staged, k)
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) Insert(ctx context.Context, record *domain.ProcessedFile) (*domain.ProcessedFile, error) {
	key := recordKey(record.RepositoryID, record.Path)
	if _, exists := tx.staged[key]; exists {
		return nil, fmt.Errorf("duplicate record for %s", record.Path)
	}
	stored := *record
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.IndexedAt.IsZero() {
		stored.IndexedAt = time.Now()
	}
	tx.staged[key] = &stored
	tx.inserted = append(tx.inserted, &stored)
	return &stored, nil
}

func (tx *memoryTx) DeleteByPaths(ctx context.Context, repositoryID uuid.UUID, paths []string) (int, error) {
	n := 0
	for _, p := range paths {
		key := recordKey(repositoryID, p)
		if _, ok := tx.staged[key]; ok {
			delete(tx.staged, key)
			n++
		}
	}
	return n, nil
}

// MemoryRepositoryStore はテスト用のインメモリRepositoryStoreです
type MemoryRepositoryStore struct {
	mu    sync.Mutex
	repos map[uuid.UUID]*domain.Repository
	files *MemoryFileStore

	// StatusHistory はUpdateStatus/MarkIndexedで設定された状態の履歴です
	StatusHistory []domain.RepositoryStatus

	// RemoveFunc がエラーを返すとRemoveは何も削除しません
	RemoveFunc func(id uuid.UUID) error
}

// NewMemoryRepositoryStore はfilesをファイル数の集計に使うストアを作成します
func NewMemoryRepositoryStore(files *MemoryFileStore) *MemoryRepositoryStore {
	return &MemoryRepositoryStore{repos: make(map[uuid.UUID]*domain.Repository), files: files}
}

func (s *MemoryRepositoryStore) GetByURL(ctx context.Context, url string) (*domain.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.repos {
		if r.URL == url {
			cp := *r
			return &cp, nil
		}
	}
	return nil, domain.ErrRepositoryNotFound
}

func (s *MemoryRepositoryStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repos[id]
	if !ok {
		return nil, domain.ErrRepositoryNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryRepositoryStore) Create(ctx context.Context, repo *domain.Repository) (*domain.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *repo
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.repos[cp.ID] = &cp
	s.StatusHistory = append(s.StatusHistory, cp.Status)
	out := cp
	return &out, nil
}

func (s *MemoryRepositoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.RepositoryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repos[id]
	if !ok {
		return domain.ErrRepositoryNotFound
	}
	r.Status = status
	s.StatusHistory = append(s.StatusHistory, status)
	return nil
}

func (s *MemoryRepositoryStore) UpdateBranch(ctx context.Context, id uuid.UUID, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repos[id]
	if !ok {
		return domain.ErrRepositoryNotFound
	}
	r.DefaultBranch = branch
	return nil
}

func (s *MemoryRepositoryStore) MarkIndexed(ctx context.Context, id uuid.UUID, commitHash string, fileCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repos[id]
	if !ok {
		return domain.ErrRepositoryNotFound
	}
	if commitHash != "" {
		c := commitHash
		r.LastCommitHash = &c
	}
	now := time.Now()
	r.LastIndexedAt = &now
	r.FileCount = fileCount
	r.Status = domain.RepositoryStatusReady
	s.StatusHistory = append(s.StatusHistory, domain.RepositoryStatusReady)
	return nil
}

func (s *MemoryRepositoryStore) CountFiles(ctx context.Context, id uuid.UUID) (int, error) {
	if s.files == nil {
		return 0, nil
	}
	return len(s.files.Paths(id)), nil
}

func (s *MemoryRepositoryStore) List(ctx context.Context) ([]*domain.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Repository, 0, len(s.repos))
	for _, r := range s.repos {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// Remove はリポジトリとMemoryFileStore上のレコードを削除します
func (s *MemoryRepositoryStore) Remove(ctx context.Context, id uuid.UUID) error {
	if s.RemoveFunc != nil {
		if err := s.RemoveFunc(id); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repos[id]; !ok {
		return domain.ErrRepositoryNotFound
	}
	delete(s.repos, id)
	if s.files != nil {
		s.files.removeRepository(id)
	}
	return nil
}

func (s *MemoryFileStore) removeRepository(repositoryID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, r := range s.records {
		if r.RepositoryID == repositoryID {
			delete(s.records, k)
		}
	}
}

var (
	_ domain.BatchTransactor   = (*MemoryFileStore)(nil)
	_ domain.RepositoryStore   = (*MemoryRepositoryStore)(nil)
	_ domain.RepositoryRemover = (*MemoryRepositoryStore)(nil)
)
