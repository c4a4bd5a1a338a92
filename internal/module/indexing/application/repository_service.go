package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

// ChangeTracker はRepositoryServiceが使うTrackerの操作です
type ChangeTracker interface {
	TrackRepository(ctx context.Context, repo domain.RepositoryHandle, previousCommit, currentCommit string) domain.TrackingOutcome
	TrackAllFiles(ctx context.Context, repo domain.RepositoryHandle) domain.TrackingOutcome
	LastCommit() string
	SetLastCommit(commit string)
	SaveCache(path string) error
	LoadCache(path string) error
}

// TrackerFactory はリポジトリごとのTrackerを作成します
type TrackerFactory func() (ChangeTracker, error)

// OpenRepositoryFunc はURLとブランチからリポジトリハンドルを作成します（クローンは行いません）
type OpenRepositoryFunc func(url, branch string) (domain.RepositoryHandle, error)

// FilterFactory は作業ディレクトリの無視設定を読み込んだフィルタを作成します
type FilterFactory func(repoPath string, includeTests bool) (domain.PathFilter, error)

// ProcessRequest はリポジトリ処理の要求です
type ProcessRequest struct {
	URL    string
	Branch string
	// Limit は処理するファイル数の上限。0以下で無制限
	Limit         int
	IncludeTests  bool
	IncludeReadme bool
	// FullRescan は保存済みコミットを無視して全ファイルを処理します
	FullRescan bool
}

// ProcessResult はリポジトリ処理の結果です
type ProcessResult struct {
	Repository *domain.Repository
	Outcome    domain.TrackingOutcomeKind
	HeadCommit string
	// CommitAdvanced は保存済みコミットをHeadCommitに進めたかを示します
	CommitAdvanced bool
	// Skipped は無視設定で除外されたファイル数
	Skipped int
	Report  *ProcessingReport
}

// RepositoryService はクローンから追跡・処理・状態更新までのフローを提供します
type RepositoryService struct {
	// ドメインポート
	repos      domain.RepositoryStore
	extractor  domain.ContentExtractor
	pipeline   *Pipeline
	open       OpenRepositoryFunc
	newFilter  FilterFactory
	newTracker TrackerFactory
	remover    domain.RepositoryRemover

	// StatusCacheDir が設定されている場合、Trackerのキャッシュを保存・復元します
	statusCacheDir string

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	trackers map[uuid.UUID]ChangeTracker

	log *slog.Logger
}

// NewRepositoryService は新しいRepositoryServiceを作成します
func NewRepositoryService(
	repos domain.RepositoryStore,
	extractor domain.ContentExtractor,
	pipeline *Pipeline,
	open OpenRepositoryFunc,
	newFilter FilterFactory,
	newTracker TrackerFactory,
	log *slog.Logger,
) *RepositoryService {
	if log == nil {
		log = slog.Default()
	}
	return &RepositoryService{
		repos:      repos,
		extractor:  extractor,
		pipeline:   pipeline,
		open:       open,
		newFilter:  newFilter,
		newTracker: newTracker,
		locks:      make(map[string]*sync.Mutex),
		trackers:   make(map[uuid.UUID]ChangeTracker),
		log:        log,
	}
}

// WithStatusCacheDir はTrackerキャッシュの保存先を設定します
func (s *RepositoryService) WithStatusCacheDir(dir string) *RepositoryService {
	s.statusCacheDir = dir
	return s
}

// WithRemover はリポジトリ削除に使うポートを設定します
func (s *RepositoryService) WithRemover(remover domain.RepositoryRemover) *RepositoryService {
	s.remover = remover
	return s
}

// lockRepository はURL単位のロックを取得し、解放関数を返します
func (s *RepositoryService) lockRepository(url string) func() {
	s.mu.Lock()
	l, ok := s.locks[url]
	if !ok {
		l = &sync.Mutex{}
		s.locks[url] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// EnsureRepository はリポジトリを登録・クローン・更新し、インデックス可能な状態にします
func (s *RepositoryService) EnsureRepository(ctx context.Context, url, branch string) (*domain.Repository, domain.RepositoryHandle, error) {
	if url == "" {
		return nil, nil, fmt.Errorf("repository url is required")
	}

	repo, err := s.repos.GetByURL(ctx, url)
	switch {
	case errors.Is(err, domain.ErrRepositoryNotFound):
		repo = nil
	case err != nil:
		return nil, nil, fmt.Errorf("failed to get repository: %w", err)
	}

	if branch == "" && repo != nil {
		branch = repo.DefaultBranch
	}

	handle, err := s.open(url, branch)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open repository: %w", err)
	}

	if repo == nil {
		repo, err = s.repos.Create(ctx, &domain.Repository{
			URL:           url,
			Name:          handle.Name(),
			DefaultBranch: branch,
			Status:        domain.RepositoryStatusCloning,
			ClonePath:     handle.WorkingDirectory(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create repository: %w", err)
		}
		s.log.Info("Registered repository", "repositoryID", repo.ID, "url", url)
	} else if err := s.repos.UpdateStatus(ctx, repo.ID, domain.RepositoryStatusCloning); err != nil {
		return nil, nil, fmt.Errorf("failed to update repository status: %w", err)
	}

	if err := s.syncWorkingTree(ctx, handle); err != nil {
		s.markError(ctx, repo.ID)
		return nil, nil, err
	}

	if b, ok := handle.(interface{ Branch() string }); ok && b.Branch() != "" && b.Branch() != repo.DefaultBranch {
		if err := s.repos.UpdateBranch(ctx, repo.ID, b.Branch()); err != nil {
			return nil, nil, fmt.Errorf("failed to update branch: %w", err)
		}
		repo.DefaultBranch = b.Branch()
	}

	if err := s.repos.UpdateStatus(ctx, repo.ID, domain.RepositoryStatusIndexing); err != nil {
		return nil, nil, fmt.Errorf("failed to update repository status: %w", err)
	}
	repo.Status = domain.RepositoryStatusIndexing

	return repo, handle, nil
}

// syncWorkingTree は未クローンならクローンし、クローン済みならpullします
// pullの失敗はローカルの作業ツリーで処理を続けるため警告のみとします
func (s *RepositoryService) syncWorkingTree(ctx context.Context, handle domain.RepositoryHandle) error {
	if !handle.IsCloned() {
		if err := handle.Clone(ctx); err != nil {
			return fmt.Errorf("failed to clone repository: %w", err)
		}
		return nil
	}

	changed, err := handle.Pull(ctx)
	if err != nil {
		s.log.Warn("failed to pull repository, using local working tree", "repository", handle.Name(), "error", err)
		return nil
	}
	s.log.Debug("pulled repository", "repository", handle.Name(), "changedPaths", len(changed))
	return nil
}

func (s *RepositoryService) markError(ctx context.Context, id uuid.UUID) {
	if err := s.repos.UpdateStatus(context.WithoutCancel(ctx), id, domain.RepositoryStatusError); err != nil {
		s.log.Error("failed to mark repository as error", "repositoryID", id, "error", err)
	}
}

// ProcessRepository はリポジトリの変更を追跡し、パイプラインで処理します
// 保存済みコミットは全ファイルが成功した場合のみ進めます
func (s *RepositoryService) ProcessRepository(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("repository url is required")
	}
	unlock := s.lockRepository(req.URL)
	defer unlock()

	s.log.Info("Starting repository processing",
		"url", req.URL,
		"branch", req.Branch,
		"limit", req.Limit,
		"includeTests", req.IncludeTests,
		"includeReadme", req.IncludeReadme,
		"fullRescan", req.FullRescan,
	)

	repo, handle, err := s.EnsureRepository(ctx, req.URL, req.Branch)
	if err != nil {
		return nil, err
	}

	tracker, err := s.trackerFor(repo.ID)
	if err != nil {
		s.markError(ctx, repo.ID)
		return nil, err
	}

	outcome := s.track(ctx, tracker, repo, handle, req.FullRescan)
	if outcome.Failed() {
		s.markError(ctx, repo.ID)
		return nil, fmt.Errorf("failed to track repository %s: %w", repo.Name, outcome.Err)
	}

	head, err := handle.LastCommit(ctx)
	if err != nil {
		s.markError(ctx, repo.ID)
		return nil, fmt.Errorf("failed to resolve head commit: %w", err)
	}

	result := &ProcessResult{Repository: repo, Outcome: outcome.Kind, HeadCommit: head}

	entries, skipped, err := s.applyFilter(handle.WorkingDirectory(), outcome.Entries, req.IncludeTests)
	if err != nil {
		s.markError(ctx, repo.ID)
		return nil, err
	}
	result.Skipped = skipped

	limited := false
	if req.Limit > 0 {
		entries, limited = limitEntries(entries, req.Limit)
	}

	target := ProcessTarget{
		RepositoryID:   repo.ID,
		RepositoryName: repo.Name,
		Handle:         handle,
	}
	if req.IncludeReadme {
		target.ContextText = s.readReadme(ctx, handle.WorkingDirectory())
	}

	if len(entries) > 0 {
		result.Report = s.pipeline.ProcessRepository(ctx, target, entries)
	} else {
		result.Report = newProcessingReport()
		s.log.Info("Repository is up to date", "repository", repo.Name, "commit", head)
	}

	// 失敗・件数制限・キャンセルがあった場合は次回同じ差分を再処理する
	advance := result.Report.OK() && !limited && ctx.Err() == nil
	commit := ""
	if advance {
		commit = head
	}

	fileCount, err := s.repos.CountFiles(context.WithoutCancel(ctx), repo.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}
	if err := s.repos.MarkIndexed(context.WithoutCancel(ctx), repo.ID, commit, fileCount); err != nil {
		return nil, fmt.Errorf("failed to mark repository indexed: %w", err)
	}
	result.CommitAdvanced = advance

	if s.statusCacheDir != "" {
		if err := tracker.SaveCache(s.statusCachePath(repo.ID)); err != nil {
			s.log.Warn("failed to save status cache", "repositoryID", repo.ID, "error", err)
		}
	}

	s.log.Info("Repository processing completed",
		"repository", repo.Name,
		"outcome", outcome.Kind.String(),
		"success", result.Report.SuccessCount,
		"failed", result.Report.FailureCount,
		"skipped", skipped,
		"fileCount", fileCount,
		"commitAdvanced", advance,
	)

	return result, nil
}

// track は保存済みコミットから差分を追跡します。コミットが無い場合とFullRescanでは全ファイルを対象にします
func (s *RepositoryService) track(ctx context.Context, tracker ChangeTracker, repo *domain.Repository, handle domain.RepositoryHandle, fullRescan bool) domain.TrackingOutcome {
	if fullRescan || repo.LastCommitHash == nil || *repo.LastCommitHash == "" {
		return tracker.TrackAllFiles(ctx, handle)
	}
	tracker.SetLastCommit(*repo.LastCommitHash)
	return tracker.TrackRepository(ctx, handle, *repo.LastCommitHash, "")
}

func (s *RepositoryService) trackerFor(id uuid.UUID) (ChangeTracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.trackers[id]; ok {
		return t, nil
	}
	t, err := s.newTracker()
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}
	if s.statusCacheDir != "" {
		path := s.statusCachePath(id)
		if _, statErr := os.Stat(path); statErr == nil {
			if err := t.LoadCache(path); err != nil {
				s.log.Warn("failed to load status cache", "path", path, "error", err)
			}
		}
	}
	s.trackers[id] = t
	return t, nil
}

func (s *RepositoryService) statusCachePath(id uuid.UUID) string {
	return filepath.Join(s.statusCacheDir, id.String()+".json")
}

// applyFilter は無視設定で除外されたエントリを取り除きます
// 削除エントリはパスのみで判定し、除外対象にリネームされた場合は旧パスの削除に置き換えます
func (s *RepositoryService) applyFilter(workDir string, entries []domain.FileStatusEntry, includeTests bool) ([]domain.FileStatusEntry, int, error) {
	if len(entries) == 0 {
		return nil, 0, nil
	}
	filter, err := s.newFilter(workDir, includeTests)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build path filter: %w", err)
	}

	out := make([]domain.FileStatusEntry, 0, len(entries))
	skipped := 0
	for _, e := range entries {
		if e.Status == domain.FileStatusDeleted || filter.ShouldProcess(e.Path) {
			out = append(out, e)
			continue
		}
		if e.Status == domain.FileStatusRenamed && e.OldPath != "" {
			out = append(out, domain.FileStatusEntry{Path: e.OldPath, Status: domain.FileStatusDeleted})
		}
		skipped++
	}
	return out, skipped, nil
}

// limitEntries は削除以外のエントリをlimit件までに制限します
func limitEntries(entries []domain.FileStatusEntry, limit int) ([]domain.FileStatusEntry, bool) {
	out := make([]domain.FileStatusEntry, 0, len(entries))
	kept, limited := 0, false
	for _, e := range entries {
		if e.Status != domain.FileStatusDeleted {
			if kept >= limit {
				limited = true
				continue
			}
			kept++
		}
		out = append(out, e)
	}
	return out, limited
}

var readmeCandidates = []string{"README.md", "README.rst", "README.txt", "README", "readme.md"}

// readReadme はリポジトリ直下のREADMEを読み込みます。見つからない場合は空文字を返します
func (s *RepositoryService) readReadme(ctx context.Context, workDir string) string {
	for _, name := range readmeCandidates {
		path := filepath.Join(workDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		content, err := s.extractor.ExtractContent(ctx, path)
		if err != nil {
			s.log.Debug("failed to read readme", "path", path, "error", err)
			continue
		}
		return content
	}
	return ""
}

// UpdateSingleFile は1ファイルを再処理します。ファイルが存在しない場合はレコードを削除します
func (s *RepositoryService) UpdateSingleFile(ctx context.Context, url, path string) (*ProcessingReport, error) {
	path = filepath.ToSlash(filepath.Clean(strings.TrimPrefix(path, "./")))
	if url == "" || path == "" || path == "." {
		return nil, fmt.Errorf("repository url and file path are required")
	}
	unlock := s.lockRepository(url)
	defer unlock()

	repo, err := s.repos.GetByURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	handle, err := s.open(url, repo.DefaultBranch)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	if !handle.IsCloned() {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotCloned, repo.URL)
	}

	entry := domain.FileStatusEntry{Path: path, Status: domain.FileStatusModified}
	info, err := os.Stat(filepath.Join(handle.WorkingDirectory(), filepath.FromSlash(path)))
	switch {
	case errors.Is(err, os.ErrNotExist):
		entry.Status = domain.FileStatusDeleted
	case err != nil:
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	default:
		size := info.Size()
		modified := info.ModTime()
		entry.Size = &size
		entry.LastModified = &modified
	}

	entries, skipped, err := s.applyFilter(handle.WorkingDirectory(), []domain.FileStatusEntry{entry}, true)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		return nil, fmt.Errorf("file %s is excluded by ignore rules", path)
	}

	s.log.Info("Updating single file", "repository", repo.Name, "path", path, "status", entry.Status)

	report := s.pipeline.ProcessRepository(ctx, ProcessTarget{
		RepositoryID:   repo.ID,
		RepositoryName: repo.Name,
		Handle:         handle,
	}, entries)

	fileCount, err := s.repos.CountFiles(context.WithoutCancel(ctx), repo.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}
	if err := s.repos.MarkIndexed(context.WithoutCancel(ctx), repo.ID, "", fileCount); err != nil {
		return nil, fmt.Errorf("failed to mark repository indexed: %w", err)
	}
	return report, nil
}

// ChangeSet はTrackChangesの結果です
type ChangeSet struct {
	Repository *domain.Repository
	FromCommit string
	ToCommit   string
	Outcome    domain.TrackingOutcomeKind
	Entries    []domain.FileStatusEntry
	Skipped    int
	TrackedAt  time.Time
}

// TrackChanges は次回処理される変更セットを返します
// 作業ツリーの更新・保存済みコミットの変更は行いません
func (s *RepositoryService) TrackChanges(ctx context.Context, url string, includeTests bool) (*ChangeSet, error) {
	if url == "" {
		return nil, fmt.Errorf("repository url is required")
	}
	unlock := s.lockRepository(url)
	defer unlock()

	repo, err := s.repos.GetByURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	handle, err := s.open(url, repo.DefaultBranch)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	// 処理用のTrackerの状態を変えないよう、専用のTrackerで追跡する
	tracker, err := s.newTracker()
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}
	outcome := s.track(ctx, tracker, repo, handle, false)
	if outcome.Failed() {
		return nil, fmt.Errorf("failed to track repository %s: %w", repo.Name, outcome.Err)
	}

	cs := &ChangeSet{
		Repository: repo,
		ToCommit:   tracker.LastCommit(),
		Outcome:    outcome.Kind,
		TrackedAt:  time.Now(),
	}
	if repo.LastCommitHash != nil {
		cs.FromCommit = *repo.LastCommitHash
	}

	cs.Entries, cs.Skipped, err = s.applyFilter(handle.WorkingDirectory(), outcome.Entries, includeTests)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// ListRepositories は登録済みのリポジトリをURL順に返します
func (s *RepositoryService) ListRepositories(ctx context.Context) ([]*domain.Repository, error) {
	repos, err := s.repos.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return repos, nil
}

// DeleteRepository はリポジトリと処理済みファイルを削除します
// removeCloneが真の場合はローカルのクローンも削除します
func (s *RepositoryService) DeleteRepository(ctx context.Context, url string, removeClone bool) (*domain.Repository, error) {
	if url == "" {
		return nil, fmt.Errorf("repository url is required")
	}
	if s.remover == nil {
		return nil, fmt.Errorf("repository removal is not configured")
	}
	unlock := s.lockRepository(url)
	defer unlock()

	repo, err := s.repos.GetByURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}

	s.log.Info("Starting repository deletion", "repository", repo.Name, "url", url, "removeClone", removeClone)

	if err := s.remover.Remove(ctx, repo.ID); err != nil {
		return nil, fmt.Errorf("failed to delete repository %s: %w", repo.Name, err)
	}

	s.mu.Lock()
	delete(s.trackers, repo.ID)
	s.mu.Unlock()

	if s.statusCacheDir != "" {
		path := s.statusCachePath(repo.ID)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("failed to remove status cache", "path", path, "error", err)
		}
	}

	if removeClone {
		handle, err := s.open(url, repo.DefaultBranch)
		if err != nil {
			return repo, fmt.Errorf("failed to open repository: %w", err)
		}
		if dir := handle.WorkingDirectory(); dir != "" {
			if err := os.RemoveAll(dir); err != nil {
				return repo, fmt.Errorf("failed to remove clone %s: %w", dir, err)
			}
		}
	}

	s.log.Info("Repository deleted", "repository", repo.Name)
	return repo, nil
}
