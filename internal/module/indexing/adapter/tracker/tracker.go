package tracker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

// Config はTrackerの設定です
type Config struct {
	// UseContentHash はハッシュによる変更確認を有効にします
	UseContentHash bool
	HashAlgorithm  string
	// MaxHashSize を超えるファイルはハッシュを計算しません
	MaxHashSize int64
}

// DefaultConfig はデフォルトのTracker設定を返します
func DefaultConfig() Config {
	return Config{
		UseContentHash: true,
		HashAlgorithm:  HashXXH3,
		MaxHashSize:    10 * 1024 * 1024,
	}
}

// Tracker はリポジトリのスナップショット間でファイルの変更を検出します
// StatusStoreは単一のTrackerが所有し、呼び出し側がリポジトリ単位で呼び出しを直列化する前提です
type Tracker struct {
	cfg        Config
	hasher     Hasher
	store      domain.StatusStore
	lastCommit string
	log        *slog.Logger
}

// New は新しいTrackerを作成します。storeがnilの場合はメモリストアを使います
func New(cfg Config, store domain.StatusStore, log *slog.Logger) (*Tracker, error) {
	hasher, err := NewHasher(cfg.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	if store == nil {
		store = NewMemoryStatusStore()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		cfg:    cfg,
		hasher: hasher,
		store:  store,
		log:    log.With("component", "tracker"),
	}, nil
}

// LastCommit は最後に追跡したコミットを返します
func (t *Tracker) LastCommit() string {
	return t.lastCommit
}

// SetLastCommit は永続化済みのコミットから追跡位置を復元します
func (t *Tracker) SetLastCommit(commit string) {
	t.lastCommit = commit
}

// TrackRepository は2コミット間の変更を追跡します
// previousCommitが空なら記憶しているコミットを使い、それも無ければ全ファイルを新規として扱います
func (t *Tracker) TrackRepository(ctx context.Context, repo domain.RepositoryHandle, previousCommit, currentCommit string) domain.TrackingOutcome {
	if !repo.IsCloned() {
		t.log.Warn("cannot track repository: not cloned", "repository", repo.Name())
		return domain.FailedOutcome(domain.ErrNotCloned)
	}

	if previousCommit == "" {
		previousCommit = t.lastCommit
	}
	if previousCommit == "" {
		return t.TrackAllFiles(ctx, repo)
	}

	if currentCommit == "" {
		head, err := repo.LastCommit(ctx)
		if err != nil {
			t.log.Error("failed to resolve current commit", "repository", repo.Name(), "error", err)
			return domain.FailedOutcome(fmt.Errorf("failed to resolve current commit: %w", err))
		}
		currentCommit = head
	}

	if previousCommit == currentCommit {
		t.lastCommit = currentCommit
		return domain.UpToDateOutcome()
	}

	changes, err := repo.DiffCommits(ctx, previousCommit, currentCommit)
	if err != nil {
		t.log.Error("failed to diff commits",
			"repository", repo.Name(),
			"from", previousCommit,
			"to", currentCommit,
			"error", err)
		return domain.FailedOutcome(fmt.Errorf("failed to diff %s..%s: %w", previousCommit, currentCommit, err))
	}

	workDir := repo.WorkingDirectory()
	entries := make([]domain.FileStatusEntry, 0, len(changes))
	for _, change := range changes {
		entry, ok := t.entryForChange(workDir, change)
		if !ok {
			continue
		}
		t.applyToStore(entry)
		entries = append(entries, entry)
	}

	t.lastCommit = currentCommit
	t.log.Info("tracked repository changes",
		"repository", repo.Name(),
		"from", previousCommit,
		"to", currentCommit,
		"changes", len(entries))

	return domain.ChangesOutcome(entries)
}

func (t *Tracker) entryForChange(workDir string, change domain.FileChange) (domain.FileStatusEntry, bool) {
	switch change.Type {
	case domain.ChangeAdded:
		return t.entryForExistingFile(workDir, change.Path, domain.FileStatusNew)
	case domain.ChangeModified:
		return t.entryForExistingFile(workDir, change.Path, domain.FileStatusModified)
	case domain.ChangeDeleted:
		return domain.FileStatusEntry{Path: change.Path, Status: domain.FileStatusDeleted}, true
	case domain.ChangeRenamed:
		entry, ok := t.entryForExistingFile(workDir, change.Path, domain.FileStatusRenamed)
		if !ok {
			// 新パスが作業ツリーに無い場合は旧パスの削除として扱う
			if change.OldPath == "" {
				return entry, false
			}
			return domain.FileStatusEntry{Path: change.OldPath, Status: domain.FileStatusDeleted}, true
		}
		entry.OldPath = change.OldPath
		return entry, true
	default:
		t.log.Warn("unknown change type", "type", string(change.Type), "path", change.Path)
		return domain.FileStatusEntry{}, false
	}
}

func (t *Tracker) entryForExistingFile(workDir, relPath string, status domain.FileStatus) (domain.FileStatusEntry, bool) {
	absPath := filepath.Join(workDir, filepath.FromSlash(relPath))
	info, err := os.Stat(absPath)
	if err != nil || !info.Mode().IsRegular() {
		t.log.Warn("cannot track file: does not exist", "path", relPath, "status", string(status))
		return domain.FileStatusEntry{}, false
	}
	return t.newEntry(absPath, relPath, info, status), true
}

func (t *Tracker) applyToStore(entry domain.FileStatusEntry) {
	switch entry.Status {
	case domain.FileStatusDeleted:
		t.store.Remove(entry.Path)
	case domain.FileStatusRenamed:
		if entry.OldPath != "" {
			t.store.Remove(entry.OldPath)
		}
		t.store.Put(entry)
	default:
		t.store.Put(entry)
	}
}

// TrackAllFiles は作業ツリーの全ファイルを新規として追跡し、キャッシュを置き換えます
func (t *Tracker) TrackAllFiles(ctx context.Context, repo domain.RepositoryHandle) domain.TrackingOutcome {
	if !repo.IsCloned() {
		t.log.Warn("cannot track repository: not cloned", "repository", repo.Name())
		return domain.FailedOutcome(domain.ErrNotCloned)
	}

	head, err := repo.LastCommit(ctx)
	if err != nil {
		t.log.Warn("failed to resolve current commit", "repository", repo.Name(), "error", err)
		head = ""
	}

	workDir := repo.WorkingDirectory()
	var entries []domain.FileStatusEntry
	err = t.walk(ctx, workDir, func(absPath, relPath string, info fs.FileInfo) {
		entries = append(entries, t.newEntry(absPath, relPath, info, domain.FileStatusNew))
	})
	if err != nil {
		t.log.Error("failed to scan repository", "repository", repo.Name(), "error", err)
		return domain.FailedOutcome(fmt.Errorf("failed to scan %s: %w", workDir, err))
	}

	t.store.Clear()
	for _, entry := range entries {
		t.store.Put(entry)
	}
	if head != "" {
		t.lastCommit = head
	}

	t.log.Info("tracked all files", "repository", repo.Name(), "files", len(entries), "commit", head)
	return domain.ChangesOutcome(entries)
}

// TrackDirectory はGitメタデータを使わずにディレクトリをベースラインと比較します
// baselineがnilの場合は現在のキャッシュをベースラインにします
func (t *Tracker) TrackDirectory(ctx context.Context, dirPath string, baseline map[string]domain.FileStatusEntry) domain.TrackingOutcome {
	info, err := os.Stat(dirPath)
	if err != nil || !info.IsDir() {
		t.log.Warn("cannot track directory: does not exist", "path", dirPath)
		if err == nil {
			err = fmt.Errorf("%s is not a directory", dirPath)
		}
		return domain.FailedOutcome(err)
	}

	if baseline == nil {
		baseline = t.store.Snapshot()
	}

	seen := make(map[string]struct{})
	var entries []domain.FileStatusEntry
	err = t.walk(ctx, dirPath, func(absPath, relPath string, info fs.FileInfo) {
		seen[relPath] = struct{}{}

		prev, known := baseline[relPath]
		if !known {
			entry := t.newEntry(absPath, relPath, info, domain.FileStatusNew)
			t.store.Put(entry)
			entries = append(entries, entry)
			return
		}

		if !t.isModified(absPath, prev, info) {
			return
		}
		entry := t.newEntry(absPath, relPath, info, domain.FileStatusModified)
		t.store.Put(entry)
		entries = append(entries, entry)
	})
	if err != nil {
		t.log.Error("failed to scan directory", "path", dirPath, "error", err)
		return domain.FailedOutcome(fmt.Errorf("failed to scan %s: %w", dirPath, err))
	}

	var deleted []string
	for path := range baseline {
		if _, ok := seen[path]; !ok {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(deleted)
	for _, path := range deleted {
		t.store.Remove(path)
		entries = append(entries, domain.FileStatusEntry{Path: path, Status: domain.FileStatusDeleted})
	}

	return domain.ChangesOutcome(entries)
}

// isModified はmtime/サイズで変更を判定し、可能ならハッシュで確認します
func (t *Tracker) isModified(absPath string, prev domain.FileStatusEntry, info fs.FileInfo) bool {
	sameMeta := prev.LastModified != nil && prev.LastModified.Equal(info.ModTime()) &&
		prev.Size != nil && *prev.Size == info.Size()
	if sameMeta {
		return false
	}

	if !t.cfg.UseContentHash || prev.ContentHash == "" || info.Size() > t.cfg.MaxHashSize {
		return true
	}

	current, err := t.hasher.HashFile(absPath)
	if err != nil {
		t.log.Warn("failed to hash file", "path", absPath, "error", err)
		return true
	}
	return current != prev.ContentHash
}

func (t *Tracker) newEntry(absPath, relPath string, info fs.FileInfo, status domain.FileStatus) domain.FileStatusEntry {
	modTime := info.ModTime()
	size := info.Size()
	entry := domain.FileStatusEntry{
		Path:         relPath,
		Status:       status,
		LastModified: &modTime,
		Size:         &size,
	}

	if t.cfg.UseContentHash && size <= t.cfg.MaxHashSize {
		sum, err := t.hasher.HashFile(absPath)
		if err != nil {
			t.log.Warn("failed to hash file", "path", relPath, "error", err)
		} else {
			entry.ContentHash = sum
		}
	}
	return entry
}

// walk はVCSメタデータを除く通常ファイルを辞書順に列挙します
func (t *Tracker) walk(ctx context.Context, root string, fn func(absPath, relPath string, info fs.FileInfo)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			t.log.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			if d.Name() == ".git" && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		fn(path, filepath.ToSlash(rel), info)
		return nil
	})
}

// GetStatusEntry はキャッシュ済みのエントリを返します
func (t *Tracker) GetStatusEntry(path string) (domain.FileStatusEntry, bool) {
	return t.store.Get(path)
}

// AllStatusEntries はキャッシュのコピーを返します
func (t *Tracker) AllStatusEntries() map[string]domain.FileStatusEntry {
	return t.store.Snapshot()
}

// ClearCache はキャッシュと記憶しているコミットを破棄します
func (t *Tracker) ClearCache() {
	t.store.Clear()
	t.lastCommit = ""
}
