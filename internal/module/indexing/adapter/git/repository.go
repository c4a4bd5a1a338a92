package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

// Repository はローカルにクローンされるGitリポジトリのハンドルです（domain.RepositoryHandle の実装）
type Repository struct {
	client *GitClient
	url    string
	name   string
	dir    string

	mu     sync.Mutex
	branch string
}

// NewRepository はURLと作業ディレクトリを指定してハンドルを作成します
// branchが空の場合はリモートのデフォルトブランチを使います
func NewRepository(client *GitClient, gitURL, dir, branch string) *Repository {
	return &Repository{
		client: client,
		url:    gitURL,
		name:   RepositoryName(gitURL),
		dir:    dir,
		branch: branch,
	}
}

func (r *Repository) Name() string             { return r.name }
func (r *Repository) URL() string              { return r.url }
func (r *Repository) WorkingDirectory() string { return r.dir }

// Branch は現在チェックアウトされているブランチ名を返します
func (r *Repository) Branch() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.branch
}

// IsCloned は作業ディレクトリが有効なGitリポジトリかを返します
func (r *Repository) IsCloned() bool {
	_, err := git.PlainOpen(r.dir)
	return err == nil
}

func (r *Repository) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(r.dir)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotCloned, r.dir)
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return repo, nil
}

// Clone はリポジトリをクローンします。クローン済みの場合はブランチ情報のみ更新します
// 指定ブランチでのクローンに失敗した場合はデフォルトブランチでクローンし直します
func (r *Repository) Clone(ctx context.Context) error {
	if repo, err := git.PlainOpen(r.dir); err == nil {
		r.client.log.Info("repository already cloned", "name", r.name, "path", r.dir)
		r.updateBranch(repo)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(r.dir), 0o755); err != nil {
		return fmt.Errorf("failed to create clone directory: %w", err)
	}
	// Gitリポジトリでないディレクトリが残っている場合は削除
	if err := os.RemoveAll(r.dir); err != nil {
		return fmt.Errorf("failed to clean clone directory: %w", err)
	}

	auth, err := r.client.authFor(r.url)
	if err != nil {
		return fmt.Errorf("failed to setup auth: %w", err)
	}

	opts := &git.CloneOptions{URL: r.url, Auth: auth}
	branch := r.Branch()
	if branch != "" {
		branchOpts := *opts
		branchOpts.ReferenceName = plumbing.NewBranchReferenceName(branch)
		branchOpts.SingleBranch = false
		repo, err := git.PlainCloneContext(ctx, r.dir, false, &branchOpts)
		if err == nil {
			r.updateBranch(repo)
			r.client.log.Info("repository cloned", "name", r.name, "branch", r.Branch())
			return nil
		}
		r.client.log.Warn("failed to clone with branch, falling back to default branch",
			"name", r.name,
			"branch", branch,
			"error", err)
		if rmErr := os.RemoveAll(r.dir); rmErr != nil {
			return fmt.Errorf("failed to clean clone directory: %w", rmErr)
		}
	}

	repo, err := git.PlainCloneContext(ctx, r.dir, false, opts)
	if err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}
	r.updateBranch(repo)
	r.client.log.Info("repository cloned on default branch", "name", r.name, "branch", r.Branch())
	return nil
}

func (r *Repository) updateBranch(repo *git.Repository) {
	head, err := repo.Head()
	if err != nil || !head.Name().IsBranch() {
		return
	}
	r.mu.Lock()
	r.branch = head.Name().Short()
	r.mu.Unlock()
}

// Pull はリモートの変更を取り込み、変更されたパスを返します
// 最新の場合は空のスライスを返します
func (r *Repository) Pull(ctx context.Context) ([]string, error) {
	repo, err := r.open()
	if err != nil {
		return nil, err
	}

	oldHead, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	auth, err := r.client.authFor(r.url)
	if err != nil {
		return nil, fmt.Errorf("failed to setup auth: %w", err)
	}

	opts := &git.PullOptions{RemoteName: "origin", Auth: auth}
	if oldHead.Name().IsBranch() {
		opts.ReferenceName = oldHead.Name()
	}
	if err := worktree.PullContext(ctx, opts); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to pull: %w", err)
	}

	newHead, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if newHead.Hash() == oldHead.Hash() {
		return []string{}, nil
	}

	changes, err := diffHashes(ctx, repo, oldHead.Hash(), newHead.Hash())
	if err != nil {
		return nil, err
	}
	return changedPaths(changes), nil
}

// LastCommit はHEADのコミットハッシュを返します
func (r *Repository) LastCommit(ctx context.Context) (string, error) {
	repo, err := r.open()
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// FileCommitHash はファイルを最後に変更したコミットのハッシュを返します
// 履歴が見つからない場合はHEADのコミットを返します
func (r *Repository) FileCommitHash(ctx context.Context, path string) (string, error) {
	repo, err := r.open()
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	p := filepath.ToSlash(path)
	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), FileName: &p})
	if err != nil {
		return "", fmt.Errorf("failed to get commit log for %s: %w", path, err)
	}
	defer iter.Close()

	commit, err := iter.Next()
	if err != nil || commit == nil {
		return head.Hash().String(), nil
	}
	return commit.Hash.String(), nil
}

// DiffCommits は2コミット間の変更を分類して返します（リネーム検出あり）
func (r *Repository) DiffCommits(ctx context.Context, oldCommit, newCommit string) ([]domain.FileChange, error) {
	repo, err := r.open()
	if err != nil {
		return nil, err
	}

	oldHash, err := resolveRef(repo, oldCommit)
	if err != nil {
		return nil, err
	}
	newHash, err := resolveRef(repo, newCommit)
	if err != nil {
		return nil, err
	}

	return diffHashes(ctx, repo, oldHash, newHash)
}

func diffHashes(ctx context.Context, repo *git.Repository, oldHash, newHash plumbing.Hash) ([]domain.FileChange, error) {
	oldTree, err := commitTree(repo, oldHash)
	if err != nil {
		return nil, err
	}
	newTree, err := commitTree(repo, newHash)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, oldTree, newTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	out := make([]domain.FileChange, 0, len(changes))
	for _, ch := range changes {
		from, to := ch.From.Name, ch.To.Name
		switch {
		case from == "" && to != "":
			out = append(out, domain.FileChange{Type: domain.ChangeAdded, Path: to})
		case to == "" && from != "":
			out = append(out, domain.FileChange{Type: domain.ChangeDeleted, Path: from})
		case from != to:
			out = append(out, domain.FileChange{Type: domain.ChangeRenamed, Path: to, OldPath: from})
		default:
			out = append(out, domain.FileChange{Type: domain.ChangeModified, Path: to})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func commitTree(repo *git.Repository, hash plumbing.Hash) (*object.Tree, error) {
	commit, err := repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit object %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree for commit %s: %w", hash, err)
	}
	return tree, nil
}

// changedPaths は変更のあったパスを重複なく返します。リネームは新旧両方のパスを含みます
func changedPaths(changes []domain.FileChange) []string {
	seen := make(map[string]struct{}, len(changes))
	var out []string
	add := func(p string) {
		if p == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, ch := range changes {
		add(ch.OldPath)
		add(ch.Path)
	}
	sort.Strings(out)
	return out
}

var _ domain.RepositoryHandle = (*Repository)(nil)
