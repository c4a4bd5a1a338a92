package git

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	giturls "github.com/whilp/git-urls"
)

// ClientConfig はGit操作の認証設定です
type ClientConfig struct {
	// SSH認証用の秘密鍵パス
	SSHKeyPath string
	// SSH秘密鍵のパスワード（パスフレーズ）
	SSHPassword string
	// HTTPS認証用のアクセストークン
	AccessToken string
}

// GitClient は Git リポジトリ操作を提供します
type GitClient struct {
	cfg ClientConfig
	log *slog.Logger
}

// NewGitClient は新しいGitClientを作成します
func NewGitClient(cfg ClientConfig, log *slog.Logger) *GitClient {
	if log == nil {
		log = slog.Default()
	}
	return &GitClient{cfg: cfg, log: log}
}

// URLToDirectoryName はGit URLをディレクトリ名に変換します
// 例: https://github.com/hoge/fuga.git -> github.com/hoge/fuga
// 例: git@github.com:hoge/fuga.git -> github.com/hoge/fuga
// 例: https://github.com:8080/hoge/fuga.git -> github.com/hoge/fuga
func (c *GitClient) URLToDirectoryName(gitURL string) (string, error) {
	u, err := giturls.Parse(gitURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse git URL: %w", err)
	}

	// ホスト名のみを取得（ポート番号を除外）
	hostname := u.Hostname()
	if hostname == "" {
		hostname = u.Host
	}

	// パスから .git サフィックスを削除
	p := strings.TrimPrefix(u.Path, "/")
	p = strings.TrimSuffix(strings.TrimSuffix(p, "/"), ".git")
	if p == "" {
		return "", fmt.Errorf("git URL has no repository path: %s", gitURL)
	}

	return filepath.Join(hostname, p), nil
}

// RepositoryName はURLからリポジトリ名（最後のパス要素）を返します
func RepositoryName(gitURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(gitURL, "/"), ".git")
	if u, err := giturls.Parse(gitURL); err == nil && u.Path != "" {
		trimmed = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), ".git")
	}
	return path.Base(filepath.ToSlash(trimmed))
}

// OpenRepository はクローン先ディレクトリを決定してRepositoryハンドルを作成します
// クローンは行いません
func (c *GitClient) OpenRepository(gitURL, cloneBaseDir, branch string) (*Repository, error) {
	dirName, err := c.URLToDirectoryName(gitURL)
	if err != nil {
		return nil, err
	}
	return NewRepository(c, gitURL, filepath.Join(cloneBaseDir, dirName), branch), nil
}

// authFor はURLのスキームに応じた認証方法を返します
// SSHの場合は秘密鍵、HTTPSの場合はアクセストークンを使います
func (c *GitClient) authFor(gitURL string) (transport.AuthMethod, error) {
	u, err := giturls.Parse(gitURL)
	if err != nil {
		return nil, nil
	}

	switch u.Scheme {
	case "ssh":
		return c.getSSHAuth()
	case "https", "http":
		if c.cfg.AccessToken == "" {
			return nil, nil
		}
		return &http.BasicAuth{Username: "x-access-token", Password: c.cfg.AccessToken}, nil
	default:
		return nil, nil
	}
}

// getSSHAuth はSSH認証を設定します
func (c *GitClient) getSSHAuth() (transport.AuthMethod, error) {
	if c.cfg.SSHKeyPath == "" {
		return nil, nil
	}

	// SSH鍵が存在しない場合は認証なし
	if _, err := os.Stat(c.cfg.SSHKeyPath); os.IsNotExist(err) {
		c.log.Warn("ssh key not found, continuing without auth", "path", c.cfg.SSHKeyPath)
		return nil, nil
	}

	auth, err := ssh.NewPublicKeysFromFile("git", c.cfg.SSHKeyPath, c.cfg.SSHPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key: %w", err)
	}

	return auth, nil
}

// resolveRef はrefを解決してHashを返します
func resolveRef(repo *git.Repository, ref string) (plumbing.Hash, error) {
	if ref == "" || ref == "HEAD" {
		headRef, err := repo.Head()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		return headRef.Hash(), nil
	}

	// ブランチとして解決を試みる
	if branchRef, err := repo.Reference(plumbing.NewBranchReferenceName(ref), true); err == nil {
		return branchRef.Hash(), nil
	}

	// リモートブランチとして解決を試みる
	if remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", ref), true); err == nil {
		return remoteRef.Hash(), nil
	}

	// タグとして解決を試みる
	if tagRef, err := repo.Reference(plumbing.NewTagReferenceName(ref), true); err == nil {
		return tagRef.Hash(), nil
	}

	// 直接ハッシュとして解決を試みる
	if hash, err := repo.ResolveRevision(plumbing.Revision(ref)); err == nil {
		return *hash, nil
	}

	return plumbing.ZeroHash, fmt.Errorf("failed to resolve ref: %s", ref)
}
