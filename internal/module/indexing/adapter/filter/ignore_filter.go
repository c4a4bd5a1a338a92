package filter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-enry/go-enry/v2"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

// ProjectIgnoreFile はリポジトリ固有の除外設定ファイル名です
const ProjectIgnoreFile = ".repoindexignore"

// SkipReason はファイルが処理対象外となった理由です
type SkipReason string

const (
	SkipNone      SkipReason = ""
	SkipEmptyPath SkipReason = "empty path"
	SkipIgnored   SkipReason = "ignore pattern"
	SkipTest      SkipReason = "test file"
	SkipVendor    SkipReason = "vendored"
	SkipDirectory SkipReason = "directory"
	SkipTooLarge  SkipReason = "too large"
)

// Options はIgnoreFilterの動作設定です
type Options struct {
	// IncludeTests がfalseの場合、テストファイル・テストディレクトリを除外します
	IncludeTests bool
	// MaxFileSize を超えるファイルは除外します。0以下で無制限
	MaxFileSize int64
	// ExtraPatterns は追加の除外パターン（gitignore形式）です
	ExtraPatterns []string
}

// IgnoreFilter は .gitignore と .repoindexignore のパターンマッチングで処理対象を判定します
type IgnoreFilter struct {
	root     string
	opts     Options
	patterns *gitignore.GitIgnore
	tests    *gitignore.GitIgnore
}

var _ domain.PathFilter = (*IgnoreFilter)(nil)

// NewIgnoreFilter は新しいIgnoreFilterを作成します
// repoPath 配下の .gitignore と .repoindexignore を読み込みます
func NewIgnoreFilter(repoPath string, opts Options) (*IgnoreFilter, error) {
	// デフォルトを先に置き、リポジトリ側の "!" で再度含められるようにする
	patterns := append([]string{}, defaultIgnorePatterns()...)

	for _, name := range []string{".gitignore", ProjectIgnoreFile} {
		lines, err := readIgnoreFile(filepath.Join(repoPath, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		patterns = append(patterns, lines...)
	}
	patterns = append(patterns, opts.ExtraPatterns...)

	return &IgnoreFilter{
		root:     repoPath,
		opts:     opts,
		patterns: gitignore.CompileIgnoreLines(patterns...),
		tests:    gitignore.CompileIgnoreLines(testPatterns()...),
	}, nil
}

// ShouldProcess はリポジトリ相対パスが処理対象かどうかを判定します
func (f *IgnoreFilter) ShouldProcess(path string) bool {
	return f.Check(path) == SkipNone
}

// ShouldIgnore はパスがパターンにより除外対象かどうかを判定します
func (f *IgnoreFilter) ShouldIgnore(path string) bool {
	return f.patterns.MatchesPath(f.relative(path))
}

// Check は除外理由を返します。処理対象の場合は SkipNone です
// ファイルが存在しない場合（削除済みなど）はパスのみで判定します
func (f *IgnoreFilter) Check(path string) SkipReason {
	rel := f.relative(path)
	if rel == "" || rel == "." {
		return SkipEmptyPath
	}

	if f.patterns.MatchesPath(rel) {
		return SkipIgnored
	}
	if !f.opts.IncludeTests && f.tests.MatchesPath(rel) {
		return SkipTest
	}
	if enry.IsVendor(rel) {
		return SkipVendor
	}

	info, err := os.Stat(filepath.Join(f.root, filepath.FromSlash(rel)))
	if err != nil {
		return SkipNone
	}
	if info.IsDir() {
		return SkipDirectory
	}
	if f.opts.MaxFileSize > 0 && info.Size() > f.opts.MaxFileSize {
		return SkipTooLarge
	}
	return SkipNone
}

// FilterPaths はpathsから処理対象のみを順序を保って返します
func (f *IgnoreFilter) FilterPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if f.ShouldProcess(p) {
			out = append(out, p)
		}
	}
	return out
}

// relative はパスをリポジトリ相対のスラッシュ区切りに正規化します
func (f *IgnoreFilter) relative(path string) string {
	if filepath.IsAbs(path) && f.root != "" {
		if rel, err := filepath.Rel(f.root, path); err == nil && !strings.HasPrefix(rel, "..") {
			path = rel
		}
	}
	path = filepath.ToSlash(filepath.Clean(path))
	return strings.TrimPrefix(path, "./")
}

// readIgnoreFile は ignore ファイルを読み込んでパターンのスライスを返します
// ファイルが存在しない場合は空を返します
func readIgnoreFile(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var patterns []string
	for _, line := range strings.FieldsFunc(string(content), func(r rune) bool { return r == '\n' || r == '\r' }) {
		// 空行とコメント行をスキップ
		if strings.TrimSpace(line) == "" || line[0] == '#' {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, nil
}

func testPatterns() []string {
	return []string{
		"test/",
		"tests/",
		"__tests__/",
		"*_test.go",
		"*_test.py",
		"*_tests.py",
		"test_*.py",
		"*.test.js",
		"*.test.ts",
		"*.spec.js",
		"*.spec.ts",
		"testdata/",
	}
}

// defaultIgnorePatterns はデフォルトの除外パターンを返します
func defaultIgnorePatterns() []string {
	return []string{
		// Git関連
		".git",
		".gitattributes",
		".gitmodules",

		// 依存関係・ビルド成果物
		"node_modules",
		"bower_components",
		"vendor",
		"dist",
		"build",
		"target",
		"out",
		"bin",
		"obj",
		".next",
		".nuxt",
		"*.egg-info",
		"venv",
		".venv",
		"package-lock.json",
		"yarn.lock",
		"*.min.js",

		// IDE/エディタ関連
		".vscode",
		".idea",
		".DS_Store",
		"Thumbs.db",
		"*.swp",
		"*.swo",
		"*~",

		// ログ
		"*.log",
		"logs",

		// 一時ファイル
		"*.tmp",
		"*.temp",
		"tmp",
		"temp",

		// 環境変数・機密情報
		".env",
		".env.*",
		"*.pem",
		"*.key",
		"*.crt",
		"*.p12",

		// バイナリ
		"*.exe",
		"*.dll",
		"*.so",
		"*.dylib",
		"*.a",
		"*.o",
		"*.obj",
		"*.lib",
		"*.bin",
		"*.class",
		"*.jar",
		"*.war",
		"*.ear",
		"*.pyc",
		"*.pyo",
		"*.zip",
		"*.tar",
		"*.gz",
		"*.bz2",
		"*.7z",
		"*.rar",

		// 画像・メディア
		"*.png",
		"*.jpg",
		"*.jpeg",
		"*.gif",
		"*.bmp",
		"*.tiff",
		"*.ico",
		"*.webp",
		"*.mp4",
		"*.avi",
		"*.mov",
		"*.webm",
		"*.flv",
		"*.mp3",
		"*.wav",
		"*.ogg",
		"*.flac",
		"*.pdf",

		// フォント
		"*.ttf",
		"*.otf",
		"*.woff",
		"*.woff2",
		"*.eot",

		// データベース
		"*.db",
		"*.sqlite",
		"*.sqlite3",

		// カバレッジ・キャッシュ
		"coverage",
		".coverage",
		"htmlcov",
		".cache",
		"__pycache__",
		".pytest_cache",
	}
}
