package filter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestIgnoreFilter_Defaults(t *testing.T) {
	f, err := NewIgnoreFilter(t.TempDir(), Options{})
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
		want bool
	}{
		{name: "Goソース", path: "internal/service/user.go", want: true},
		{name: "README", path: "README.md", want: true},
		{name: "node_modules配下", path: "node_modules/lodash/index.js", want: false},
		{name: "vendor配下", path: "vendor/github.com/x/y/z.go", want: false},
		{name: "画像", path: "assets/logo.png", want: false},
		{name: "ログ", path: "server.log", want: false},
		{name: "envファイル", path: ".env", want: false},
		{name: "env派生", path: ".env.production", want: false},
		{name: "gitディレクトリ", path: ".git/config", want: false},
		{name: "pycache", path: "pkg/__pycache__/mod.cpython-311.pyc", want: false},
		{name: "空パス", path: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.ShouldProcess(tt.path))
		})
	}
}

func TestIgnoreFilter_Tests(t *testing.T) {
	paths := []string{
		"internal/service/user_test.go",
		"tests/test_api.py",
		"pkg/tests/helpers.py",
		"src/app.spec.ts",
		"web/__tests__/App.js",
		"lib/test_utils.py",
	}

	t.Run("デフォルトではテストを除外", func(t *testing.T) {
		f, err := NewIgnoreFilter(t.TempDir(), Options{})
		require.NoError(t, err)
		for _, p := range paths {
			assert.Equal(t, SkipTest, f.Check(p), p)
		}
	})

	t.Run("IncludeTestsで含める", func(t *testing.T) {
		f, err := NewIgnoreFilter(t.TempDir(), Options{IncludeTests: true})
		require.NoError(t, err)
		for _, p := range paths {
			assert.True(t, f.ShouldProcess(p), p)
		}
	})

	t.Run("テストを名前に含むだけのファイルは対象", func(t *testing.T) {
		f, err := NewIgnoreFilter(t.TempDir(), Options{})
		require.NoError(t, err)
		assert.True(t, f.ShouldProcess("internal/contest/contest.go"))
		assert.True(t, f.ShouldProcess("docs/testing.md"))
	})
}

func TestIgnoreFilter_IgnoreFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "# generated\n*.gen.go\n\nsecrets/\n")
	writeFile(t, root, ProjectIgnoreFile, "docs/drafts/\n!keep.log\n")

	f, err := NewIgnoreFilter(root, Options{})
	require.NoError(t, err)

	assert.False(t, f.ShouldProcess("api/types.gen.go"))
	assert.False(t, f.ShouldProcess("secrets/token.txt"))
	assert.False(t, f.ShouldProcess("docs/drafts/idea.md"))
	assert.True(t, f.ShouldProcess("docs/guide.md"))
	assert.True(t, f.ShouldProcess("api/types.go"))

	// デフォルトの除外は .repoindexignore の否定で戻せる
	assert.True(t, f.ShouldProcess("keep.log"))
	assert.False(t, f.ShouldProcess("other.log"))
}

func TestIgnoreFilter_ExtraPatterns(t *testing.T) {
	f, err := NewIgnoreFilter(t.TempDir(), Options{ExtraPatterns: []string{"*.md"}})
	require.NoError(t, err)

	assert.Equal(t, SkipIgnored, f.Check("README.md"))
	assert.True(t, f.ShouldIgnore("docs/guide.md"))
	assert.True(t, f.ShouldProcess("main.go"))
}

func TestIgnoreFilter_FileSystemChecks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.txt", "ok")
	writeFile(t, root, "large.txt", strings.Repeat("x", 2048))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))

	f, err := NewIgnoreFilter(root, Options{MaxFileSize: 1024})
	require.NoError(t, err)

	assert.Equal(t, SkipNone, f.Check("small.txt"))
	assert.Equal(t, SkipTooLarge, f.Check("large.txt"))
	assert.Equal(t, SkipDirectory, f.Check("pkg"))

	// 削除済みファイルはパスのみで判定する
	assert.Equal(t, SkipNone, f.Check("removed.go"))

	// 絶対パスはリポジトリ相対に変換する
	assert.Equal(t, SkipTooLarge, f.Check(filepath.Join(root, "large.txt")))
	assert.Equal(t, SkipNone, f.Check("./small.txt"))
}

func TestIgnoreFilter_FilterPaths(t *testing.T) {
	f, err := NewIgnoreFilter(t.TempDir(), Options{})
	require.NoError(t, err)

	got := f.FilterPaths([]string{"b.go", "node_modules/x.js", "a.go", "a_test.go"})
	assert.Equal(t, []string{"b.go", "a.go"}, got)
}

func TestReadIgnoreFile_Missing(t *testing.T) {
	lines, err := readIgnoreFile(filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)
	assert.Empty(t, lines)
}
