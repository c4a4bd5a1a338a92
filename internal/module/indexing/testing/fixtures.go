package testing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

// TestAnalysis は必須フィールドを満たす解析結果を生成します
func TestAnalysis(title string) *domain.Analysis {
	return &domain.Analysis{
		Title:          title,
		Summary:        "summary of " + title,
		KeyConcepts:    []string{"concept"},
		Keywords:       []string{"keyword"},
		DocumentType:   "Code",
		TechnicalLevel: "Intermediate",
	}
}

// WriteFiles はdir配下にファイルを作成します（キーはスラッシュ区切りの相対パス）
func WriteFiles(t testing.TB, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

// StatusMap はエントリをpath→statusのマップに変換します
func StatusMap(entries []domain.FileStatusEntry) map[string]domain.FileStatus {
	out := make(map[string]domain.FileStatus, len(entries))
	for _, e := range entries {
		out[e.Path] = e.Status
	}
	return out
}
