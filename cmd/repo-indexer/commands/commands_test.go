package commands

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/jinford/repo-indexer/internal/module/indexing/adapter/llm"
	"github.com/jinford/repo-indexer/internal/module/indexing/application"
	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
	"github.com/jinford/repo-indexer/pkg/config"
)

func runLoadConfig(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	var (
		cfg     *config.Config
		loadErr error
	)
	cmd := &cli.Command{
		Name: "test",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env"},
			&cli.IntFlag{Name: "batch-size"},
			&cli.IntFlag{Name: "parallel"},
			&cli.IntFlag{Name: "max-batches"},
			&cli.StringFlag{Name: "clone-dir"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, loadErr = LoadConfig(cmd)
			return nil
		},
	}
	require.NoError(t, cmd.Run(context.Background(), append([]string{"test"}, args...)))
	return cfg, loadErr
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	env := filepath.Join(t.TempDir(), "missing.env")

	cfg, err := runLoadConfig(t, "--env", env, "--batch-size", "2", "--parallel", "8", "--clone-dir", "/tmp/repos")
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Processing.BatchSize)
	assert.Equal(t, 8, cfg.Processing.ParallelWorkers)
	// 未指定のフラグは設定値のまま
	assert.Equal(t, 3, cfg.Processing.MaxConcurrentBatches)
	assert.Equal(t, "/tmp/repos", cfg.Git.CloneDir)
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	_, err := runLoadConfig(t, "--batch-size", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROCESSING_BATCH_SIZE")
}

func TestNewLogger(t *testing.T) {
	cfg := &config.Config{Log: config.LogConfig{Level: "warn", Format: "text"}}

	log, err := NewLogger(cfg, false)
	require.NoError(t, err)
	assert.False(t, log.Enabled(context.Background(), slog.LevelDebug))

	log, err = NewLogger(cfg, true)
	require.NoError(t, err)
	assert.True(t, log.Enabled(context.Background(), slog.LevelDebug))

	cfg.Log.Level = "loud"
	_, err = NewLogger(cfg, false)
	assert.Error(t, err)
}

func TestPrintProcessResult(t *testing.T) {
	result := &application.ProcessResult{
		Repository:     &domain.Repository{Name: "widgets", URL: "https://github.com/acme/widgets.git"},
		Outcome:        domain.TrackingChanges,
		HeadCommit:     "0123456789abcdef0123",
		CommitAdvanced: false,
		Skipped:        2,
		Report: &application.ProcessingReport{
			SuccessCount:  3,
			FailureCount:  1,
			FailedPaths:   []string{"broken.go"},
			Errors:        map[string]error{"broken.go": errors.New("embedding timeout")},
			FallbackPaths: []string{"main.go"},
			Duration:      1500 * time.Millisecond,
		},
	}

	t.Run("通常表示", func(t *testing.T) {
		var buf bytes.Buffer
		printProcessResult(&buf, result, false)
		out := buf.String()

		assert.Contains(t, out, "widgets (https://github.com/acme/widgets.git)")
		assert.Contains(t, out, "0123456789ab\n")
		assert.Contains(t, out, "Succeeded:       3")
		assert.Contains(t, out, "Failed:          1")
		assert.Contains(t, out, "  - broken.go\n")
		assert.NotContains(t, out, "embedding timeout")
		assert.NotContains(t, out, "フォールバック")
	})

	t.Run("詳細表示", func(t *testing.T) {
		var buf bytes.Buffer
		printProcessResult(&buf, result, true)
		out := buf.String()

		assert.Contains(t, out, "  - broken.go: embedding timeout\n")
		assert.Contains(t, out, "  - main.go\n")
	})

	t.Run("処理対象なし", func(t *testing.T) {
		var buf bytes.Buffer
		printProcessResult(&buf, &application.ProcessResult{Outcome: domain.TrackingUpToDate}, false)
		assert.Contains(t, buf.String(), "処理対象のファイルはありません")
		assert.Contains(t, buf.String(), "Head Commit:     -")
	})
}

func TestPrintChangeSet(t *testing.T) {
	changes := &application.ChangeSet{
		Repository: &domain.Repository{Name: "widgets"},
		FromCommit: "c1",
		ToCommit:   "c2",
		Outcome:    domain.TrackingChanges,
		Entries: []domain.FileStatusEntry{
			{Path: "a.go", Status: domain.FileStatusModified},
			{Path: "b.go", Status: domain.FileStatusRenamed, OldPath: "old/b.go"},
			{Path: "c.go", Status: domain.FileStatusDeleted},
		},
	}

	var buf bytes.Buffer
	printChangeSet(&buf, changes)
	out := buf.String()

	assert.Contains(t, out, "b.go (renamed) [from old/b.go]")
	assert.Contains(t, out, "new=0 modified=1 renamed=1 deleted=1")

	buf.Reset()
	printChangeSet(&buf, &application.ChangeSet{Outcome: domain.TrackingUpToDate})
	assert.Contains(t, buf.String(), "変更はありません")
}

func TestPrintRepository(t *testing.T) {
	commit := "c2"
	var buf bytes.Buffer
	printRepository(&buf, &domain.Repository{
		Name:           "widgets",
		Status:         domain.RepositoryStatusReady,
		LastCommitHash: &commit,
		FileCount:      7,
	})
	out := buf.String()

	assert.Contains(t, out, "Last Commit:    c2")
	assert.Contains(t, out, "Last Indexed:   -")
	assert.Contains(t, out, "Files:          7")
}

func TestPrintFilePaths(t *testing.T) {
	var buf bytes.Buffer
	printFilePaths(&buf, []string{"cmd/main.go", "go.mod"})
	out := buf.String()

	assert.Contains(t, out, "処理済みファイル (2)")
	assert.Contains(t, out, "  cmd/main.go\n")
	assert.Contains(t, out, "  go.mod\n")
}

func TestPrintRepositoryList(t *testing.T) {
	t.Run("空", func(t *testing.T) {
		var buf bytes.Buffer
		printRepositoryList(&buf, nil)
		assert.Contains(t, buf.String(), "登録済みのリポジトリはありません")
	})

	t.Run("コミットの有無", func(t *testing.T) {
		commit := "0123456789abcdef0123"
		var buf bytes.Buffer
		printRepositoryList(&buf, []*domain.Repository{
			{Name: "alpha", URL: "https://github.com/acme/alpha.git", Status: domain.RepositoryStatusReady, FileCount: 3, LastCommitHash: &commit},
			{Name: "beta", URL: "https://github.com/acme/beta.git", Status: domain.RepositoryStatusCloning},
		})
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 3)

		assert.Contains(t, lines[0], "NAME")
		assert.Contains(t, lines[1], "alpha")
		assert.Contains(t, lines[1], "0123456789ab")
		assert.NotContains(t, lines[1], commit)
		assert.Contains(t, lines[2], "beta")
		assert.Contains(t, lines[2], " - ")
	})
}

func TestPrintRateLimiterStatus(t *testing.T) {
	var buf bytes.Buffer
	printRateLimiterStatus(&buf, llm.RateLimiterStatus{
		MaxRequests:     60,
		Window:          time.Minute,
		UsedInWindow:    12,
		TotalRequests:   40,
		ThrottledWaits:  2,
		TotalWaitedTime: 1500 * time.Millisecond,
	})
	out := buf.String()

	assert.Contains(t, out, "60 req / 1m0s")
	assert.Contains(t, out, "Used in Window: 12")
	assert.Contains(t, out, "Total Requests: 40")
	assert.Contains(t, out, "Throttled:      2 (1.5s)")
}
