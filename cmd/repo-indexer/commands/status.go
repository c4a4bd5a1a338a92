package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

// StatusAction は登録済みリポジトリの状態を表示するコマンドのアクション
func StatusAction(ctx context.Context, cmd *cli.Command) error {
	url := cmd.String("url")

	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	repo, err := appCtx.Container.Repositories.GetByURL(ctx, url)
	if err != nil {
		return fmt.Errorf("リポジトリの取得に失敗: %w", err)
	}

	printRepository(os.Stdout, repo)

	if cmd.Bool("files") {
		paths, err := appCtx.Container.Files.ListPaths(ctx, repo.ID)
		if err != nil {
			return fmt.Errorf("ファイル一覧の取得に失敗: %w", err)
		}
		printFilePaths(os.Stdout, paths)
	}
	return nil
}

func printFilePaths(w io.Writer, paths []string) {
	fmt.Fprintf(w, "\n=== 処理済みファイル (%d) ===\n\n", len(paths))
	for _, p := range paths {
		fmt.Fprintf(w, "  %s\n", p)
	}
}

func printRepository(w io.Writer, repo *domain.Repository) {
	commit := "-"
	if repo.LastCommitHash != nil {
		commit = *repo.LastCommitHash
	}
	indexedAt := "-"
	if repo.LastIndexedAt != nil {
		indexedAt = repo.LastIndexedAt.Format(time.RFC3339)
	}

	fmt.Fprintf(w, "\n=== リポジトリ ===\n\n")
	fmt.Fprintf(w, "ID:             %s\n", repo.ID)
	fmt.Fprintf(w, "Name:           %s\n", repo.Name)
	fmt.Fprintf(w, "URL:            %s\n", repo.URL)
	fmt.Fprintf(w, "Branch:         %s\n", repo.DefaultBranch)
	fmt.Fprintf(w, "Status:         %s\n", repo.Status)
	fmt.Fprintf(w, "Last Commit:    %s\n", commit)
	fmt.Fprintf(w, "Last Indexed:   %s\n", indexedAt)
	fmt.Fprintf(w, "Files:          %d\n", repo.FileCount)
	fmt.Fprintf(w, "Clone Path:     %s\n", repo.ClonePath)
}
