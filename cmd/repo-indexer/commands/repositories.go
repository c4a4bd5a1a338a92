package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

// ListAction は登録済みリポジトリの一覧を表示するコマンドのアクション
func ListAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	repos, err := appCtx.Container.RepositoryService.ListRepositories(ctx)
	if err != nil {
		return fmt.Errorf("リポジトリ一覧の取得に失敗: %w", err)
	}

	printRepositoryList(os.Stdout, repos)
	return nil
}

// DeleteAction はリポジトリと処理済みファイルを削除するコマンドのアクション
func DeleteAction(ctx context.Context, cmd *cli.Command) error {
	url := cmd.String("url")

	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	repo, err := appCtx.Container.RepositoryService.DeleteRepository(ctx, url, !cmd.Bool("keep-clone"))
	if err != nil {
		return fmt.Errorf("リポジトリの削除に失敗: %w", err)
	}

	fmt.Fprintf(os.Stdout, "削除しました: %s (%s)\n", repo.Name, repo.URL)
	return nil
}

func printRepositoryList(w io.Writer, repos []*domain.Repository) {
	if len(repos) == 0 {
		fmt.Fprintln(w, "登録済みのリポジトリはありません")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tFILES\tCOMMIT\tURL")
	for _, r := range repos {
		commit := "-"
		if r.LastCommitHash != nil {
			commit = shortCommit(*r.LastCommitHash)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Name, r.Status, r.FileCount, commit, r.URL)
	}
	tw.Flush()
}
