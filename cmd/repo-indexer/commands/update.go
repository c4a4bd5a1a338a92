package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// UpdateFileAction は1ファイルを再処理するコマンドのアクション
func UpdateFileAction(ctx context.Context, cmd *cli.Command) error {
	url := cmd.String("url")
	path := cmd.String("path")

	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	appCtx.Logger.Info("Starting single file update", "url", url, "path", path)

	report, err := appCtx.Container.RepositoryService.UpdateSingleFile(ctx, url, path)
	if err != nil {
		appCtx.Logger.Error("ファイルの更新に失敗しました", "path", path, "error", err)
		return err
	}

	printReport(os.Stdout, report, true)
	if !report.OK() {
		return cli.Exit(fmt.Sprintf("%s の処理に失敗しました", path), 1)
	}
	return nil
}
