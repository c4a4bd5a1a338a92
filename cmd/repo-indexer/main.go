package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/repo-indexer/cmd/repo-indexer/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "env",
			Usage: "環境変数ファイルパス",
			Value: ".env",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "デバッグログと失敗理由を表示",
		},
	}
}

func urlFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "url",
		Usage:    "GitリポジトリURL",
		Required: true,
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "repo-indexer",
		Usage: "Gitリポジトリの変更ファイルを解析・Embeddingしてデータベースに保存する",
		Commands: []*cli.Command{
			{
				Name:  "process",
				Usage: "前回処理したコミットからの変更ファイルを処理",
				Flags: append(commonFlags(),
					urlFlag(),
					&cli.StringFlag{
						Name:  "branch",
						Usage: "ブランチ名（省略時は設定またはリモートのデフォルトブランチ）",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "処理するファイル数の上限（0で無制限）",
					},
					&cli.BoolFlag{
						Name:  "include-tests",
						Usage: "テストファイルも処理対象にする",
					},
					&cli.BoolFlag{
						Name:  "include-readme",
						Usage: "READMEを解析時の補助情報として渡す",
					},
					&cli.BoolFlag{
						Name:  "full",
						Usage: "保存済みコミットを無視して全ファイルを処理",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "1トランザクションで保存するファイル数",
					},
					&cli.IntFlag{
						Name:  "parallel",
						Usage: "プロバイダへの最大同時リクエスト数",
					},
					&cli.IntFlag{
						Name:  "max-batches",
						Usage: "同時に処理するバッチ数",
					},
					&cli.StringFlag{
						Name:  "clone-dir",
						Usage: "クローン先ディレクトリ",
					},
				),
				Action: commands.ProcessAction,
			},
			{
				Name:  "track",
				Usage: "次回処理される変更ファイルを表示（保存はしない）",
				Flags: append(commonFlags(),
					urlFlag(),
					&cli.BoolFlag{
						Name:  "include-tests",
						Usage: "テストファイルも表示する",
					},
				),
				Action: commands.TrackAction,
			},
			{
				Name:  "update-file",
				Usage: "1ファイルを再処理",
				Flags: append(commonFlags(),
					urlFlag(),
					&cli.StringFlag{
						Name:     "path",
						Usage:    "リポジトリルートからの相対パス",
						Required: true,
					},
				),
				Action: commands.UpdateFileAction,
			},
			{
				Name:  "status",
				Usage: "登録済みリポジトリの状態を表示",
				Flags: append(commonFlags(),
					urlFlag(),
					&cli.BoolFlag{
						Name:  "files",
						Usage: "処理済みファイルの一覧も表示",
					},
				),
				Action: commands.StatusAction,
			},
			{
				Name:   "list",
				Usage:  "登録済みリポジトリの一覧を表示",
				Flags:  commonFlags(),
				Action: commands.ListAction,
			},
			{
				Name:  "delete",
				Usage: "リポジトリと処理済みファイルを削除",
				Flags: append(commonFlags(),
					urlFlag(),
					&cli.BoolFlag{
						Name:  "keep-clone",
						Usage: "ローカルのクローンを残す",
					},
				),
				Action: commands.DeleteAction,
			},
			{
				Name:   "migrate",
				Usage:  "データベーススキーマを作成",
				Flags:  commonFlags(),
				Action: commands.MigrateAction,
			},
		},
	}
}
