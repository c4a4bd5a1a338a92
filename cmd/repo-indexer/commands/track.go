package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/repo-indexer/internal/module/indexing/application"
	"github.com/jinford/repo-indexer/internal/module/indexing/domain"
)

// TrackAction は次回処理される変更ファイルを表示するコマンドのアクション
func TrackAction(ctx context.Context, cmd *cli.Command) error {
	url := cmd.String("url")

	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	appCtx.Logger.Info("Starting change tracking", "url", url)

	changes, err := appCtx.Container.RepositoryService.TrackChanges(ctx, url, cmd.Bool("include-tests"))
	if err != nil {
		appCtx.Logger.Error("変更の追跡に失敗しました", "error", err)
		return err
	}

	printChangeSet(os.Stdout, changes)
	return nil
}

func printChangeSet(w io.Writer, changes *application.ChangeSet) {
	fmt.Fprintf(w, "\n=== 変更セット ===\n\n")
	if changes.Repository != nil {
		fmt.Fprintf(w, "Repository: %s\n", changes.Repository.Name)
	}
	fmt.Fprintf(w, "From:       %s\n", shortCommit(changes.FromCommit))
	fmt.Fprintf(w, "To:         %s\n", shortCommit(changes.ToCommit))
	fmt.Fprintf(w, "Outcome:    %s\n", changes.Outcome)
	fmt.Fprintf(w, "Tracked At: %s\n", changes.TrackedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Skipped:    %d\n", changes.Skipped)

	if len(changes.Entries) == 0 {
		fmt.Fprintln(w, "\n変更はありません")
		return
	}

	counts := make(map[domain.FileStatus]int)
	fmt.Fprintln(w)
	for _, e := range changes.Entries {
		counts[e.Status]++
		fmt.Fprintf(w, "  %s\n", e)
	}
	fmt.Fprintf(w, "\nnew=%d modified=%d renamed=%d deleted=%d\n",
		counts[domain.FileStatusNew],
		counts[domain.FileStatusModified],
		counts[domain.FileStatusRenamed],
		counts[domain.FileStatusDeleted],
	)
}
