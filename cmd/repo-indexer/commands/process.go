package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/repo-indexer/internal/module/indexing/adapter/llm"
	"github.com/jinford/repo-indexer/internal/module/indexing/application"
)

// ProcessAction はリポジトリの変更ファイルを解析・Embeddingして保存するコマンドのアクション
func ProcessAction(ctx context.Context, cmd *cli.Command) error {
	req := application.ProcessRequest{
		URL:           cmd.String("url"),
		Branch:        cmd.String("branch"),
		Limit:         int(cmd.Int("limit")),
		IncludeTests:  cmd.Bool("include-tests"),
		IncludeReadme: cmd.Bool("include-readme"),
		FullRescan:    cmd.Bool("full"),
	}

	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	appCtx.Logger.Info("Starting repository processing",
		"url", req.URL,
		"branch", req.Branch,
		"limit", req.Limit,
		"fullRescan", req.FullRescan,
	)

	result, err := appCtx.Container.RepositoryService.ProcessRepository(ctx, req)
	if err != nil {
		appCtx.Logger.Error("リポジトリ処理に失敗しました", "error", err)
		return err
	}

	printProcessResult(os.Stdout, result, cmd.Bool("verbose"))
	if cmd.Bool("verbose") {
		printRateLimiterStatus(os.Stdout, appCtx.Container.Pipeline.RateLimiterStatus())
	}

	if result.Report != nil && !result.Report.OK() {
		return cli.Exit(fmt.Sprintf("%d件のファイルの処理に失敗しました", result.Report.FailureCount), 1)
	}
	return nil
}

func printProcessResult(w io.Writer, result *application.ProcessResult, verbose bool) {
	fmt.Fprintf(w, "\n=== 処理結果 ===\n\n")
	if result.Repository != nil {
		fmt.Fprintf(w, "Repository:      %s (%s)\n", result.Repository.Name, result.Repository.URL)
	}
	fmt.Fprintf(w, "Outcome:         %s\n", result.Outcome)
	fmt.Fprintf(w, "Head Commit:     %s\n", shortCommit(result.HeadCommit))
	fmt.Fprintf(w, "Commit Advanced: %t\n", result.CommitAdvanced)
	fmt.Fprintf(w, "Skipped:         %d\n", result.Skipped)

	if result.Report == nil {
		fmt.Fprintln(w, "\n処理対象のファイルはありません")
		return
	}
	printReport(w, result.Report, verbose)
}

func printReport(w io.Writer, report *application.ProcessingReport, verbose bool) {
	fmt.Fprintf(w, "Succeeded:       %d\n", report.SuccessCount)
	fmt.Fprintf(w, "Failed:          %d\n", report.FailureCount)
	fmt.Fprintf(w, "Deleted:         %d\n", report.DeletedCount)
	fmt.Fprintf(w, "Fallbacks:       %d\n", len(report.FallbackPaths))
	fmt.Fprintf(w, "Duration:        %s\n", report.Duration.Round(time.Millisecond))

	if len(report.FailedPaths) > 0 {
		fmt.Fprintf(w, "\n失敗したファイル:\n")
		for _, path := range report.FailedPaths {
			if verbose {
				fmt.Fprintf(w, "  - %s: %v\n", path, report.Errors[path])
				continue
			}
			fmt.Fprintf(w, "  - %s\n", path)
		}
	}
	if verbose && len(report.FallbackPaths) > 0 {
		fmt.Fprintf(w, "\nフォールバック解析を使用したファイル:\n")
		for _, path := range report.FallbackPaths {
			fmt.Fprintf(w, "  - %s\n", path)
		}
	}
}

func printRateLimiterStatus(w io.Writer, st llm.RateLimiterStatus) {
	fmt.Fprintf(w, "\n=== レート制限 ===\n\n")
	fmt.Fprintf(w, "Window:         %d req / %s\n", st.MaxRequests, st.Window)
	fmt.Fprintf(w, "Used in Window: %d\n", st.UsedInWindow)
	fmt.Fprintf(w, "Total Requests: %d\n", st.TotalRequests)
	fmt.Fprintf(w, "Throttled:      %d (%s)\n", st.ThrottledWaits, st.TotalWaitedTime.Round(time.Millisecond))
}

func shortCommit(hash string) string {
	if hash == "" {
		return "-"
	}
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
