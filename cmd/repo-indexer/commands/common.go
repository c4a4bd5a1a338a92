package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/jinford/repo-indexer/internal/platform/container"
	"github.com/jinford/repo-indexer/internal/platform/logger"
	"github.com/jinford/repo-indexer/pkg/config"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Logger    *slog.Logger
	Container *container.ServiceContainer
}

// NewAppContext は設定ファイルを読み込み、コマンドラインの上書きを反映してコンテナを作成する
func NewAppContext(ctx context.Context, cmd *cli.Command) (*AppContext, error) {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return nil, err
	}

	appLogger, err := NewLogger(cfg, cmd.Bool("verbose"))
	if err != nil {
		return nil, err
	}

	cont, err := container.NewContainer(ctx, cfg, container.WithContainerLogger(appLogger))
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Logger:    appLogger,
		Container: cont,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
}

// LoadConfig は--envの設定を読み込み、処理系フラグで上書きする
func LoadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	applyFlagOverrides(cfg, cmd)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}
	return cfg, nil
}

func applyFlagOverrides(cfg *config.Config, cmd *cli.Command) {
	if cmd.IsSet("batch-size") {
		cfg.Processing.BatchSize = int(cmd.Int("batch-size"))
	}
	if cmd.IsSet("parallel") {
		cfg.Processing.ParallelWorkers = int(cmd.Int("parallel"))
	}
	if cmd.IsSet("max-batches") {
		cfg.Processing.MaxConcurrentBatches = int(cmd.Int("max-batches"))
	}
	if cmd.IsSet("clone-dir") {
		cfg.Git.CloneDir = cmd.String("clone-dir")
	}
}

// NewLogger は設定のログレベル・形式でロガーを作成する。verboseの場合はDebugレベル
func NewLogger(cfg *config.Config, verbose bool) (*slog.Logger, error) {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	return logger.New(logger.Config{Level: level, Format: cfg.Log.Format}), nil
}
