package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/repo-indexer/internal/platform/database"
	"github.com/jinford/repo-indexer/pkg/db"
)

// MigrateAction はスキーマを作成するコマンドのアクション
// プロバイダのAPIキーは不要なため、コンテナを介さずに接続する
func MigrateAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := NewLogger(cfg, cmd.Bool("verbose"))
	if err != nil {
		return err
	}

	dimension := cfg.EmbeddingDimension()
	log.Info("Starting schema migration", "database", cfg.Database.DBName, "dimension", dimension)

	conn, err := db.New(ctx, db.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return fmt.Errorf("データベース接続に失敗: %w", err)
	}
	defer conn.Close()

	if err := database.Migrate(ctx, conn.Pool, dimension); err != nil {
		return err
	}

	log.Info("Schema migration completed")
	return nil
}
