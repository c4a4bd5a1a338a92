package database

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"text/template"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

var schemaTemplate = template.Must(template.New("schema").Parse(schemaSQL))

// RenderSchema はEmbedding次元数を埋め込んだスキーマDDLを返します
func RenderSchema(dimension int) (string, error) {
	if dimension <= 0 {
		return "", fmt.Errorf("invalid embedding dimension: %d", dimension)
	}
	var buf bytes.Buffer
	if err := schemaTemplate.Execute(&buf, struct{ Dimension int }{Dimension: dimension}); err != nil {
		return "", fmt.Errorf("failed to render schema: %w", err)
	}
	return buf.String(), nil
}

// Migrate はスキーマを作成します。既存のテーブルはそのまま残します
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	ddl, err := RenderSchema(dimension)
	if err != nil {
		return err
	}
	// 引数なしのExecは単純プロトコルになるため複数文をまとめて実行できる
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
