package db

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionParams_ConnString(t *testing.T) {
	tests := []struct {
		name         string
		params       ConnectionParams
		wantPassword string
		wantSSL      string
	}{
		{
			name:         "通常",
			params:       ConnectionParams{Host: "db", Port: 5432, User: "indexer", Password: "secret", DBName: "repo_indexer", SSLMode: "require"},
			wantPassword: "secret",
			wantSSL:      "require",
		},
		{
			name:         "空白と引用符を含むパスワード",
			params:       ConnectionParams{Host: "db", Port: 5432, User: "indexer", Password: `p a's\s`, DBName: "repo_indexer"},
			wantPassword: `p a's\s`,
			wantSSL:      "disable",
		},
		{
			name:         "空のパスワード",
			params:       ConnectionParams{Host: "db", Port: 5432, User: "indexer", DBName: "repo_indexer"},
			wantPassword: "",
			wantSSL:      "disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := pgxpool.ParseConfig(tt.params.ConnString())
			require.NoError(t, err)

			assert.Equal(t, "db", cfg.ConnConfig.Host)
			assert.Equal(t, uint16(5432), cfg.ConnConfig.Port)
			assert.Equal(t, "indexer", cfg.ConnConfig.User)
			assert.Equal(t, tt.wantPassword, cfg.ConnConfig.Password)
			assert.Equal(t, "repo_indexer", cfg.ConnConfig.Database)
			assert.Contains(t, tt.params.ConnString(), "sslmode="+tt.wantSSL)
		})
	}
}
