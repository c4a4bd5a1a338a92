package database

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

const testDimension = 4

// testPool は統合テスト用のプールです。Dockerが使えない場合はnilのままです
var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Printf("docker unavailable, skipping integration tests: %v", err)
		os.Exit(m.Run())
	}
	if err := pool.Client.Ping(); err != nil {
		log.Printf("docker unavailable, skipping integration tests: %v", err)
		os.Exit(m.Run())
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "pgvector/pgvector",
		Tag:        "pg16",
		Env: []string{
			"POSTGRES_USER=indexer",
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_DB=indexer",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Printf("failed to start postgres container, skipping integration tests: %v", err)
		os.Exit(m.Run())
	}
	_ = resource.Expire(300)

	dsn := fmt.Sprintf("postgres://indexer:secret@%s/indexer?sslmode=disable", resource.GetHostPort("5432/tcp"))
	pool.MaxWait = 2 * time.Minute
	if err := pool.Retry(func() error {
		p, err := pgxpool.New(context.Background(), dsn)
		if err != nil {
			return err
		}
		if err := p.Ping(context.Background()); err != nil {
			p.Close()
			return err
		}
		testPool = p
		return nil
	}); err != nil {
		_ = pool.Purge(resource)
		log.Fatalf("could not connect to postgres: %v", err)
	}

	if err := Migrate(context.Background(), testPool, testDimension); err != nil {
		_ = pool.Purge(resource)
		log.Fatalf("failed to migrate: %v", err)
	}

	code := m.Run()

	testPool.Close()
	_ = pool.Purge(resource)
	os.Exit(code)
}

// requireDB はDBが利用できない場合にテストをスキップします
func requireDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testPool == nil {
		t.Skip("integration test requires docker")
	}
	return testPool
}
