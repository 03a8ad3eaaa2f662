//go:build integration

package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sungwon/mailqueue/internal/storage"
)

var (
	sharedDB  *storage.DB
	sharedDSN string
)

// startPostgres runs a disposable PostgreSQL container and returns its DSN.
func startPostgres(ctx context.Context) (string, func(), error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "mailqueue",
				"POSTGRES_PASSWORD": "mailqueue",
				"POSTGRES_DB":       "mailqueue",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("start container: %w", err)
	}
	stop := func() {
		if err := c.Terminate(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "terminate container: %v\n", err)
		}
	}

	host, err := c.Host(ctx)
	if err != nil {
		stop()
		return "", nil, fmt.Errorf("container host: %w", err)
	}
	port, err := c.MappedPort(ctx, "5432")
	if err != nil {
		stop()
		return "", nil, fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://mailqueue:mailqueue@%s:%s/mailqueue?sslmode=disable", host, port.Port())
	return dsn, stop, nil
}

// TestMain shares one migrated database across the package.
func TestMain(m *testing.M) {
	ctx := context.Background()

	dsn, stop, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	sharedDSN = dsn

	sharedDB, err = storage.NewDB(ctx, dsn, 2, 10, 10*time.Second)
	if err == nil {
		err = storage.Migrate(ctx, sharedDB, zerolog.Nop())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "prepare database: %v\n", err)
		stop()
		os.Exit(1)
	}

	code := m.Run()
	sharedDB.Close()
	stop()
	os.Exit(code)
}

func resetTables(t *testing.T) {
	t.Helper()
	_, err := sharedDB.Pool.Exec(context.Background(),
		`TRUNCATE email_messages, email_templates, email_suppressions`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}
