// Package testsupport holds test helpers: Prometheus assertions and ephemeral
// PostgreSQL and Redis containers for the integration-tagged tests.
package testsupport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/srab2001/featuregate/internal/config"
	"github.com/srab2001/featuregate/internal/database"
)

// PostgresContainer is a migrated PostgreSQL instance with a pool opened
// through database.NewPostgresPool.
type PostgresContainer struct {
	Container        testcontainers.Container
	DB               *pgxpool.Pool
	ConnectionString string

	once sync.Once
}

// Terminate closes the pool and removes the container. Later calls are no-ops,
// so a test may stop the database early and still rely on the cleanup.
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	var err error
	c.once.Do(func() {
		c.DB.Close()
		err = c.Container.Terminate(ctx)
	})
	return err
}

// StartPostgres runs postgres:15-alpine with every file of the repository's
// migrations directory applied, and removes it when the test ends.
func StartPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	scripts, err := migrationScripts()
	if err != nil {
		t.Fatalf("migrations: %v", err)
	}

	ctr, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("featuregate_test"),
		postgres.WithUsername("featuregate"),
		postgres.WithPassword("featuregate"),
		postgres.WithInitScripts(scripts...),
		// The server restarts once after running init scripts.
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = ctr.Terminate(ctx)
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := database.NewPostgresPool(ctx, &config.DatabaseConfig{
		URL:            connStr,
		MaxConns:       5,
		MinConns:       1,
		ConnectTimeout: 5 * time.Second,
		PingMaxRetries: 3,
		PingBackoff:    500 * time.Millisecond,
	})
	if err != nil {
		_ = ctr.Terminate(ctx)
		t.Fatalf("failed to create pgx pool: %v", err)
	}

	c := &PostgresContainer{Container: ctr, DB: pool, ConnectionString: connStr}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })
	return c
}

// migrationScripts returns the .sql files of <module root>/migrations in
// lexical order, which is the order they must run in.
func migrationScripts() ([]string, error) {
	root, err := moduleRoot()
	if err != nil {
		return nil, err
	}
	files, err := filepath.Glob(filepath.Join(root, "migrations", "*.sql"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .sql files under %s", filepath.Join(root, "migrations"))
	}
	slices.Sort(files)
	return files, nil
}

// moduleRoot walks up from the working directory to the directory holding go.mod.
func moduleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found above the working directory")
		}
		dir = parent
	}
}
