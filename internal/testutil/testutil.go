// Package testutil provides common testing utilities for the stakepool
// coordinator: a disposable Postgres instance for store integration tests
// and a scriptable fake chain daemon for gateway and component tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestDatabase represents a test database instance.
type TestDatabase struct {
	Container testcontainers.Container
	DB        *sql.DB
	URL       string
}

// SetupTestDatabase creates a PostgreSQL test database using testcontainers.
func SetupTestDatabase(t *testing.T) *TestDatabase {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "stakepool_test",
			"POSTGRES_USER":     "stakepool",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	mappedPort, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	dbURL := fmt.Sprintf("postgres://stakepool:test_password@%s:%s/stakepool_test?sslmode=disable",
		host, mappedPort.Port())

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return db.Ping() == nil
	}, 30*time.Second, 1*time.Second, "database should be ready")

	t.Cleanup(func() {
		db.Close()
		container.Terminate(ctx)
	})

	return &TestDatabase{
		Container: container,
		DB:        db,
		URL:       dbURL,
	}
}

// ApplyMigrations runs the schema migrations from migrationsPath against
// the test database.
func (td *TestDatabase) ApplyMigrations(t *testing.T, migrationsPath string) {
	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), td.URL)
	require.NoError(t, err)
	require.NoError(t, m.Up())
}

// BenchmarkHelper provides utilities for consistent benchmarking.
type BenchmarkHelper struct {
	iterations int
	warmup     int
}

// NewBenchmarkHelper creates a new benchmark helper.
func NewBenchmarkHelper() *BenchmarkHelper {
	return &BenchmarkHelper{
		iterations: 1000,
		warmup:     100,
	}
}

// Run executes a benchmark with warmup.
func (bh *BenchmarkHelper) Run(name string, fn func()) {
	for i := 0; i < bh.warmup; i++ {
		fn()
	}

	start := time.Now()
	for i := 0; i < bh.iterations; i++ {
		fn()
	}
	duration := time.Since(start)

	fmt.Printf("Benchmark %s: %d iterations in %v (%.2f ns/op)\n",
		name, bh.iterations, duration, float64(duration.Nanoseconds())/float64(bh.iterations))
}
