// Package store is the single source of truth for every persistent row the
// coordinator acts on: stakers, work rounds, stakes, payouts, payout
// members and synchronization cursors. Every multi-row mutation happens
// inside one transaction, and every failure is reported as a DatabaseError
// so the caller can roll the current iteration back and retry on the next
// trigger.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
	MaxConns int
	MinConns int
}

func (c *Config) connString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode,
	)
}

// Store wraps the shared connection pool. One Store serves every chain's
// coordinator; rows are partitioned by currency_address.
type Store struct {
	db *sqlx.DB
}

// New opens the connection pool and verifies it with a ping.
func New(config *Config) (*Store, error) {
	db, err := sqlx.Open("postgres", config.connString())
	if err != nil {
		return nil, dbErr("connect", err)
	}

	if config.MaxConns > 0 {
		db.SetMaxOpenConns(config.MaxConns)
	} else {
		db.SetMaxOpenConns(25)
	}
	if config.MinConns > 0 {
		db.SetMaxIdleConns(config.MinConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, dbErr("ping", err)
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an already-open connection, used by tests.
func NewFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck reports whether the database answers a trivial query.
func (s *Store) HealthCheck(ctx context.Context) bool {
	if s.db == nil {
		return false
	}
	var result int
	err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	return err == nil && result == 1
}

// RunMigrations applies all pending schema migrations from migrationsPath.
func RunMigrations(config *Config, migrationsPath string) error {
	db, err := sqlx.Open("postgres", config.connString())
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func dbErr(op string, err error) error {
	return &poolmodel.DatabaseError{Op: op, Err: err}
}

// buildInQuery expands slice arguments for IN clauses; the caller rebinds
// the resulting query for the active driver.
func buildInQuery(query string, args ...interface{}) (string, []interface{}, error) {
	return sqlx.In(query, args...)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// inTx runs fn inside one transaction, rolling back on any error.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return dbErr(op, err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return dbErr(op, err)
	}
	return nil
}
