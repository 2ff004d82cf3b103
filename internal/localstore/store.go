// Package localstore is the embedded SQLite backend. It implements the same
// repository, version persistence, RPN and score operations as the Postgres
// store and is used by the CLI, local development and transactional tests.
package localstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// Store wraps a single-connection SQLite handle
type Store struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the database at path and applies the schema
func Open(path string) (*Store, error) {
	if path == "" {
		path = MemoryPath
	}
	inMemory := path == MemoryPath
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one connection keeps :memory: alive and serializes writers
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	if !inMemory {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{conn: conn, path: path, now: time.Now}
	if err := s.Migrate(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("opened local store")
	return s, nil
}

// Migrate applies the schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// HealthCheck verifies the database is usable
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Path returns the database location
func (s *Store) Path() string {
	return s.path
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// placeholders returns "?, ?, ?" for n values
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
