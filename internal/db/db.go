// Package db owns the entry store connection: driver selection, migrations
// and transaction scoping. Queries live with their callers in the entries
// package; this package only hands out transactional handles.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect identifies the SQL engine behind a Store. Values double as goose
// dialect names.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

const (
	// MemoryPath selects a process-local in-memory SQLite database.
	MemoryPath = ":memory:"

	// SQLite is single-writer, so high connection counts are counterproductive.
	SQLiteMaxOpenConns = 4
	SQLiteMaxIdleConns = 2

	PostgresMaxOpenConns = 20
	PostgresMaxIdleConns = 5
)

// DBTX is the subset of database/sql used by repositories.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Options selects and configures the backing database.
type Options struct {
	// URL is a PostgreSQL connection string. When set it wins over Path.
	URL string
	// Path is the SQLite file path, or MemoryPath.
	Path string
	// Key is an optional 64 hex character SQLCipher key for the SQLite file.
	Key string
}

// Store wraps the sql.DB connection pool together with its dialect.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// NewStoreFromSQL wraps an existing, already migrated sql.DB.
func NewStoreFromSQL(sqlDB *sql.DB, dialect Dialect) *Store {
	return &Store{db: sqlDB, dialect: dialect}
}

// Open connects to the configured database, verifies the connection and
// applies pending migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.URL) != "" {
		return openPostgres(ctx, opts.URL)
	}
	return openSQLite(ctx, opts.Path, opts.Key)
}

func openPostgres(ctx context.Context, url string) (*Store, error) {
	sqlDB, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	sqlDB.SetMaxOpenConns(PostgresMaxOpenConns)
	sqlDB.SetMaxIdleConns(PostgresMaxIdleConns)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	return finishOpen(ctx, sqlDB, DialectPostgres)
}

func openSQLite(ctx context.Context, path, keyHex string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	var dsn string
	if path == MemoryPath {
		dsn = "file:entrystore?mode=memory&cache=shared"
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		dsn = sqliteDSN(path, keyHex)
	}

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB.SetMaxOpenConns(SQLiteMaxOpenConns)
	sqlDB.SetMaxIdleConns(SQLiteMaxIdleConns)

	// With a wrong SQLCipher key the file opens fine and the first real
	// query fails, so verify with a query rather than Ping.
	var sqliteVersion string
	if err := sqlDB.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify sqlite database: %w", err)
	}
	return finishOpen(ctx, sqlDB, DialectSQLite)
}

func finishOpen(ctx context.Context, sqlDB *sql.DB, dialect Dialect) (*Store, error) {
	if err := Migrate(ctx, sqlDB, dialect); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return NewStoreFromSQL(sqlDB, dialect), nil
}

// DB returns the underlying sql.DB for direct access when needed.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL engine behind the store.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Rebind rewrites '?' placeholders into the dialect's bind syntax.
func (s *Store) Rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// WithTx begins a transaction, runs fn with the transactional handle, and
// commits on success or rolls back on error or panic. Panics are rethrown.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cerr)
		}
	}()

	return fn(ctx, tx)
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
