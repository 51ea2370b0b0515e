// Package testdb provides migrated in-memory stores for tests.
package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/kuitang/entrystore/internal/db"
)

var storeCounter uint64

// NewStoreInMemory creates a fresh, migrated, in-memory SQLite store.
// Each call gets its own database.
func NewStoreInMemory() (*db.Store, error) {
	name := fmt.Sprintf("entrystore-test-%d", atomic.AddUint64(&storeCounter, 1))
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	sqlDB, err := sql.Open(db.SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}

	// A single connection keeps the shared-cache database alive and avoids
	// SQLITE_LOCKED between concurrent test goroutines.
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)

	var sqliteVersion string
	if err := sqlDB.QueryRow("SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify in-memory database: %w", err)
	}

	if err := applyFastSQLitePragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply fast SQLite pragmas: %w", err)
	}

	if err := db.Migrate(context.Background(), sqlDB, db.DialectSQLite); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return db.NewStoreFromSQL(sqlDB, db.DialectSQLite), nil
}

func applyFastSQLitePragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA secure_delete=OFF",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}
