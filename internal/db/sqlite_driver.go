package db

import (
	"database/sql"
	"fmt"
	"strings"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	// SQLiteDriverName is the project-specific SQLCipher driver name. A
	// private name avoids colliding with any other package that registers
	// "sqlite3".
	SQLiteDriverName = "sqlite3_entrystore"
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{})
}

func sqliteCommonParams() string {
	// WAL + NORMAL gives good throughput while keeping committed batches durable.
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}

// sqliteDSN builds the DSN for a file database, adding SQLCipher parameters
// when a hex key is configured.
func sqliteDSN(path, keyHex string) string {
	dsn := path
	if keyHex != "" {
		dsn = fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", path, keyHex)
	}
	return appendSQLiteParams(dsn, sqliteCommonParams())
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}
