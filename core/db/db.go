// Package db opens the project's SQLite database and owns the small set of
// connection-level concerns every other package relies on: WAL mode for
// writable projects, read-only mode for archived/immutable ones, and busy
// retry so the single-writer scheduler goroutine and the replay server's
// reader goroutines don't trip over SQLITE_BUSY.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // load the pure-Go sqlite driver

	"github.com/crystal-web-archiver/crystal/core/logger"
)

// DB wraps a *sql.DB opened against a project's database.sqlite file.
type DB struct {
	*sql.DB
	Path     string
	ReadOnly bool
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a row. In such a
// case, QueryRow returns a placeholder *Row value that defers this error
// until a Scan.
var ErrNoRows = sql.ErrNoRows

// Open opens the sqlite database at path. If readOnly is true the connection
// is opened with immutable=1, matching the project's handling of archives on
// read-only media; no writer lock is taken and mutating statements fail at
// the SQL layer rather than the filesystem layer.
func Open(path string, readOnly bool) *DB {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if readOnly {
		dsn += "&mode=ro&immutable=1"
	} else {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	logger.Default().Infoln("opening sqlite database:", path, "readOnly:", readOnly)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		panic(err)
	}
	if !readOnly {
		// the scheduler is the only writer; a single connection avoids
		// SQLITE_BUSY from sqlite's own connection pool contending with
		// itself.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		panic(err)
	}
	return &DB{DB: sqlDB, Path: path, ReadOnly: readOnly}
}

// Create opens a brand new database at path, which must not already exist,
// and applies schema to it inside a single transaction.
func Create(path, schema string) (*DB, error) {
	database := Open(path, false)
	tx, err := database.Begin()
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("cannot begin schema transaction: %w", err)
	}
	if _, err := tx.Exec(schema); err != nil {
		tx.Rollback()
		database.Close()
		return nil, fmt.Errorf("cannot apply schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		database.Close()
		return nil, fmt.Errorf("cannot commit schema: %w", err)
	}
	return database, nil
}
