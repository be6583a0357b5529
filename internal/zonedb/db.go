// Package zonedb persists zone transition events and membership
// snapshots in SQLite, and exposes admin routes for inspecting the
// database over HTTP.
package zonedb

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the underlying SQLite handle. The schema is managed by
// versioned migrations, see migrate.go.
type DB struct {
	*sql.DB

	path string
}

// Open opens (creating if necessary) the SQLite database at path. It
// does not run migrations; callers that need the schema present should
// call MigrateUp.
//
// Pragmas are carried in the DSN so they apply to every pooled
// connection, not just the first. WAL keeps readers from blocking the
// reconciliation writer, and busy_timeout covers the brief write lock
// during checkpoints.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?%s", path,
		"_pragma=journal_mode(WAL)"+
			"&_pragma=busy_timeout(5000)"+
			"&_pragma=synchronous(NORMAL)"+
			"&_pragma=foreign_keys(1)"+
			"&_pragma=temp_store(MEMORY)")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// sql.Open defers connecting; fail now rather than on first query.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	return &DB{DB: db, path: path}, nil
}

// Path returns the filesystem path the database was opened with.
func (db *DB) Path() string {
	return db.path
}
