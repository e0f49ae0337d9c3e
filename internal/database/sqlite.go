package database

import (
	"database/sql"
	"fmt"

	"cercasp-go/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DB is the local SQLite database that backs the offline queue.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens the database at path and brings its schema up to date.
// Migrating is safe on every startup: existing rows are never touched.
func Open(path string) (*DB, error) {
	sqlDB, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}

	return &DB{db: sqlDB, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection without migrating.
// Exported for tests that need to inspect an unmigrated database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases
	// from splitting across pool connections.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != MemoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = FULL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// SQL returns the underlying connection.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Path returns the database file path (or ":memory:").
func (d *DB) Path() string {
	return d.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (d *DB) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(d.db)
}

// BackupTo writes a consistent copy of the database to destPath using VACUUM INTO.
func (d *DB) BackupTo(destPath string) error {
	if _, err := d.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
