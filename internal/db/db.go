// Package db is the collector's record store: an append-only SQLite table of
// JSON documents keyed by a random id and indexed on their numeric timestamp.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/hivemind/internal/monitoring"
	"github.com/banshee-data/hivemind/internal/security"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// migrationsFS returns the embedded migrations rooted at the migrations directory.
func migrationsFS() (fs.FS, error) {
	return fs.Sub(embeddedMigrations, "migrations")
}

type DB struct {
	*sql.DB
	path string
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// pragmas applied to every pooled connection through the DSN.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
}

func dsn(path string) string {
	q := make([]string, 0, len(pragmas))
	for _, p := range pragmas {
		q = append(q, "_pragma="+p)
	}
	return path + "?" + strings.Join(q, "&")
}

// OpenDB opens (creating if needed) the SQLite file at path with the
// connection pragmas set. It does not touch the schema.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

// DatabasePath maps a store name to its file under dir. The name may already
// carry a .db suffix.
func DatabasePath(dir, name string) (string, error) {
	name = strings.TrimSpace(name)
	if err := security.ValidateFileName(name); err != nil {
		return "", fmt.Errorf("invalid database name: %w", err)
	}
	if !strings.HasSuffix(name, ".db") {
		name += ".db"
	}
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, name), nil
}

// NewDB opens the store called name under dir, creating the file and its
// schema the first time. Later opens find the schema at the current version
// and leave it untouched.
func NewDB(dir, name string) (*DB, error) {
	path, err := DatabasePath(dir, name)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)

	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	migrations, err := migrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(migrations); err != nil {
		db.Close()
		return nil, err
	}

	if created {
		monitoring.Logf("created record store %s", path)
	} else {
		monitoring.Logf("opened record store %s", path)
	}
	return db, nil
}
