// internal/output/sqlite.go
package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var sqliteDialect = dialect{
	name:        "SQLite",
	driver:      "sqlite3",
	quote:       quoteWith("[", "]"),
	placeholder: questionMarks,
}

func init() {
	d := &sqliteDialect
	d.createTable = func(table string, cols []string) string {
		return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\tid INTEGER PRIMARY KEY AUTOINCREMENT,\n\t%s,\n\tcreated_at DATETIME DEFAULT CURRENT_TIMESTAMP\n)",
			d.quote(table), columnDefs(d.quote, cols, "TEXT", "TEXT"))
	}
	d.insert = func(table string, cols []string, onConflict ConflictStrategy) string {
		verb := "INSERT"
		switch onConflict {
		case ConflictIgnore:
			verb = "INSERT OR IGNORE"
		case ConflictReplace:
			verb = "INSERT OR REPLACE"
		}
		return fmt.Sprintf("%s INTO %s (%s) VALUES (%s)", verb, d.quote(table), joinQuoted(d.quote, cols), placeholders(*d, len(cols)))
	}
}

// NewSQLiteWriter opens the database at path. ":memory:" gives a private
// in-memory database.
func NewSQLiteWriter(ctx context.Context, path, table string, onConflict ConflictStrategy) (*SQLWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("SQLite database path is required")
	}
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	}
	w, err := newSQLWriter(ctx, sqliteDialect, dsn, table, onConflict)
	if err != nil {
		return nil, err
	}
	// SQLite works best with a single writer; it also keeps ":memory:" on
	// one connection.
	w.db.SetMaxOpenConns(1)
	return w, nil
}
