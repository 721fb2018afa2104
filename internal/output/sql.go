// internal/output/sql.go
package output

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/valpere/ecomscrapexter/internal/pipeline"
)

// dialect holds what differs between the SQL sinks.
type dialect struct {
	name        string
	driver      string
	quote       func(string) string
	placeholder func(i int) string
	// createTable renders CREATE TABLE IF NOT EXISTS for the products layout.
	createTable func(table string, cols []string) string
	// insert renders the INSERT statement for the conflict strategy.
	insert func(table string, cols []string, onConflict ConflictStrategy) string
}

// SQLWriter writes records to a relational table through database/sql.
type SQLWriter struct {
	mu         sync.Mutex
	db         *sql.DB
	dialect    dialect
	table      string
	onConflict ConflictStrategy
	insertSQL  string
}

func newSQLWriter(ctx context.Context, d dialect, dsn, table string, onConflict ConflictStrategy) (*SQLWriter, error) {
	if table == "" {
		table = DefaultTable
	}
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}
	if onConflict == "" {
		onConflict = ConflictIgnore
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", d.name, err)
	}

	w := &SQLWriter{db: db, dialect: d, table: table, onConflict: onConflict}
	if err := w.createTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	w.insertSQL = d.insert(table, columns(), onConflict)
	return w, nil
}

func (w *SQLWriter) createTable(ctx context.Context) error {
	query := w.dialect.createTable(w.table, columns())
	if _, err := w.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table '%s': %w", w.table, err)
	}
	return nil
}

// Write inserts records in one transaction. Unset fields are stored as NULL.
func (w *SQLWriter) Write(ctx context.Context, records []pipeline.Record) error {
	if len(records) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, w.insertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		values := r.Values()
		args := make([]interface{}, len(values))
		for i, v := range values {
			args[i] = sql.NullString{String: v, Valid: v != ""}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert %s: %w", r.Link, err)
		}
	}
	return tx.Commit()
}

// DB exposes the connection pool.
func (w *SQLWriter) DB() *sql.DB {
	return w.db
}

// Close closes the connection pool.
func (w *SQLWriter) Close() error {
	return w.db.Close()
}

func quoteWith(left, right string) func(string) string {
	return func(s string) string { return left + s + right }
}

func questionMarks(int) string { return "?" }

func joinQuoted(quote func(string) string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	return strings.Join(quoted, ", ")
}

func placeholders(d dialect, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = d.placeholder(i + 1)
	}
	return strings.Join(ps, ", ")
}

// columnDefs renders the column list, with link as the unique key.
func columnDefs(quote func(string) string, cols []string, linkType, textType string) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		typ := textType
		if c == string(pipeline.FieldLink) {
			typ = linkType + " NOT NULL UNIQUE"
		}
		defs[i] = quote(c) + " " + typ
	}
	return strings.Join(defs, ",\n\t")
}

func updateAssignments(quote func(string) string, cols []string, valueOf func(string) string) string {
	var sets []string
	for _, c := range cols {
		if c == string(pipeline.FieldLink) {
			continue
		}
		sets = append(sets, quote(c)+" = "+valueOf(c))
	}
	return strings.Join(sets, ", ")
}
