// internal/output/postgresql.go
package output

import (
	"context"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

var postgresDialect = dialect{
	name:        "PostgreSQL",
	driver:      "postgres",
	quote:       quoteWith(`"`, `"`),
	placeholder: func(i int) string { return "$" + strconv.Itoa(i) },
}

func init() {
	d := &postgresDialect
	d.createTable = func(table string, cols []string) string {
		return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\tid BIGSERIAL PRIMARY KEY,\n\t%s,\n\tcreated_at TIMESTAMPTZ DEFAULT NOW()\n)",
			d.quote(table), columnDefs(d.quote, cols, "TEXT", "TEXT"))
	}
	d.insert = func(table string, cols []string, onConflict ConflictStrategy) string {
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.quote(table), joinQuoted(d.quote, cols), placeholders(*d, len(cols)))
		switch onConflict {
		case ConflictIgnore:
			query += " ON CONFLICT (link) DO NOTHING"
		case ConflictReplace:
			query += " ON CONFLICT (link) DO UPDATE SET " + updateAssignments(d.quote, cols, func(c string) string {
				return "EXCLUDED." + d.quote(c)
			})
		}
		return query
	}
}

// NewPostgreSQLWriter connects with a lib/pq connection string.
func NewPostgreSQLWriter(ctx context.Context, dsn, table string, onConflict ConflictStrategy) (*SQLWriter, error) {
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL connection string is required")
	}
	w, err := newSQLWriter(ctx, postgresDialect, dsn, table, onConflict)
	if err != nil {
		return nil, err
	}
	w.db.SetMaxOpenConns(8)
	w.db.SetMaxIdleConns(2)
	w.db.SetConnMaxLifetime(5 * time.Minute)
	return w, nil
}
