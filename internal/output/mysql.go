// internal/output/mysql.go
package output

import (
	"context"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	name:        "MySQL",
	driver:      "mysql",
	quote:       quoteWith("`", "`"),
	placeholder: questionMarks,
}

func init() {
	d := &mysqlDialect
	d.createTable = func(table string, cols []string) string {
		// Unique keys on TEXT need a prefix length, so the link is a VARCHAR.
		return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\tid BIGINT AUTO_INCREMENT PRIMARY KEY,\n\t%s,\n\tcreated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci",
			d.quote(table), columnDefs(d.quote, cols, "VARCHAR(768)", "TEXT"))
	}
	d.insert = func(table string, cols []string, onConflict ConflictStrategy) string {
		verb := "INSERT"
		if onConflict == ConflictIgnore {
			verb = "INSERT IGNORE"
		}
		query := fmt.Sprintf("%s INTO %s (%s) VALUES (%s)", verb, d.quote(table), joinQuoted(d.quote, cols), placeholders(*d, len(cols)))
		if onConflict == ConflictReplace {
			query += " ON DUPLICATE KEY UPDATE " + updateAssignments(d.quote, cols, func(c string) string {
				return "VALUES(" + d.quote(c) + ")"
			})
		}
		return query
	}
}

// NewMySQLWriter connects with a go-sql-driver DSN. The DSN is parsed first
// so that malformed strings fail before dialing.
func NewMySQLWriter(ctx context.Context, dsn, table string, onConflict ConflictStrategy) (*SQLWriter, error) {
	if dsn == "" {
		return nil, fmt.Errorf("MySQL connection string is required")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}

	w, err := newSQLWriter(ctx, mysqlDialect, cfg.FormatDSN(), table, onConflict)
	if err != nil {
		return nil, err
	}
	w.db.SetMaxOpenConns(8)
	w.db.SetConnMaxLifetime(3 * time.Minute)
	return w, nil
}
