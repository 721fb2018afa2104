// internal/output/types.go
package output

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/valpere/ecomscrapexter/internal/pipeline"
)

// OutputFormat represents supported output formats
type OutputFormat string

const (
	FormatJSONL      OutputFormat = "jsonl"
	FormatCSV        OutputFormat = "csv"
	FormatExcel      OutputFormat = "excel"
	FormatSQLite     OutputFormat = "sqlite"
	FormatPostgreSQL OutputFormat = "postgresql"
	FormatMySQL      OutputFormat = "mysql"
	FormatMongoDB    OutputFormat = "mongodb"
)

// ValidOutputFormats returns all valid output format values
func ValidOutputFormats() []OutputFormat {
	return []OutputFormat{FormatJSONL, FormatCSV, FormatExcel, FormatSQLite, FormatPostgreSQL, FormatMySQL, FormatMongoDB}
}

// ConflictStrategy represents database conflict resolution strategies. Rows
// conflict on the product link.
type ConflictStrategy string

const (
	ConflictIgnore  ConflictStrategy = "ignore"
	ConflictReplace ConflictStrategy = "replace"
	ConflictError   ConflictStrategy = "error"
)

// Writer persists finalized records. Implementations are safe for
// concurrent use.
type Writer interface {
	Write(ctx context.Context, records []pipeline.Record) error
	Close() error
}

// Config describes one output sink.
type Config struct {
	Format OutputFormat `yaml:"format" json:"format"`
	// Path is the file for jsonl, csv, excel and sqlite sinks.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// DSN is the connection string for postgresql, mysql and mongodb sinks.
	DSN        string           `yaml:"dsn,omitempty" json:"-"`
	Table      string           `yaml:"table,omitempty" json:"table,omitempty"`
	Database   string           `yaml:"database,omitempty" json:"database,omitempty"`
	Collection string           `yaml:"collection,omitempty" json:"collection,omitempty"`
	Sheet      string           `yaml:"sheet,omitempty" json:"sheet,omitempty"`
	OnConflict ConflictStrategy `yaml:"on_conflict,omitempty" json:"on_conflict,omitempty"`
}

// DefaultTable is the table, collection and sheet used when none is set.
const DefaultTable = "products"

// Validate checks that the fields needed by the format are present.
func (c Config) Validate() error {
	switch c.Format {
	case FormatJSONL, FormatCSV, FormatExcel, FormatSQLite:
		if c.Path == "" {
			return fmt.Errorf("%s output requires a path", c.Format)
		}
	case FormatPostgreSQL, FormatMySQL, FormatMongoDB:
		if c.DSN == "" {
			return fmt.Errorf("%s output requires a dsn", c.Format)
		}
	default:
		return fmt.Errorf("unsupported output format: %q", c.Format)
	}
	if c.Format == FormatMongoDB && c.Database == "" {
		return fmt.Errorf("mongodb output requires a database")
	}
	switch c.OnConflict {
	case "", ConflictIgnore, ConflictReplace, ConflictError:
	default:
		return fmt.Errorf("unsupported conflict strategy: %q", c.OnConflict)
	}
	if c.Table != "" {
		if err := ValidateIdentifier(c.Table); err != nil {
			return err
		}
	}
	return nil
}

// SQL identifier validation
var (
	// SQL identifier regex: starts with letter or underscore, contains letters, digits, underscores
	sqlIdentifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

	// Keywords reserved in at least one of the supported SQL dialects.
	reservedWords = map[string]bool{
		"ALL": true, "AND": true, "AS": true, "ASC": true, "BETWEEN": true, "BY": true, "CASE": true,
		"CHECK": true, "COLUMN": true, "CONSTRAINT": true, "CREATE": true, "CROSS": true, "DATABASE": true,
		"DEFAULT": true, "DELETE": true, "DESC": true, "DISTINCT": true, "DROP": true, "ELSE": true,
		"EXISTS": true, "FOREIGN": true, "FROM": true, "GRANT": true, "GROUP": true, "HAVING": true,
		"IN": true, "INDEX": true, "INNER": true, "INSERT": true, "INTO": true, "IS": true, "JOIN": true,
		"KEY": true, "LEFT": true, "LIKE": true, "LIMIT": true, "NOT": true, "NULL": true, "ON": true,
		"OR": true, "ORDER": true, "PRIMARY": true, "REFERENCES": true, "REPLACE": true, "RIGHT": true,
		"SELECT": true, "SET": true, "TABLE": true, "THEN": true, "TO": true, "UNION": true, "UNIQUE": true,
		"UPDATE": true, "USER": true, "USING": true, "VALUES": true, "WHEN": true, "WHERE": true, "WITH": true,
	}
)

// ValidateIdentifier rejects names that cannot be used unquoted as a table
// name in every supported dialect.
func ValidateIdentifier(name string) error {
	if len(name) > 63 {
		return fmt.Errorf("identifier %q is longer than 63 characters", name)
	}
	if !sqlIdentifierRegex.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	if reservedWords[strings.ToUpper(name)] {
		return fmt.Errorf("identifier %q is a reserved word", name)
	}
	return nil
}

// columns returns the record columns in output order.
func columns() []string {
	fields := pipeline.Fields()
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}
