// internal/output/output_test.go
package output

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/valpere/ecomscrapexter/internal/pipeline"
	"github.com/valpere/ecomscrapexter/internal/utils"
)

func sampleRecords() []pipeline.Record {
	return []pipeline.Record{
		{Link: "https://shop.example/p/1", EAN: "3017620422003", Title: "Pate a tartiner", Price: "3.49", Breadcrumb: "Epicerie > Petit-dejeuner"},
		{Link: "https://shop.example/p/2", Title: "Lego City", Price: "19.99", ReviewRate: "4.5", ReviewCount: "12"},
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name        string
		identifier  string
		expectError bool
	}{
		{"valid identifier", "products", false},
		{"valid with numbers", "products_2024", false},
		{"starts with underscore", "_staging", false},
		{"empty string", "", true},
		{"starts with number", "1products", true},
		{"contains hyphen", "product-list", true},
		{"contains quote", "products\"; DROP", true},
		{"reserved word", "select", true},
		{"reserved word case", "Table", true},
		{"max length", strings.Repeat("a", 63), false},
		{"too long", strings.Repeat("a", 64), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.identifier)
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"jsonl with path", Config{Format: FormatJSONL, Path: "out.jsonl"}, false},
		{"csv without path", Config{Format: FormatCSV}, true},
		{"postgres with dsn", Config{Format: FormatPostgreSQL, DSN: "postgres://localhost/db"}, false},
		{"mysql without dsn", Config{Format: FormatMySQL}, true},
		{"mongodb without database", Config{Format: FormatMongoDB, DSN: "mongodb://localhost"}, true},
		{"mongodb complete", Config{Format: FormatMongoDB, DSN: "mongodb://localhost", Database: "shop"}, false},
		{"unknown format", Config{Format: "xml", Path: "out.xml"}, true},
		{"bad conflict strategy", Config{Format: FormatSQLite, Path: "out.db", OnConflict: "merge"}, true},
		{"custom table", Config{Format: FormatSQLite, Path: "out.db", Table: "catalog"}, false},
		{"reserved table", Config{Format: FormatSQLite, Path: "out.db", Table: "select"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewWriter_InvalidConfig(t *testing.T) {
	_, err := NewWriter(context.Background(), Config{Format: "pdf"})
	if !utils.IsCode(err, utils.ErrCodeInvalidConfig) {
		t.Fatalf("expected INVALID_CONFIG, got %v", err)
	}
}

func TestJSONLWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "products.jsonl")
	w, err := NewJSONLWriter(path)
	if err != nil {
		t.Fatalf("NewJSONLWriter() error = %v", err)
	}
	if err := w.Write(context.Background(), sampleRecords()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var got []pipeline.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r pipeline.Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("line %q is not JSON: %v", scanner.Text(), err)
		}
		got = append(got, r)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got))
	}
	if got[1].ReviewCount != "12" || got[0].EAN != "3017620422003" {
		t.Errorf("unexpected records: %+v", got)
	}
}

func TestCSVWriter_HeaderWrittenOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.csv")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		w, err := NewCSVWriter(path)
		if err != nil {
			t.Fatalf("NewCSVWriter() error = %v", err)
		}
		if err := w.Write(ctx, sampleRecords()[i:i+1]); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d rows", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(columns(), ",") {
		t.Errorf("header = %v", rows[0])
	}
	if rows[2][0] != "https://shop.example/p/2" {
		t.Errorf("second row link = %q", rows[2][0])
	}
}

func TestSQLiteWriter_ConflictStrategies(t *testing.T) {
	tests := []struct {
		name      string
		strategy  ConflictStrategy
		wantTitle string
		wantErr   bool
	}{
		{"ignore keeps first", ConflictIgnore, "Pate a tartiner", false},
		{"replace keeps last", ConflictReplace, "Renamed", false},
		{"error rejects duplicate", ConflictError, "Pate a tartiner", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "products.db")
			w, err := NewSQLiteWriter(ctx, path, "", tt.strategy)
			if err != nil {
				t.Fatalf("NewSQLiteWriter() error = %v", err)
			}
			defer w.Close()

			if err := w.Write(ctx, sampleRecords()); err != nil {
				t.Fatalf("first Write() error = %v", err)
			}
			dup := sampleRecords()[0]
			dup.Title = "Renamed"
			err = w.Write(ctx, []pipeline.Record{dup})
			if (err != nil) != tt.wantErr {
				t.Fatalf("second Write() error = %v, wantErr %v", err, tt.wantErr)
			}

			var count int
			if err := w.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&count); err != nil {
				t.Fatal(err)
			}
			if count != 2 {
				t.Errorf("row count = %d, want 2", count)
			}
			var title string
			row := w.DB().QueryRowContext(ctx, "SELECT title FROM products WHERE link = ?", dup.Link)
			if err := row.Scan(&title); err != nil {
				t.Fatal(err)
			}
			if title != tt.wantTitle {
				t.Errorf("title = %q, want %q", title, tt.wantTitle)
			}
		})
	}
}

func TestSQLiteWriter_EmptyFieldsAreNull(t *testing.T) {
	ctx := context.Background()
	w, err := NewSQLiteWriter(ctx, filepath.Join(t.TempDir(), "p.db"), "catalog", ConflictIgnore)
	if err != nil {
		t.Fatalf("NewSQLiteWriter() error = %v", err)
	}
	defer w.Close()

	if err := w.Write(ctx, sampleRecords()[1:]); err != nil {
		t.Fatal(err)
	}
	var ean sql.NullString
	if err := w.DB().QueryRowContext(ctx, "SELECT ean FROM catalog").Scan(&ean); err != nil {
		t.Fatal(err)
	}
	if ean.Valid {
		t.Errorf("expected NULL ean, got %q", ean.String)
	}
}

func TestSQLDialects_InsertStatements(t *testing.T) {
	cols := []string{"link", "title"}
	tests := []struct {
		name     string
		dialect  dialect
		strategy ConflictStrategy
		want     string
	}{
		{"sqlite ignore", sqliteDialect, ConflictIgnore, "INSERT OR IGNORE INTO [products] ([link], [title]) VALUES (?, ?)"},
		{"sqlite error", sqliteDialect, ConflictError, "INSERT INTO [products] ([link], [title]) VALUES (?, ?)"},
		{"postgres ignore", postgresDialect, ConflictIgnore, `INSERT INTO "products" ("link", "title") VALUES ($1, $2) ON CONFLICT (link) DO NOTHING`},
		{"postgres replace", postgresDialect, ConflictReplace, `INSERT INTO "products" ("link", "title") VALUES ($1, $2) ON CONFLICT (link) DO UPDATE SET "title" = EXCLUDED."title"`},
		{"mysql ignore", mysqlDialect, ConflictIgnore, "INSERT IGNORE INTO `products` (`link`, `title`) VALUES (?, ?)"},
		{"mysql replace", mysqlDialect, ConflictReplace, "INSERT INTO `products` (`link`, `title`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `title` = VALUES(`title`)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dialect.insert("products", cols, tt.strategy); got != tt.want {
				t.Errorf("insert() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestMySQLWriter_InvalidDSN(t *testing.T) {
	_, err := NewMySQLWriter(context.Background(), "not a dsn", "", ConflictIgnore)
	if err == nil || !strings.Contains(err.Error(), "invalid MySQL DSN") {
		t.Fatalf("expected DSN error, got %v", err)
	}
}

func TestExcelWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.xlsx")
	w, err := NewExcelWriter(path, "")
	if err != nil {
		t.Fatalf("NewExcelWriter() error = %v", err)
	}
	if err := w.Write(context.Background(), sampleRecords()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(DefaultTable)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "link" || rows[1][3] != "3.49" {
		t.Errorf("unexpected rows: %v", rows)
	}
}

type stubWriter struct {
	written int
	err     error
	closed  bool
}

func (s *stubWriter) Write(_ context.Context, records []pipeline.Record) error {
	if s.err != nil {
		return s.err
	}
	s.written += len(records)
	return nil
}

func (s *stubWriter) Close() error {
	s.closed = true
	return nil
}

func TestManager_FanOut(t *testing.T) {
	good := &stubWriter{}
	bad := &stubWriter{err: errors.New("disk full")}
	m := &Manager{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	m.Add("jsonl", good)
	m.Add("csv", bad)

	err := m.Write(context.Background(), sampleRecords())
	if !utils.IsCode(err, utils.ErrCodeOutputFailed) {
		t.Fatalf("expected OUTPUT_FAILED, got %v", err)
	}
	if !strings.Contains(err.Error(), "csv: disk full") {
		t.Errorf("error should name the failing sink: %v", err)
	}
	if good.written != 2 {
		t.Errorf("healthy sink received %d records, want 2", good.written)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !good.closed || !bad.closed {
		t.Error("every sink should be closed")
	}
}
