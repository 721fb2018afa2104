// internal/output/csv.go
package output

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/valpere/ecomscrapexter/internal/pipeline"
)

// CSVWriter writes records as CSV rows. The header is written once, when the
// file is empty.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter opens filename for appending.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	w := &CSVWriter{file: file, writer: csv.NewWriter(file)}
	if info.Size() == 0 {
		if err := w.writer.Write(columns()); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write headers: %w", err)
		}
		w.writer.Flush()
	}
	return w, nil
}

// Write appends one row per record.
func (w *CSVWriter) Write(_ context.Context, records []pipeline.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range records {
		if err := w.writer.Write(r.Values()); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.writer.Flush()
	return w.writer.Error()
}

// Close flushes and closes the file.
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
