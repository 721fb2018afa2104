// internal/output/json.go
package output

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/valpere/ecomscrapexter/internal/pipeline"
)

// JSONLWriter appends one JSON object per line.
type JSONLWriter struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	encoder *json.Encoder
}

// NewJSONLWriter opens filename for appending, creating it if needed.
func NewJSONLWriter(filename string) (*JSONLWriter, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	buf := bufio.NewWriter(file)
	return &JSONLWriter{file: file, buf: buf, encoder: json.NewEncoder(buf)}, nil
}

// Write encodes records and flushes them to disk.
func (w *JSONLWriter) Write(_ context.Context, records []pipeline.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range records {
		if err := w.encoder.Encode(r); err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
	}
	return w.buf.Flush()
}

// Close flushes and closes the file.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
