// internal/output/excel.go
package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/valpere/ecomscrapexter/internal/pipeline"
)

// ExcelWriter accumulates rows in one sheet and saves the workbook on Close.
type ExcelWriter struct {
	mu       sync.Mutex
	file     *excelize.File
	filename string
	sheet    string
	row      int
}

// NewExcelWriter creates a workbook with a styled header row.
func NewExcelWriter(filename, sheet string) (*ExcelWriter, error) {
	if filename == "" {
		return nil, fmt.Errorf("excel output requires a filename")
	}
	if sheet == "" {
		sheet = DefaultTable
	}

	file := excelize.NewFile()
	if err := file.SetSheetName("Sheet1", sheet); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	w := &ExcelWriter{file: file, filename: filename, sheet: sheet, row: 1}
	if err := w.writeHeaders(); err != nil {
		file.Close()
		return nil, err
	}
	return w, nil
}

func (w *ExcelWriter) writeHeaders() error {
	cols := columns()
	headers := make([]interface{}, len(cols))
	for i, c := range cols {
		headers[i] = c
	}
	if err := w.file.SetSheetRow(w.sheet, "A1", &headers); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	style, err := w.file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 12},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(cols), 1)
	if err != nil {
		return err
	}
	if err := w.file.SetCellStyle(w.sheet, "A1", last, style); err != nil {
		return err
	}
	if err := w.file.SetPanes(w.sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	w.row = 2
	return nil
}

// Write appends one row per record.
func (w *ExcelWriter) Write(_ context.Context, records []pipeline.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, r := range records {
		values := r.Values()
		row := make([]interface{}, len(values))
		for i, v := range values {
			row[i] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, w.row)
		if err != nil {
			return err
		}
		if err := w.file.SetSheetRow(w.sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", w.row, err)
		}
		w.row++
	}
	return nil
}

// Close saves the workbook.
func (w *ExcelWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if dir := filepath.Dir(w.filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(columns()))
	_ = w.file.SetColWidth(w.sheet, "A", lastCol, 24)

	if err := w.file.SaveAs(w.filename); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return w.file.Close()
}
