// internal/output/manager.go
package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/valpere/ecomscrapexter/internal/monitoring"
	"github.com/valpere/ecomscrapexter/internal/pipeline"
	"github.com/valpere/ecomscrapexter/internal/utils"
)

// NewWriter opens the sink described by cfg.
func NewWriter(ctx context.Context, cfg Config) (Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, utils.InvalidConfig(err.Error())
	}
	switch cfg.Format {
	case FormatJSONL:
		return asWriter(NewJSONLWriter(cfg.Path))
	case FormatCSV:
		return asWriter(NewCSVWriter(cfg.Path))
	case FormatExcel:
		return asWriter(NewExcelWriter(cfg.Path, cfg.Sheet))
	case FormatSQLite:
		return asWriter(NewSQLiteWriter(ctx, cfg.Path, cfg.Table, cfg.OnConflict))
	case FormatPostgreSQL:
		return asWriter(NewPostgreSQLWriter(ctx, cfg.DSN, cfg.Table, cfg.OnConflict))
	case FormatMySQL:
		return asWriter(NewMySQLWriter(ctx, cfg.DSN, cfg.Table, cfg.OnConflict))
	case FormatMongoDB:
		return asWriter(NewMongoDBWriter(ctx, cfg.DSN, cfg.Database, cfg.Collection, cfg.OnConflict))
	default:
		return nil, utils.InvalidConfig(fmt.Sprintf("unsupported output format: %s", cfg.Format))
	}
}

// asWriter keeps a failed constructor from yielding a non-nil Writer.
func asWriter[W Writer](w W, err error) (Writer, error) {
	if err != nil {
		return nil, err
	}
	return w, nil
}

type namedWriter struct {
	format string
	Writer
}

// Manager fans records out to every configured sink. A failing sink does
// not stop the others.
type Manager struct {
	writers []namedWriter
	metrics *monitoring.Metrics
	logger  *slog.Logger
}

// NewManager opens all sinks. Sinks opened before a failure are closed.
func NewManager(ctx context.Context, configs []Config, metrics *monitoring.Metrics, logger *slog.Logger) (*Manager, error) {
	m := &Manager{metrics: metrics, logger: utils.Component(logger, "output")}
	for _, cfg := range configs {
		w, err := NewWriter(ctx, cfg)
		if err != nil {
			_ = m.Close()
			return nil, utils.OutputFailure(fmt.Sprintf("open %s output", cfg.Format), err)
		}
		m.Add(string(cfg.Format), w)
	}
	return m, nil
}

// Add registers an already opened writer.
func (m *Manager) Add(format string, w Writer) {
	m.writers = append(m.writers, namedWriter{format: format, Writer: w})
}

// Len returns the number of sinks.
func (m *Manager) Len() int {
	return len(m.writers)
}

// Write sends records to every sink and joins their errors.
func (m *Manager) Write(ctx context.Context, records []pipeline.Record) error {
	if len(records) == 0 {
		return nil
	}
	var errs []error
	for _, w := range m.writers {
		if err := w.Write(ctx, records); err != nil {
			m.metrics.RecordOutputError(w.format)
			m.logger.Error("output write failed", "format", w.format, "records", len(records), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", w.format, err))
			continue
		}
		m.metrics.RecordWritten(w.format, len(records))
	}
	if err := errors.Join(errs...); err != nil {
		return utils.OutputFailure("write records", err)
	}
	return nil
}

// Close closes every sink.
func (m *Manager) Close() error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", w.format, err))
		}
	}
	return errors.Join(errs...)
}
