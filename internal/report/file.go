package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"seabench/benchmark-engine/pkg/types"
)

// JSONPublisher writes the full report document to
// <dir>/<execution id>.json.
type JSONPublisher struct {
	dir string
}

// NewJSONPublisher creates a JSON publisher writing into dir. An empty dir
// selects the current directory.
func NewJSONPublisher(dir string) *JSONPublisher {
	if dir == "" {
		dir = "."
	}
	return &JSONPublisher{dir: dir}
}

// Name returns the publisher name.
func (p *JSONPublisher) Name() string {
	return "json"
}

// Path returns the file the report for the given execution lands in.
func (p *JSONPublisher) Path(executionID string) string {
	return filepath.Join(p.dir, executionID+".json")
}

// Publish writes the report as an indented JSON document.
func (p *JSONPublisher) Publish(ctx context.Context, report *types.TestReport) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	file, err := os.Create(p.Path(report.ExecutionID))
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return file.Sync()
}

// Close is a no-op; files are closed per publish.
func (p *JSONPublisher) Close(ctx context.Context) error {
	return nil
}

// CSVPublisher writes the metrics table to <dir>/<execution id>.csv.
type CSVPublisher struct {
	dir string
}

// NewCSVPublisher creates a CSV publisher writing into dir. An empty dir
// selects the current directory.
func NewCSVPublisher(dir string) *CSVPublisher {
	if dir == "" {
		dir = "."
	}
	return &CSVPublisher{dir: dir}
}

// Name returns the publisher name.
func (p *CSVPublisher) Name() string {
	return "csv"
}

// Path returns the file the table for the given execution lands in.
func (p *CSVPublisher) Path(executionID string) string {
	return filepath.Join(p.dir, executionID+".csv")
}

// Publish writes the metrics table with a header row.
func (p *CSVPublisher) Publish(ctx context.Context, report *types.TestReport) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	file, err := os.Create(p.Path(report.ExecutionID))
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(TableHeader()); err != nil {
		return err
	}
	for _, row := range MetricsTable(report) {
		if err := writer.Write([]string{row.Metric, row.Task, row.Value, row.Unit}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("writing report table: %w", err)
	}
	return file.Sync()
}

// Close is a no-op; files are closed per publish.
func (p *CSVPublisher) Close(ctx context.Context) error {
	return nil
}
