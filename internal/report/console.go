package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"seabench/benchmark-engine/pkg/types"
)

const scoreBanner = `
------------------------------------------------------
                     FINAL SCORE
------------------------------------------------------
`

// ConsolePublisher renders the report as a human-readable summary with the
// metrics table in markdown pipe layout.
type ConsolePublisher struct {
	writer io.Writer
}

// NewConsolePublisher creates a console publisher. A nil writer selects
// stdout.
func NewConsolePublisher(w io.Writer) *ConsolePublisher {
	if w == nil {
		w = os.Stdout
	}
	return &ConsolePublisher{writer: w}
}

// Name returns the publisher name.
func (p *ConsolePublisher) Name() string {
	return "console"
}

// Publish writes the banner, the run summary, the metrics table and any
// warnings.
func (p *ConsolePublisher) Publish(ctx context.Context, report *types.TestReport) error {
	if _, err := fmt.Fprint(p.writer, scoreBanner); err != nil {
		return err
	}

	duration := report.EndTime.Sub(report.StartTime).Round(time.Second)
	fmt.Fprintf(p.writer, "\nWorkload:       %s\n", report.Workload)
	fmt.Fprintf(p.writer, "Test procedure: %s\n", report.TestProcedure)
	fmt.Fprintf(p.writer, "Status:         %s\n", report.Status)
	fmt.Fprintf(p.writer, "Duration:       %s\n", duration)
	if report.Error != "" {
		fmt.Fprintf(p.writer, "Error:          %s\n", report.Error)
	}
	fmt.Fprintln(p.writer)

	if err := writePipeTable(p.writer, TableHeader(), MetricsTable(report)); err != nil {
		return err
	}

	warnings := Warnings(report)
	if len(warnings) > 0 {
		fmt.Fprintln(p.writer)
		for _, warning := range warnings {
			fmt.Fprintf(p.writer, "[WARNING] %s\n", warning)
		}
	}
	return nil
}

// Close is a no-op; console output is unbuffered.
func (p *ConsolePublisher) Close(ctx context.Context) error {
	return nil
}

// writePipeTable renders rows as a right-aligned markdown pipe table.
func writePipeTable(w io.Writer, header []string, rows []Row) error {
	widths := make([]int, len(header))
	for i, caption := range header {
		widths[i] = len(caption)
	}
	cells := func(row Row) []string {
		return []string{row.Metric, row.Task, row.Value, row.Unit}
	}
	for _, row := range rows {
		for i, cell := range cells(row) {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	writeLine := func(values []string) error {
		parts := make([]string, len(values))
		for i, value := range values {
			parts[i] = fmt.Sprintf("%*s", widths[i], value)
		}
		_, err := fmt.Fprintf(w, "| %s |\n", strings.Join(parts, " | "))
		return err
	}

	if err := writeLine(header); err != nil {
		return err
	}
	separators := make([]string, len(header))
	for i := range header {
		separators[i] = strings.Repeat("-", widths[i]+1) + ":"
	}
	if _, err := fmt.Fprintf(w, "|%s|\n", strings.Join(separators, "|")); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writeLine(cells(row)); err != nil {
			return err
		}
	}
	return nil
}
