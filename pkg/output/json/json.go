// Package json implements a JSON Lines streaming output. Every sample becomes
// one JSON object on its own line, which keeps the file tail-able and lets
// downstream tooling stream-parse runs of any size.
package json

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"seabench/benchmark-engine/pkg/metrics"
	"seabench/benchmark-engine/pkg/output"
)

func init() {
	output.Register("json", New)
}

// Output writes metric samples to a file as JSON Lines.
type Output struct {
	params   output.Params
	file     *os.File
	writer   *bufio.Writer
	encoder  *json.Encoder
	mu       sync.Mutex
	filename string
}

// New creates a JSON output. The config argument is the target filename and
// defaults to a timestamped file in the working directory.
func New(params output.Params) (output.Output, error) {
	filename := params.ConfigArgument
	if filename == "" {
		filename = fmt.Sprintf("benchmark_%s.json", time.Now().Format("20060102_150405"))
	}
	return &Output{
		params:   params,
		filename: filename,
	}, nil
}

// Description identifies the output and its target file.
func (o *Output) Description() string {
	return fmt.Sprintf("json (%s)", o.filename)
}

// Start opens the target file for writing.
func (o *Output) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	file, err := os.Create(o.filename)
	if err != nil {
		return fmt.Errorf("failed to create json output file: %w", err)
	}

	o.file = file
	o.writer = bufio.NewWriter(file)
	o.encoder = json.NewEncoder(o.writer)
	return nil
}

// Stop flushes buffered lines and closes the file.
func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file == nil {
		return nil
	}

	_ = o.writer.Flush()
	return o.file.Close()
}

// AddMetricSamples appends one line per sample.
func (o *Output) AddMetricSamples(containers []metrics.SampleContainer) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.encoder == nil {
		return
	}

	for _, container := range containers {
		for _, sample := range container.GetSamples() {
			entry := map[string]interface{}{
				"type":   "Point",
				"metric": sample.Metric.Name,
				"data": map[string]interface{}{
					"time":  sample.Time.UnixMilli(),
					"value": sample.Value,
					"tags":  sample.Tags,
				},
			}
			if err := o.encoder.Encode(entry); err != nil && o.params.Logger != nil {
				o.params.Logger.Errorf("failed to write json sample: %v", err)
			}
		}
	}
}

// SetRunStatus appends a final status line before the output stops.
func (o *Output) SetRunStatus(status output.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.encoder == nil {
		return
	}

	entry := map[string]interface{}{
		"type": "RunStatus",
		"data": status,
	}
	if err := o.encoder.Encode(entry); err != nil && o.params.Logger != nil {
		o.params.Logger.Errorf("failed to write json run status: %v", err)
	}
}
