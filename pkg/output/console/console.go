// Package console implements the console streaming output: it keeps running
// totals while samples flow and prints a compact summary when the run stops.
package console

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"seabench/benchmark-engine/pkg/metrics"
	"seabench/benchmark-engine/pkg/output"
)

func init() {
	output.Register("console", New)
}

// Output accumulates per-metric sinks and prints the summary on Stop.
type Output struct {
	params    output.Params
	registry  *metrics.Registry
	mu        sync.Mutex
	runStatus output.RunStatus

	iterations atomic.Int64
	errorCount atomic.Int64
	okCount    atomic.Int64
	startTime  time.Time
}

// New creates a console output.
func New(params output.Params) (output.Output, error) {
	return &Output{
		params:   params,
		registry: metrics.NewRegistry(),
	}, nil
}

// Description identifies the output.
func (o *Output) Description() string {
	return "console"
}

// Start records the start time.
func (o *Output) Start() error {
	o.startTime = time.Now()
	return nil
}

// Stop prints the final summary.
func (o *Output) Stop() error {
	o.printSummary()
	return nil
}

// AddMetricSamples folds a batch into the running totals.
func (o *Output) AddMetricSamples(containers []metrics.SampleContainer) {
	for _, container := range containers {
		for _, sample := range container.GetSamples() {
			switch sample.Metric.Name {
			case "iterations":
				o.iterations.Add(int64(sample.Value))
			case "errors":
				if sample.Value != 0 {
					o.errorCount.Add(1)
				} else {
					o.okCount.Add(1)
				}
			}

			m := o.registry.Get(sample.Metric.Name)
			if m == nil {
				m = o.registry.NewMetric(sample.Metric.Name, sample.Metric.Type, sample.Metric.Contains)
			}
			if m.Sink != nil {
				m.Sink.Add(sample)
			}
		}
	}
}

// SetRunStatus stores the final run outcome for the summary.
func (o *Output) SetRunStatus(status output.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runStatus = status
}

func (o *Output) printSummary() {
	duration := time.Since(o.startTime).Seconds()
	iterations := o.iterations.Load()
	errors := o.errorCount.Load()
	ok := o.okCount.Load()
	total := errors + ok

	fmt.Println("\n========== benchmark summary ==========")
	fmt.Printf("duration:    %.2fs\n", duration)
	fmt.Printf("iterations:  %d\n", iterations)
	if total > 0 {
		fmt.Printf("requests:    %d (%d failed)\n", total, errors)
		fmt.Printf("error rate:  %.2f%%\n", float64(errors)/float64(total)*100)
	}
	if duration > 0 && iterations > 0 {
		fmt.Printf("rate:        %.2f/s\n", float64(iterations)/duration)
	}

	all := o.registry.All()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("\n---------- metrics ----------")
	for _, name := range names {
		m := all[name]
		if m.Sink == nil || m.Sink.IsEmpty() {
			continue
		}
		stats := m.Sink.Format(duration)
		keys := make([]string, 0, len(stats))
		for k := range stats {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Printf("\n%s:\n", name)
		for _, k := range keys {
			if m.Contains == metrics.Time {
				fmt.Printf("  %s: %.2fms\n", k, stats[k])
			} else {
				fmt.Printf("  %s: %.2f\n", k, stats[k])
			}
		}
	}
	fmt.Println("=======================================")
}

// GetStats exposes the running totals, used by the status endpoints.
func (o *Output) GetStats() map[string]interface{} {
	duration := time.Since(o.startTime).Seconds()
	iterations := o.iterations.Load()
	errors := o.errorCount.Load()
	ok := o.okCount.Load()
	total := errors + ok

	stats := map[string]interface{}{
		"duration":   duration,
		"iterations": iterations,
		"requests":   total,
		"errors":     errors,
		"error_rate": 0.0,
		"rate":       0.0,
	}

	if total > 0 {
		stats["error_rate"] = float64(errors) / float64(total) * 100
	}
	if duration > 0 {
		stats["rate"] = float64(iterations) / duration
	}

	return stats
}
