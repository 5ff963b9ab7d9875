package engine

import (
	"time"

	"seabench/benchmark-engine/pkg/output"
)

const collectInterval = 50 * time.Millisecond

var _ output.Output = &Ingester{}

// Ingester implements output.Output and feeds metric samples into the
// engine's sinks, so the live view rides the same pipeline as every
// configured output.
type Ingester struct {
	output.SampleBuffer

	engine  *Engine
	flusher *output.PeriodicFlusher
}

// Description identifies the ingester in logs.
func (in *Ingester) Description() string {
	return "live metrics ingester"
}

// Start begins periodic draining of buffered samples.
func (in *Ingester) Start() error {
	flusher, err := output.NewPeriodicFlusher(collectInterval, in.flush)
	if err != nil {
		return err
	}
	in.flusher = flusher
	return nil
}

// Stop drains any remaining samples and halts the flusher.
func (in *Ingester) Stop() error {
	if in.flusher != nil {
		in.flusher.Stop()
	}
	return nil
}

// SetRunStatus is part of output.Output; the ingester has no final flush
// behavior of its own.
func (in *Ingester) SetRunStatus(output.RunStatus) {}

func (in *Ingester) flush() {
	containers := in.GetBufferedSamples()
	if len(containers) == 0 {
		return
	}
	in.engine.ingest(containers)
}
