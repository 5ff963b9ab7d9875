package output

import (
	"fmt"
	"strconv"
	"time"

	"seabench/benchmark-engine/pkg/metrics"
	"seabench/benchmark-engine/pkg/types"
)

// CreateOutputs builds outputs from "type" or "type=argument" specs. On any
// failure the outputs created so far are stopped before returning.
func CreateOutputs(specs []string, params Params) ([]Output, error) {
	outputs := make([]Output, 0, len(specs))

	for _, spec := range specs {
		outputType, arg := ParseSpec(spec)

		p := Params{
			OutputType:     outputType,
			ConfigArgument: arg,
			Logger:         params.Logger,
			ExecutionID:    params.ExecutionID,
			Workload:       params.Workload,
			Tags:           params.Tags,
		}

		out, err := Create(outputType, p)
		if err != nil {
			for _, o := range outputs {
				_ = o.Stop()
			}
			return nil, fmt.Errorf("failed to create output %s: %w", outputType, err)
		}
		outputs = append(outputs, out)
	}

	return outputs, nil
}

// SampleEmitter converts benchmark results into metric samples and pushes
// them onto the output channel. Sends never block; when the channel is full
// the sample is dropped rather than stalling a client.
type SampleEmitter struct {
	samplesChan chan metrics.SampleContainer
	registry    *metrics.Registry
	tags        map[string]string
}

// NewSampleEmitter creates an emitter with a private metric registry.
func NewSampleEmitter(samplesChan chan metrics.SampleContainer, tags map[string]string) *SampleEmitter {
	return &SampleEmitter{
		samplesChan: samplesChan,
		registry:    metrics.NewRegistry(),
		tags:        tags,
	}
}

// Emit sends a single sample for the named metric.
func (e *SampleEmitter) Emit(metricName string, metricType metrics.MetricType, valueType metrics.ValueType, value float64, tags map[string]string) {
	if e.samplesChan == nil {
		return
	}

	m := e.registry.Get(metricName)
	if m == nil {
		m = e.registry.NewMetric(metricName, metricType, valueType)
	}

	allTags := make(map[string]string)
	for k, v := range e.tags {
		allTags[k] = v
	}
	for k, v := range tags {
		allTags[k] = v
	}

	sample := metrics.Sample{
		Metric: m,
		Time:   time.Now(),
		Value:  value,
		Tags:   allTags,
	}

	select {
	case e.samplesChan <- metrics.Samples{sample}:
	default:
	}
}

// EmitCounter sends a counter sample.
func (e *SampleEmitter) EmitCounter(name string, value float64, tags map[string]string) {
	e.Emit(name, metrics.Counter, metrics.Default, value, tags)
}

// EmitGauge sends a gauge sample.
func (e *SampleEmitter) EmitGauge(name string, value float64, tags map[string]string) {
	e.Emit(name, metrics.Gauge, metrics.Default, value, tags)
}

// EmitRate sends a rate sample where a non-zero value counts as a hit.
func (e *SampleEmitter) EmitRate(name string, hit bool, tags map[string]string) {
	value := 0.0
	if hit {
		value = 1.0
	}
	e.Emit(name, metrics.Rate, metrics.Default, value, tags)
}

// EmitTrend sends a trend sample, typically a duration in milliseconds.
func (e *SampleEmitter) EmitTrend(name string, value float64, tags map[string]string) {
	e.Emit(name, metrics.Trend, metrics.Time, value, tags)
}

// EmitTiming sends a timing sample in milliseconds aggregated into an HDR
// histogram, so unbounded benchmark streams keep constant memory.
func (e *SampleEmitter) EmitTiming(name string, value float64, tags map[string]string) {
	e.Emit(name, metrics.Histogram, metrics.Time, value, tags)
}

// EmitBenchmarkSample fans one task sample out into the standard metric set:
// iteration count, service time, latency, processing time and the error rate,
// all tagged with task, operation, client and sample kind.
func (e *SampleEmitter) EmitBenchmarkSample(sample types.Sample) {
	tags := map[string]string{
		"task":      sample.Task,
		"operation": sample.Operation,
		"client":    strconv.Itoa(sample.ClientID),
		"kind":      sample.Kind.String(),
	}
	if sample.StatusCode != 0 {
		tags["status"] = strconv.Itoa(sample.StatusCode)
	}

	e.EmitCounter("iterations", sample.Weight, tags)
	e.EmitTiming("service_time", durationMillis(sample.ServiceTime), tags)
	e.EmitTiming("latency", durationMillis(sample.Latency), tags)
	if sample.ProcessingTime > 0 {
		e.EmitTiming("processing_time", durationMillis(sample.ProcessingTime), tags)
	}
	e.EmitRate("errors", !sample.Success, tags)
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
