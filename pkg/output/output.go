// Package output implements the streaming metric outputs fed by the live
// sample pipeline. Outputs see batched samples every flush interval and are
// independent of the final report publishers.
package output

import (
	"fmt"
	"strings"

	"seabench/benchmark-engine/pkg/metrics"
)

// Output is a streaming destination for metric samples.
type Output interface {
	// Description identifies the output in logs.
	Description() string

	// Start prepares the output for samples.
	Start() error

	// Stop flushes and releases the output.
	Stop() error

	// AddMetricSamples feeds one batch of sample containers.
	AddMetricSamples(samples []metrics.SampleContainer)

	// SetRunStatus passes the final run outcome before Stop.
	SetRunStatus(status RunStatus)
}

// RunStatus describes the finished run for the final output flush.
type RunStatus struct {
	Duration   float64 // seconds
	Iterations int64
	Clients    int
	Status     string // running, completed, failed, aborted
	Error      error
}

// Params configures a new output instance.
type Params struct {
	// OutputType is the registered name the output was created under.
	OutputType string

	// ConfigArgument is the part after "=" in an output spec, e.g. the URL
	// of "influxdb=http://localhost:8086".
	ConfigArgument string

	Logger Logger

	ExecutionID string
	Workload    string

	// Tags are attached to every emitted point.
	Tags map[string]string
}

// Logger is the printf-style logging seam outputs use. *zap.SugaredLogger
// satisfies it directly.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Factory creates an output from its parameters.
type Factory func(params Params) (Output, error)

var registry = make(map[string]Factory)

// Register makes an output type available by name. Called from init
// functions of the output packages; import pkg/output/all to register the
// built-in set.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// Get returns the factory registered under name.
func Get(name string) (Factory, bool) {
	f, ok := registry[name]
	return f, ok
}

// List returns the registered output type names.
func List() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// Create instantiates an output by type name.
func Create(outputType string, params Params) (Output, error) {
	factory, ok := Get(outputType)
	if !ok {
		return nil, &UnknownOutputError{Type: outputType}
	}
	params.OutputType = outputType
	return factory(params)
}

// ParseSpec splits an output spec of the form "type" or "type=argument".
func ParseSpec(spec string) (outputType, arg string) {
	if idx := strings.IndexByte(spec, '='); idx >= 0 {
		return spec[:idx], spec[idx+1:]
	}
	return spec, ""
}

// UnknownOutputError reports an unregistered output type.
type UnknownOutputError struct {
	Type string
}

func (e *UnknownOutputError) Error() string {
	return fmt.Sprintf("unknown output type: %s (registered: %s)", e.Type, strings.Join(List(), ", "))
}
