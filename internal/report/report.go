package report

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"seabench/benchmark-engine/internal/config"
	"seabench/benchmark-engine/pkg/types"
)

// Publisher renders one finished test report to a destination.
type Publisher interface {
	// Name identifies the publisher in configuration and logs.
	Name() string

	// Publish renders the report.
	Publish(ctx context.Context, report *types.TestReport) error

	// Close releases any held resources.
	Close(ctx context.Context) error
}

// Factory creates a publisher from the report configuration.
type Factory func(cfg *config.ReportConfig) (Publisher, error)

// Registry maps publisher names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty publisher registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the given name.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return types.NewConfigurationError("report publisher already registered: %s", name)
	}
	r.factories[name] = factory
	return nil
}

// Create builds a publisher of the given type.
func (r *Registry) Create(name string, cfg *config.ReportConfig) (Publisher, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, types.NewConfigurationError(
			"unknown report format %q, available: %v", name, r.Names())
	}
	return factory(cfg)
}

// Names returns the registered publisher names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a publisher name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[name]
	return exists
}

// NewDefaultRegistry creates a registry with the built-in publishers.
func NewDefaultRegistry() (*Registry, error) {
	registry := NewRegistry()

	if err := registry.Register("console", func(cfg *config.ReportConfig) (Publisher, error) {
		return NewConsolePublisher(nil), nil
	}); err != nil {
		return nil, err
	}
	if err := registry.Register("json", func(cfg *config.ReportConfig) (Publisher, error) {
		return NewJSONPublisher(cfg.OutputDir), nil
	}); err != nil {
		return nil, err
	}
	if err := registry.Register("csv", func(cfg *config.ReportConfig) (Publisher, error) {
		return NewCSVPublisher(cfg.OutputDir), nil
	}); err != nil {
		return nil, err
	}

	return registry, nil
}

// Manager fans one finished report out to every configured publisher.
type Manager struct {
	mu         sync.Mutex
	publishers []Publisher
}

// NewManager creates a manager over the given publishers.
func NewManager(publishers ...Publisher) *Manager {
	return &Manager{publishers: publishers}
}

// ManagerFromConfig builds a manager with one publisher per configured
// format.
func ManagerFromConfig(registry *Registry, cfg *config.ReportConfig) (*Manager, error) {
	manager := NewManager()
	for _, format := range cfg.Formats {
		publisher, err := registry.Create(format, cfg)
		if err != nil {
			return nil, err
		}
		manager.Add(publisher)
	}
	return manager, nil
}

// Add appends a publisher to the fan-out set.
func (m *Manager) Add(publisher Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishers = append(m.publishers, publisher)
}

// Publishers returns the current fan-out set.
func (m *Manager) Publishers() []Publisher {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Publisher(nil), m.publishers...)
}

// Publish sends the report to all publishers. Every publisher runs even
// when an earlier one fails; the errors are collected.
func (m *Manager) Publish(ctx context.Context, report *types.TestReport) error {
	if report == nil {
		return types.NewConfigurationError("cannot publish a nil report")
	}

	var errs []error
	for _, publisher := range m.Publishers() {
		if err := publisher.Publish(ctx, report); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", publisher.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publishing report: %v", errs)
	}
	return nil
}

// Close closes all publishers.
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	for _, publisher := range m.Publishers() {
		if err := publisher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", publisher.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing report publishers: %v", errs)
	}
	return nil
}

// Row is one line of the final metrics table.
type Row struct {
	Metric string
	Task   string
	Value  string
	Unit   string
}

// TableHeader returns the column captions of the metrics table.
func TableHeader() []string {
	return []string{"Metric", "Task", "Value", "Unit"}
}

// MetricsTable flattens the per-task statistics of a report into the rows
// of the final score table: throughput summary, the supported latency and
// service time percentiles, processing time when a transport measured it,
// and the error rate.
func MetricsTable(report *types.TestReport) []Row {
	var rows []Row
	for _, task := range report.Tasks {
		rows = append(rows, throughputRows(task)...)
		rows = append(rows, percentileRows("latency", task.Task, task.Latency)...)
		rows = append(rows, percentileRows("service time", task.Task, task.ServiceTime)...)
		rows = append(rows, percentileRows("processing time", task.Task, task.ProcessingTime)...)
		rows = append(rows, Row{
			Metric: "error rate",
			Task:   task.Task,
			Value:  fmt.Sprintf("%.2f", task.ErrorRate*100),
			Unit:   "%",
		})
	}
	return rows
}

func throughputRows(task *types.TaskReport) []Row {
	tp := task.Throughput
	if tp == nil {
		return nil
	}
	return []Row{
		{Metric: "Min Throughput", Task: task.Task, Value: fmt.Sprintf("%.2f", tp.Min), Unit: tp.Unit},
		{Metric: "Mean Throughput", Task: task.Task, Value: fmt.Sprintf("%.2f", tp.Mean), Unit: tp.Unit},
		{Metric: "Median Throughput", Task: task.Task, Value: fmt.Sprintf("%.2f", tp.Median), Unit: tp.Unit},
		{Metric: "Max Throughput", Task: task.Task, Value: fmt.Sprintf("%.2f", tp.Max), Unit: tp.Unit},
	}
}

func percentileRows(name, task string, dist *types.DistributionStats) []Row {
	if dist == nil {
		return nil
	}
	rows := make([]Row, 0, len(dist.Percentiles))
	for _, pv := range dist.Percentiles {
		rows = append(rows, Row{
			Metric: fmt.Sprintf("%sth percentile %s", formatPercentile(pv.Percentile), name),
			Task:   task,
			Value:  fmt.Sprintf("%.2f", pv.ValueMs),
			Unit:   "ms",
		})
	}
	return rows
}

func formatPercentile(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// Warnings derives the operator-facing warnings of a report: tasks with
// errors, tasks that produced no throughput numbers, and tasks whose
// sample set is incomplete.
func Warnings(report *types.TestReport) []string {
	var warnings []string
	for _, task := range report.Tasks {
		if task.ErrorRate > 0 {
			warnings = append(warnings, fmt.Sprintf(
				"Error rate is %.2f%% for operation '%s'. Please check the logs.",
				task.ErrorRate*100, task.Task))
		}
		if task.Throughput == nil {
			if task.ErrorRate > 0 {
				warnings = append(warnings, fmt.Sprintf(
					"No throughput metrics available for [%s]. Likely cause: Error rate is %.1f%%. Please check the logs.",
					task.Task, task.ErrorRate*100))
			} else {
				warnings = append(warnings, fmt.Sprintf(
					"No throughput metrics available for [%s]. Likely cause: The benchmark ended already during warmup.",
					task.Task))
			}
		}
		if task.Degraded {
			warnings = append(warnings, fmt.Sprintf(
				"Metrics for task '%s' are incomplete: %s.", task.Task, task.DegradedReason))
		}
	}
	return warnings
}
