// Package types defines the core data structures for the benchmark engine.
package types

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Workload is the top-level bundle of test procedures against one dataset.
// Immutable once loaded; the coordinator owns it for the duration of a run.
type Workload struct {
	Name           string           `yaml:"name" json:"name"`
	Description    string           `yaml:"description,omitempty" json:"description,omitempty"`
	TestProcedures []*TestProcedure `yaml:"test-procedures" json:"test_procedures"`
}

// Procedure resolves a test procedure by name. An empty name selects the
// procedure flagged default, or the only one when a single procedure exists.
func (w *Workload) Procedure(name string) (*TestProcedure, error) {
	if name == "" {
		if len(w.TestProcedures) == 1 {
			return w.TestProcedures[0], nil
		}
		for _, p := range w.TestProcedures {
			if p.Default {
				return p, nil
			}
		}
		return nil, NewConfigurationError(
			"workload %q defines %d test procedures but none is marked default; specify one explicitly",
			w.Name, len(w.TestProcedures))
	}
	for _, p := range w.TestProcedures {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, NewNotFoundError("no test procedure named %q in workload %q", name, w.Name)
}

// TestProcedure is an ordered composition of task nodes representing one
// named benchmark scenario.
type TestProcedure struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Default     bool        `yaml:"default,omitempty" json:"default,omitempty"`
	Schedule    []*TaskNode `yaml:"schedule" json:"schedule"`
}

// TaskNode is one element of a test procedure schedule: either a single task
// or a parallel group. Exactly one of the two is set.
type TaskNode struct {
	Task     *Task     `json:"task,omitempty"`
	Parallel *Parallel `json:"parallel,omitempty"`
}

// Tasks returns the member tasks of the node in declaration order.
func (n *TaskNode) Tasks() []*Task {
	if n.Parallel != nil {
		return n.Parallel.Tasks
	}
	return []*Task{n.Task}
}

// Name labels the node for progress output.
func (n *TaskNode) Name() string {
	if n.Parallel != nil {
		names := ""
		for i, t := range n.Parallel.Tasks {
			if i > 0 {
				names += ","
			}
			names += t.Name
		}
		return fmt.Sprintf("parallel[%s]", names)
	}
	return n.Task.Name
}

// UnmarshalYAML decodes either the parallel form or a plain task.
func (n *TaskNode) UnmarshalYAML(value *yaml.Node) error {
	var probe struct {
		Parallel *Parallel `yaml:"parallel"`
	}
	if err := value.Decode(&probe); err == nil && probe.Parallel != nil {
		n.Parallel = probe.Parallel
		return nil
	}
	var task Task
	if err := value.Decode(&task); err != nil {
		return err
	}
	n.Task = &task
	return nil
}

// Parallel groups tasks that run concurrently. The group completes when all
// member tasks do, or when a member flagged completes-parent finishes.
type Parallel struct {
	Tasks []*Task `yaml:"tasks" json:"tasks"`
	// Clients caps the concurrent client units of the group. Zero means the
	// sum of the member tasks' clients, i.e. full concurrency.
	Clients int `yaml:"clients,omitempty" json:"clients,omitempty"`
}

// EffectiveClients returns the concurrency of the group.
func (p *Parallel) EffectiveClients() int {
	if p.Clients > 0 {
		return p.Clients
	}
	sum := 0
	for _, t := range p.Tasks {
		sum += t.EffectiveClients()
	}
	return sum
}
