// Package workload loads and validates benchmark workload definitions and
// provides the parameter sources that feed operations during a run.
package workload

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"seabench/benchmark-engine/pkg/types"
)

// validConditions are the comparison operators allowed in assertions.
var validConditions = map[string]bool{
	"==": true,
	"!=": true,
	">":  true,
	">=": true,
	"<":  true,
	"<=": true,
}

// validHealthValues are the cluster states accepted as task preconditions.
var validHealthValues = map[string]bool{
	"green":  true,
	"yellow": true,
	"red":    true,
}

// Loader parses workload definitions from YAML and validates them.
type Loader struct {
	resolver *VariableResolver
	// baseDir anchors relative paths inside the workload, such as scripted
	// parameter source files. Set by ParseFile.
	baseDir string
}

// NewLoader creates a new Loader.
func NewLoader() *Loader {
	return &Loader{
		resolver: NewVariableResolver(),
	}
}

// WithResolver sets a custom variable resolver.
func (l *Loader) WithResolver(resolver *VariableResolver) *Loader {
	l.resolver = resolver
	return l
}

// WithBaseDir sets the directory against which relative paths inside the
// workload are resolved.
func (l *Loader) WithBaseDir(dir string) *Loader {
	l.baseDir = dir
	return l
}

// BaseDir returns the directory of the last parsed workload file.
func (l *Loader) BaseDir() string {
	return l.baseDir
}

// Parse parses a workload definition from bytes.
func (l *Loader) Parse(data []byte) (*types.Workload, error) {
	var workload types.Workload

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Strict mode: error on unknown fields

	if err := decoder.Decode(&workload); err != nil {
		return nil, l.wrapYAMLError(err)
	}

	if err := l.validate(&workload); err != nil {
		return nil, err
	}

	return &workload, nil
}

// ParseFile parses a workload definition from a file. Relative paths inside
// the workload resolve against the file's directory.
func (l *Loader) ParseFile(path string) (*types.Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewParseError(0, 0, fmt.Sprintf("failed to read file: %s", path), err)
	}
	l.baseDir = filepath.Dir(path)
	return l.Parse(data)
}

// wrapYAMLError converts a YAML error to a ParseError with line information.
func (l *Loader) wrapYAMLError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()
	line, column := extractLineColumn(errStr)
	message := cleanYAMLErrorMessage(errStr)

	return NewParseError(line, column, message, err)
}

// extractLineColumn attempts to extract line and column from a YAML error
// message.
func extractLineColumn(errStr string) (int, int) {
	var line, column int

	if idx := strings.Index(errStr, "line "); idx != -1 {
		fmt.Sscanf(errStr[idx:], "line %d", &line)
	}
	if idx := strings.Index(errStr, "column "); idx != -1 {
		fmt.Sscanf(errStr[idx:], "column %d", &column)
	}

	return line, column
}

// cleanYAMLErrorMessage creates a cleaner error message.
func cleanYAMLErrorMessage(errStr string) string {
	errStr = strings.TrimPrefix(errStr, "yaml: ")
	if len(errStr) > 0 {
		errStr = strings.ToUpper(errStr[:1]) + errStr[1:]
	}
	return errStr
}

// validate validates a parsed workload.
func (l *Loader) validate(w *types.Workload) error {
	if w.Name == "" {
		return NewValidationError("name", "workload name is required")
	}

	if len(w.TestProcedures) == 0 {
		return NewValidationError("test-procedures", "workload must define at least one test procedure")
	}

	procedureNames := make(map[string]bool)
	defaults := 0
	for i, proc := range w.TestProcedures {
		path := fmt.Sprintf("test-procedures[%d]", i)
		if proc.Name == "" {
			return NewValidationError(path+".name", "test procedure name is required")
		}
		if procedureNames[proc.Name] {
			return NewValidationError(path+".name", fmt.Sprintf("duplicate test procedure name: %s", proc.Name))
		}
		procedureNames[proc.Name] = true
		if proc.Default {
			defaults++
		}
		if err := l.validateProcedure(proc, path); err != nil {
			return err
		}
	}

	if defaults > 1 {
		return NewValidationError("test-procedures", "only one test procedure may be marked default")
	}

	return nil
}

// validateProcedure validates a single test procedure.
func (l *Loader) validateProcedure(proc *types.TestProcedure, path string) error {
	if len(proc.Schedule) == 0 {
		return NewValidationError(path+".schedule", "test procedure must have at least one task")
	}

	taskNames := make(map[string]bool)
	for i, node := range proc.Schedule {
		nodePath := fmt.Sprintf("%s.schedule[%d]", path, i)
		if node.Parallel != nil {
			if err := l.validateParallel(node.Parallel, taskNames, nodePath); err != nil {
				return err
			}
			continue
		}
		if node.Task == nil {
			return NewValidationError(nodePath, "schedule entry must be a task or a parallel group")
		}
		if node.Task.CompletesParent {
			return NewValidationError(nodePath+".completes-parent",
				"completes-parent is only valid inside a parallel group")
		}
		if err := l.validateTask(node.Task, taskNames, nodePath); err != nil {
			return err
		}
	}

	return nil
}

// validateParallel validates a parallel group.
func (l *Loader) validateParallel(par *types.Parallel, taskNames map[string]bool, path string) error {
	if len(par.Tasks) == 0 {
		return NewValidationError(path+".parallel.tasks", "parallel group must have at least one task")
	}

	if par.Clients < 0 {
		return NewValidationError(path+".parallel.clients", "clients must not be negative")
	}

	sum := 0
	for i, task := range par.Tasks {
		taskPath := fmt.Sprintf("%s.parallel.tasks[%d]", path, i)
		if err := l.validateTask(task, taskNames, taskPath); err != nil {
			return err
		}
		sum += task.EffectiveClients()
	}

	if par.Clients > sum {
		return NewValidationError(path+".parallel.clients",
			fmt.Sprintf("clients (%d) exceeds the sum of the member tasks' clients (%d)", par.Clients, sum))
	}

	return nil
}

// validateTask validates a single task.
func (l *Loader) validateTask(task *types.Task, taskNames map[string]bool, path string) error {
	if task.Name == "" {
		return NewValidationError(path+".name", "task name is required")
	}

	if taskNames[task.Name] {
		return NewValidationError(path+".name", fmt.Sprintf("duplicate task name: %s", task.Name))
	}
	taskNames[task.Name] = true

	if task.Operation == nil {
		return NewValidationError(path+".operation", "task operation is required")
	}
	if err := l.validateOperation(task.Operation, path+".operation"); err != nil {
		return err
	}

	if task.Clients < 0 {
		return NewValidationError(path+".clients", "clients must not be negative")
	}

	if task.WarmupIterations < 0 {
		return NewValidationError(path+".warmup-iterations", "warmup-iterations must not be negative")
	}
	if task.Iterations < 0 {
		return NewValidationError(path+".iterations", "iterations must not be negative")
	}
	if task.WarmupTimePeriod < 0 {
		return NewValidationError(path+".warmup-time-period", "warmup-time-period must not be negative")
	}
	if task.TimePeriod < 0 {
		return NewValidationError(path+".time-period", "time-period must not be negative")
	}
	if task.RampUpTimePeriod < 0 {
		return NewValidationError(path+".ramp-up-time-period", "ramp-up-time-period must not be negative")
	}

	// A task terminates either by iteration count or by elapsed time, never
	// both.
	if task.IterationBound() && task.TimeBound() {
		return NewValidationError(path,
			fmt.Sprintf("task '%s' mixes iteration counts and time periods; choose one", task.Name))
	}

	if rate, ok := task.Throughput(); ok && rate <= 0 {
		return NewValidationError(path+".target-throughput",
			fmt.Sprintf("target-throughput must be positive, got %g", rate))
	}

	// Ramping up offered load only makes sense when the warmup window is at
	// least as long as the ramp, otherwise measurement starts mid-ramp.
	if task.RampUpTimePeriod > 0 && task.WarmupTimePeriod < task.RampUpTimePeriod {
		return NewValidationError(path+".ramp-up-time-period",
			fmt.Sprintf("task '%s' needs a warmup-time-period of at least %s to cover the ramp-up",
				task.Name, task.RampUpTimePeriod))
	}

	if task.OnError != "" && task.OnError != types.ErrorPolicyContinue && task.OnError != types.ErrorPolicyAbort {
		return NewValidationError(path+".on-error",
			fmt.Sprintf("invalid on-error policy: %s (use continue or abort)", task.OnError))
	}

	if task.PreconditionHealth != "" && !validHealthValues[strings.ToLower(task.PreconditionHealth)] {
		return NewValidationError(path+".precondition-health",
			fmt.Sprintf("invalid precondition-health: %s (use green, yellow or red)", task.PreconditionHealth))
	}

	return nil
}

// validateOperation validates an operation definition.
func (l *Loader) validateOperation(op *types.Operation, path string) error {
	if op.Type == "" {
		return NewValidationError(path+".operation-type", "operation type is required")
	}

	for i, assertion := range op.Assertions {
		assertPath := fmt.Sprintf("%s.assertions[%d]", path, i)
		if assertion.Path == "" {
			return NewValidationError(assertPath+".path", "assertion path is required")
		}
		if !validConditions[assertion.Condition] {
			return NewValidationError(assertPath+".condition",
				fmt.Sprintf("invalid assertion condition: %s", assertion.Condition))
		}
	}

	return nil
}

// ResolveVariables resolves all variable references in the operation
// parameters of a workload. This modifies the workload in place.
func (l *Loader) ResolveVariables(w *types.Workload) error {
	for _, proc := range w.TestProcedures {
		for _, node := range proc.Schedule {
			for _, task := range node.Tasks() {
				if task.Operation == nil || task.Operation.Params == nil {
					continue
				}
				resolved, err := l.resolveMapVariables(task.Operation.Params)
				if err != nil {
					return err
				}
				task.Operation.Params = resolved
			}
		}
	}
	return nil
}

// resolveMapVariables resolves variables in a map recursively.
func (l *Loader) resolveMapVariables(m map[string]any) (map[string]any, error) {
	result := make(map[string]any)

	for k, v := range m {
		resolved, err := l.resolveValue(v)
		if err != nil {
			return nil, err
		}
		result[k] = resolved
	}

	return result, nil
}

// resolveValue resolves variables in a value recursively. A string that is
// exactly one variable reference keeps the referenced value's type, so
// numeric parameters survive substitution.
func (l *Loader) resolveValue(v any) (any, error) {
	switch val := v.(type) {
	case string:
		if !HasVariableReferences(val) {
			return val, nil
		}
		if refs := variablePattern.FindStringSubmatch(val); refs != nil && refs[0] == val {
			return l.resolver.Resolve(refs[1])
		}
		return l.resolver.ResolveString(val)

	case map[string]any:
		return l.resolveMapVariables(val)

	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			resolved, err := l.resolveValue(item)
			if err != nil {
				return nil, err
			}
			result[i] = resolved
		}
		return result, nil

	default:
		return v, nil
	}
}

// ApplyTestMode rewrites a workload so every task finishes quickly: one
// iteration instead of many, ten seconds instead of hours. Used by --test-mode
// to smoke-test a workload end to end before committing to a full run.
func ApplyTestMode(w *types.Workload) {
	for _, proc := range w.TestProcedures {
		for _, node := range proc.Schedule {
			for _, task := range node.Tasks() {
				if task.WarmupIterations > 1 {
					task.WarmupIterations = 1
				}
				if task.Iterations > 1 {
					task.Iterations = 1
				}
				if task.WarmupTimePeriod > 0 {
					task.WarmupTimePeriod = 0
				}
				if task.TimePeriod > types.Duration(10*time.Second) {
					task.TimePeriod = types.Duration(10 * time.Second)
				}
				task.RampUpTimePeriod = 0
			}
		}
	}
}
