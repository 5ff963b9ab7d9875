package workload

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"seabench/benchmark-engine/pkg/logger"
	"seabench/benchmark-engine/pkg/types"
)

// Source yields the request parameters for successive iterations of one
// client. Partition binds the source to a client before use; implementations
// with per-client state return a fresh instance. Size reports how many
// parameter sets the source can produce, 0 meaning unbounded.
type Source interface {
	Partition(clientIndex, totalClients int) (Source, error)
	Params(iteration int64) (map[string]any, error)
	Size() int64
}

// StaticSource replays the operation's declared params on every iteration.
type StaticSource struct {
	params map[string]any
}

// NewStaticSource creates a source that always returns the given params.
func NewStaticSource(params map[string]any) *StaticSource {
	return &StaticSource{params: params}
}

// Partition returns the source itself; static params carry no client state.
func (s *StaticSource) Partition(clientIndex, totalClients int) (Source, error) {
	return s, nil
}

// Params returns a copy of the params so runners can add derived keys
// without leaking them into later iterations.
func (s *StaticSource) Params(iteration int64) (map[string]any, error) {
	out := make(map[string]any, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out, nil
}

// Size reports the static source as unbounded; a task using it without an
// explicit bound runs exactly once per client.
func (s *StaticSource) Size() int64 { return 0 }

// scriptTimeout bounds a single params() call so a stuck script cannot hang
// a client goroutine.
const scriptTimeout = 10 * time.Second

// ScriptedSource generates parameters from a JavaScript program. The script
// must define a params(ctx) function returning an object, where ctx carries
// iteration, client, clients, params (the operation's declared params) and
// variables. It may declare a finite number of parameter sets through an
// optional size export, either a number or a function of ctx.
//
// The program is compiled once and shared across partitions; every partition
// runs its own VM because goja runtimes are not safe for concurrent use.
type ScriptedSource struct {
	name      string
	program   *goja.Program
	operation map[string]any
	variables map[string]any
	client    int
	clients   int

	vm   *goja.Runtime
	fn   goja.Callable
	size int64
	log  *zap.SugaredLogger
}

// NewScriptedSource compiles the script and binds a single-client instance.
// Partition derives per-client instances from it.
func NewScriptedSource(name, src string, operationParams, variables map[string]any) (*ScriptedSource, error) {
	program, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, NewParseError(0, 0, fmt.Sprintf("failed to compile parameter script %s: %v", name, err), err)
	}

	s := &ScriptedSource{
		name:      name,
		program:   program,
		operation: operationParams,
		variables: variables,
		clients:   1,
	}
	if err := s.bind(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewScriptedSourceFromFile reads and compiles a parameter script file.
func NewScriptedSourceFromFile(path string, operationParams, variables map[string]any) (*ScriptedSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewParseError(0, 0, fmt.Sprintf("failed to read parameter script: %s", path), err)
	}
	return NewScriptedSource(filepath.Base(path), string(data), operationParams, variables)
}

// Partition creates a fresh instance with its own VM for the given client.
func (s *ScriptedSource) Partition(clientIndex, totalClients int) (Source, error) {
	p := &ScriptedSource{
		name:      s.name,
		program:   s.program,
		operation: s.operation,
		variables: s.variables,
		client:    clientIndex,
		clients:   totalClients,
	}
	if err := p.bind(); err != nil {
		return nil, err
	}
	return p, nil
}

// bind creates the VM, runs the program and resolves the script's exports.
func (s *ScriptedSource) bind() error {
	s.log = logger.L().Sugar()

	vm := goja.New()
	s.setupConsole(vm)

	if _, err := vm.RunProgram(s.program); err != nil {
		return NewParseError(0, 0, fmt.Sprintf("parameter script %s failed: %v", s.name, err), err)
	}

	fn, ok := goja.AssertFunction(vm.Get("params"))
	if !ok {
		return NewValidationError("params",
			fmt.Sprintf("parameter script %s must define a params(ctx) function", s.name))
	}

	s.vm = vm
	s.fn = fn

	size, err := s.resolveSize(vm)
	if err != nil {
		return err
	}
	s.size = size
	return nil
}

// Params calls the script's params(ctx) function for one iteration.
func (s *ScriptedSource) Params(iteration int64) (map[string]any, error) {
	timer := time.AfterFunc(scriptTimeout, func() {
		s.vm.Interrupt("parameter script timed out")
	})
	defer timer.Stop()

	value, err := s.fn(goja.Undefined(), s.vm.ToValue(s.scriptContext(iteration)))
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			s.vm.ClearInterrupt()
			return nil, types.NewDataError("parameter script %s timed out after %s", s.name, scriptTimeout)
		}
		return nil, types.NewDataError("parameter script %s failed at iteration %d: %v", s.name, iteration, err)
	}

	exported := value.Export()
	params, ok := exported.(map[string]any)
	if !ok {
		return nil, types.NewDataError("parameter script %s must return an object, got %T", s.name, exported)
	}
	return params, nil
}

// Size returns the script's declared size, 0 when unbounded.
func (s *ScriptedSource) Size() int64 { return s.size }

// scriptContext builds the ctx object passed to the script.
func (s *ScriptedSource) scriptContext(iteration int64) map[string]any {
	return map[string]any{
		"iteration": iteration,
		"client":    s.client,
		"clients":   s.clients,
		"params":    s.operation,
		"variables": s.variables,
	}
}

// resolveSize reads the script's optional size export.
func (s *ScriptedSource) resolveSize(vm *goja.Runtime) (int64, error) {
	value := vm.Get("size")
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return 0, nil
	}

	if sizeFn, ok := goja.AssertFunction(value); ok {
		result, err := sizeFn(goja.Undefined(), vm.ToValue(s.scriptContext(0)))
		if err != nil {
			return 0, types.NewDataError("parameter script %s: size() failed: %v", s.name, err)
		}
		value = result
	}

	size := value.ToInteger()
	if size < 0 {
		return 0, types.NewDataError("parameter script %s: size must not be negative, got %d", s.name, size)
	}
	return size, nil
}

// setupConsole routes console output from the script to the engine log.
func (s *ScriptedSource) setupConsole(vm *goja.Runtime) {
	format := func(args []goja.Value) string {
		parts := make([]string, len(args))
		for i, arg := range args {
			parts[i] = formatScriptValue(arg)
		}
		return strings.Join(parts, " ")
	}

	console := vm.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value {
		s.log.Debugf("[%s] %s", s.name, format(call.Arguments))
		return goja.Undefined()
	})
	console.Set("info", func(call goja.FunctionCall) goja.Value {
		s.log.Infof("[%s] %s", s.name, format(call.Arguments))
		return goja.Undefined()
	})
	console.Set("warn", func(call goja.FunctionCall) goja.Value {
		s.log.Warnf("[%s] %s", s.name, format(call.Arguments))
		return goja.Undefined()
	})
	console.Set("error", func(call goja.FunctionCall) goja.Value {
		s.log.Errorf("[%s] %s", s.name, format(call.Arguments))
		return goja.Undefined()
	})
	vm.Set("console", console)
}

// formatScriptValue formats a script value for log output.
func formatScriptValue(val goja.Value) string {
	if val == nil || goja.IsUndefined(val) {
		return "undefined"
	}
	if goja.IsNull(val) {
		return "null"
	}

	exported := val.Export()
	switch v := exported.(type) {
	case string:
		return v
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Factory builds a parameter source for an operation. The variables map
// carries the merged per-run variables.
type Factory func(op *types.Operation, variables map[string]any) (Source, error)

// SourceRegistry manages named parameter source factories.
type SourceRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewSourceRegistry creates an empty registry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{
		factories: make(map[string]Factory),
	}
}

// Register registers a factory under a name.
// Returns an error if the name is empty or already taken.
func (r *SourceRegistry) Register(name string, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("cannot register nil parameter source factory")
	}
	if name == "" {
		return fmt.Errorf("parameter source name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("parameter source '%s' is already registered", name)
	}

	r.factories[name] = factory
	return nil
}

// MustRegister registers a factory and panics on error.
func (r *SourceRegistry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Unregister removes a factory from the registry.
func (r *SourceRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; !exists {
		return fmt.Errorf("parameter source '%s' is not registered", name)
	}

	delete(r.factories, name)
	return nil
}

// Has checks if a factory exists in the registry.
func (r *SourceRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[name]
	return exists
}

// Names returns the registered source names sorted.
func (r *SourceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SourceFor resolves the parameter source for an operation:
//   - empty or "static" selects the static source
//   - a name ending in .js loads a scripted source relative to baseDir
//   - anything else looks up a registered factory
func (r *SourceRegistry) SourceFor(op *types.Operation, baseDir string, variables map[string]any) (Source, error) {
	name := op.ParamSource

	switch {
	case name == "" || name == "static":
		return NewStaticSource(op.Params), nil

	case strings.HasSuffix(name, ".js"):
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		return NewScriptedSourceFromFile(path, op.Params, variables)

	default:
		r.mu.RLock()
		factory, exists := r.factories[name]
		r.mu.RUnlock()
		if !exists {
			available := strings.Join(r.Names(), ", ")
			if available == "" {
				available = "none"
			}
			return nil, types.NewNotFoundError(
				"no parameter source named %q for operation %q (registered: %s)",
				name, op.Name, available)
		}
		return factory(op, variables)
	}
}

// DefaultSourceRegistry is the global default parameter source registry.
var DefaultSourceRegistry = NewSourceRegistry()

// RegisterSource registers a factory in the default registry.
func RegisterSource(name string, factory Factory) error {
	return DefaultSourceRegistry.Register(name, factory)
}

// SourceFor resolves a source against the default registry.
func SourceFor(op *types.Operation, baseDir string, variables map[string]any) (Source, error) {
	return DefaultSourceRegistry.SourceFor(op, baseDir, variables)
}
