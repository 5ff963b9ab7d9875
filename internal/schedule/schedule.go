// Package schedule computes when each client of a task issues its requests.
// A schedule is a lazy per-client sequence of invocations: the worker pulls
// the next one, waits until its offset, runs the operation and records the
// outcome. Offsets are pure functions of the iteration index, so a schedule
// replays identically under a fake clock.
package schedule

import (
	"math"
	"time"

	"seabench/benchmark-engine/internal/workload"
	"seabench/benchmark-engine/pkg/types"
)

// Invocation is one scheduled request of one client.
type Invocation struct {
	// Offset is the scheduled issue time relative to the client's start.
	// Zero means issue immediately.
	Offset time.Duration
	// Kind is warmup or measurement.
	Kind types.SampleKind
	// Progress is the completed fraction of the schedule after this
	// invocation. HasProgress is false for schedules without a defined end.
	Progress    float64
	HasProgress bool
	// Iteration is the zero-based index within this client's schedule.
	Iteration int64
	// Params are the operation parameters for this request.
	Params map[string]any
}

// Option configures a schedule.
type Option func(*Schedule)

// WithClock injects the time source used for time-bound termination and
// warmup transitions. Tests feed a fake clock.
func WithClock(now func() time.Time) Option {
	return func(s *Schedule) {
		s.now = now
	}
}

// WithPacerRegistry overrides the registry used to resolve named pacers.
func WithPacerRegistry(registry *PacerRegistry) Option {
	return func(s *Schedule) {
		s.registry = registry
	}
}

// Schedule is the lazy invocation sequence for one client of one task.
// Not safe for concurrent use; each client unit owns its schedule.
type Schedule struct {
	task         *types.Task
	source       workload.Source
	pacer        Pacer
	registry     *PacerRegistry
	clientIndex  int
	totalClients int
	delay        time.Duration
	now          func() time.Time

	iteration  int64
	warmup     int64
	total      int64 // iteration bound including warmup; 0 when time-bound or unbounded
	sourceSize int64

	timeBound    bool
	warmupPeriod time.Duration
	duration     time.Duration // warmup plus measurement period; 0 means no time bound

	started   bool
	startTime time.Time
}

// New builds the schedule for one client of a task. The parameter source is
// partitioned for the client. Iteration counts apply per client; a task
// without explicit bounds is capped by a finite parameter source, or runs
// exactly once when the source is unbounded.
func New(task *types.Task, source workload.Source, clientIndex, totalClients int, opts ...Option) (*Schedule, error) {
	if task == nil {
		return nil, ErrNilTask
	}
	if source == nil {
		return nil, ErrNilSource
	}
	if totalClients <= 0 {
		totalClients = task.EffectiveClients()
	}
	if clientIndex < 0 || clientIndex >= totalClients {
		return nil, types.NewConfigurationError(
			"client index %d out of range for %d clients of task %q", clientIndex, totalClients, task.Name)
	}

	if task.IterationBound() && task.TimeBound() {
		return nil, types.NewConfigurationError(
			"task %q mixes iteration counts and time periods; choose one termination family", task.Name)
	}
	if rate, ok := task.Throughput(); ok && rate <= 0 {
		return nil, types.NewConfigurationError(
			"task %q has a non-positive target-throughput (%g)", task.Name, rate)
	}

	s := &Schedule{
		task:         task,
		clientIndex:  clientIndex,
		totalClients: totalClients,
		registry:     DefaultPacerRegistry,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	partitioned, err := source.Partition(clientIndex, totalClients)
	if err != nil {
		return nil, err
	}
	s.source = partitioned
	s.sourceSize = partitioned.Size()

	pacer, err := s.registry.PacerFor(task, totalClients)
	if err != nil {
		return nil, err
	}
	s.pacer = pacer

	ramp := task.RampUpTimePeriod.D()
	switch {
	case task.IterationBound():
		s.warmup = int64(task.WarmupIterations)
		measurement := int64(task.Iterations)
		if measurement == 0 {
			measurement = 1
		}
		s.total = s.warmup + measurement

	case task.TimeBound():
		s.timeBound = true
		s.warmupPeriod = task.WarmupTimePeriod.D()
		if task.TimePeriod > 0 {
			s.duration = s.warmupPeriod + task.TimePeriod.D()
		}
		if s.duration > 0 && ramp > s.duration {
			return nil, types.NewConfigurationError(
				"ramp-up of task %q (%s) exceeds its total duration (%s)", task.Name, ramp, s.duration)
		}

	case s.sourceSize > 0:
		s.total = s.sourceSize

	default:
		s.total = 1
	}

	// Client k of N delays its whole schedule by ramp*k/N, so the offered
	// load ramps linearly across the ramp period as clients join.
	s.delay = time.Duration(int64(ramp) * int64(clientIndex) / int64(totalClients))

	return s, nil
}

// Delay returns how long this client waits before its first invocation.
func (s *Schedule) Delay() time.Duration { return s.delay }

// Pacer returns the schedule's pacer so the worker can feed it request
// timings.
func (s *Schedule) Pacer() Pacer { return s.pacer }

// Task returns the scheduled task.
func (s *Schedule) Task() *types.Task { return s.task }

// ClientIndex returns the client this schedule belongs to.
func (s *Schedule) ClientIndex() int { return s.clientIndex }

// Bounded reports whether the schedule terminates on its own. Unbounded
// schedules run until externally cancelled or their parallel group
// completes.
func (s *Schedule) Bounded() bool {
	return s.total > 0 || s.duration > 0 || s.sourceSize > 0
}

// Next returns the next invocation, or nil when the schedule is exhausted.
// The first call starts the schedule clock; callers apply Delay before it.
func (s *Schedule) Next() (*Invocation, error) {
	if !s.started {
		s.started = true
		s.startTime = s.now()
	}

	// A finite parameter source caps every schedule shape.
	if s.sourceSize > 0 && s.iteration >= s.sourceSize {
		return nil, nil
	}

	if s.timeBound {
		return s.nextTimeBound()
	}
	return s.nextIterationBound()
}

func (s *Schedule) nextIterationBound() (*Invocation, error) {
	if s.iteration >= s.total {
		return nil, nil
	}

	params, err := s.source.Params(s.iteration)
	if err != nil {
		return nil, err
	}

	kind := types.SampleMeasurement
	if s.iteration < s.warmup {
		kind = types.SampleWarmup
	}

	inv := &Invocation{
		Offset:      s.pacer.OffsetAt(s.iteration),
		Kind:        kind,
		Progress:    float64(s.iteration+1) / float64(s.total),
		HasProgress: true,
		Iteration:   s.iteration,
		Params:      params,
	}
	s.iteration++
	return inv, nil
}

func (s *Schedule) nextTimeBound() (*Invocation, error) {
	elapsed := s.now().Sub(s.startTime)
	if s.duration > 0 && elapsed >= s.duration {
		return nil, nil
	}

	// An offset at or past the period would have the client sleep beyond the
	// period before the elapsed check could fire; the schedule is over.
	offset := s.pacer.OffsetAt(s.iteration)
	if s.duration > 0 && offset >= s.duration {
		return nil, nil
	}

	params, err := s.source.Params(s.iteration)
	if err != nil {
		return nil, err
	}

	kind := types.SampleMeasurement
	if elapsed < s.warmupPeriod {
		kind = types.SampleWarmup
	}

	inv := &Invocation{
		Offset:    offset,
		Kind:      kind,
		Iteration: s.iteration,
		Params:    params,
	}
	if s.duration > 0 {
		inv.Progress = math.Min(elapsed.Seconds()/s.duration.Seconds(), 1.0)
		inv.HasProgress = true
	}
	s.iteration++
	return inv, nil
}
