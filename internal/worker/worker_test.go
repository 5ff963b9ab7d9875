package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seabench/benchmark-engine/internal/cluster"
	"seabench/benchmark-engine/internal/config"
	"seabench/benchmark-engine/internal/runner"
	"seabench/benchmark-engine/pkg/types"
)

// collectingPublisher records every published message for inspection.
type collectingPublisher struct {
	mu       sync.Mutex
	messages []*types.TaskResultMessage
}

func (p *collectingPublisher) publish(msg *types.TaskResultMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
}

func (p *collectingPublisher) samples() []*types.Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*types.Sample
	for _, msg := range p.messages {
		out = append(out, msg.Samples...)
	}
	return out
}

func (p *collectingPublisher) terminalStatuses() map[int]types.TaskStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int]types.TaskStatus)
	for _, msg := range p.messages {
		if msg.Status != types.TaskStatusRunning {
			out[msg.ClientID] = msg.Status
		}
	}
	return out
}

func (p *collectingPublisher) ordered() []*types.TaskResultMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*types.TaskResultMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

func (p *collectingPublisher) terminalError(clientID int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range p.messages {
		if msg.ClientID == clientID && msg.Status == types.TaskStatusFailed {
			return msg.Error
		}
	}
	return ""
}

// opRunner is a scripted operation runner for engine tests.
type opRunner struct {
	mu      sync.Mutex
	calls   int
	results []*runner.Result
	errs    []error
	onCall  func(call int)
}

func (r *opRunner) Name() string { return "scripted-op" }

func (r *opRunner) Invoke(context.Context, runner.Transport, map[string]any) (*runner.Result, error) {
	r.mu.Lock()
	call := r.calls
	r.calls++
	onCall := r.onCall
	r.mu.Unlock()

	if onCall != nil {
		onCall(call)
	}

	i := call
	if len(r.errs) == 0 {
		return nil, nil
	}
	if i >= len(r.errs) {
		i = len(r.errs) - 1
	}
	var result *runner.Result
	if i < len(r.results) {
		result = r.results[i]
	}
	return result, r.errs[i]
}

func (r *opRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestEngine(t *testing.T, op runner.Runner, opts ...Option) (*Engine, *collectingPublisher) {
	t.Helper()
	registry := runner.NewRegistry()
	require.NoError(t, registry.Register("scripted-op", op))

	publisher := &collectingPublisher{}
	engine := New("worker-0", nil, registry, publisher.publish, opts...)
	return engine, publisher
}

func scriptedTask(clients, iterations int) *types.Task {
	return &types.Task{
		Name:       "engine-task",
		Clients:    clients,
		Iterations: iterations,
		Operation: &types.Operation{
			Name: "engine-op",
			Type: "scripted-op",
		},
	}
}

func assignmentFor(task *types.Task) *types.TaskAssignment {
	clients := task.EffectiveClients()
	allocations := make([]types.ClientAllocation, 0, clients)
	for i := 0; i < clients; i++ {
		allocations = append(allocations, types.ClientAllocation{
			Task:              task,
			ClientIndexInTask: i,
			GlobalClientIndex: i,
			TotalClients:      clients,
			Lane:              i,
		})
	}
	return &types.TaskAssignment{ExecutionID: "exec-1", Step: 1, Allocations: allocations}
}

func TestEngineStampsSamplesFromInjectedClock(t *testing.T) {
	instant := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	op := &opRunner{}
	engine, publisher := newTestEngine(t, op, WithClock(func() time.Time { return instant }))
	engine.SetReferenceTime(instant)

	require.NoError(t, engine.ExecuteAssignment(context.Background(), assignmentFor(scriptedTask(1, 2))))

	// Every boundary was stamped from the injected clock, so the frozen
	// instant shows up in the timestamps and all durations collapse to zero.
	samples := publisher.samples()
	require.Len(t, samples, 2)
	for _, s := range samples {
		assert.Equal(t, instant, s.Timestamp)
		assert.Zero(t, s.RelativeTime)
		assert.Zero(t, s.ServiceTime)
		assert.Zero(t, s.ProcessingTime)
	}
}

func TestEngineRunsEveryScheduledIteration(t *testing.T) {
	op := &opRunner{}
	engine, publisher := newTestEngine(t, op)

	task := scriptedTask(2, 3)
	task.WarmupIterations = 1

	require.NoError(t, engine.ExecuteAssignment(context.Background(), assignmentFor(task)))

	// 2 clients x (1 warmup + 3 measurement) iterations.
	samples := publisher.samples()
	require.Len(t, samples, 8)

	warmup, measurement := 0, 0
	perClient := map[int]int{}
	for _, s := range samples {
		switch s.Kind {
		case types.SampleWarmup:
			warmup++
		case types.SampleMeasurement:
			measurement++
		}
		perClient[s.ClientID]++

		assert.Equal(t, "engine-task", s.Task)
		assert.Equal(t, "engine-op", s.Operation)
		assert.Equal(t, "scripted-op", s.OperationType)
		assert.True(t, s.Success)
		assert.Equal(t, 1.0, s.Weight)
		assert.Equal(t, "ops", s.Unit)
		assert.False(t, s.Timestamp.IsZero())
		assert.GreaterOrEqual(t, s.TimePeriod, time.Duration(0))
	}
	assert.Equal(t, 2, warmup)
	assert.Equal(t, 6, measurement)
	assert.Equal(t, map[int]int{0: 4, 1: 4}, perClient)

	statuses := publisher.terminalStatuses()
	assert.Equal(t, map[int]types.TaskStatus{
		0: types.TaskStatusDone,
		1: types.TaskStatusDone,
	}, statuses)

	assert.Equal(t, int64(8), engine.Iterations())
	assert.Equal(t, 0, engine.ActiveClients())
}

func TestEngineUnthrottledLatencyEqualsServiceTime(t *testing.T) {
	op := &opRunner{}
	engine, publisher := newTestEngine(t, op)

	require.NoError(t, engine.ExecuteAssignment(context.Background(), assignmentFor(scriptedTask(1, 3))))

	for _, s := range publisher.samples() {
		assert.Equal(t, s.ServiceTime, s.Latency)
		// A scripted runner never marks wire-level boundaries, so the
		// service time is synthesized from the client span.
		assert.True(t, s.Approximate)
	}
}

func TestEngineThrottledLatencyIncludesScheduleWait(t *testing.T) {
	op := &opRunner{}
	engine, publisher := newTestEngine(t, op)

	rate := 200.0
	task := scriptedTask(1, 3)
	task.TargetThroughput = &rate

	require.NoError(t, engine.ExecuteAssignment(context.Background(), assignmentFor(task)))

	samples := publisher.samples()
	require.Len(t, samples, 3)
	for _, s := range samples {
		assert.GreaterOrEqual(t, s.Latency, s.ServiceTime)
	}
}

func TestEngineContinuePolicyRecordsFailedSamples(t *testing.T) {
	op := &opRunner{
		results: []*runner.Result{nil, nil, nil},
		errs: []error{
			&runner.HTTPError{StatusCode: 503, Description: "no master"},
			nil,
			nil,
		},
	}
	engine, publisher := newTestEngine(t, op)

	require.NoError(t, engine.ExecuteAssignment(context.Background(), assignmentFor(scriptedTask(1, 3))))

	samples := publisher.samples()
	require.Len(t, samples, 3)

	failed := samples[0]
	assert.False(t, failed.Success)
	assert.Equal(t, 0.0, failed.Weight)
	assert.Equal(t, 503, failed.StatusCode)
	assert.Equal(t, "transport", failed.ErrorType)
	assert.Contains(t, failed.ErrorDescription, "no master")

	assert.True(t, samples[1].Success)
	assert.True(t, samples[2].Success)
	assert.Equal(t, types.TaskStatusDone, publisher.terminalStatuses()[0])
}

func TestEngineAbortPolicyStopsTask(t *testing.T) {
	op := &opRunner{
		results: []*runner.Result{nil},
		errs:    []error{&runner.HTTPError{StatusCode: 500, Description: "boom"}},
	}
	engine, publisher := newTestEngine(t, op)

	task := scriptedTask(1, 5)
	task.OnError = types.ErrorPolicyAbort

	err := engine.ExecuteAssignment(context.Background(), assignmentFor(task))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot run task [engine-task]:")
	assert.Contains(t, err.Error(), "boom")

	// The failed request is still recorded before the abort.
	samples := publisher.samples()
	require.Len(t, samples, 1)
	assert.False(t, samples[0].Success)

	assert.Equal(t, types.TaskStatusFailed, publisher.terminalStatuses()[0])
	assert.Contains(t, publisher.terminalError(0), "Cannot run task")
	assert.Equal(t, 1, op.callCount())
}

func TestEngineConsecutiveTransportFailuresAreFatal(t *testing.T) {
	op := &opRunner{
		results: []*runner.Result{nil},
		errs:    []error{types.NewTransportError("connection refused", nil)},
	}
	engine, publisher := newTestEngine(t, op, WithTransportFailureLimit(3))

	err := engine.ExecuteAssignment(context.Background(), assignmentFor(scriptedTask(1, 10)))
	require.Error(t, err)
	assert.True(t, types.IsFatalClusterError(err))
	assert.Contains(t, err.Error(), "3 consecutive transport errors")

	// Continue policy recorded each failure until the limit tripped.
	assert.Len(t, publisher.samples(), 3)
	assert.Equal(t, types.TaskStatusFailed, publisher.terminalStatuses()[0])
}

func TestEngineTransportFailureCounterResets(t *testing.T) {
	op := &opRunner{
		results: []*runner.Result{nil, nil, nil, nil},
		errs: []error{
			types.NewTransportError("connection refused", nil),
			types.NewTransportError("connection refused", nil),
			nil,
			types.NewTransportError("connection refused", nil),
		},
	}
	engine, publisher := newTestEngine(t, op, WithTransportFailureLimit(3))

	require.NoError(t, engine.ExecuteAssignment(context.Background(), assignmentFor(scriptedTask(1, 4))))

	samples := publisher.samples()
	require.Len(t, samples, 4)
	assert.False(t, samples[0].Success)
	assert.False(t, samples[1].Success)
	assert.True(t, samples[2].Success)
	assert.False(t, samples[3].Success)
}

func TestEngineDataErrorsPropagate(t *testing.T) {
	op := &opRunner{
		results: []*runner.Result{nil},
		errs:    []error{types.NewDataError("Parameter source for operation 'scripted-op' did not provide the mandatory parameter 'body'. Add it to your parameter source and try again.")},
	}
	engine, publisher := newTestEngine(t, op)

	err := engine.ExecuteAssignment(context.Background(), assignmentFor(scriptedTask(1, 5)))
	require.Error(t, err)
	assert.True(t, types.IsDataError(err))

	// A broken workload produces no sample.
	assert.Empty(t, publisher.samples())
	assert.Equal(t, types.TaskStatusFailed, publisher.terminalStatuses()[0])
}

func TestEngineCompleteCurrentTask(t *testing.T) {
	op := &opRunner{}
	var engineRef atomic.Pointer[Engine]
	op.onCall = func(call int) {
		if call == 4 {
			engineRef.Load().CompleteCurrentTask()
		}
	}
	engine, publisher := newTestEngine(t, op)
	engineRef.Store(engine)

	err := engine.ExecuteAssignment(context.Background(), assignmentFor(scriptedTask(1, 1000000)))
	require.NoError(t, err)

	calls := op.callCount()
	assert.GreaterOrEqual(t, calls, 5)
	assert.Less(t, calls, 1000)
	assert.Equal(t, types.TaskStatusDone, publisher.terminalStatuses()[0])
}

func TestEngineCompletesParentEndsSiblings(t *testing.T) {
	op := &opRunner{}
	registry := runner.NewRegistry()
	require.NoError(t, registry.Register("scripted-op", op))

	publisher := &collectingPublisher{}
	engine := New("worker-0", nil, registry, publisher.publish)

	finite := scriptedTask(1, 3)
	finite.Name = "finishes-first"
	finite.CompletesParent = true

	unbounded := scriptedTask(1, 1000000)
	unbounded.Name = "runs-until-completed"

	assignment := &types.TaskAssignment{
		ExecutionID: "exec-1",
		Step:        1,
		Allocations: []types.ClientAllocation{
			{Task: finite, ClientIndexInTask: 0, GlobalClientIndex: 0, TotalClients: 2, Lane: 0},
			{Task: unbounded, ClientIndexInTask: 0, GlobalClientIndex: 1, TotalClients: 2, Lane: 1},
		},
	}

	require.NoError(t, engine.ExecuteAssignment(context.Background(), assignment))

	statuses := publisher.terminalStatuses()
	assert.Equal(t, types.TaskStatusDone, statuses[0])
	assert.Equal(t, types.TaskStatusDone, statuses[1])
	assert.Less(t, op.callCount(), 1000000)
}

func TestEngineSharedLaneRunsSequentially(t *testing.T) {
	op := &opRunner{}
	engine, publisher := newTestEngine(t, op)

	first := scriptedTask(1, 3)
	first.Name = "lane-first"
	second := scriptedTask(1, 3)
	second.Name = "lane-second"
	sibling := scriptedTask(1, 3)
	sibling.Name = "other-lane"

	// Three tasks capped to two lanes: the first lane queues two tasks,
	// the second lane runs one.
	assignment := &types.TaskAssignment{
		ExecutionID: "exec-1",
		Step:        1,
		Allocations: []types.ClientAllocation{
			{Task: first, ClientIndexInTask: 0, GlobalClientIndex: 0, TotalClients: 2, Lane: 0},
			{Task: sibling, ClientIndexInTask: 0, GlobalClientIndex: 1, TotalClients: 2, Lane: 1},
			{Task: second, ClientIndexInTask: 0, GlobalClientIndex: 2, TotalClients: 2, Lane: 0},
		},
	}

	require.NoError(t, engine.ExecuteAssignment(context.Background(), assignment))

	statuses := publisher.terminalStatuses()
	require.Len(t, statuses, 3)
	for client, status := range statuses {
		assert.Equal(t, types.TaskStatusDone, status, "client %d", client)
	}
	assert.Equal(t, 9, op.callCount())

	// The queued task must not publish anything before its lane
	// predecessor reported its terminal status.
	firstDone, secondStarted := -1, -1
	for i, msg := range publisher.ordered() {
		if msg.ClientID == 0 && msg.Status != types.TaskStatusRunning {
			firstDone = i
		}
		if msg.ClientID == 2 && secondStarted == -1 {
			secondStarted = i
		}
	}
	require.NotEqual(t, -1, firstDone)
	require.NotEqual(t, -1, secondStarted)
	assert.Greater(t, secondStarted, firstDone)
}

func TestEngineStopAbortsStep(t *testing.T) {
	op := &opRunner{}
	var engineRef atomic.Pointer[Engine]
	op.onCall = func(call int) {
		if call == 2 {
			engineRef.Load().Stop()
		}
	}
	engine, publisher := newTestEngine(t, op)
	engineRef.Store(engine)

	err := engine.ExecuteAssignment(context.Background(), assignmentFor(scriptedTask(1, 1000000)))
	require.NoError(t, err)

	assert.Less(t, op.callCount(), 1000000)
	assert.Equal(t, types.TaskStatusDone, publisher.terminalStatuses()[0])
}

func TestEngineTestMode(t *testing.T) {
	op := &opRunner{}
	engine, publisher := newTestEngine(t, op, WithTestMode(true))

	task := scriptedTask(2, 500)
	task.WarmupIterations = 50
	rate := 1.0
	task.TargetThroughput = &rate

	require.NoError(t, engine.ExecuteAssignment(context.Background(), assignmentFor(task)))

	// One unthrottled iteration per client, no warmup.
	samples := publisher.samples()
	require.Len(t, samples, 2)
	for _, s := range samples {
		assert.Equal(t, types.SampleMeasurement, s.Kind)
	}
}

func TestEngineRampUpDelaysClients(t *testing.T) {
	op := &opRunner{}
	engine, publisher := newTestEngine(t, op)

	task := scriptedTask(2, 1)
	task.RampUpTimePeriod = types.Duration(100 * time.Millisecond)

	require.NoError(t, engine.ExecuteAssignment(context.Background(), assignmentFor(task)))

	samples := publisher.samples()
	require.Len(t, samples, 2)
	for _, s := range samples {
		if s.ClientID == 1 {
			// The second of two clients starts halfway into the ramp.
			assert.GreaterOrEqual(t, s.RelativeTime, 50*time.Millisecond)
		}
	}
}

func TestEngineStreamsRunningBatches(t *testing.T) {
	op := &opRunner{}
	engine, publisher := newTestEngine(t, op, WithFlushEvery(2))

	require.NoError(t, engine.ExecuteAssignment(context.Background(), assignmentFor(scriptedTask(1, 5))))

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	running := 0
	for _, msg := range publisher.messages {
		if msg.Status == types.TaskStatusRunning {
			running++
			assert.Len(t, msg.Samples, 2)
			assert.Equal(t, "exec-1", msg.ExecutionID)
			assert.Equal(t, 1, msg.Step)
		}
	}
	assert.Equal(t, 2, running)
}

func TestEngineRejectsUnknownOperationType(t *testing.T) {
	engine, _ := newTestEngine(t, &opRunner{})

	task := scriptedTask(1, 1)
	task.Operation.Type = "no-such-op"

	err := engine.ExecuteAssignment(context.Background(), assignmentFor(task))
	require.Error(t, err)
	assert.True(t, types.IsNotFoundError(err))
}

func TestEngineWireTimingsWithRealTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"cluster_name":"bench"}`))
	}))
	defer srv.Close()

	client, err := cluster.New([]string{srv.URL}, config.DefaultClientOptions())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	registry := runner.NewRegistry()
	require.NoError(t, registry.RegisterDefaults())

	publisher := &collectingPublisher{}
	engine := New("worker-0", client, registry, publisher.publish)

	task := &types.Task{
		Name:       "probe",
		Iterations: 2,
		Operation: &types.Operation{
			Name:   "root-probe",
			Type:   "raw-request",
			Params: map[string]any{"path": "/"},
		},
	}

	require.NoError(t, engine.ExecuteAssignment(context.Background(), assignmentFor(task)))

	samples := publisher.samples()
	require.Len(t, samples, 2)
	for _, s := range samples {
		// The real transport marks wire boundaries, so nothing is synthesized.
		assert.False(t, s.Approximate)
		assert.Greater(t, s.ServiceTime, time.Duration(0))
		assert.GreaterOrEqual(t, s.ProcessingTime, s.ServiceTime)
	}
}
