package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"seabench/benchmark-engine/internal/runner"
	"seabench/benchmark-engine/internal/schedule"
	"seabench/benchmark-engine/internal/timing"
	"seabench/benchmark-engine/pkg/types"
)

// clientUnit consumes one client's schedule: wait for the scheduled offset,
// invoke the runner, derive a sample, decide whether to continue. Units are
// single goroutines owned by the engine; their sample buffers are flushed
// through the engine's publisher.
type clientUnit struct {
	engine     *Engine
	assignment *types.TaskAssignment
	allocation types.ClientAllocation

	task     *types.Task
	schedule *schedule.Schedule
	runner   runner.Runner

	// throttled selects the latency definition: a throttled client measures
	// against the scheduled issue time, an unthrottled one against the
	// actual issue time (making latency equal service time).
	throttled bool

	taskStart time.Time
	buffer    []*types.Sample

	consecutiveTransportFailures int
}

func (u *clientUnit) run(ctx context.Context) error {
	u.engine.activeClients.Add(1)
	defer u.engine.activeClients.Add(-1)

	if err := u.rampUp(ctx); err != nil {
		u.finish(types.TaskStatusDone, nil)
		return nil
	}

	u.taskStart = u.engine.now()
	for {
		invocation, err := u.schedule.Next()
		if err != nil {
			u.finish(types.TaskStatusFailed, err)
			return err
		}
		if invocation == nil {
			u.finish(types.TaskStatusDone, nil)
			u.engine.unitCompleted(u)
			return nil
		}

		expected := u.taskStart.Add(invocation.Offset)
		proceed, err := u.waitUntil(ctx, expected)
		if err != nil || !proceed {
			u.finish(types.TaskStatusDone, nil)
			return nil
		}

		sample, err := u.executeOnce(ctx, invocation, expected)
		if sample != nil {
			u.record(sample)
		}
		if err != nil {
			if ctx.Err() != nil {
				u.finish(types.TaskStatusDone, nil)
				return nil
			}
			u.finish(types.TaskStatusFailed, err)
			return err
		}
		u.engine.iterations.Add(1)
	}
}

// rampUp waits out this client's share of the ramp-up period. A false-ish
// return via error just means the wait was interrupted.
func (u *clientUnit) rampUp(ctx context.Context) error {
	delay := u.schedule.Delay()
	if delay <= 0 {
		return nil
	}
	proceed, err := u.engine.sleep(ctx, u.completed(), delay)
	if err != nil {
		return err
	}
	if !proceed {
		return context.Canceled
	}
	return nil
}

// waitUntil blocks until the expected issue time. It returns false when the
// task was completed externally while waiting.
func (u *clientUnit) waitUntil(ctx context.Context, expected time.Time) (bool, error) {
	wait := expected.Sub(u.engine.now())
	if wait <= 0 {
		// Behind schedule; issue immediately and let latency show the lag.
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-u.completed():
			return false, nil
		default:
			return true, nil
		}
	}
	return u.engine.sleep(ctx, u.completed(), wait)
}

func (u *clientUnit) completed() <-chan struct{} {
	return u.engine.completeSignal()
}

// executeOnce issues one scheduled invocation and derives its sample.
//
// The outcome contract: a nil result with a nil error counts as one
// successful op. Failures from the cluster (transport errors and HTTP error
// statuses) become zero-weight failed samples under the continue policy and
// abort the task under the abort policy; repeated consecutive transport
// failures are fatal regardless of policy. Parameter and assertion errors
// always propagate, they indicate a broken workload rather than a broken
// cluster.
func (u *clientUnit) executeOnce(ctx context.Context, invocation *schedule.Invocation, expected time.Time) (*types.Sample, error) {
	params := invocation.Params
	if params == nil {
		params = make(map[string]any, 2)
	}
	op := u.task.Operation
	if len(op.Assertions) > 0 {
		params["assertions"] = op.Assertions
		params["name"] = u.operationName()
	}

	pacer := u.schedule.Pacer()
	processingStart := u.engine.now()
	pacer.BeforeRequest(processingStart)

	rc := timing.NewRequestContext()
	rctx := timing.WithContext(ctx, rc)
	rc.OnClientRequestStart(u.engine.now())
	result, invokeErr := u.runner.Invoke(rctx, u.engine.transport, params)
	rc.OnClientRequestEnd(u.engine.now())

	weight, unit, success := 1.0, "ops", true
	var meta map[string]any
	errorType, errorDescription := "", ""
	statusCode := 0
	var throughput *float64

	if result != nil {
		weight, unit, success = result.Weight, result.Unit, result.Success
		meta = result.Meta
		errorType = result.ErrorType
		errorDescription = result.ErrorDescription
		if rate, ok := numericMeta(meta, "throughput"); ok {
			throughput = &rate
		}
	}

	if invokeErr != nil {
		if ctx.Err() != nil {
			return nil, invokeErr
		}

		var httpErr *runner.HTTPError
		switch {
		case errors.As(invokeErr, &httpErr):
			// The cluster answered, so it is reachable.
			u.consecutiveTransportFailures = 0
			weight, unit, success = 0, "ops", false
			statusCode = httpErr.StatusCode
			errorType = "transport"
			errorDescription = httpErr.Error()

		case types.IsTransportError(invokeErr):
			u.consecutiveTransportFailures++
			weight, unit, success = 0, "ops", false
			errorType = "transport"
			errorDescription = invokeErr.Error()

		default:
			return nil, invokeErr
		}
	} else {
		u.consecutiveTransportFailures = 0
	}

	sample := u.deriveSample(invocation, rc, expected, processingStart)
	sample.Weight = weight
	sample.Unit = unit
	sample.Success = success
	sample.StatusCode = statusCode
	sample.ErrorType = errorType
	sample.ErrorDescription = errorDescription
	sample.Meta = meta
	sample.Throughput = throughput

	pacer.AfterRequest(u.engine.now(), weight, unit)

	if u.consecutiveTransportFailures >= u.engine.transportFailureLimit {
		return sample, types.NewFatalClusterError(fmt.Sprintf(
			"lost connection to the cluster (%d consecutive transport errors, last: %s)",
			u.consecutiveTransportFailures, errorDescription), invokeErr)
	}
	if !success && u.task.ErrorPolicyOrDefault() == types.ErrorPolicyAbort {
		return sample, types.NewBenchmarkError(types.ErrCodeTransport,
			fmt.Sprintf("Cannot run task [%s]: %s", u.task.Name, errorDescription), invokeErr)
	}
	return sample, nil
}

// deriveSample computes the timing dimensions of a completed invocation.
// Service time spans the request itself; latency additionally covers the
// wait behind the schedule on throttled tasks; processing time spans the
// whole client-side iteration.
func (u *clientUnit) deriveSample(invocation *schedule.Invocation, rc *timing.RequestContext, expected time.Time, processingStart time.Time) *types.Sample {
	boundaries, approximate := rc.Boundaries()
	end := boundaries.RequestEnd

	serviceTime := boundaries.ServiceTime()
	latency := serviceTime
	if u.throttled {
		latency = end.Sub(expected)
	}

	return &types.Sample{
		Task:           u.task.Name,
		Operation:      u.operationName(),
		OperationType:  u.task.Operation.Type,
		ClientID:       u.allocation.GlobalClientIndex,
		Timestamp:      end,
		RelativeTime:   end.Sub(u.engine.referenceTime()),
		TimePeriod:     end.Sub(u.taskStart),
		Kind:           invocation.Kind,
		ServiceTime:    serviceTime,
		Latency:        latency,
		ProcessingTime: u.engine.now().Sub(processingStart),
		Approximate:    approximate,
	}
}

func (u *clientUnit) operationName() string {
	if u.task.Operation.Name != "" {
		return u.task.Operation.Name
	}
	return u.task.Name
}

func (u *clientUnit) record(sample *types.Sample) {
	u.buffer = append(u.buffer, sample)
	if len(u.buffer) >= u.engine.flushEvery {
		u.flush(types.TaskStatusRunning, "")
	}
}

// flush hands the buffered samples to the publisher. Terminal statuses are
// published even with an empty buffer so the coordinator always sees one
// final message per client allocation.
func (u *clientUnit) flush(status types.TaskStatus, errorMessage string) {
	if len(u.buffer) == 0 && status == types.TaskStatusRunning {
		return
	}
	samples := u.buffer
	u.buffer = nil
	u.engine.publish(&types.TaskResultMessage{
		ExecutionID: u.assignment.ExecutionID,
		Step:        u.assignment.Step,
		TaskID:      u.task.Name,
		ClientID:    u.allocation.GlobalClientIndex,
		Samples:     samples,
		Status:      status,
		Error:       errorMessage,
	})
}

func (u *clientUnit) finish(status types.TaskStatus, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	u.flush(status, message)
}

func numericMeta(meta map[string]any, key string) (float64, bool) {
	if meta == nil {
		return 0, false
	}
	switch v := meta[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
