package runner

import (
	"context"
	"strings"
	"time"

	"seabench/benchmark-engine/internal/cluster"
	"seabench/benchmark-engine/internal/timing"
	"seabench/benchmark-engine/pkg/types"
)

// SleepRunner waits for the duration parameter without touching the
// cluster. It marks the request span around the wait so the sample's
// service time reflects the sleep.
type SleepRunner struct{}

func (r *SleepRunner) Name() string { return "sleep" }

func (r *SleepRunner) Invoke(ctx context.Context, _ Transport, params map[string]any) (*Result, error) {
	if _, err := Mandatory(params, "duration", r.Name()); err != nil {
		return nil, err
	}
	duration, err := durationParam(params, "duration", 0)
	if err != nil {
		return nil, err
	}

	timing.MarkRequestStart(ctx, time.Now())
	err = sleepContext(ctx, duration)
	timing.MarkRequestEnd(ctx, time.Now())
	return nil, err
}

// RawRequestRunner issues an arbitrary request against the cluster. The
// path parameter is mandatory and must be absolute; method defaults to
// GET. Statuses listed in the ignore parameter do not count as errors.
type RawRequestRunner struct{}

func (r *RawRequestRunner) Name() string { return "raw-request" }

func (r *RawRequestRunner) Invoke(ctx context.Context, client Transport, params map[string]any) (*Result, error) {
	ctx, cancel, err := applyRequestTimeout(ctx, params)
	if err != nil {
		return nil, err
	}
	defer cancel()

	path, err := MandatoryString(params, "path", r.Name())
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(path, "/") {
		return nil, types.NewDataError("raw-request [%s] failed: the path parameter must begin with a '/'", path)
	}

	body, err := marshalBody(params["body"])
	if err != nil {
		return nil, err
	}

	rsp, err := client.Do(ctx, &cluster.Request{
		Method:  stringParam(params, "method", "GET"),
		Path:    path,
		Params:  requestParams(params),
		Headers: headerParams(params),
		Body:    body,
	})
	if err != nil {
		return nil, err
	}
	if rsp.IsError() && !ignoredStatus(params, rsp.StatusCode) {
		return nil, newHTTPError(rsp)
	}
	return nil, nil
}

// ignoredStatus reports whether the ignore parameter lists the status.
func ignoredStatus(params map[string]any, status int) bool {
	switch ignore := params["ignore"].(type) {
	case []any:
		for _, entry := range ignore {
			if code, ok := asInt(entry); ok && int(code) == status {
				return true
			}
		}
	case nil:
		return false
	default:
		if code, ok := asInt(ignore); ok {
			return int(code) == status
		}
	}
	return false
}
