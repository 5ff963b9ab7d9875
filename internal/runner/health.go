package runner

import (
	"context"
	"encoding/json"
	"math"

	"seabench/benchmark-engine/internal/cluster"
	"seabench/benchmark-engine/pkg/logger"
	"seabench/benchmark-engine/pkg/types"

	"github.com/valyala/fasthttp"
)

// ClusterHealthRunner checks the cluster's health. The expectation comes
// from the request-params: wait_for_status sets the minimum acceptable
// status (without it any status passes) and the presence of
// wait_for_no_relocating_shards requires zero relocating shards. The
// check compares ordered statuses, so a green cluster satisfies a yellow
// expectation.
type ClusterHealthRunner struct{}

func (r *ClusterHealthRunner) Name() string { return "cluster-health" }

func (r *ClusterHealthRunner) Invoke(ctx context.Context, client Transport, params map[string]any) (*Result, error) {
	ctx, cancel, err := applyRequestTimeout(ctx, params)
	if err != nil {
		return nil, err
	}
	defer cancel()

	queryParams := requestParams(params)

	expectedStatus := cluster.HealthUnknown
	expectedRelocating := int64(math.MaxInt64)
	if want, ok := queryParams["wait_for_status"]; ok {
		expectedStatus = cluster.ParseHealth(want)
	}
	if _, ok := queryParams["wait_for_no_relocating_shards"]; ok {
		expectedRelocating = 0
	}

	path := "/_cluster/health"
	if index := stringParam(params, "index", ""); index != "" {
		path = "/_cluster/health/" + index
	}

	rsp, err := client.Do(ctx, &cluster.Request{
		Method: fasthttp.MethodGet,
		Path:   path,
		Params: queryParams,
	})
	if err != nil {
		return nil, err
	}
	// A timed out wait condition still answers with a usable body; other
	// error statuses do not.
	if rsp.IsError() && rsp.StatusCode != fasthttp.StatusRequestTimeout {
		return nil, newHTTPError(rsp)
	}

	var status cluster.HealthStatus
	if err := json.Unmarshal(rsp.Body, &status); err != nil {
		return nil, types.NewDataError("failed to parse cluster health response: %v", err)
	}

	success := status.Status.AtLeast(expectedStatus) && int64(status.RelocatingShards) <= expectedRelocating
	logger.L().Sugar().Infof("%s: expected status=[%s], actual status=[%s], relocating shards=[%d], success=[%v]",
		r.Name(), expectedStatus, status.Status, status.RelocatingShards, success)

	return &Result{
		Weight:  1,
		Unit:    "ops",
		Success: success,
		Meta: map[string]any{
			"cluster-status":    status.Status.String(),
			"relocating-shards": status.RelocatingShards,
		},
	}, nil
}
