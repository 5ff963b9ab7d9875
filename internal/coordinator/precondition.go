package coordinator

import (
	"context"
	"fmt"
	"time"

	"seabench/benchmark-engine/internal/cluster"
	"seabench/benchmark-engine/pkg/logger"
	"seabench/benchmark-engine/pkg/types"
)

// HealthProber reports cluster health. *cluster.Client satisfies it.
type HealthProber interface {
	Health(ctx context.Context, params map[string]string) (*cluster.HealthStatus, error)
}

// writeOperationTypes lists operation types that reshape the cluster and
// therefore require a green cluster before they start, unless the task
// overrides the precondition.
var writeOperationTypes = map[string]bool{
	"bulk":         true,
	"create-index": true,
	"delete-index": true,
	"force-merge":  true,
}

// RequiredHealth returns the cluster health a task demands before it runs.
// HealthUnknown means the task starts without waiting.
func RequiredHealth(task *types.Task) cluster.Health {
	if task == nil {
		return cluster.HealthUnknown
	}
	if task.PreconditionHealth != "" {
		return cluster.ParseHealth(task.PreconditionHealth)
	}
	if task.Operation != nil && writeOperationTypes[task.Operation.Type] {
		return cluster.HealthGreen
	}
	return cluster.HealthUnknown
}

// StepRequiredHealth returns the strictest health requirement across the
// tasks of one step.
func StepRequiredHealth(tasks []*types.Task) cluster.Health {
	want := cluster.HealthUnknown
	for _, task := range tasks {
		if required := RequiredHealth(task); required > want {
			want = required
		}
	}
	return want
}

// AwaitClusterHealth polls the cluster until it reports at least the wanted
// health. Each probe asks the cluster to wait server-side for the target
// status, so a healthy cluster answers on the first round trip. Probe
// failures are retried until the deadline; the cluster may be briefly
// unreachable while it recovers.
func AwaitClusterHealth(ctx context.Context, prober HealthProber, want cluster.Health, timeout, interval time.Duration) error {
	if want == cluster.HealthUnknown {
		return nil
	}

	log := logger.L().Sugar()
	params := map[string]string{
		"wait_for_status": want.String(),
		"timeout":         interval.String(),
	}

	deadline := time.Now().Add(timeout)
	last := "unknown"
	for {
		status, err := prober.Health(ctx, params)
		if err == nil && status.Status.AtLeast(want) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			last = fmt.Sprintf("probe failed: %v", err)
			log.Debugw("cluster health probe failed", "want", want.String(), "error", err)
		} else {
			last = status.Status.String()
			log.Debugw("cluster health below required status",
				"status", last,
				"want", want.String(),
				"relocating_shards", status.RelocatingShards)
		}

		if !time.Now().Before(deadline) {
			return types.NewPreconditionError(fmt.Sprintf(
				"cluster did not reach %s health within %s (last: %s)",
				want, timeout, last))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
