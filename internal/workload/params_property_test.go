package workload

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"pgregory.net/rapid"
)

// Whatever a runner does to the returned map, the next iteration must see
// the operation's declared params untouched.
func TestStaticSourceIterationIsolation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,8}`), 1, 5, rapid.ID[string]).Draw(t, "keys")
		declared := make(map[string]any, len(keys))
		for i, k := range keys {
			declared[k] = i
		}

		src := NewStaticSource(declared)
		first, err := src.Params(0)
		require.NoError(t, err)

		// Mutate the copy the way a runner would.
		first["derived"] = true
		delete(first, keys[0])

		second, err := src.Params(1)
		require.NoError(t, err)
		require.NotContains(t, second, "derived")
		for i, k := range keys {
			require.Equal(t, i, second[k])
		}
	})
}

// Every partition's script sees its own client identity and the shared
// totals, for any fleet shape and iteration.
func TestScriptedSourcePartitionContext(t *testing.T) {
	const script = `
function params(ctx) {
	return {
		iteration: ctx.iteration,
		client: ctx.client,
		clients: ctx.clients
	};
}
`
	rapid.Check(t, func(t *rapid.T) {
		totalClients := rapid.IntRange(1, 16).Draw(t, "clients")
		client := rapid.IntRange(0, totalClients-1).Draw(t, "client")
		iteration := rapid.Int64Range(0, 1<<40).Draw(t, "iteration")

		src, err := NewScriptedSource("ctx.js", script, nil, nil)
		require.NoError(t, err)

		part, err := src.Partition(client, totalClients)
		require.NoError(t, err)

		params, err := part.Params(iteration)
		require.NoError(t, err)
		require.EqualValues(t, iteration, params["iteration"])
		require.EqualValues(t, client, params["client"])
		require.EqualValues(t, totalClients, params["clients"])
	})
}

// Any schedule the loader accepts reports the task settings it was given;
// nothing is clamped, defaulted over, or lost between YAML and the task.
func TestLoaderRoundTripsTaskSettings(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		taskName := rapid.StringMatching(`[a-z][a-z0-9-]{0,15}`).Draw(t, "taskName")
		clients := rapid.IntRange(1, 64).Draw(t, "clients")
		iterations := rapid.IntRange(1, 100000).Draw(t, "iterations")
		warmup := rapid.IntRange(0, 1000).Draw(t, "warmup")
		throughput := rapid.Float64Range(0.5, 5000).Draw(t, "throughput")

		doc := map[string]any{
			"name": "generated",
			"test-procedures": []any{
				map[string]any{
					"name":    "proc",
					"default": true,
					"schedule": []any{
						map[string]any{
							"name": taskName,
							"operation": map[string]any{
								"name":           taskName + "-op",
								"operation-type": "search",
								"params":         map[string]any{"index": "logs"},
							},
							"clients":           clients,
							"iterations":        iterations,
							"warmup-iterations": warmup,
							"target-throughput": throughput,
						},
					},
				},
			},
		}
		data, err := yaml.Marshal(doc)
		require.NoError(t, err)

		workload, err := NewLoader().Parse(data)
		require.NoError(t, err)

		task := workload.TestProcedures[0].Schedule[0].Task
		require.NotNil(t, task)
		require.Equal(t, taskName, task.Name)
		require.Equal(t, clients, task.Clients)
		require.Equal(t, iterations, task.Iterations)
		require.Equal(t, warmup, task.WarmupIterations)
		require.True(t, task.IterationBound())

		rate, ok := task.Throughput()
		require.True(t, ok)
		require.InDelta(t, throughput, rate, 1e-9)
	})
}
