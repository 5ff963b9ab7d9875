package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seabench/benchmark-engine/pkg/types"
)

func TestUnthrottledPacer(t *testing.T) {
	pacer := NewUnthrottledPacer()

	for _, i := range []int64{0, 1, 100, 1 << 40} {
		assert.Equal(t, time.Duration(0), pacer.OffsetAt(i))
	}
}

func TestConstantThroughputPacer(t *testing.T) {
	pacer, err := NewConstantThroughputPacer(100, 4)
	require.NoError(t, err)

	assert.InDelta(t, 0.04, pacer.Interval().Seconds(), 1e-9)
	assert.Equal(t, time.Duration(0), pacer.OffsetAt(0))
	assert.InDelta(t, 1.0, pacer.OffsetAt(25).Seconds(), 1e-9)
}

func TestConstantThroughputPacer_SingleClient(t *testing.T) {
	pacer, err := NewConstantThroughputPacer(8, 1)
	require.NoError(t, err)

	for i := int64(0); i < 100; i++ {
		assert.InDelta(t, float64(i)/8.0, pacer.OffsetAt(i).Seconds(), 1e-9)
	}
}

func TestConstantThroughputPacer_InvalidTarget(t *testing.T) {
	_, err := NewConstantThroughputPacer(0, 1)
	require.Error(t, err)
	assert.True(t, types.IsConfigurationError(err))

	_, err = NewConstantThroughputPacer(-5, 1)
	require.Error(t, err)
}

func TestPacerRegistry_Defaults(t *testing.T) {
	registry := NewPacerRegistry()
	assert.Equal(t, []string{"constant-throughput", "unthrottled"}, registry.List())
}

func TestPacerRegistry_PacerFor(t *testing.T) {
	registry := NewPacerRegistry()

	plain := &types.Task{Name: "plain", Operation: &types.Operation{Type: "search"}}
	pacer, err := registry.PacerFor(plain, 1)
	require.NoError(t, err)
	assert.IsType(t, &UnthrottledPacer{}, pacer)

	paced := &types.Task{
		Name:             "paced",
		Operation:        &types.Operation{Type: "search"},
		TargetThroughput: throughput(50),
	}
	pacer, err = registry.PacerFor(paced, 2)
	require.NoError(t, err)
	assert.IsType(t, &ConstantThroughputPacer{}, pacer)
}

func TestPacerRegistry_ConstantThroughputRequiresTarget(t *testing.T) {
	registry := NewPacerRegistry()
	task := &types.Task{
		Name:      "untargeted",
		Operation: &types.Operation{Type: "search"},
		Schedule:  "constant-throughput",
	}

	_, err := registry.PacerFor(task, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no target-throughput")
}

// stepPacer spaces requests one second apart regardless of configuration.
type stepPacer struct {
	UnthrottledPacer
}

func (p *stepPacer) OffsetAt(i int64) time.Duration { return time.Duration(i) * time.Second }

func TestPacerRegistry_RegisterCustom(t *testing.T) {
	registry := NewPacerRegistry()
	registry.Register("step", func(task *types.Task, totalClients int) (Pacer, error) {
		return &stepPacer{}, nil
	})

	task := &types.Task{
		Name:      "stepped",
		Operation: &types.Operation{Type: "search"},
		Schedule:  "step",
	}

	pacer, err := registry.PacerFor(task, 1)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, pacer.OffsetAt(3))
}
