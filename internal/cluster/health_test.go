package cluster

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHealth(t *testing.T) {
	assert.Equal(t, HealthGreen, ParseHealth("green"))
	assert.Equal(t, HealthYellow, ParseHealth("Yellow"))
	assert.Equal(t, HealthRed, ParseHealth(" red "))
	assert.Equal(t, HealthUnknown, ParseHealth("purple"))
	assert.Equal(t, HealthUnknown, ParseHealth(""))
}

func TestHealth_Ordering(t *testing.T) {
	assert.True(t, HealthGreen.AtLeast(HealthYellow))
	assert.True(t, HealthYellow.AtLeast(HealthYellow))
	assert.False(t, HealthRed.AtLeast(HealthYellow))

	// Every status satisfies an unknown expectation.
	assert.True(t, HealthUnknown.AtLeast(HealthUnknown))
	assert.True(t, HealthRed.AtLeast(HealthUnknown))
	assert.True(t, HealthGreen.AtLeast(HealthUnknown))
}

func TestHealth_String(t *testing.T) {
	assert.Equal(t, "green", HealthGreen.String())
	assert.Equal(t, "yellow", HealthYellow.String())
	assert.Equal(t, "red", HealthRed.String())
	assert.Equal(t, "unknown", HealthUnknown.String())
}

func TestHealthStatus_JSON(t *testing.T) {
	body := `{
		"cluster_name": "benchmark-target",
		"status": "yellow",
		"timed_out": false,
		"number_of_nodes": 3,
		"relocating_shards": 2
	}`

	var status HealthStatus
	require.NoError(t, json.Unmarshal([]byte(body), &status))

	assert.Equal(t, "benchmark-target", status.ClusterName)
	assert.Equal(t, HealthYellow, status.Status)
	assert.False(t, status.TimedOut)
	assert.Equal(t, 3, status.NumberOfNodes)
	assert.Equal(t, 2, status.RelocatingShards)

	data, err := json.Marshal(status.Status)
	require.NoError(t, err)
	assert.Equal(t, `"yellow"`, string(data))
}

func TestHealthStatus_JSON_NonStringStatus(t *testing.T) {
	// Error responses carry a numeric status field.
	var status HealthStatus
	err := json.Unmarshal([]byte(`{"error":"no such API","status":404}`), &status)
	assert.Error(t, err)
}
