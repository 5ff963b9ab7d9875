package cluster

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Health is a cluster health status. The values are ordered so that
// comparisons like "at least yellow" work directly.
type Health int

const (
	HealthUnknown Health = iota
	HealthRed
	HealthYellow
	HealthGreen
)

// ParseHealth maps a status string to its Health value. Anything
// unrecognized is HealthUnknown.
func ParseHealth(s string) Health {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "red":
		return HealthRed
	case "yellow":
		return HealthYellow
	case "green":
		return HealthGreen
	default:
		return HealthUnknown
	}
}

func (h Health) String() string {
	switch h {
	case HealthRed:
		return "red"
	case HealthYellow:
		return "yellow"
	case HealthGreen:
		return "green"
	default:
		return "unknown"
	}
}

// AtLeast reports whether h meets or exceeds want. Every status meets
// HealthUnknown.
func (h Health) AtLeast(want Health) bool {
	return h >= want
}

// MarshalJSON renders the status string.
func (h Health) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON accepts the status string.
func (h *Health) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("health status must be a string: %w", err)
	}
	*h = ParseHealth(s)
	return nil
}

// HealthStatus is the relevant part of a _cluster/health response.
type HealthStatus struct {
	ClusterName      string `json:"cluster_name"`
	Status           Health `json:"status"`
	TimedOut         bool   `json:"timed_out"`
	NumberOfNodes    int    `json:"number_of_nodes"`
	RelocatingShards int    `json:"relocating_shards"`
}
