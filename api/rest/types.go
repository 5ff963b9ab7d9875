package rest

import (
	"time"

	"seabench/benchmark-engine/pkg/types"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SuccessResponse represents a generic success response.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// VersionResponse identifies the coordinator build.
type VersionResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SubmitRequest represents a benchmark submission.
type SubmitRequest struct {
	// WorkloadYAML is the workload document to run.
	WorkloadYAML string `json:"workload_yaml"`

	// TestProcedure selects a procedure by name; empty picks the default.
	TestProcedure string `json:"test_procedure,omitempty"`

	// Targets are the endpoints of the cluster under test.
	Targets []string `json:"targets"`

	// ClientOptions are forwarded to every worker's cluster client.
	ClientOptions map[string]any `json:"client_options,omitempty"`

	// TestMode forces single-iteration schedules for smoke runs.
	TestMode bool `json:"test_mode,omitempty"`
}

// SubmitResponse represents a benchmark submission response.
type SubmitResponse struct {
	ExecutionID string `json:"execution_id"`
	Workload    string `json:"workload"`
	Status      string `json:"status"`
}

// ExecutionListResponse represents a list of executions.
type ExecutionListResponse struct {
	Executions []*types.ExecutionStatus `json:"executions"`
	Total      int                      `json:"total"`
}

// WorkerResponse represents a registered worker and its current status.
type WorkerResponse struct {
	ID            string            `json:"id"`
	Hostname      string            `json:"hostname"`
	Address       string            `json:"address,omitempty"`
	Slots         int               `json:"slots"`
	Labels        map[string]string `json:"labels,omitempty"`
	Version       string            `json:"version,omitempty"`
	State         string            `json:"state,omitempty"`
	ActiveClients int               `json:"active_clients"`
	LastSeen      string            `json:"last_seen,omitempty"`
}

// WorkerListResponse represents the registered worker fleet.
type WorkerListResponse struct {
	Workers []*WorkerResponse `json:"workers"`
	Total   int               `json:"total"`
}

// formatTime formats a time.Time to RFC3339, empty for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// toWorkerResponse merges a worker's registration info and live status.
func toWorkerResponse(info *types.WorkerInfo, status *types.WorkerStatus) *WorkerResponse {
	if info == nil {
		return nil
	}

	resp := &WorkerResponse{
		ID:       info.ID,
		Hostname: info.Hostname,
		Address:  info.Address,
		Slots:    info.Slots,
		Labels:   info.Labels,
		Version:  info.Version,
	}

	if status != nil {
		resp.State = string(status.State)
		resp.ActiveClients = status.ActiveClients
		resp.LastSeen = formatTime(status.LastSeen)
	}

	return resp
}
