package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seabench/benchmark-engine/internal/coordinator"
	"seabench/benchmark-engine/pkg/types"
)

const submitYAML = `
name: geonames
test-procedures:
  - name: append-no-conflicts
    default: true
    schedule:
      - name: match-all
        operation:
          name: match-all
          operation-type: search
        clients: 1
        iterations: 10
`

// stubCoordinator scripts the coordinator behind the handlers.
type stubCoordinator struct {
	executions map[string]*types.ExecutionStatus
	reports    map[string]*types.TestReport
	submitted  []*coordinator.ExecutionRequest
	submitErr  error
	nextID     string
}

func newStubCoordinator() *stubCoordinator {
	return &stubCoordinator{
		executions: make(map[string]*types.ExecutionStatus),
		reports:    make(map[string]*types.TestReport),
		nextID:     "exec-1",
	}
}

func (s *stubCoordinator) Start(ctx context.Context) error { return nil }
func (s *stubCoordinator) Stop(ctx context.Context) error  { return nil }

func (s *stubCoordinator) Submit(ctx context.Context, request *coordinator.ExecutionRequest) (string, error) {
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.submitted = append(s.submitted, request)
	s.executions[s.nextID] = &types.ExecutionStatus{
		ExecutionID: s.nextID,
		State:       types.StateDispatching,
		Workload:    request.Workload.Name,
		StartTime:   time.Now(),
	}
	return s.nextID, nil
}

func (s *stubCoordinator) Status(ctx context.Context, executionID string) (*types.ExecutionStatus, error) {
	status, ok := s.executions[executionID]
	if !ok {
		return nil, types.NewNotFoundError("execution not found: %s", executionID)
	}
	return status, nil
}

func (s *stubCoordinator) Report(ctx context.Context, executionID string) (*types.TestReport, error) {
	report, ok := s.reports[executionID]
	if !ok {
		return nil, types.NewNotFoundError("no report yet for execution %s", executionID)
	}
	return report, nil
}

func (s *stubCoordinator) StopExecution(ctx context.Context, executionID string) error {
	status, ok := s.executions[executionID]
	if !ok {
		return types.NewNotFoundError("execution not found: %s", executionID)
	}
	if status.State.Terminal() {
		return types.NewConfigurationError("execution %s already finished", executionID)
	}
	status.State = types.StateFailed
	return nil
}

func (s *stubCoordinator) ListExecutions(ctx context.Context) ([]*types.ExecutionStatus, error) {
	out := make([]*types.ExecutionStatus, 0, len(s.executions))
	for _, status := range s.executions {
		out = append(out, status)
	}
	return out, nil
}

func (s *stubCoordinator) Workers(ctx context.Context) ([]*types.WorkerInfo, error) {
	return nil, nil
}

func newTestServer(t *testing.T, coord coordinator.Coordinator, registry coordinator.Registry) *Server {
	t.Helper()
	server := NewServer(coord, registry, &Config{
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		HeartbeatInterval: time.Second,
		Version:           "1.2.3",
	})
	t.Cleanup(server.hub.Close)
	return server
}

func decodeBody(t *testing.T, resp io.Reader, v any) {
	t.Helper()
	body, err := io.ReadAll(resp)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, v))
}

func TestHealthCheck(t *testing.T) {
	server := newTestServer(t, newStubCoordinator(), nil)

	for _, path := range []string{"/health", "/api/v1/health"} {
		req := httptest.NewRequest("GET", path, nil)
		resp, err := server.App().Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		var result HealthResponse
		decodeBody(t, resp.Body, &result)
		assert.Equal(t, "healthy", result.Status)
		assert.NotEmpty(t, result.Timestamp)
	}
}

func TestVersionInfo(t *testing.T) {
	server := newTestServer(t, newStubCoordinator(), nil)

	req := httptest.NewRequest("GET", "/api/v1/version", nil)
	resp, err := server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result VersionResponse
	decodeBody(t, resp.Body, &result)
	assert.Equal(t, "benchmark-engine", result.Name)
	assert.Equal(t, "1.2.3", result.Version)
}

func submitRequestBody(t *testing.T, req *SubmitRequest) *strings.Reader {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return strings.NewReader(string(data))
}

func TestSubmitBenchmark(t *testing.T) {
	coord := newStubCoordinator()
	server := newTestServer(t, coord, nil)

	body := submitRequestBody(t, &SubmitRequest{
		WorkloadYAML:  submitYAML,
		TestProcedure: "append-no-conflicts",
		Targets:       []string{"http://localhost:9200"},
		TestMode:      true,
	})
	req := httptest.NewRequest("POST", "/api/v1/benchmarks", body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var result SubmitResponse
	decodeBody(t, resp.Body, &result)
	assert.Equal(t, "exec-1", result.ExecutionID)
	assert.Equal(t, "geonames", result.Workload)
	assert.Equal(t, "submitted", result.Status)

	require.Len(t, coord.submitted, 1)
	submitted := coord.submitted[0]
	assert.Equal(t, "geonames", submitted.Workload.Name)
	assert.Equal(t, "append-no-conflicts", submitted.TestProcedure)
	assert.Equal(t, []string{"http://localhost:9200"}, submitted.Targets)
	assert.True(t, submitted.TestMode)
}

func TestSubmitBenchmarkValidation(t *testing.T) {
	server := newTestServer(t, newStubCoordinator(), nil)

	t.Run("missing workload yaml", func(t *testing.T) {
		body := submitRequestBody(t, &SubmitRequest{Targets: []string{"http://localhost:9200"}})
		req := httptest.NewRequest("POST", "/api/v1/benchmarks", body)
		req.Header.Set("Content-Type", "application/json")

		resp, err := server.App().Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

		var result ErrorResponse
		decodeBody(t, resp.Body, &result)
		assert.Equal(t, "invalid_request", result.Error)
	})

	t.Run("invalid workload yaml", func(t *testing.T) {
		body := submitRequestBody(t, &SubmitRequest{
			WorkloadYAML: "name: [broken",
			Targets:      []string{"http://localhost:9200"},
		})
		req := httptest.NewRequest("POST", "/api/v1/benchmarks", body)
		req.Header.Set("Content-Type", "application/json")

		resp, err := server.App().Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

		var result ErrorResponse
		decodeBody(t, resp.Body, &result)
		assert.Equal(t, "invalid_workload", result.Error)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/benchmarks", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")

		resp, err := server.App().Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}

func TestSubmitBenchmarkConflict(t *testing.T) {
	coord := newStubCoordinator()
	coord.submitErr = types.NewConfigurationError("another execution is already running")
	server := newTestServer(t, coord, nil)

	body := submitRequestBody(t, &SubmitRequest{
		WorkloadYAML: submitYAML,
		Targets:      []string{"http://localhost:9200"},
	})
	req := httptest.NewRequest("POST", "/api/v1/benchmarks", body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestSubmitBenchmarkNoWorkers(t *testing.T) {
	coord := newStubCoordinator()
	coord.submitErr = types.NewConfigurationError("no online workers to run the benchmark")
	server := newTestServer(t, coord, nil)

	body := submitRequestBody(t, &SubmitRequest{
		WorkloadYAML: submitYAML,
		Targets:      []string{"http://localhost:9200"},
	})
	req := httptest.NewRequest("POST", "/api/v1/benchmarks", body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGetExecution(t *testing.T) {
	coord := newStubCoordinator()
	coord.executions["exec-7"] = &types.ExecutionStatus{
		ExecutionID:    "exec-7",
		State:          types.StateAwaiting,
		Workload:       "geonames",
		TestProcedure:  "append-no-conflicts",
		CurrentTasks:   []string{"match-all"},
		CompletedTasks: 1,
		TotalTasks:     3,
		StartTime:      time.Now(),
		Snapshot: &types.LiveSnapshot{
			ActiveClients: 4,
			Throughput:    120.5,
		},
	}
	server := newTestServer(t, coord, nil)

	req := httptest.NewRequest("GET", "/api/v1/benchmarks/exec-7", nil)
	resp, err := server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result types.ExecutionStatus
	decodeBody(t, resp.Body, &result)
	assert.Equal(t, "exec-7", result.ExecutionID)
	assert.Equal(t, types.StateAwaiting, result.State)
	assert.Equal(t, []string{"match-all"}, result.CurrentTasks)
	require.NotNil(t, result.Snapshot)
	assert.Equal(t, int64(4), result.Snapshot.ActiveClients)
}

func TestGetExecutionNotFound(t *testing.T) {
	server := newTestServer(t, newStubCoordinator(), nil)

	req := httptest.NewRequest("GET", "/api/v1/benchmarks/nope", nil)
	resp, err := server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestStopExecution(t *testing.T) {
	coord := newStubCoordinator()
	coord.executions["exec-9"] = &types.ExecutionStatus{
		ExecutionID: "exec-9",
		State:       types.StateAwaiting,
	}
	server := newTestServer(t, coord, nil)

	req := httptest.NewRequest("DELETE", "/api/v1/benchmarks/exec-9", nil)
	resp, err := server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result SuccessResponse
	decodeBody(t, resp.Body, &result)
	assert.True(t, result.Success)
	assert.Equal(t, types.StateFailed, coord.executions["exec-9"].State)
}

func TestStopExecutionErrors(t *testing.T) {
	coord := newStubCoordinator()
	coord.executions["done"] = &types.ExecutionStatus{
		ExecutionID: "done",
		State:       types.StateDone,
	}
	server := newTestServer(t, coord, nil)

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest("DELETE", "/api/v1/benchmarks/nope", nil)
		resp, err := server.App().Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})

	t.Run("already finished", func(t *testing.T) {
		req := httptest.NewRequest("DELETE", "/api/v1/benchmarks/done", nil)
		resp, err := server.App().Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}

func TestListExecutions(t *testing.T) {
	coord := newStubCoordinator()
	coord.executions["a"] = &types.ExecutionStatus{ExecutionID: "a", State: types.StateDone}
	coord.executions["b"] = &types.ExecutionStatus{ExecutionID: "b", State: types.StateAwaiting}
	server := newTestServer(t, coord, nil)

	req := httptest.NewRequest("GET", "/api/v1/benchmarks", nil)
	resp, err := server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result ExecutionListResponse
	decodeBody(t, resp.Body, &result)
	assert.Equal(t, 2, result.Total)
	assert.Len(t, result.Executions, 2)
}

func TestGetReport(t *testing.T) {
	coord := newStubCoordinator()
	coord.reports["exec-5"] = &types.TestReport{
		ExecutionID: "exec-5",
		Workload:    "geonames",
		Status:      "success",
		Tasks: []*types.TaskReport{
			{Task: "match-all", Status: types.TaskStatusDone, Clients: 2},
		},
	}
	server := newTestServer(t, coord, nil)

	req := httptest.NewRequest("GET", "/api/v1/benchmarks/exec-5/report", nil)
	resp, err := server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result types.TestReport
	decodeBody(t, resp.Body, &result)
	assert.Equal(t, "exec-5", result.ExecutionID)
	assert.Equal(t, "success", result.Status)
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, "match-all", result.Tasks[0].Task)
}

func TestGetReportNotReady(t *testing.T) {
	server := newTestServer(t, newStubCoordinator(), nil)

	req := httptest.NewRequest("GET", "/api/v1/benchmarks/exec-5/report", nil)
	resp, err := server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	var result ErrorResponse
	decodeBody(t, resp.Body, &result)
	assert.Equal(t, "report_unavailable", result.Error)
}

func TestListWorkers(t *testing.T) {
	registry := coordinator.NewInMemoryRegistry()
	ctx := context.Background()
	require.NoError(t, registry.Register(ctx, &types.WorkerInfo{
		ID: "worker-1", Hostname: "host-a", Slots: 8, Version: "1.2.3",
	}))
	require.NoError(t, registry.Register(ctx, &types.WorkerInfo{
		ID: "worker-2", Hostname: "host-b", Slots: 4,
	}))
	server := newTestServer(t, newStubCoordinator(), registry)

	req := httptest.NewRequest("GET", "/api/v1/workers", nil)
	resp, err := server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result WorkerListResponse
	decodeBody(t, resp.Body, &result)
	assert.Equal(t, 2, result.Total)
	for _, worker := range result.Workers {
		assert.Equal(t, string(types.WorkerStateOnline), worker.State)
		assert.NotEmpty(t, worker.LastSeen)
	}
}

func TestListWorkersWithoutRegistry(t *testing.T) {
	server := newTestServer(t, newStubCoordinator(), nil)

	req := httptest.NewRequest("GET", "/api/v1/workers", nil)
	resp, err := server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result WorkerListResponse
	decodeBody(t, resp.Body, &result)
	assert.Equal(t, 0, result.Total)
}

func TestGetWorker(t *testing.T) {
	registry := coordinator.NewInMemoryRegistry()
	require.NoError(t, registry.Register(context.Background(), &types.WorkerInfo{
		ID: "worker-1", Hostname: "host-a", Slots: 8,
		Labels: map[string]string{"zone": "eu-1"},
	}))
	server := newTestServer(t, newStubCoordinator(), registry)

	req := httptest.NewRequest("GET", "/api/v1/workers/worker-1", nil)
	resp, err := server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result WorkerResponse
	decodeBody(t, resp.Body, &result)
	assert.Equal(t, "worker-1", result.ID)
	assert.Equal(t, "host-a", result.Hostname)
	assert.Equal(t, 8, result.Slots)
	assert.Equal(t, "eu-1", result.Labels["zone"])

	req = httptest.NewRequest("GET", "/api/v1/workers/ghost", nil)
	resp, err = server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", types.NewNotFoundError("execution not found: x"), fiber.StatusNotFound},
		{"configuration", types.NewConfigurationError("bad schedule"), fiber.StatusBadRequest},
		{"already running", types.NewConfigurationError("another execution is already running"), fiber.StatusConflict},
		{"precondition", types.NewPreconditionError("cluster health stayed red"), fiber.StatusConflict},
		{"other", io.ErrUnexpectedEOF, fiber.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusForError(tc.err))
		})
	}
}

func TestExtractExecutionID(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/api/v1/benchmarks/exec-42/stream", "exec-42"},
		{"/api/v1/benchmarks//stream", ""},
		{"/api/v1/benchmarks/stream", ""},
		{"/other", ""},
		{"", ""},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, extractExecutionID(tc.path), "path %q", tc.path)
	}
}
