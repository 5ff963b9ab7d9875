package rest

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"seabench/benchmark-engine/internal/coordinator"
	"seabench/benchmark-engine/internal/workload"
	"seabench/benchmark-engine/pkg/types"
)

// healthCheck handles GET /health.
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// versionInfo handles GET /api/v1/version.
func (s *Server) versionInfo(c *fiber.Ctx) error {
	return c.JSON(VersionResponse{
		Name:    "benchmark-engine",
		Version: s.config.Version,
	})
}

// submitBenchmark handles POST /api/v1/benchmarks.
func (s *Server) submitBenchmark(c *fiber.Ctx) error {
	var req SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "Failed to parse request body: " + err.Error(),
		})
	}

	if req.WorkloadYAML == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "'workload_yaml' must be provided",
		})
	}

	w, err := workload.NewLoader().Parse([]byte(req.WorkloadYAML))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_workload",
			Message: "Failed to parse workload: " + err.Error(),
		})
	}

	executionID, err := s.coordinator.Submit(c.Context(), &coordinator.ExecutionRequest{
		Workload:      w,
		TestProcedure: req.TestProcedure,
		Targets:       req.Targets,
		ClientOpts:    req.ClientOptions,
		TestMode:      req.TestMode,
	})
	if err != nil {
		return c.Status(statusForError(err)).JSON(ErrorResponse{
			Error:   "submission_failed",
			Message: "Failed to submit benchmark: " + err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(SubmitResponse{
		ExecutionID: executionID,
		Workload:    w.Name,
		Status:      "submitted",
	})
}

// listExecutions handles GET /api/v1/benchmarks.
func (s *Server) listExecutions(c *fiber.Ctx) error {
	statuses, err := s.coordinator.ListExecutions(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "list_failed",
			Message: "Failed to list executions: " + err.Error(),
		})
	}

	return c.JSON(ExecutionListResponse{
		Executions: statuses,
		Total:      len(statuses),
	})
}

// getExecution handles GET /api/v1/benchmarks/:id.
func (s *Server) getExecution(c *fiber.Ctx) error {
	executionID := c.Params("id")

	status, err := s.coordinator.Status(c.Context(), executionID)
	if err != nil {
		return c.Status(statusForError(err)).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "Execution not found: " + err.Error(),
		})
	}

	return c.JSON(status)
}

// stopExecution handles DELETE /api/v1/benchmarks/:id.
func (s *Server) stopExecution(c *fiber.Ctx) error {
	executionID := c.Params("id")

	if err := s.coordinator.StopExecution(c.Context(), executionID); err != nil {
		return c.Status(statusForError(err)).JSON(ErrorResponse{
			Error:   "stop_failed",
			Message: "Failed to stop execution: " + err.Error(),
		})
	}

	return c.JSON(SuccessResponse{
		Success: true,
		Message: "Execution stop requested",
	})
}

// getReport handles GET /api/v1/benchmarks/:id/report.
func (s *Server) getReport(c *fiber.Ctx) error {
	executionID := c.Params("id")

	report, err := s.coordinator.Report(c.Context(), executionID)
	if err != nil {
		return c.Status(statusForError(err)).JSON(ErrorResponse{
			Error:   "report_unavailable",
			Message: err.Error(),
		})
	}

	return c.JSON(report)
}

// listWorkers handles GET /api/v1/workers.
func (s *Server) listWorkers(c *fiber.Ctx) error {
	if s.registry == nil {
		return c.JSON(WorkerListResponse{Workers: []*WorkerResponse{}})
	}

	workers, err := s.registry.List(c.Context(), nil)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "list_failed",
			Message: "Failed to list workers: " + err.Error(),
		})
	}

	responses := make([]*WorkerResponse, len(workers))
	for i, worker := range workers {
		status, _ := s.registry.Status(c.Context(), worker.ID)
		responses[i] = toWorkerResponse(worker, status)
	}

	return c.JSON(WorkerListResponse{
		Workers: responses,
		Total:   len(responses),
	})
}

// getWorker handles GET /api/v1/workers/:id.
func (s *Server) getWorker(c *fiber.Ctx) error {
	workerID := c.Params("id")

	if s.registry == nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "Worker not found",
		})
	}

	worker, err := s.registry.Get(c.Context(), workerID)
	if err != nil {
		return c.Status(statusForError(err)).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "Worker not found: " + err.Error(),
		})
	}

	status, _ := s.registry.Status(c.Context(), workerID)
	return c.JSON(toWorkerResponse(worker, status))
}

// statusForError maps engine error classes to HTTP status codes. A second
// submission while a benchmark runs is a conflict, not a bad request.
func statusForError(err error) int {
	switch {
	case types.IsNotFoundError(err):
		return fiber.StatusNotFound
	case types.IsConfigurationError(err):
		if strings.Contains(err.Error(), "already running") {
			return fiber.StatusConflict
		}
		return fiber.StatusBadRequest
	case types.IsPreconditionError(err):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
