package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/phrazzld/emplan-api/internal/api/shared"
	"github.com/phrazzld/emplan-api/internal/service"
)

// TaskHandler serves task submission and status requests.
type TaskHandler struct {
	submissions service.SubmissionService
	statuses    service.StatusService
	logger      *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(
	submissions service.SubmissionService,
	statuses service.StatusService,
	logger *slog.Logger,
) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		submissions: submissions,
		statuses:    statuses,
		logger:      logger.With("component", "task_handler"),
	}
}

// SubmitTask handles POST /api/tasks. It persists a pending task and returns
// 202 Accepted with the task ID; generation happens later on a worker.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			shared.RespondWithErrorAndLog(w, r, http.StatusRequestEntityTooLarge, "Request body too large", err)
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	submission, err := h.submissions.Submit(r.Context(), req)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit task")
		return
	}

	h.logger.InfoContext(r.Context(), "task accepted",
		slog.String("task_id", submission.TaskID.String()),
		slog.String("trace_id", shared.GetTraceID(r.Context())))
	w.Header().Set("Location", "/api/tasks/"+submission.TaskID.String())
	shared.RespondWithJSON(w, r, http.StatusAccepted, submission)
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	view, err := h.statuses.Status(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task status")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, view)
}
