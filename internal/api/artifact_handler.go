package api

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/phrazzld/emplan-api/internal/api/shared"
	"github.com/phrazzld/emplan-api/internal/service"
)

// OpenArtifactRequest carries the secret chosen at submission.
type OpenArtifactRequest struct {
	Secret string `json:"secret"`
}

// ArtifactHandler serves the rendered plans of completed tasks.
type ArtifactHandler struct {
	artifacts service.ArtifactService
	logger    *slog.Logger
}

// NewArtifactHandler creates an ArtifactHandler.
func NewArtifactHandler(artifacts service.ArtifactService, logger *slog.Logger) *ArtifactHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactHandler{
		artifacts: artifacts,
		logger:    logger.With("component", "artifact_handler"),
	}
}

// DownloadArtifact handles GET /api/tasks/{id}/artifact. The body is the
// sealed file; planctl open or the open endpoint decrypt it.
func (h *ArtifactHandler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	artifact, err := h.artifacts.Sealed(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read plan")
		return
	}

	writeAttachment(w, "application/octet-stream", artifact)
}

// OpenArtifact handles POST /api/tasks/{id}/artifact/open. It decrypts the
// plan with the submitted secret and returns the Markdown document.
func (h *ArtifactHandler) OpenArtifact(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	var req OpenArtifactRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	artifact, err := h.artifacts.Open(r.Context(), taskID, req.Secret)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to open plan")
		return
	}

	h.logger.InfoContext(r.Context(), "artifact opened", slog.String("task_id", taskID.String()))
	writeAttachment(w, "text/markdown; charset=utf-8", artifact)
}

func writeAttachment(w http.ResponseWriter, contentType string, a *service.Artifact) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}

// artifactErrorMessage returns the client message for artifact errors, or ""
// when err is not one.
func artifactErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrArtifactNotReady):
		return "Plan is not ready"
	case errors.Is(err, service.ErrArtifactNotFound):
		return "Plan is no longer available"
	case errors.Is(err, service.ErrInvalidSecret):
		return "Secret does not open this plan"
	default:
		return ""
	}
}
