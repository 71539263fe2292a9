package service

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/emplan-api/internal/domain"
	"github.com/phrazzld/emplan-api/internal/render"
	"github.com/phrazzld/emplan-api/internal/store"
)

// Artifact is a downloadable plan document.
type Artifact struct {
	TaskID uuid.UUID
	Name   string
	Data   []byte
}

// ArtifactService hands out the rendered plan of a completed task.
type ArtifactService interface {
	// Sealed returns the artifact exactly as stored. Only the task's secret
	// opens it.
	Sealed(ctx context.Context, id uuid.UUID) (*Artifact, error)

	// Open decrypts the artifact with secret and returns the Markdown document.
	Open(ctx context.Context, id uuid.UUID, secret string) (*Artifact, error)
}

type artifactService struct {
	tasks     store.TaskStore
	artifacts render.Store
	logger    *slog.Logger
}

// NewArtifactService creates an ArtifactService reading from artifacts.
func NewArtifactService(tasks store.TaskStore, artifacts render.Store, logger *slog.Logger) (ArtifactService, error) {
	if tasks == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "task store cannot be nil"}
	}
	if artifacts == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "artifact store cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &artifactService{
		tasks:     tasks,
		artifacts: artifacts,
		logger:    logger.With("component", "artifact_service"),
	}, nil
}

func (s *artifactService) Sealed(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	ref, err := s.artifactRef(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := s.read(ctx, id, ref)
	if err != nil {
		return nil, err
	}
	return &Artifact{TaskID: id, Name: filepath.Base(ref), Data: data}, nil
}

func (s *artifactService) Open(ctx context.Context, id uuid.UUID, secret string) (*Artifact, error) {
	if secret == "" {
		return nil, domain.NewValidationError("secret", "is required")
	}

	ref, err := s.artifactRef(ctx, id)
	if err != nil {
		return nil, err
	}

	sealed, err := s.read(ctx, id, ref)
	if err != nil {
		return nil, err
	}

	doc, err := render.Unseal(sealed, secret)
	if errors.Is(err, render.ErrInvalidArtifact) {
		s.logger.WarnContext(ctx, "artifact open rejected", "task_id", id)
		return nil, ErrInvalidSecret
	}
	if err != nil {
		return nil, NewServiceError("open_artifact", "failed to open artifact", err)
	}

	return &Artifact{
		TaskID: id,
		Name:   strings.TrimSuffix(filepath.Base(ref), ".sealed"),
		Data:   doc,
	}, nil
}

func (s *artifactService) artifactRef(ctx context.Context, id uuid.UUID) (string, error) {
	task, err := s.tasks.Get(ctx, id)
	if store.IsNotFoundError(err) {
		return "", ErrTaskNotFound
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to read task", "task_id", id, "error", err)
		return "", NewServiceError("artifact", "failed to read task", err)
	}

	if task.Status != domain.StatusCompleted || task.Result == nil || task.Result.ArtifactRef == "" {
		return "", ErrArtifactNotReady
	}
	return task.Result.ArtifactRef, nil
}

func (s *artifactService) read(ctx context.Context, id uuid.UUID, ref string) ([]byte, error) {
	data, err := s.artifacts.ReadArtifact(ctx, ref)
	if errors.Is(err, render.ErrArtifactNotFound) {
		s.logger.WarnContext(ctx, "artifact missing from storage", "task_id", id)
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to read artifact", "task_id", id, "error", err)
		return nil, NewServiceError("artifact", "failed to read artifact", err)
	}
	return data, nil
}
