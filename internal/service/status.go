package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/emplan-api/internal/domain"
	"github.com/phrazzld/emplan-api/internal/store"
)

// StatusService reports on submitted tasks. It never changes them.
type StatusService interface {
	// Status returns the current view of a task, or ErrTaskNotFound.
	Status(ctx context.Context, id uuid.UUID) (*domain.TaskView, error)
}

type statusService struct {
	tasks  store.TaskStore
	logger *slog.Logger
}

// NewStatusService creates a StatusService.
func NewStatusService(tasks store.TaskStore, logger *slog.Logger) (StatusService, error) {
	if tasks == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "task store cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &statusService{
		tasks:  tasks,
		logger: logger.With("component", "status_service"),
	}, nil
}

func (s *statusService) Status(ctx context.Context, id uuid.UUID) (*domain.TaskView, error) {
	task, err := s.tasks.Get(ctx, id)
	if store.IsNotFoundError(err) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to read task", "task_id", id, "error", err)
		return nil, NewServiceError("status", "failed to read task", err)
	}

	view := task.View()
	return &view, nil
}
