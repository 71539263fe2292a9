package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/emplan-api/internal/domain"
	"github.com/phrazzld/emplan-api/internal/events"
	"github.com/phrazzld/emplan-api/internal/metrics"
	"github.com/phrazzld/emplan-api/internal/store"
)

// SubmitRequest is a request to generate a plan.
type SubmitRequest struct {
	RequesterContact string          `json:"requester_contact" validate:"required,email,max=254"`
	SubjectName      string          `json:"subject_name" validate:"required,max=200"`
	InputPayload     json.RawMessage `json:"input_payload" validate:"required,json_document"`
	Secret           string          `json:"secret" validate:"required,min=8,plan_secret"`
}

// Submission acknowledges an accepted request.
type Submission struct {
	TaskID uuid.UUID         `json:"task_id"`
	Status domain.TaskStatus `json:"status"`
}

// SubmissionService accepts plan requests.
type SubmissionService interface {
	// Submit validates req and durably records it as a pending task.
	// Returns a *ValidationError when req is rejected; no task is created then.
	Submit(ctx context.Context, req SubmitRequest) (*Submission, error)
}

type submissionService struct {
	tasks    store.TaskStore
	validate *validator.Validate
	logger   *slog.Logger
	metrics  *metrics.Metrics
	events   events.Emitter
}

// NewSubmissionService creates a SubmissionService. m and emitter may be nil.
func NewSubmissionService(
	tasks store.TaskStore,
	logger *slog.Logger,
	m *metrics.Metrics,
	emitter events.Emitter,
) (SubmissionService, error) {
	if tasks == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "task store cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &submissionService{
		tasks:    tasks,
		validate: newValidator(),
		logger:   logger.With("component", "submission_service"),
		metrics:  m,
		events:   emitter,
	}, nil
}

func (s *submissionService) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, toValidationError(err, req)
	}

	task, err := domain.NewTask(req.RequesterContact, req.SubjectName, req.InputPayload, req.Secret)
	if err != nil {
		return nil, err
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return nil, verr
		}
		s.metrics.RecordStorageError("create")
		s.logger.ErrorContext(ctx, "failed to store task",
			"task_id", task.ID,
			"error", err)
		return nil, NewServiceError("submit", "failed to store task", err)
	}

	s.metrics.RecordSubmitted()
	events.Emit(ctx, s.events, events.New(events.TaskSubmitted, task.ID, ""))
	s.logger.InfoContext(ctx, "task submitted",
		"task_id", task.ID,
		"subject_name", task.SubjectName)

	return &Submission{TaskID: task.ID, Status: task.Status}, nil
}
