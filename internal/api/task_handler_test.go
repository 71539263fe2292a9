package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/emplan-api/internal/api"
	"github.com/phrazzld/emplan-api/internal/api/middleware"
	"github.com/phrazzld/emplan-api/internal/api/shared"
	"github.com/phrazzld/emplan-api/internal/domain"
	"github.com/phrazzld/emplan-api/internal/mocks"
	"github.com/phrazzld/emplan-api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const validBody = `{
	"requester_contact": "ops@acme.test",
	"subject_name": "Acme Manufacturing",
	"input_payload": {"organization_type": "factory", "primary_hazards": ["fire", "flood"]},
	"secret": "Plan-Secret-42"
}`

type testServer struct {
	tasks   *mocks.TaskStore
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	tasks := mocks.NewTaskStore()
	submissions, err := service.NewSubmissionService(tasks, discard, nil, nil)
	require.NoError(t, err)
	statuses, err := service.NewStatusService(tasks, discard)
	require.NoError(t, err)

	h := api.NewTaskHandler(submissions, statuses, discard)
	r := chi.NewRouter()
	r.Use(middleware.NewTraceMiddleware(discard))
	r.Post("/api/tasks", h.SubmitTask)
	r.Get("/api/tasks/{id}", h.GetTask)
	return &testServer{tasks: tasks, handler: r}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) shared.ErrorResponse {
	t.Helper()
	var body shared.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestSubmitTask_Accepted(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/tasks", validBody)
	require.Equal(t, http.StatusAccepted, w.Code)

	var sub struct {
		TaskID uuid.UUID `json:"task_id"`
		Status string    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))
	assert.NotEqual(t, uuid.Nil, sub.TaskID)
	assert.Equal(t, "pending", sub.Status)
	assert.Equal(t, "/api/tasks/"+sub.TaskID.String(), w.Header().Get("Location"))
	assert.NotEmpty(t, w.Header().Get(middleware.TraceIDHeader))

	stored, err := s.tasks.Get(t.Context(), sub.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.JSONEq(t, `{"organization_type":"factory","primary_hazards":["fire","flood"]}`, string(stored.InputPayload))
}

func TestSubmitTask_Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedError  string
		expectedField  string
	}{
		{
			name:           "malformed JSON",
			body:           `{"requester_contact":`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid request format",
		},
		{
			name:           "not an object",
			body:           `"hello"`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid request format",
		},
		{
			name:           "missing contact",
			body:           strings.Replace(validBody, `"ops@acme.test"`, `""`, 1),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "is required",
			expectedField:  "requester_contact",
		},
		{
			name:           "weak secret",
			body:           strings.Replace(validBody, `"Plan-Secret-42"`, `"plan-secret-42"`, 1),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "must contain at least one uppercase letter",
			expectedField:  "secret",
		},
		{
			name:           "null payload",
			body:           `{"requester_contact":"ops@acme.test","subject_name":"Acme","input_payload":null,"secret":"Plan-Secret-42"}`,
			expectedStatus: http.StatusBadRequest,
			expectedField:  "input_payload",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t)

			w := s.do(http.MethodPost, "/api/tasks", tc.body)
			assert.Equal(t, tc.expectedStatus, w.Code)
			body := decodeError(t, w)
			if tc.expectedError != "" {
				assert.Equal(t, tc.expectedError, body.Error)
			}
			assert.Equal(t, tc.expectedField, body.Field)
			assert.NotEmpty(t, body.TraceID)

			pending, err := s.tasks.ListPendingFIFO(t.Context(), 0)
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}
}

func TestSubmitTask_TooLarge(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	body := `{"subject_name":"` + strings.Repeat("a", shared.MaxBodyBytes) + `"}`

	w := s.do(http.MethodPost, "/api/tasks", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestSubmitTask_StorageFailureIsNotLeaked(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.tasks.CreateErr = errors.New("dial tcp 10.0.0.7:5432: connection refused for postgres://app:hunter2@db")

	w := s.do(http.MethodPost, "/api/tasks", validBody)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "Failed to submit task", body.Error)
	assert.NotContains(t, w.Body.String(), "hunter2")
	assert.NotContains(t, w.Body.String(), "5432")
}

func TestGetTask(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/tasks", validBody)
	require.Equal(t, http.StatusAccepted, w.Code)
	var sub service.Submission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))

	t.Run("pending", func(t *testing.T) {
		w := s.do(http.MethodGet, "/api/tasks/"+sub.TaskID.String(), "")
		require.Equal(t, http.StatusOK, w.Code)

		var view map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
		assert.Equal(t, sub.TaskID.String(), view["task_id"])
		assert.Equal(t, "pending", view["status"])
		assert.NotContains(t, w.Body.String(), "Plan-Secret-42")
	})

	t.Run("completed", func(t *testing.T) {
		now := time.Now().UTC()
		ctx := t.Context()
		require.NoError(t, s.tasks.Transition(ctx, sub.TaskID, domain.StatusPending, domain.StatusProcessing,
			domain.TransitionFields{At: now, LeaseOwner: "w1", LeaseExpiresAt: now.Add(time.Minute)}))
		require.NoError(t, s.tasks.Transition(ctx, sub.TaskID, domain.StatusProcessing, domain.StatusCompleted,
			domain.TransitionFields{
				At:     now.Add(time.Second),
				Result: &domain.ResultReference{ArtifactRef: "artifacts/plan.pdf.enc"},
			}))

		w := s.do(http.MethodGet, "/api/tasks/"+sub.TaskID.String(), "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"completed"`)
		assert.Contains(t, w.Body.String(), "artifacts/plan.pdf.enc")
		assert.False(t, bytes.Contains(w.Body.Bytes(), []byte("lease")))
	})

	t.Run("unknown task", func(t *testing.T) {
		w := s.do(http.MethodGet, "/api/tasks/"+uuid.NewString(), "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "Task not found", decodeError(t, w).Error)
	})

	t.Run("malformed id", func(t *testing.T) {
		w := s.do(http.MethodGet, "/api/tasks/not-a-uuid", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "id", body.Field)
		assert.Equal(t, "must be a valid UUID", body.Error)
	})
}
