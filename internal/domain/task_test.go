package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	t.Parallel()

	payload := json.RawMessage(`{"hazards":["flood"]}`)

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		task, err := NewTask("ops@acme.test", "Acme Corp", payload, "S3cret!pw")
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, task.ID)
		assert.Equal(t, StatusPending, task.Status)
		assert.False(t, task.CreatedAt.IsZero())
		assert.Nil(t, task.StartedAt)
		assert.Nil(t, task.CompletedAt)
	})

	tests := []struct {
		name    string
		contact string
		subject string
		payload json.RawMessage
		field   string
	}{
		{"empty contact", "", "Acme", payload, "requester_contact"},
		{"blank subject", "a@b.test", "   ", payload, "subject_name"},
		{"missing payload", "a@b.test", "Acme", nil, "input_payload"},
		{"null payload", "a@b.test", "Acme", json.RawMessage("null"), "input_payload"},
		{"malformed payload", "a@b.test", "Acme", json.RawMessage("{"), "input_payload"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			task, err := NewTask(tc.contact, tc.subject, tc.payload, "")
			assert.Nil(t, task)
			require.ErrorIs(t, err, ErrValidation)

			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tc.field, vErr.Field)
		})
	}
}

func TestTaskValidateLifecycleFields(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	base := func() *Task {
		task, err := NewTask("a@b.test", "Acme", json.RawMessage(`{}`), "pw")
		require.NoError(t, err)
		return task
	}

	processing := base()
	processing.Status = StatusProcessing
	assert.Error(t, processing.Validate(), "processing without started_at")
	processing.StartedAt = &now
	assert.NoError(t, processing.Validate())

	failed := base()
	failed.Status = StatusFailed
	failed.StartedAt = &now
	failed.CompletedAt = &now
	assert.Error(t, failed.Validate(), "failed without message")
	failed.ErrorMessage = "generation failed: boom"
	assert.NoError(t, failed.Validate())

	completed := base()
	completed.Status = StatusCompleted
	completed.StartedAt = &now
	completed.CompletedAt = &now
	completed.Result = &ResultReference{Content: "plan"}
	assert.NoError(t, completed.Validate())
	completed.ErrorMessage = "stray"
	assert.Error(t, completed.Validate())
}

func TestTaskViewOmitsSecret(t *testing.T) {
	t.Parallel()

	task, err := NewTask("a@b.test", "Acme", json.RawMessage(`{"k":1}`), "Sup3r$ecret")
	require.NoError(t, err)

	data, err := json.Marshal(task.View())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Sup3r$ecret")
	assert.Contains(t, string(data), `"status":"pending"`)
	assert.Contains(t, string(data), `"task_id":"`+task.ID.String()+`"`)
}

func TestCheckTransition(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	notification := &Notification{}

	tests := []struct {
		name    string
		from    TaskStatus
		to      TaskStatus
		fields  TransitionFields
		wantErr error
	}{
		{"claim", StatusPending, StatusProcessing, TransitionFields{At: now, LeaseOwner: "w1", LeaseExpiresAt: now.Add(time.Minute)}, nil},
		{"claim without lease", StatusPending, StatusProcessing, TransitionFields{At: now}, ErrValidation},
		{"complete", StatusProcessing, StatusCompleted, TransitionFields{At: now, Result: &ResultReference{}}, nil},
		{"complete without result", StatusProcessing, StatusCompleted, TransitionFields{At: now}, ErrValidation},
		{"fail", StatusProcessing, StatusFailed, TransitionFields{At: now, ErrorMessage: "x"}, nil},
		{"fail without message", StatusProcessing, StatusFailed, TransitionFields{At: now}, ErrValidation},
		{"skip processing", StatusPending, StatusCompleted, TransitionFields{At: now, Result: &ResultReference{}}, ErrInvalidTransition},
		{"leave terminal", StatusFailed, StatusProcessing, TransitionFields{At: now}, ErrInvalidTransition},
		{"notification on claim", StatusPending, StatusProcessing, TransitionFields{At: now, LeaseOwner: "w", LeaseExpiresAt: now.Add(time.Second), Notification: notification}, ErrValidation},
		{"unknown status", TaskStatus(9), StatusProcessing, TransitionFields{At: now}, ErrInvalidStatus},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := CheckTransition(tc.from, tc.to, tc.fields)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestLeaseExpired(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)

	task := &Task{Status: StatusProcessing, LeaseExpiresAt: &past}
	assert.True(t, task.LeaseExpired(now))

	task.LeaseExpiresAt = &future
	assert.False(t, task.LeaseExpired(now))

	task.Status = StatusCompleted
	task.LeaseExpiresAt = &past
	assert.False(t, task.LeaseExpired(now))
}
