package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/emplan-api/internal/domain"
	"github.com/phrazzld/emplan-api/internal/platform/sqlite"
	"github.com/phrazzld/emplan-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failTask drives a new task to failed and returns its outbox entry.
func failTask(t *testing.T, tasks *sqlite.TaskStore, now time.Time) *domain.Notification {
	t.Helper()
	ctx := context.Background()

	task := newTask(t, "Acme")
	require.NoError(t, tasks.Create(ctx, task))
	claim(t, tasks, task.ID, "w1", now, time.Minute)

	n, err := domain.NewNotification(task.ID, domain.NotificationFailed, task.RequesterContact,
		"We could not generate the plan for Acme", "body", "", now)
	require.NoError(t, err)

	require.NoError(t, tasks.Transition(ctx, task.ID, domain.StatusProcessing, domain.StatusFailed, domain.TransitionFields{
		At:           now,
		ErrorMessage: "generation failed: timeout",
		Notification: n,
	}))
	return n
}

func TestOutboxStore_ListDueAndDeliver(t *testing.T) {
	t.Parallel()
	tasks, outbox := newTestStores(t)
	ctx := context.Background()
	now := time.Now().UTC()

	n := failTask(t, tasks, now)

	due, err := outbox.ListDueNotifications(ctx, now.Add(-time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "not due before next_attempt_at")

	due, err = outbox.ListDueNotifications(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, n.ID, due[0].ID)
	assert.Equal(t, domain.NotificationFailed, due[0].Kind)
	assert.Equal(t, "ops@acme.test", due[0].Recipient)

	require.NoError(t, outbox.MarkDelivered(ctx, n.ID, now.Add(time.Second)))

	due, err = outbox.ListDueNotifications(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	stored, err := outbox.GetNotification(ctx, n.TaskID, domain.NotificationFailed)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationDelivered, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.DeliveredAt)

	assert.ErrorIs(t, outbox.MarkDelivered(ctx, n.ID, now), store.ErrNotFound, "already delivered")
}

func TestOutboxStore_RetryThenDead(t *testing.T) {
	t.Parallel()
	tasks, outbox := newTestStores(t)
	ctx := context.Background()
	now := time.Now().UTC()

	n := failTask(t, tasks, now)

	next := now.Add(30 * time.Second)
	require.NoError(t, outbox.MarkRetry(ctx, n.ID, 1, next, "smtp: connection refused"))

	due, err := outbox.ListDueNotifications(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = outbox.ListDueNotifications(ctx, next, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)
	assert.Equal(t, "smtp: connection refused", due[0].LastError)

	require.NoError(t, outbox.MarkDead(ctx, n.ID, 2, next, "smtp: connection refused"))

	stored, err := outbox.GetNotification(ctx, n.TaskID, domain.NotificationFailed)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationDead, stored.Status)
	assert.Equal(t, 2, stored.Attempts)

	due, err = outbox.ListDueNotifications(ctx, next.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	task, err := tasks.Get(ctx, n.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, task.Status, "delivery outcome never changes the task")
}

func TestOutboxStore_UnknownNotification(t *testing.T) {
	t.Parallel()
	_, outbox := newTestStores(t)
	ctx := context.Background()

	_, err := outbox.GetNotification(ctx, uuid.New(), domain.NotificationCompleted)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, outbox.MarkRetry(ctx, uuid.New(), 1, time.Now(), "x"), store.ErrNotFound)
}
