package mocks

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/emplan-api/internal/domain"
	"github.com/phrazzld/emplan-api/internal/store"
)

// TaskStore is an in-memory store.TaskStore and store.OutboxStore.
type TaskStore struct {
	mu            sync.Mutex
	tasks         map[uuid.UUID]*domain.Task
	notifications map[uuid.UUID]*domain.Notification

	// Injected failures, returned before any state is touched.
	CreateErr      error
	GetErr         error
	ListPendingErr error
	TransitionErr  error
	ListExpiredErr error
	ReleaseErr     error
	ListDueErr     error
	MarkErr        error

	// BeforeTransition runs with the store unlocked before each Transition,
	// letting tests interleave a competing writer.
	BeforeTransition func(id uuid.UUID, from, to domain.TaskStatus)

	TransitionCalls int
}

var (
	_ store.TaskStore   = (*TaskStore)(nil)
	_ store.OutboxStore = (*TaskStore)(nil)
)

// NewTaskStore returns an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks:         make(map[uuid.UUID]*domain.Task),
		notifications: make(map[uuid.UUID]*domain.Notification),
	}
}

func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	if s.CreateErr != nil {
		return s.CreateErr
	}
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return store.ErrDuplicate
	}
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return cloneTask(task), nil
}

func (s *TaskStore) ListPendingFIFO(ctx context.Context, limit int) ([]*domain.Task, error) {
	if s.ListPendingErr != nil {
		return nil, s.ListPendingErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*domain.Task
	for _, task := range s.tasks {
		if task.Status == domain.StatusPending {
			pending = append(pending, cloneTask(task))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ID.String() < pending[j].ID.String()
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *TaskStore) Transition(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.TaskStatus,
	fields domain.TransitionFields,
) error {
	if err := domain.CheckTransition(from, to, fields); err != nil {
		return err
	}
	if s.BeforeTransition != nil {
		s.BeforeTransition(id, from, to)
	}
	if s.TransitionErr != nil {
		return s.TransitionErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.TransitionCalls++

	task, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if task.Status != from {
		return fmt.Errorf("%w: task %s is %s", store.ErrConflict, id, task.Status)
	}
	if to.IsTerminal() && fields.LeaseOwner != "" && task.LeaseOwner != fields.LeaseOwner {
		return fmt.Errorf("%w: lease on task %s is held by %q", store.ErrConflict, id, task.LeaseOwner)
	}

	if n := fields.Notification; n != nil {
		if err := n.Validate(); err != nil {
			return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
		}
		for _, existing := range s.notifications {
			if existing.TaskID == n.TaskID && existing.Kind == n.Kind {
				return store.ErrDuplicate
			}
		}
	}

	at := fields.At.UTC()
	switch to {
	case domain.StatusProcessing:
		expires := fields.LeaseExpiresAt.UTC()
		task.StartedAt = &at
		task.LeaseOwner = fields.LeaseOwner
		task.LeaseExpiresAt = &expires
		task.Attempts++
	case domain.StatusCompleted:
		result := *fields.Result
		task.CompletedAt = &at
		task.Result = &result
	case domain.StatusFailed:
		task.CompletedAt = &at
		task.ErrorMessage = fields.ErrorMessage
	}
	if to.IsTerminal() {
		task.LeaseOwner = ""
		task.LeaseExpiresAt = nil
		task.Secret = ""
	}
	task.Status = to

	if n := fields.Notification; n != nil {
		stored := *n
		stored.Status = domain.NotificationPending
		s.notifications[n.ID] = &stored
	}
	return nil
}

func (s *TaskStore) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	if s.ListExpiredErr != nil {
		return nil, s.ListExpiredErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*domain.Task
	for _, task := range s.tasks {
		if task.Status == domain.StatusProcessing && task.LeaseExpired(now) {
			expired = append(expired, cloneTask(task))
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].LeaseExpiresAt.Before(*expired[j].LeaseExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (s *TaskStore) ReleaseLease(ctx context.Context, id uuid.UUID, owner string, now time.Time) error {
	if s.ReleaseErr != nil {
		return s.ReleaseErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if task.Status != domain.StatusProcessing || task.LeaseOwner != owner || !task.LeaseExpired(now) {
		return fmt.Errorf("%w: task %s lease is not releasable", store.ErrConflict, id)
	}

	task.Status = domain.StatusPending
	task.StartedAt = nil
	task.LeaseOwner = ""
	task.LeaseExpiresAt = nil
	return nil
}

func (s *TaskStore) ListDueNotifications(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	if s.ListDueErr != nil {
		return nil, s.ListDueErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.Notification
	for _, n := range s.notifications {
		if n.Status == domain.NotificationPending && !n.NextAttemptAt.After(now) {
			c := *n
			due = append(due, &c)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *TaskStore) GetNotification(ctx context.Context, taskID uuid.UUID, kind domain.NotificationKind) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.notifications {
		if n.TaskID == taskID && n.Kind == kind {
			c := *n
			return &c, nil
		}
	}
	return nil, store.ErrNotificationNotFound
}

func (s *TaskStore) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.updatePending(id, func(n *domain.Notification) {
		delivered := at
		n.Status = domain.NotificationDelivered
		n.DeliveredAt = &delivered
		n.Attempts++
		n.LastError = ""
	})
}

func (s *TaskStore) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string) error {
	return s.updatePending(id, func(n *domain.Notification) {
		n.Attempts = attempts
		n.NextAttemptAt = nextAttemptAt
		n.LastError = lastErr
	})
}

func (s *TaskStore) MarkDead(ctx context.Context, id uuid.UUID, attempts int, at time.Time, lastErr string) error {
	return s.updatePending(id, func(n *domain.Notification) {
		n.Status = domain.NotificationDead
		n.Attempts = attempts
		n.NextAttemptAt = at
		n.LastError = lastErr
	})
}

func (s *TaskStore) updatePending(id uuid.UUID, apply func(n *domain.Notification)) error {
	if s.MarkErr != nil {
		return s.MarkErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.Status != domain.NotificationPending {
		return fmt.Errorf("%w: notification is not pending", store.ErrNotificationNotFound)
	}
	apply(n)
	return nil
}

// Put stores task as-is, bypassing validation. Tests use it to seed
// processing tasks with arbitrary leases.
func (s *TaskStore) Put(task *domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = cloneTask(task)
}

// Notifications returns a snapshot of every outbox entry.
func (s *TaskStore) Notifications() []*domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		c := *n
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *domain.Notification) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	c.InputPayload = slices.Clone(t.InputPayload)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.LeaseExpiresAt = cloneTime(t.LeaseExpiresAt)
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
