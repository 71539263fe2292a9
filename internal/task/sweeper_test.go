package task_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phrazzld/emplan-api/internal/domain"
	"github.com/phrazzld/emplan-api/internal/events"
	"github.com/phrazzld/emplan-api/internal/store"
	"github.com/phrazzld/emplan-api/internal/task"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// claimAt submits a task and claims it for owner with a lease ending at
// expires. attempts overrides the claim count.
func (f *fixture) claimAt(t *testing.T, owner string, expires time.Time, attempts int) *domain.Task {
	t.Helper()
	tk := f.submit(t, "Acme")
	claimedAt := expires.Add(-10 * time.Minute)
	require.NoError(t, f.store.Transition(context.Background(), tk.ID, domain.StatusPending, domain.StatusProcessing,
		domain.TransitionFields{At: claimedAt, LeaseOwner: owner, LeaseExpiresAt: expires}))

	claimed := f.get(t, tk.ID)
	claimed.Attempts = attempts
	f.store.Put(claimed)
	return claimed
}

func (f *fixture) sweeper(now time.Time) *task.Sweeper {
	s := task.NewSweeper(f.deps(), testConfig())
	task.SetSweeperClock(s, func() time.Time { return now })
	return s
}

func TestSweeper_ReleasesExpiredLease(t *testing.T) {
	t.Parallel()
	f := newFixture()
	now := time.Now().UTC()
	expired := f.claimAt(t, "crashed-worker", now.Add(-time.Second), 1)

	n, err := f.sweeper(now).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.get(t, expired.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Empty(t, got.LeaseOwner)
	assert.Nil(t, got.LeaseExpiresAt)
	assert.Equal(t, 1, got.Attempts, "attempts survive a release")
	assert.Equal(t, testSecret, got.Secret, "the secret is kept for the next attempt")
	assert.Empty(t, f.store.Notifications())

	assert.Equal(t, []events.Type{events.LeaseReleased}, f.recorder.Types(expired.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LeasesRecovered.WithLabelValues("released")))
}

func TestSweeper_AbandonsExhaustedTask(t *testing.T) {
	t.Parallel()
	f := newFixture()
	now := time.Now().UTC()
	exhausted := f.claimAt(t, "crashed-worker", now.Add(-time.Second), 3)

	n, err := f.sweeper(now).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.get(t, exhausted.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "abandoned after 3 attempts: worker lease expired", got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.Secret)

	notes := f.store.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotificationFailed, notes[0].Kind)
	assert.Equal(t, exhausted.ID, notes[0].TaskID)

	assert.Equal(t, []events.Type{events.TaskAbandoned}, f.recorder.Types(exhausted.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LeasesRecovered.WithLabelValues("abandoned")))
}

func TestSweeper_LeavesLiveLeasesAndTerminalTasks(t *testing.T) {
	t.Parallel()
	f := newFixture()
	now := time.Now().UTC()
	live := f.claimAt(t, "busy-worker", now.Add(time.Minute), 1)

	w := f.worker(t, testConfig())
	done := f.submit(t, "Done Co")
	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, f.get(t, done.ID).Status)

	n, err := f.sweeper(now.Add(30 * time.Second)).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	got := f.get(t, live.ID)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Equal(t, "busy-worker", got.LeaseOwner)
	assert.Equal(t, domain.StatusCompleted, f.get(t, done.ID).Status)
}

func TestSweeper_SkipsLeasesThatChangedHands(t *testing.T) {
	t.Parallel()
	f := newFixture()
	now := time.Now().UTC()
	expired := f.claimAt(t, "crashed-worker", now.Add(-time.Second), 1)
	f.store.ReleaseErr = store.ErrConflict

	n, err := f.sweeper(now).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, domain.StatusProcessing, f.get(t, expired.ID).Status)
	assert.Zero(t, testutil.ToFloat64(f.metrics.StorageErrors.WithLabelValues("recover_lease")))
}

func TestSweeper_StorageErrors(t *testing.T) {
	t.Parallel()

	t.Run("list", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.store.ListExpiredErr = errors.New("connection refused")

		_, err := f.sweeper(time.Now()).SweepOnce(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("release", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		now := time.Now().UTC()
		f.claimAt(t, "crashed-worker", now.Add(-time.Second), 1)
		f.store.ReleaseErr = errors.New("disk full")

		n, err := f.sweeper(now).SweepOnce(context.Background())
		require.NoError(t, err, "per-task failures are logged and the batch continues")
		assert.Zero(t, n)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StorageErrors.WithLabelValues("recover_lease")))
	})
}

func TestSweeper_Run(t *testing.T) {
	t.Parallel()
	f := newFixture()
	expired := f.claimAt(t, "crashed-worker", time.Now().UTC().Add(-time.Second), 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go task.NewSweeper(f.deps(), testConfig()).Run(ctx)

	require.Eventually(t, func() bool {
		return f.status(expired.ID) == domain.StatusPending
	}, 2*time.Second, 5*time.Millisecond)
}
