package delivery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportflow/internal/types"
)

// retryRecorder collects fired delivery ids.
type retryRecorder struct {
	mu    sync.Mutex
	fired []string
	done  chan string
}

func newRetryRecorder() *retryRecorder {
	return &retryRecorder{done: make(chan string, 16)}
}

func (r *retryRecorder) fn(ctx context.Context, deliveryID string) {
	r.mu.Lock()
	r.fired = append(r.fired, deliveryID)
	r.mu.Unlock()
	r.done <- deliveryID
}

func (r *retryRecorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case id := <-r.done:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("retry timer did not fire")
		return ""
	}
}

func TestRetryScheduler_FiresDueTimer(t *testing.T) {
	rec := newRetryRecorder()
	s := NewRetryScheduler(newMemRepo(), rec.fn, nil, testLogger{})
	defer s.Stop()

	// Already past due: fires immediately.
	s.Schedule("dlv_1", time.Now().UTC().Add(-time.Second))

	assert.Equal(t, "dlv_1", rec.wait(t))
	assert.Equal(t, 0, s.Pending())
}

func TestRetryScheduler_CancelPreventsFire(t *testing.T) {
	rec := newRetryRecorder()
	s := NewRetryScheduler(newMemRepo(), rec.fn, nil, testLogger{})
	defer s.Stop()

	s.Schedule("dlv_1", time.Now().UTC().Add(time.Hour))
	assert.Equal(t, 1, s.Pending())

	s.Cancel("dlv_1")
	assert.Equal(t, 0, s.Pending())

	select {
	case <-rec.done:
		t.Fatal("cancelled timer fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRetryScheduler_RescheduleReplacesTimer(t *testing.T) {
	rec := newRetryRecorder()
	s := NewRetryScheduler(newMemRepo(), rec.fn, nil, testLogger{})
	defer s.Stop()

	s.Schedule("dlv_1", time.Now().UTC().Add(time.Hour))
	s.Schedule("dlv_1", time.Now().UTC().Add(-time.Second))

	assert.Equal(t, "dlv_1", rec.wait(t))

	// The replaced timer must not fire a second time.
	select {
	case <-rec.done:
		t.Fatal("replaced timer fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRetryScheduler_RecoverRearmsPersistedRetries(t *testing.T) {
	repo := newMemRepo()
	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	scheduleID := "sch_1"

	require.NoError(t, repo.Create(context.Background(), &types.DeliveryLog{
		ID:           "dlv_due",
		ScheduleID:   &scheduleID,
		Status:       types.DeliveryStatusFailed,
		AttemptCount: 1,
		NextRetryAt:  &past,
	}))
	require.NoError(t, repo.Create(context.Background(), &types.DeliveryLog{
		ID:           "dlv_later",
		ScheduleID:   &scheduleID,
		Status:       types.DeliveryStatusFailed,
		AttemptCount: 2,
		NextRetryAt:  &future,
	}))
	// Terminal rows are never recovered.
	require.NoError(t, repo.Create(context.Background(), &types.DeliveryLog{
		ID:     "dlv_done",
		Status: types.DeliveryStatusSent,
	}))

	rec := newRetryRecorder()
	s := NewRetryScheduler(repo, rec.fn, nil, testLogger{})
	defer s.Stop()

	count, err := s.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// The overdue row fires immediately; the future one stays armed.
	assert.Equal(t, "dlv_due", rec.wait(t))
	assert.Equal(t, 1, s.Pending())
}

func TestRetryScheduler_RecoverArmsWholeBacklog(t *testing.T) {
	repo := newMemRepo()
	scheduleID := "sch_1"
	future := time.Now().UTC().Add(time.Hour)

	// A backlog beyond any single query page must still recover in full.
	for i := 0; i < 150; i++ {
		require.NoError(t, repo.Create(context.Background(), &types.DeliveryLog{
			ID:           fmt.Sprintf("dlv_%03d", i),
			ScheduleID:   &scheduleID,
			Status:       types.DeliveryStatusFailed,
			AttemptCount: 1,
			NextRetryAt:  &future,
		}))
	}

	rec := newRetryRecorder()
	s := NewRetryScheduler(repo, rec.fn, nil, testLogger{})
	defer s.Stop()

	count, err := s.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 150, count)
	assert.Equal(t, 150, s.Pending())
}

func TestRetryScheduler_FireCarriesRequestID(t *testing.T) {
	ids := make(chan string, 1)
	fn := func(ctx context.Context, deliveryID string) {
		ids <- types.GetRequestID(ctx)
	}
	s := NewRetryScheduler(newMemRepo(), fn, nil, testLogger{})
	defer s.Stop()

	s.Schedule("dlv_1", time.Now().UTC().Add(-time.Second))

	select {
	case id := <-ids:
		assert.NotEmpty(t, id)
	case <-time.After(2 * time.Second):
		t.Fatal("retry timer did not fire")
	}
}

func TestRetryScheduler_RecoverRequeuesInterruptedAttempts(t *testing.T) {
	repo := newMemRepo()
	scheduleID := "sch_1"

	// Left PENDING by a process that died mid-attempt.
	require.NoError(t, repo.Create(context.Background(), &types.DeliveryLog{
		ID:           "dlv_stale",
		ScheduleID:   &scheduleID,
		Status:       types.DeliveryStatusPending,
		AttemptCount: 1,
		CreatedAt:    time.Now().UTC().Add(-time.Hour),
	}))
	// A fresh PENDING row may still be owned by a live attempt.
	require.NoError(t, repo.Create(context.Background(), &types.DeliveryLog{
		ID:           "dlv_fresh",
		ScheduleID:   &scheduleID,
		Status:       types.DeliveryStatusPending,
		AttemptCount: 1,
		CreatedAt:    time.Now().UTC(),
	}))

	rec := newRetryRecorder()
	s := NewRetryScheduler(repo, rec.fn, nil, testLogger{})
	defer s.Stop()

	count, err := s.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "dlv_stale", rec.wait(t))

	fresh, err := repo.GetByID(context.Background(), "dlv_fresh")
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryStatusPending, fresh.Status)

	stale, err := repo.GetByID(context.Background(), "dlv_stale")
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryStatusFailed, stale.Status)
	assert.Equal(t, 1, stale.AttemptCount, "interrupted attempts do not move the counter")
}

func TestRetryScheduler_StopSilencesTimers(t *testing.T) {
	rec := newRetryRecorder()
	s := NewRetryScheduler(newMemRepo(), rec.fn, nil, testLogger{})

	s.Schedule("dlv_1", time.Now().UTC().Add(time.Hour))
	s.Stop()

	// After Stop, scheduling is a no-op.
	s.Schedule("dlv_2", time.Now().UTC().Add(-time.Second))
	assert.Equal(t, 0, len(rec.fired))
}
