package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"reportflow/internal/types"
)

// RetryFunc is invoked when a delivery's retry timer fires.
type RetryFunc func(ctx context.Context, deliveryID string)

// RetryScheduler arms one deferred task per failed delivery, keyed by
// delivery id and decoupled from the dispatcher tick. The timers themselves
// are process-local; the durable source of truth is the next_retry_at
// column on the log row, which Recover reads on boot to re-arm whatever the
// previous process had in flight.
type RetryScheduler struct {
	repo    LogRepository
	retryFn RetryFunc
	clock   types.Clock
	logger  types.Logger

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]context.CancelFunc
	closed  bool
}

// NewRetryScheduler creates a RetryScheduler that calls retryFn each time a
// timer fires. A nil clock falls back to real UTC time.
func NewRetryScheduler(repo LogRepository, retryFn RetryFunc, clock types.Clock, logger types.Logger) *RetryScheduler {
	if clock == nil {
		clock = types.RealClock{}
	}
	root, cancel := context.WithCancel(context.Background())
	return &RetryScheduler{
		repo:    repo,
		retryFn: retryFn,
		clock:   clock,
		logger:  logger,
		root:    root,
		cancel:  cancel,
		pending: make(map[string]context.CancelFunc),
	}
}

// stalePendingAge is how long a PENDING row may sit before boot recovery
// treats its attempt as lost to a dead process. It must comfortably exceed
// the send timeout so live attempts are never requeued.
const stalePendingAge = 10 * time.Minute

// Recover re-arms timers for every FAILED delivery that still has a retry
// scheduled. Run once at process start, before the dispatcher loop begins.
// PENDING rows old enough that no live attempt can still own them are
// requeued as FAILED first, so attempts interrupted by a crash are not
// lost. Rows whose retry time passed while no process was running fire
// immediately. Returns the number of timers armed.
func (s *RetryScheduler) Recover(ctx context.Context) (int, error) {
	requeued, err := s.repo.RequeueStalePending(ctx, s.clock.Now().Add(-stalePendingAge))
	if err != nil {
		return 0, fmt.Errorf("requeue stale pending deliveries: %w", err)
	}
	if requeued > 0 {
		s.logger.Warn("requeued deliveries interrupted by previous shutdown", "count", requeued)
	}

	logs, err := s.repo.ListRetryable(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("recover retry timers: %w", err)
	}
	for _, d := range logs {
		at := s.clock.Now()
		if d.NextRetryAt != nil && d.NextRetryAt.After(at) {
			at = *d.NextRetryAt
		}
		s.Schedule(d.ID, at)
	}
	if len(logs) > 0 {
		s.logger.Info("recovered pending delivery retries", "count", len(logs))
	}
	return len(logs), nil
}

// Schedule arms (or re-arms) the retry timer for a delivery. Scheduling an
// id that already has a timer replaces it; attempt n cannot start until the
// recording of attempt n-1 armed this timer, which keeps per-delivery
// attempts strictly ordered.
func (s *RetryScheduler) Schedule(deliveryID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if cancelPrev, ok := s.pending[deliveryID]; ok {
		cancelPrev()
	}

	taskCtx, cancelTask := context.WithCancel(s.root)
	s.pending[deliveryID] = cancelTask

	delay := at.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-taskCtx.Done():
			return
		case <-timer.C:
		}

		s.mu.Lock()
		delete(s.pending, deliveryID)
		s.mu.Unlock()

		s.retryFn(types.WithRequestID(taskCtx, "req_"+uuid.New().String()), deliveryID)
	}()
}

// Cancel drops the pending timer for a delivery, if any. Called when the
// delivery reaches a terminal status through another path.
func (s *RetryScheduler) Cancel(deliveryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancelTask, ok := s.pending[deliveryID]; ok {
		cancelTask()
		delete(s.pending, deliveryID)
	}
}

// Pending returns the number of armed timers.
func (s *RetryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels all timers and waits for in-flight callbacks to return.
func (s *RetryScheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
