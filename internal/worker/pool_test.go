package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akshaypn/healthup/internal/models"
	"github.com/akshaypn/healthup/internal/observability"
	"github.com/akshaypn/healthup/internal/services"
)

type stubSyncer struct {
	counts models.SyncCounts
	err    error
	calls  int
}

func (s *stubSyncer) SyncRange(ctx context.Context, userID uuid.UUID, daysBack int) (models.SyncCounts, error) {
	s.calls++
	return s.counts, s.err
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []models.WSMessage
}

func (r *recordingPublisher) Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Type
	}
	return out
}

type requeued struct {
	job   models.SyncJob
	after time.Duration
}

func newTestPool(syncer rangeSyncer) (*Pool, *recordingPublisher, *[]requeued) {
	pub := &recordingPublisher{}
	p := NewPool(nil, syncer, pub, 1, observability.NopLogger())
	var got []requeued
	p.requeue = func(job *models.SyncJob, after time.Duration) {
		got = append(got, requeued{job: *job, after: after})
	}
	return p, pub, &got
}

func TestProcessPublishesCompletion(t *testing.T) {
	syncer := &stubSyncer{counts: models.SyncCounts{ActivitySynced: 3, StepsSynced: 2}}
	p, pub, requeues := newTestPool(syncer)

	job := &models.SyncJob{ID: uuid.New(), UserID: uuid.New(), DaysBack: 2, MaxRetries: 3}
	p.process(context.Background(), job)

	assert.Equal(t, 1, syncer.calls)
	assert.Equal(t, []string{"sync_started", "sync_completed"}, pub.types())
	done, ok := pub.msgs[1].Payload.(models.SyncCompleted)
	require.True(t, ok)
	assert.Equal(t, 3, done.Counts.ActivitySynced)
	assert.Empty(t, *requeues)
}

func TestProcessRetriesTransientFailure(t *testing.T) {
	syncer := &stubSyncer{err: errors.New("redis timeout")}
	p, pub, requeues := newTestPool(syncer)

	job := &models.SyncJob{ID: uuid.New(), UserID: uuid.New(), MaxRetries: 3}
	p.process(context.Background(), job)

	require.Len(t, *requeues, 1)
	assert.Equal(t, 1, (*requeues)[0].job.RetryCount)
	assert.Equal(t, 2*time.Second, (*requeues)[0].after)
	assert.Equal(t, []string{"sync_started"}, pub.types())
}

func TestProcessGivesUpAfterMaxRetries(t *testing.T) {
	syncer := &stubSyncer{err: errors.New("boom")}
	p, pub, requeues := newTestPool(syncer)

	job := &models.SyncJob{ID: uuid.New(), UserID: uuid.New(), RetryCount: 2, MaxRetries: 3}
	p.process(context.Background(), job)

	assert.Empty(t, *requeues)
	assert.Equal(t, []string{"sync_started", "error"}, pub.types())
	ev, ok := pub.msgs[1].Payload.(models.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "SYNC_FAILED", ev.ErrorCode)
}

func TestProcessDoesNotRetryPermanentFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"not connected", services.ErrNotConnected, "NOT_CONNECTED"},
		{"validation", &services.ValidationError{Fields: map[string]string{"days_back": "bad"}}, "VALIDATION_ERROR"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, pub, requeues := newTestPool(&stubSyncer{err: tc.err})

			p.process(context.Background(), &models.SyncJob{ID: uuid.New(), UserID: uuid.New(), MaxRetries: 3})

			assert.Empty(t, *requeues)
			ev, ok := pub.msgs[len(pub.msgs)-1].Payload.(models.ErrorEvent)
			require.True(t, ok)
			assert.Equal(t, tc.code, ev.ErrorCode)
		})
	}
}

func TestUpdatesChannel(t *testing.T) {
	id := uuid.MustParse("7f1d8f7e-4f6c-4d7e-9a55-0b7f0a6b2c11")
	assert.Equal(t, "user_updates:7f1d8f7e-4f6c-4d7e-9a55-0b7f0a6b2c11", UpdatesChannel(id))
}

type fakeLock struct {
	mu    sync.Mutex
	calls int
	held  bool
}

func (f *fakeLock) extend(ctx context.Context, key, owner string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.held, nil
}

func (f *fakeLock) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestHoldLockRenewsUntilReleased(t *testing.T) {
	p, _, _ := newTestPool(&stubSyncer{})
	lock := &fakeLock{held: true}
	p.extend = lock.extend
	p.renewEvery = 5 * time.Millisecond

	stop := p.holdLock(context.Background(), "sync_lock:u", "owner")
	require.Eventually(t, func() bool { return lock.count() >= 3 }, time.Second, time.Millisecond)
	stop()

	after := lock.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, lock.count())
}

func TestHoldLockStopsRenewingOnceLost(t *testing.T) {
	p, _, _ := newTestPool(&stubSyncer{})
	lock := &fakeLock{held: false}
	p.extend = lock.extend
	p.renewEvery = 5 * time.Millisecond

	stop := p.holdLock(context.Background(), "sync_lock:u", "owner")
	defer stop()

	require.Eventually(t, func() bool { return lock.count() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, lock.count())
}

func TestLockRenewalOutpacesExpiry(t *testing.T) {
	p, _, _ := newTestPool(&stubSyncer{})
	assert.Less(t, p.renewEvery, lockTTL)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{services.ErrNotConnected, "NOT_CONNECTED"},
		{&services.ValidationError{}, "VALIDATION_ERROR"},
		{&services.SyncError{Day: "2024-03-10", Err: &services.RateLimitError{Message: "slow down"}}, "RATE_LIMITED"},
		{errors.New("boom"), "SYNC_FAILED"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, errorCode(tc.err))
	}
}
