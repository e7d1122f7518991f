package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/akshaypn/healthup/internal/models"
)

const (
	autoSyncBatchSize = 500
	autoSyncPollEvery = 15 * time.Minute
)

type staleLister interface {
	ListStale(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
}

type jobEnqueuer interface {
	Enqueue(ctx context.Context, job *models.SyncJob) error
}

// AutoSyncScheduler queues a short range sync for every connected account
// that has not synced within the interval.
type AutoSyncScheduler struct {
	store    staleLister
	queue    jobEnqueuer
	interval time.Duration
	daysBack int
	poll     time.Duration
	logger   *slog.Logger
	stopChan chan struct{}
}

func NewAutoSyncScheduler(store staleLister, queue jobEnqueuer, interval time.Duration, daysBack int, logger *slog.Logger) *AutoSyncScheduler {
	poll := autoSyncPollEvery
	if interval > 0 && interval < poll {
		poll = interval
	}
	return &AutoSyncScheduler{
		store:    store,
		queue:    queue,
		interval: interval,
		daysBack: daysBack,
		poll:     poll,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

func (s *AutoSyncScheduler) Start() {
	if s.store == nil || s.queue == nil || s.interval <= 0 {
		return
	}

	go s.loop(s.RunOnce)

	s.logger.Info("auto-sync scheduler started", "interval", s.interval, "days_back", s.daysBack)
}

func (s *AutoSyncScheduler) Stop() {
	select {
	case <-s.stopChan:
		return
	default:
		close(s.stopChan)
	}
}

func (s *AutoSyncScheduler) loop(runFn func(ctx context.Context, now time.Time) int) {
	// Run on startup as well as by interval.
	runFn(context.Background(), time.Now().UTC())

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			runFn(context.Background(), time.Now().UTC())
		}
	}
}

// RunOnce queues one job per stale account and returns how many were queued.
func (s *AutoSyncScheduler) RunOnce(ctx context.Context, now time.Time) int {
	users, err := s.store.ListStale(ctx, now.Add(-s.interval), autoSyncBatchSize)
	if err != nil {
		s.logger.Error("auto-sync: failed to list stale accounts", "error", err)
		return 0
	}

	queued := 0
	for _, userID := range users {
		job := &models.SyncJob{
			ID:         uuid.New(),
			UserID:     userID,
			Type:       models.JobTypeAutoSync,
			DaysBack:   s.daysBack,
			MaxRetries: 1,
			CreatedAt:  now,
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.logger.Error("auto-sync: failed to queue", "user_id", userID, "error", err)
			continue
		}
		queued++
	}

	if queued > 0 {
		s.logger.Info("auto-sync: queued range syncs", "count", queued)
	}
	return queued
}
