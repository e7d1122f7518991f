package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/akshaypn/healthup/internal/models"
	"github.com/akshaypn/healthup/internal/observability"
)

const (
	MaxDaysBack        = 365
	MaxSyncConcurrency = 5
)

type daySyncer interface {
	GetDay(ctx context.Context, userID uuid.UUID, dateISO string, opts DayOptions) (*models.DaySummaryView, error)
}

type syncMarker interface {
	GetCredentials(ctx context.Context, userID uuid.UUID) (*models.Credentials, error)
	TouchLastSync(ctx context.Context, userID uuid.UUID, at time.Time) error
}

type BackfillConfig struct {
	Concurrency int
	DayTimeout  time.Duration
}

// BackfillOrchestrator syncs a range of days ending today. A failing day is
// logged and skipped; it never aborts the range.
type BackfillOrchestrator struct {
	days        daySyncer
	store       syncMarker
	concurrency int
	dayTimeout  time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

func NewBackfillOrchestrator(days daySyncer, store syncMarker, cfg BackfillConfig, logger *slog.Logger) *BackfillOrchestrator {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > MaxSyncConcurrency {
		concurrency = MaxSyncConcurrency
	}
	timeout := cfg.DayTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &BackfillOrchestrator{
		days:        days,
		store:       store,
		concurrency: concurrency,
		dayTimeout:  timeout,
		now:         time.Now,
		logger:      logger,
	}
}

// DaysInRange lists today-daysBack through today inclusive, oldest first.
func DaysInRange(today time.Time, daysBack int) []string {
	y, m, d := today.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	out := make([]string, 0, daysBack+1)
	for i := daysBack; i >= 0; i-- {
		out = append(out, start.AddDate(0, 0, -i).Format(dayLayout))
	}
	return out
}

// SyncRange re-fetches every day in range so re-runs update existing rows.
// The only errors returned are for bad input or a missing connection.
func (b *BackfillOrchestrator) SyncRange(ctx context.Context, userID uuid.UUID, daysBack int) (models.SyncCounts, error) {
	var counts models.SyncCounts
	if daysBack < 0 || daysBack > MaxDaysBack {
		return counts, &ValidationError{Fields: map[string]string{"days_back": fmt.Sprintf("must be between 0 and %d", MaxDaysBack)}}
	}

	creds, err := b.store.GetCredentials(ctx, userID)
	if err != nil {
		return counts, fmt.Errorf("load credentials: %w", err)
	}
	if creds == nil {
		return counts, ErrNotConnected
	}

	days := DaysInRange(b.now().UTC(), daysBack)
	var mu sync.Mutex
	record := func(view *models.DaySummaryView, err error, day string) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			counts.DaysFailed++
			b.logger.Warn("day sync failed", "user_id", userID, "date", day, "error", err)
			return
		}
		tally(&counts, view)
	}

	if b.concurrency == 1 {
		for _, day := range days {
			if ctx.Err() != nil {
				break
			}
			view, err := b.syncDay(ctx, userID, day)
			record(view, err, day)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(b.concurrency)
		for _, day := range days {
			if ctx.Err() != nil {
				break
			}
			day := day
			g.Go(func() error {
				view, err := b.syncDay(ctx, userID, day)
				record(view, err, day)
				return nil
			})
		}
		_ = g.Wait()
	}

	now := b.now().UTC()
	touchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := b.store.TouchLastSync(touchCtx, userID, now); err != nil {
		b.logger.Error("last sync update failed", "user_id", userID, "error", err)
	}
	observability.RecordBackfill(now)

	b.logger.Info("range sync finished",
		"user_id", userID,
		"days_back", daysBack,
		"activity_synced", counts.ActivitySynced,
		"days_failed", counts.DaysFailed,
	)
	return counts, nil
}

func (b *BackfillOrchestrator) syncDay(ctx context.Context, userID uuid.UUID, day string) (*models.DaySummaryView, error) {
	dayCtx, cancel := context.WithTimeout(ctx, b.dayTimeout)
	defer cancel()
	view, err := b.days.GetDay(dayCtx, userID, day, DayOptions{Refresh: true})
	if err != nil {
		return nil, err
	}
	// A backfilled day that was not stored has to be retried.
	if view.PersistErr != nil {
		return nil, view.PersistErr
	}
	return view, nil
}

// tally counts a day once per metric it actually carried. Days the band has
// no data for are successes but count toward nothing.
func tally(c *models.SyncCounts, v *models.DaySummaryView) {
	if v == nil || v.NoData {
		return
	}
	c.ActivitySynced++
	if v.Steps > 0 {
		c.StepsSynced++
	}
	if v.HeartRateStats != nil {
		c.HeartRateSynced++
	}
	if v.SleepDurationSeconds > 0 {
		c.SleepSynced++
	}
}
