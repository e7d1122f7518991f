package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/akshaypn/healthup/internal/models"
	"github.com/akshaypn/healthup/internal/services"
)

const (
	lockTTL        = 2 * time.Minute
	lockRenewEvery = lockTTL / 3
	popTimeout     = 30 * time.Second
	busyRequeueIn  = 5 * time.Second
	defaultWorkers = 3
)

// releaseLock deletes the lock only if this worker still owns it.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendLockScript pushes the expiry out only while this worker still owns the lock.
var extendLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type rangeSyncer interface {
	SyncRange(ctx context.Context, userID uuid.UUID, daysBack int) (models.SyncCounts, error)
}

type publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage)
}

// Pool drains the sync queue. A Redis lock per user keeps one range sync per
// account running across all instances.
type Pool struct {
	redis       *redis.Client
	syncer      rangeSyncer
	updates     publisher
	workerCount int
	logger      *slog.Logger

	requeue    func(job *models.SyncJob, after time.Duration)
	extend     func(ctx context.Context, key, owner string) (bool, error)
	renewEvery time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(redisClient *redis.Client, syncer rangeSyncer, updates publisher, workerCount int, logger *slog.Logger) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		redis:       redisClient,
		syncer:      syncer,
		updates:     updates,
		workerCount: workerCount,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
	p.requeue = p.requeueLater
	p.extend = p.extendLock
	p.renewEvery = lockRenewEvery
	return p
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Info("worker pool started", "workers", p.workerCount, "queue", SyncQueue)
}

// Stop interrupts blocked pops and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		if p.ctx.Err() != nil {
			p.logger.Info("worker shutting down", "worker", id)
			return
		}

		result, err := p.redis.BLPop(p.ctx, popTimeout, SyncQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && p.ctx.Err() == nil {
				p.logger.Warn("queue pop failed", "worker", id, "error", err)
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job models.SyncJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			p.logger.Error("failed to parse job", "worker", id, "error", err)
			continue
		}

		// In-flight jobs finish even during shutdown.
		p.runLocked(context.WithoutCancel(p.ctx), id, &job)
	}
}

func (p *Pool) runLocked(ctx context.Context, workerID int, job *models.SyncJob) {
	lockKey := fmt.Sprintf("sync_lock:%s", job.UserID)
	owner := uuid.NewString()
	locked, err := p.redis.SetNX(ctx, lockKey, owner, lockTTL).Result()
	if err != nil {
		p.logger.Warn("sync lock failed", "job_id", job.ID, "error", err)
		p.requeue(job, busyRequeueIn)
		return
	}
	if !locked {
		// Another worker is syncing this user; try again shortly.
		p.requeue(job, busyRequeueIn)
		return
	}
	defer releaseLock.Run(ctx, p.redis, []string{lockKey}, owner)
	stopRenew := p.holdLock(ctx, lockKey, owner)
	defer stopRenew()

	p.logger.Info("processing job", "worker", workerID, "job_id", job.ID, "type", job.Type, "user_id", job.UserID)
	p.process(ctx, job)
}

// holdLock keeps renewing the lock until the returned func is called, so a
// long range sync never outlives its lock. Renewal stops once the lock is lost.
func (p *Pool) holdLock(ctx context.Context, key, owner string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.renewEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := p.extend(ctx, key, owner)
				if err != nil {
					p.logger.Warn("sync lock renewal failed", "lock", key, "error", err)
					continue
				}
				if !held {
					p.logger.Warn("sync lock lost", "lock", key)
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (p *Pool) extendLock(ctx context.Context, key, owner string) (bool, error) {
	n, err := extendLockScript.Run(ctx, p.redis, []string{key}, owner, lockTTL.Milliseconds()).Int()
	return n == 1, err
}

// process runs one job and publishes its outcome. Failures that a retry
// cannot fix are not requeued.
func (p *Pool) process(ctx context.Context, job *models.SyncJob) {
	p.updates.Publish(ctx, job.UserID, models.WSMessage{
		Type:    "sync_started",
		Payload: models.SyncStarted{JobID: job.ID, DaysBack: job.DaysBack},
	})

	counts, err := p.syncer.SyncRange(ctx, job.UserID, job.DaysBack)
	if err != nil {
		p.handleFailure(ctx, job, err)
		return
	}

	p.updates.Publish(ctx, job.UserID, models.WSMessage{
		Type:    "sync_completed",
		Payload: models.SyncCompleted{JobID: job.ID, Counts: counts},
	})
	p.logger.Info("job completed", "job_id", job.ID, "activity_synced", counts.ActivitySynced)
}

func (p *Pool) handleFailure(ctx context.Context, job *models.SyncJob, err error) {
	job.RetryCount++
	errMsg := err.Error()

	if retryable(err) && job.RetryCount < job.MaxRetries {
		p.logger.Warn("job failed, retrying", "job_id", job.ID, "attempt", job.RetryCount, "error", errMsg)
		backoff := time.Duration(1<<uint(job.RetryCount)) * time.Second
		p.requeue(job, backoff)
		return
	}

	p.logger.Error("job failed permanently", "job_id", job.ID, "error", errMsg)
	p.updates.Publish(ctx, job.UserID, models.WSMessage{
		Type: "error",
		Payload: models.ErrorEvent{
			JobID:        job.ID,
			ErrorCode:    errorCode(err),
			ErrorMessage: errMsg,
		},
	})
}

func retryable(err error) bool {
	var validationErr *services.ValidationError
	return !errors.Is(err, services.ErrNotConnected) && !errors.As(err, &validationErr)
}

func errorCode(err error) string {
	var (
		validationErr *services.ValidationError
		rateErr       *services.RateLimitError
	)
	switch {
	case errors.Is(err, services.ErrNotConnected):
		return "NOT_CONNECTED"
	case errors.As(err, &validationErr):
		return "VALIDATION_ERROR"
	case errors.As(err, &rateErr):
		return "RATE_LIMITED"
	default:
		return "SYNC_FAILED"
	}
}

func (p *Pool) requeueLater(job *models.SyncJob, after time.Duration) {
	jobBytes, _ := json.Marshal(job)
	time.AfterFunc(after, func() {
		if err := p.redis.LPush(context.Background(), SyncQueue, string(jobBytes)).Err(); err != nil {
			p.logger.Error("requeue failed", "job_id", job.ID, "error", err)
		}
	})
}
