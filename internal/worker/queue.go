package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/akshaypn/healthup/internal/models"
)

const SyncQueue = "queue:wearable-sync"

// Queue puts sync jobs on Redis and fans progress out over pub/sub.
type Queue struct {
	redis *redis.Client
}

func NewQueue(redisClient *redis.Client) *Queue {
	return &Queue{redis: redisClient}
}

func (q *Queue) Enqueue(ctx context.Context, job *models.SyncJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Type == "" {
		job.Type = models.JobTypeSync
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = 3
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal sync job: %w", err)
	}
	return q.redis.LPush(ctx, SyncQueue, data).Err()
}

// Publish sends a WebSocket update via Redis pub/sub.
func (q *Queue) Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	data, _ := json.Marshal(msg)
	q.redis.Publish(ctx, UpdatesChannel(userID), string(data))
}

func UpdatesChannel(userID uuid.UUID) string {
	return "user_updates:" + userID.String()
}

// Subscribe streams a user's update payloads until ctx ends.
func (q *Queue) Subscribe(ctx context.Context, userID uuid.UUID) <-chan []byte {
	pubsub := q.redis.Subscribe(ctx, UpdatesChannel(userID))
	out := make(chan []byte)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
