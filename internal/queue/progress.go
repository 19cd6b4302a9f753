package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/liftlab/formcoach-worker/internal/models"
)

// ProgressPublisher pushes job progress updates over Redis pub/sub. Each
// job gets its own channel so the API layer can subscribe per job.
type ProgressPublisher struct {
	client *redis.Client
}

// NewProgressPublisher connects a publisher to Redis.
func NewProgressPublisher(redisURL string) (*ProgressPublisher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &ProgressPublisher{client: client}, nil
}

// Channel returns the pub/sub channel name for a job.
func Channel(jobID string) string {
	return fmt.Sprintf("formcoach:progress:%s", jobID)
}

// Publish sends one progress update. Publishing is best-effort: a failure
// is logged but never fails the job.
func (p *ProgressPublisher) Publish(ctx context.Context, update models.ProgressUpdate) {
	update.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(update)
	if err != nil {
		log.Printf("Failed to marshal progress update for job %s: %v", update.JobID, err)
		return
	}

	if err := p.client.Publish(ctx, Channel(update.JobID), payload).Err(); err != nil {
		log.Printf("Failed to publish progress for job %s: %v", update.JobID, err)
	}
}

// Close releases the Redis connection.
func (p *ProgressPublisher) Close() error {
	return p.client.Close()
}
