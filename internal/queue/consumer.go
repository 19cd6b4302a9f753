// Package queue consumes analysis jobs from Redis and publishes progress
// updates for live job tracking.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/liftlab/formcoach-worker/internal/models"
	"github.com/liftlab/formcoach-worker/internal/processor"
	"github.com/liftlab/formcoach-worker/internal/video"
)

// TaskAnalyzeVideo is the asynq task type for video analysis jobs.
const TaskAnalyzeVideo = "formcoach:analyze"

// Consumer pulls analysis jobs off the Redis queue and hands them to the
// video processor.
type Consumer struct {
	server    *asynq.Server
	processor *processor.VideoProcessor
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	RedisURL    string
	Concurrency int
	Processor   *processor.VideoProcessor
}

// NewConsumer creates a queue consumer.
func NewConsumer(config *ConsumerConfig) (*Consumer, error) {
	redisOpt, err := asynq.ParseRedisURI(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: config.Concurrency,
			Queues: map[string]int{
				"formcoach:critical": 6,
				"formcoach:default":  3,
				"formcoach:low":      1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// Exponential backoff: 1min, 2min, 4min
				return time.Duration(1<<uint(n)) * time.Minute
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task %s failed: %v", task.Type(), err)
			}),
		},
	)

	return &Consumer{
		server:    server,
		processor: config.Processor,
	}, nil
}

// Start registers the task handler and serves until Stop is called.
func (c *Consumer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskAnalyzeVideo, c.handleAnalyzeTask)

	log.Println("Starting FormCoach worker...")

	if err := c.server.Run(mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	return nil
}

// Stop shuts the consumer down gracefully, waiting for in-flight jobs.
func (c *Consumer) Stop() {
	log.Println("Shutting down FormCoach worker...")
	c.server.Shutdown()
}

// handleAnalyzeTask handles one video analysis task.
func (c *Consumer) handleAnalyzeTask(ctx context.Context, task *asynq.Task) error {
	var job models.JobPayload
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	if err := job.Validate(); err != nil {
		// A malformed payload never becomes valid; skip retries.
		return fmt.Errorf("invalid job payload: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Processing job %s (exercise: %s)", job.JobID, job.ExerciseType)

	if err := c.processor.Process(ctx, &job); err != nil {
		log.Printf("Job %s failed: %v", job.JobID, err)
		// A missing or corrupt video will not heal on retry.
		if errors.Is(err, video.ErrNotFound) || errors.Is(err, video.ErrUnreadable) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	log.Printf("Job %s completed successfully", job.JobID)
	return nil
}
