package processor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/liftlab/formcoach-worker/internal/models"
)

// JobStore persists jobs and their results.
type JobStore interface {
	StoreJob(ctx context.Context, job *models.JobPayload) error
	UpdateJobStatus(ctx context.Context, jobID, status, errorMsg string) error
	StoreAnalysisResult(ctx context.Context, jobID string, result *models.VideoAnalysisResult) error
}

// VideoFetcher resolves a job's video URL to a local file. The bool return
// reports whether the processor owns the file and must clean it up.
type VideoFetcher interface {
	Fetch(ctx context.Context, videoURL, jobID string) (string, bool, error)
	Cleanup(path string) error
}

// SourceOpener opens a local video file as a frame source.
type SourceOpener interface {
	Open(videoPath, jobID string) (FrameSource, error)
}

// ProgressSink receives progress updates during processing. Implementations
// must not fail the job.
type ProgressSink interface {
	Publish(ctx context.Context, update models.ProgressUpdate)
}

// VideoProcessor runs one analysis job end to end: fetch the video, open
// it, analyze every frame, and persist the result.
type VideoProcessor struct {
	store    JobStore
	fetcher  VideoFetcher
	opener   SourceOpener
	pose     PoseEstimator
	progress ProgressSink
}

// NewVideoProcessor wires up a job processor.
func NewVideoProcessor(store JobStore, fetcher VideoFetcher, opener SourceOpener, pose PoseEstimator, progress ProgressSink) *VideoProcessor {
	return &VideoProcessor{
		store:    store,
		fetcher:  fetcher,
		opener:   opener,
		pose:     pose,
		progress: progress,
	}
}

// Process is the main entry point for one job.
func (vp *VideoProcessor) Process(ctx context.Context, job *models.JobPayload) error {
	startTime := time.Now()

	if err := vp.store.StoreJob(ctx, job); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	if err := vp.store.UpdateJobStatus(ctx, job.JobID, "processing", ""); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	vp.sendProgress(ctx, job.JobID, 0, "processing", "Starting video analysis", 0, 0, 0)

	videoPath, owned, err := vp.fetcher.Fetch(ctx, job.VideoURL, job.JobID)
	if err != nil {
		return vp.fail(ctx, job.JobID, fmt.Errorf("video fetch failed: %w", err))
	}
	if owned {
		defer vp.fetcher.Cleanup(videoPath)
	}
	log.Printf("✓ Video ready for job %s: %s", job.JobID, videoPath)

	vp.sendProgress(ctx, job.JobID, 10, "processing", "Video file prepared", 0, 0, 0)

	source, err := vp.opener.Open(videoPath, job.JobID)
	if err != nil {
		return vp.fail(ctx, job.JobID, fmt.Errorf("video open failed: %w", err))
	}

	videoID := job.VideoID
	if videoID == "" {
		videoID = models.NewVideoID()
	}

	analyzer := NewAnalyzer(vp.pose)
	analyzer.OnProgress = func(processed, total int) {
		percent := 10.0
		if total > 0 {
			// Frame analysis spans 10-90 percent of the job.
			percent = 10 + float64(processed)/float64(total)*80
		}
		vp.sendProgress(ctx, job.JobID, percent, "processing",
			fmt.Sprintf("Analyzed %d of %d frames", processed, total), processed, total, 0)
	}

	result, err := analyzer.Analyze(ctx, videoID, job.ExerciseType, source)
	if err != nil {
		return vp.fail(ctx, job.JobID, fmt.Errorf("analysis failed: %w", err))
	}
	log.Printf("✓ Analyzed %d frames for job %s: %d reps detected", result.TotalFrames, job.JobID, result.TotalReps)

	vp.sendProgress(ctx, job.JobID, 90, "processing", "Storing results",
		result.TotalFrames, result.TotalFrames, result.TotalReps)

	if err := vp.store.StoreAnalysisResult(ctx, job.JobID, result); err != nil {
		return vp.fail(ctx, job.JobID, fmt.Errorf("failed to store result: %w", err))
	}
	if err := vp.store.UpdateJobStatus(ctx, job.JobID, "completed", ""); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	vp.sendProgress(ctx, job.JobID, 100, "completed",
		fmt.Sprintf("Analysis complete: %d reps, average score %.1f", result.TotalReps, result.AverageFormScore),
		result.TotalFrames, result.TotalFrames, result.TotalReps)

	log.Printf("✓ Job %s completed in %s", job.JobID, time.Since(startTime).Round(time.Millisecond))
	return nil
}

// fail marks the job failed in storage and publishes a terminal progress
// update before returning the original error.
func (vp *VideoProcessor) fail(ctx context.Context, jobID string, err error) error {
	if updateErr := vp.store.UpdateJobStatus(ctx, jobID, "failed", err.Error()); updateErr != nil {
		log.Printf("Failed to mark job %s failed: %v", jobID, updateErr)
	}
	vp.sendProgress(ctx, jobID, 0, "failed", err.Error(), 0, 0, 0)
	return err
}

func (vp *VideoProcessor) sendProgress(ctx context.Context, jobID string, percent float64, status, message string, processed, total, reps int) {
	if vp.progress == nil {
		return
	}
	vp.progress.Publish(ctx, models.ProgressUpdate{
		JobID:           jobID,
		Status:          status,
		Progress:        percent,
		Message:         message,
		FramesProcessed: processed,
		TotalFrames:     total,
		RepsDetected:    reps,
	})
}
