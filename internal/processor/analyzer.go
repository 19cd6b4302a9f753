// Package processor runs the per-video analysis pipeline: frames come from
// a FrameSource, pose keypoints from a PoseEstimator, and the analysis
// package turns them into frame classifications and rep segments.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/liftlab/formcoach-worker/internal/analysis"
	"github.com/liftlab/formcoach-worker/internal/models"
)

// Frame is one decoded video frame handed to the pose estimator.
type Frame struct {
	Number    int
	Timestamp float64
	Image     []byte
}

// FrameSource yields a video's frames in order. Next returns io.EOF after
// the last frame.
type FrameSource interface {
	Next() (*Frame, error)
	FPS() float64
	FrameCount() int
	Close() error
}

// PoseEstimator detects body landmarks in a single frame. A nil keypoint
// set with a nil error means no pose was detected.
type PoseEstimator interface {
	Estimate(ctx context.Context, frame *Frame) (models.KeypointSet, error)
}

// progressInterval controls how often the progress callback fires, in
// frames.
const progressInterval = 30

// Analyzer orchestrates a full video analysis. It is stateless across runs
// and safe for concurrent use; classifier and segmenter state lives inside
// each Analyze call.
type Analyzer struct {
	pose PoseEstimator

	// OnProgress, when set, is called with (framesProcessed, totalFrames)
	// every progressInterval frames and once after the final frame.
	OnProgress func(processed, total int)
}

// NewAnalyzer creates an analyzer backed by the given pose estimator.
func NewAnalyzer(pose PoseEstimator) *Analyzer {
	return &Analyzer{pose: pose}
}

// Analyze consumes every frame from source and produces the full analysis
// result. The source is always closed, including on error. Frames where no
// pose is detected are skipped without affecting rep segmentation or the
// result beyond the frames_with_pose count.
func (a *Analyzer) Analyze(ctx context.Context, videoID string, exercise models.ExerciseType, source FrameSource) (*models.VideoAnalysisResult, error) {
	defer source.Close()

	if !exercise.Valid() {
		return nil, fmt.Errorf("unsupported exercise type %q", exercise)
	}

	fps := source.FPS()
	if fps <= 0 {
		return nil, fmt.Errorf("video %s: invalid frame rate %f", videoID, fps)
	}

	classifier := analysis.NewClassifier(exercise)
	segmenter := analysis.NewSegmenter(exercise, fps)

	var (
		frameAnalyses []models.FrameAnalysis
		totalFrames   int
	)

	total := source.FrameCount()
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("analysis of video %s canceled: %w", videoID, err)
		}

		frame, err := source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading frame %d of video %s: %w", totalFrames, videoID, err)
		}
		totalFrames++

		keypoints, err := a.pose.Estimate(ctx, frame)
		if err != nil {
			return nil, fmt.Errorf("pose estimation on frame %d of video %s: %w", frame.Number, videoID, err)
		}
		if keypoints == nil || !keypoints.Complete() {
			// No usable pose in this frame.
			continue
		}

		fa, err := classifier.Classify(keypoints, frame.Number, frame.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("classifying frame %d of video %s: %w", frame.Number, videoID, err)
		}
		frameAnalyses = append(frameAnalyses, fa)
		segmenter.Observe(fa)

		if a.OnProgress != nil && totalFrames%progressInterval == 0 {
			a.OnProgress(totalFrames, total)
		}
	}

	if len(frameAnalyses) > 0 {
		segmenter.Flush()
	}
	if a.OnProgress != nil {
		a.OnProgress(totalFrames, total)
	}

	reps := segmenter.Reps()

	result := &models.VideoAnalysisResult{
		VideoID:       videoID,
		ExerciseType:  exercise,
		TotalFrames:   totalFrames,
		FPS:           fps,
		Duration:      float64(totalFrames) / fps,
		TotalReps:     len(reps),
		Reps:          reps,
		FrameAnalyses: frameAnalyses,
		Summary:       buildSummary(frameAnalyses, reps, totalFrames),
	}
	if len(frameAnalyses) > 0 {
		result.AverageFormScore = result.Summary["average_form_score"]
	}
	return result, nil
}

// buildSummary computes the aggregate statistics map. All values are
// rounded to one decimal place.
func buildSummary(frames []models.FrameAnalysis, reps []models.RepAnalysis, totalFrames int) map[string]float64 {
	summary := map[string]float64{
		"total_frames_analyzed": float64(totalFrames),
		"frames_with_pose":      float64(len(frames)),
		"average_form_score":    0,
		"good_form_percentage":  0,
		"average_rep_score":     0,
	}

	if len(frames) > 0 {
		var scoreSum float64
		var goodFrames int
		for _, f := range frames {
			scoreSum += float64(f.FormScore)
			if f.IsGoodForm {
				goodFrames++
			}
		}
		summary["average_form_score"] = round1(scoreSum / float64(len(frames)))
		summary["good_form_percentage"] = round1(float64(goodFrames) / float64(len(frames)) * 100)
	}

	if len(reps) > 0 {
		var repSum float64
		for _, r := range reps {
			repSum += r.AverageFormScore
		}
		summary["average_rep_score"] = round1(repSum / float64(len(reps)))
	}

	return summary
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
