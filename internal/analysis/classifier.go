// Package analysis turns per-frame pose keypoints into frame-level form
// measurements and segments the resulting stream into repetitions.
//
// Both the Classifier and the Segmenter carry per-video mutable state and
// must be created fresh for every analysis run; independent runs with their
// own instances are safe to execute concurrently.
package analysis

import (
	"fmt"

	"github.com/liftlab/formcoach-worker/internal/geometry"
	"github.com/liftlab/formcoach-worker/internal/models"
)

// Phase-label thresholds in degrees, per exercise.
const (
	squatTopAngle       = 150.0
	squatBottomAngle    = 90.0
	deadliftTopAngle    = 160.0
	deadliftBottomAngle = 100.0
)

// Form scoring constants.
const (
	spineTolerance  = 5.0  // Degrees of lean ignored before penalizing
	spinePenaltyMax = 40.0 // Cap on the forward-lean penalty
	depthBonusMax   = 10.0 // Cap on the squat depth bonus
	goodFormScore   = 70   // Minimum score counted as good form
)

// Classifier derives one FrameAnalysis per keypoint set. It tracks the
// previous frame's hip angle to tell descent from ascent, so frames must be
// fed in video order.
type Classifier struct {
	exercise     models.ExerciseType
	lastHipAngle float64
}

// NewClassifier creates a classifier for one video. The previous hip angle
// starts fully extended so the first mid-range frame reads as a descent.
func NewClassifier(exercise models.ExerciseType) *Classifier {
	return &Classifier{
		exercise:     exercise,
		lastHipAngle: 180.0,
	}
}

// Classify analyzes a single frame's keypoints. The set must contain every
// required body part; frames where the pose service detected nothing at all
// are the caller's responsibility to skip before reaching here.
func (c *Classifier) Classify(keypoints models.KeypointSet, frameNumber int, timestamp float64) (models.FrameAnalysis, error) {
	if part := keypoints.MissingPart(); part != "" {
		return models.FrameAnalysis{}, fmt.Errorf("frame %d: keypoint set missing %s", frameNumber, part)
	}

	hipAngle := geometry.HipAngle(keypoints)
	spineAngle := geometry.SpineAngle(keypoints)
	kneeAngle := geometry.KneeAngle(keypoints)

	phase := c.determinePhase(hipAngle)
	c.lastHipAngle = hipAngle

	score := formScore(hipAngle, spineAngle, c.exercise)

	return models.FrameAnalysis{
		FrameNumber: frameNumber,
		Timestamp:   timestamp,
		HipAngle:    hipAngle,
		SpineAngle:  spineAngle,
		KneeAngle:   kneeAngle,
		FormScore:   score,
		IsGoodForm:  score >= goodFormScore,
		RepPhase:    phase,
	}, nil
}

// determinePhase labels the frame's position within the rep cycle. Between
// the top and bottom bands the direction of hip-angle change decides
// descent vs ascent.
func (c *Classifier) determinePhase(hipAngle float64) models.RepPhase {
	topAngle, bottomAngle := squatTopAngle, squatBottomAngle
	if c.exercise == models.ExerciseDeadlift {
		topAngle, bottomAngle = deadliftTopAngle, deadliftBottomAngle
	}

	switch {
	case hipAngle > topAngle:
		return models.PhaseTop
	case hipAngle < bottomAngle:
		return models.PhaseBottom
	case hipAngle < c.lastHipAngle:
		return models.PhaseDescent
	default:
		return models.PhaseAscent
	}
}

// formScore rates a single frame's technique from 0 to 100. Forward lean
// beyond the tolerance costs two points per degree; squats earn a bonus for
// depth below parallel. Deadlifts get no depth bonus.
func formScore(hipAngle, spineAngle float64, exercise models.ExerciseType) int {
	score := 100.0

	penalty := (abs(spineAngle) - spineTolerance) * 2
	if penalty < 0 {
		penalty = 0
	}
	if penalty > spinePenaltyMax {
		penalty = spinePenaltyMax
	}
	score -= penalty

	if exercise == models.ExerciseSquat && hipAngle < squatBottomAngle {
		bonus := (squatBottomAngle - hipAngle) / 20 * 10
		if bonus > depthBonusMax {
			bonus = depthBonusMax
		}
		score += bonus
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
