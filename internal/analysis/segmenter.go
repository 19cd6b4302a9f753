package analysis

import (
	"github.com/liftlab/formcoach-worker/internal/models"
)

// Rep boundary thresholds in degrees. A rep begins when the hip angle drops
// below the exercise's entry threshold and completes when it rises back
// above repCompleteAngle. The completion threshold is the same for both
// exercises even though the entry thresholds differ.
const (
	squatRepAngle    = 70.0
	deadliftRepAngle = 100.0
	repCompleteAngle = 150.0
)

// Form issue labels attached to finalized reps.
const (
	IssueForwardLean       = "Excessive forward lean"
	IssueInsufficientDepth = "Insufficient depth"

	leanIssueAngle  = 15.0 // Max spine angle before flagging lean
	depthIssueAngle = 90.0 // Min hip angle that still counts as deep enough
)

// Segmenter is the two-state rep detection machine: idle until the bottom
// position is reached, in-bottom until the lifter stands back up. Every
// frame is buffered into the current rep regardless of state. One Segmenter
// serves one video.
type Segmenter struct {
	exercise      models.ExerciseType
	fps           float64
	inBottom      bool
	repCount      int
	repStartFrame int
	buffer        []models.FrameAnalysis
	reps          []models.RepAnalysis
}

// NewSegmenter creates a segmenter for one video at the given frame rate.
func NewSegmenter(exercise models.ExerciseType, fps float64) *Segmenter {
	return &Segmenter{
		exercise: exercise,
		fps:      fps,
	}
}

// Observe consumes the next frame analysis in video order. When the frame
// completes a rep, the finalized RepAnalysis is returned; otherwise nil.
//
// Oscillation around the entry threshold cannot double-count: repeated dips
// while already in the bottom position only accumulate into the current
// buffer, and a completion is only possible after a bottom entry.
func (s *Segmenter) Observe(frame models.FrameAnalysis) *models.RepAnalysis {
	s.buffer = append(s.buffer, frame)

	entryAngle := squatRepAngle
	if s.exercise == models.ExerciseDeadlift {
		entryAngle = deadliftRepAngle
	}

	switch {
	case !s.inBottom && frame.HipAngle < entryAngle:
		s.inBottom = true
		s.repStartFrame = frame.FrameNumber

	case s.inBottom && frame.HipAngle > repCompleteAngle:
		s.inBottom = false
		rep := s.finalize(s.repStartFrame, frame.FrameNumber)
		return &rep
	}

	return nil
}

// Flush finalizes a trailing rep from whatever frames remain buffered. A
// video that ends mid-rep still reports the motion it recorded. Returns nil
// when the buffer is empty.
func (s *Segmenter) Flush() *models.RepAnalysis {
	if len(s.buffer) == 0 {
		return nil
	}

	start := s.repStartFrame
	if !s.inBottom {
		// The trailing frames never reached the bottom position; anchor
		// the window at the first buffered frame so rep windows stay
		// disjoint.
		start = s.buffer[0].FrameNumber
	}
	s.inBottom = false

	rep := s.finalize(start, s.buffer[len(s.buffer)-1].FrameNumber)
	return &rep
}

// Reps returns all reps finalized so far, in order.
func (s *Segmenter) Reps() []models.RepAnalysis {
	return s.reps
}

// finalize turns the buffered frames into a RepAnalysis and clears the
// buffer. Callers guarantee the buffer is non-empty.
func (s *Segmenter) finalize(startFrame, endFrame int) models.RepAnalysis {
	s.repCount++

	var scoreSum float64
	minHipAngle := s.buffer[0].HipAngle
	maxSpineAngle := s.buffer[0].SpineAngle
	phaseFrames := map[models.RepPhase]int{}

	for _, f := range s.buffer {
		scoreSum += float64(f.FormScore)
		if f.HipAngle < minHipAngle {
			minHipAngle = f.HipAngle
		}
		if f.SpineAngle > maxSpineAngle {
			maxSpineAngle = f.SpineAngle
		}
		phaseFrames[f.RepPhase]++
	}

	var issues []string
	if maxSpineAngle > leanIssueAngle {
		issues = append(issues, IssueForwardLean)
	}
	if minHipAngle > depthIssueAngle {
		issues = append(issues, IssueInsufficientDepth)
	}

	timings := make(map[models.RepPhase]float64, len(models.Phases))
	for _, phase := range models.Phases {
		timings[phase] = float64(phaseFrames[phase]) / s.fps
	}

	rep := models.RepAnalysis{
		RepNumber:        s.repCount,
		StartFrame:       startFrame,
		EndFrame:         endFrame,
		Duration:         float64(len(s.buffer)) / s.fps,
		MaxDepthAngle:    minHipAngle,
		AverageFormScore: scoreSum / float64(len(s.buffer)),
		FormIssues:       issues,
		PhaseTimings:     timings,
	}

	s.reps = append(s.reps, rep)
	s.buffer = s.buffer[:0]
	return rep
}
