package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftlab/formcoach-worker/internal/models"
)

// keypointsForHipAngle builds a keypoint set whose averaged hip angle is
// approximately the given value, with shoulders kept above the hips so the
// spine reads near vertical.
func keypointsForHipAngle(degrees float64) models.KeypointSet {
	// Thigh points straight down; rotate the shank away from it by the
	// requested angle.
	rad := degrees * math.Pi / 180
	kp := models.KeypointSet{}

	hip := models.Landmark{X: 0.5, Y: 0.4, Visibility: 1}
	knee := models.Landmark{X: 0.5, Y: 0.6, Visibility: 1}
	ankle := models.Landmark{
		X:          knee.X + 0.2*math.Sin(rad),
		Y:          knee.Y + 0.2*math.Cos(rad),
		Visibility: 1,
	}

	for _, part := range []string{models.PartLeftHip, models.PartRightHip} {
		kp[part] = hip
	}
	for _, part := range []string{models.PartLeftKnee, models.PartRightKnee} {
		kp[part] = knee
	}
	for _, part := range []string{models.PartLeftAnkle, models.PartRightAnkle} {
		kp[part] = ankle
	}
	for _, part := range []string{models.PartLeftShoulder, models.PartRightShoulder} {
		kp[part] = models.Landmark{X: 0.5, Y: 0.1, Visibility: 1}
	}
	kp[models.PartNose] = models.Landmark{X: 0.5, Y: 0.05, Visibility: 1}
	return kp
}

func TestClassifyRejectsIncompleteKeypoints(t *testing.T) {
	t.Parallel()

	kp := keypointsForHipAngle(120)
	delete(kp, models.PartLeftAnkle)

	c := NewClassifier(models.ExerciseSquat)
	_, err := c.Classify(kp, 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), models.PartLeftAnkle)
}

func TestSquatPhaseThresholds(t *testing.T) {
	t.Parallel()

	c := NewClassifier(models.ExerciseSquat)

	frame, err := c.Classify(keypointsForHipAngle(170), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseTop, frame.RepPhase)

	frame, err = c.Classify(keypointsForHipAngle(60), 1, 0.033)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseBottom, frame.RepPhase)
}

func TestSquatDescentThenAscent(t *testing.T) {
	t.Parallel()

	c := NewClassifier(models.ExerciseSquat)

	// 120 is mid-range and below the initial previous angle of 180.
	frame, err := c.Classify(keypointsForHipAngle(120), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseDescent, frame.RepPhase)

	// Hip angle rising again: ascent.
	frame, err = c.Classify(keypointsForHipAngle(140), 1, 0.033)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseAscent, frame.RepPhase)
}

func TestDeadliftPhaseThresholds(t *testing.T) {
	t.Parallel()

	c := NewClassifier(models.ExerciseDeadlift)

	// 155 sits between the squat top (150) and deadlift top (160)
	// thresholds: a deadlift must not read as top here.
	frame, err := c.Classify(keypointsForHipAngle(155), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseDescent, frame.RepPhase)

	frame, err = c.Classify(keypointsForHipAngle(165), 1, 0.033)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseTop, frame.RepPhase)

	frame, err = c.Classify(keypointsForHipAngle(95), 2, 0.066)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseBottom, frame.RepPhase)
}

func TestFormScoreRangeForExtremeAngles(t *testing.T) {
	t.Parallel()

	angles := []float64{-720, -90, 0, 45, 90, 135, 180, 360, 1e6}
	for _, hip := range angles {
		for _, spine := range angles {
			for _, ex := range []models.ExerciseType{models.ExerciseSquat, models.ExerciseDeadlift} {
				score := formScore(hip, spine, ex)
				assert.GreaterOrEqual(t, score, 0, "hip=%v spine=%v %s", hip, spine, ex)
				assert.LessOrEqual(t, score, 100, "hip=%v spine=%v %s", hip, spine, ex)
			}
		}
	}
}

func TestFormScoreSpinePenalty(t *testing.T) {
	t.Parallel()

	// Within tolerance: perfect score.
	assert.Equal(t, 100, formScore(120, 5, models.ExerciseSquat))
	// 10 degrees over tolerance costs 20 points.
	assert.Equal(t, 80, formScore(120, 15, models.ExerciseSquat))
	// Penalty caps at 40.
	assert.Equal(t, 60, formScore(120, 90, models.ExerciseSquat))
}

func TestFormScoreDepthBonusSquatOnly(t *testing.T) {
	t.Parallel()

	// Deep squat with a lean: the bonus offsets part of the penalty.
	squat := formScore(70, 15, models.ExerciseSquat)
	deadlift := formScore(70, 15, models.ExerciseDeadlift)
	assert.Equal(t, 90, squat) // 100 - 20 + 10
	assert.Equal(t, 80, deadlift)

	// Bonus caps at 10 no matter how deep.
	assert.Equal(t, 100, formScore(10, 0, models.ExerciseSquat))
}

func TestGoodFormFlag(t *testing.T) {
	t.Parallel()

	c := NewClassifier(models.ExerciseSquat)
	frame, err := c.Classify(keypointsForHipAngle(170), 0, 0)
	require.NoError(t, err)
	assert.True(t, frame.IsGoodForm)
	assert.GreaterOrEqual(t, frame.FormScore, 70)
}

func TestClassifierDeterminism(t *testing.T) {
	t.Parallel()

	angles := []float64{170, 150, 120, 80, 60, 60, 95, 130, 170}

	run := func() []models.FrameAnalysis {
		c := NewClassifier(models.ExerciseSquat)
		out := make([]models.FrameAnalysis, 0, len(angles))
		for i, a := range angles {
			frame, err := c.Classify(keypointsForHipAngle(a), i, float64(i)/30)
			require.NoError(t, err)
			out = append(out, frame)
		}
		return out
	}

	assert.Equal(t, run(), run())
}
