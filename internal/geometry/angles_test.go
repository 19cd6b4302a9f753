package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/liftlab/formcoach-worker/internal/models"
)

// uniformKeypoints places every required landmark at the same point.
func uniformKeypoints(x, y float64) models.KeypointSet {
	kp := models.KeypointSet{}
	for _, part := range models.RequiredParts {
		kp[part] = models.Landmark{X: x, Y: y, Visibility: 1}
	}
	return kp
}

func setPair(kp models.KeypointSet, left, right string, x, y float64) {
	kp[left] = models.Landmark{X: x, Y: y, Visibility: 1}
	kp[right] = models.Landmark{X: x, Y: y, Visibility: 1}
}

func TestDegenerateKeypointsUseFallbacks(t *testing.T) {
	t.Parallel()

	kp := uniformKeypoints(0.5, 0.5)

	assert.Equal(t, 180.0, HipAngle(kp))
	assert.Equal(t, 0.0, SpineAngle(kp))
	assert.Equal(t, 180.0, KneeAngle(kp))
}

func TestHipAngleStraightLeg(t *testing.T) {
	t.Parallel()

	// Hip, knee, ankle vertically aligned: thigh and shank vectors are
	// parallel, so the hip angle between them is 0.
	kp := uniformKeypoints(0.5, 0.1)
	setPair(kp, models.PartLeftHip, models.PartRightHip, 0.5, 0.5)
	setPair(kp, models.PartLeftKnee, models.PartRightKnee, 0.5, 0.7)
	setPair(kp, models.PartLeftAnkle, models.PartRightAnkle, 0.5, 0.9)

	assert.InDelta(t, 0.0, HipAngle(kp), 1e-9)
}

func TestHipAngleRightAngleBend(t *testing.T) {
	t.Parallel()

	// Thigh horizontal, shank vertical: 90 degrees between the vectors.
	kp := uniformKeypoints(0.5, 0.1)
	setPair(kp, models.PartLeftHip, models.PartRightHip, 0.3, 0.5)
	setPair(kp, models.PartLeftKnee, models.PartRightKnee, 0.5, 0.5)
	setPair(kp, models.PartLeftAnkle, models.PartRightAnkle, 0.5, 0.8)

	assert.InDelta(t, 90.0, HipAngle(kp), 1e-9)
}

func TestSpineAngleUprightAndLeaning(t *testing.T) {
	t.Parallel()

	// Shoulders directly above hips: spine is vertical.
	kp := uniformKeypoints(0.5, 0.5)
	setPair(kp, models.PartLeftShoulder, models.PartRightShoulder, 0.5, 0.2)
	setPair(kp, models.PartLeftHip, models.PartRightHip, 0.5, 0.6)
	assert.InDelta(t, 0.0, SpineAngle(kp), 1e-9)

	// 45-degree forward lean.
	setPair(kp, models.PartLeftShoulder, models.PartRightShoulder, 0.8, 0.3)
	setPair(kp, models.PartLeftHip, models.PartRightHip, 0.5, 0.6)
	assert.InDelta(t, 45.0, SpineAngle(kp), 1e-9)
}

func TestKneeAngleFullExtension(t *testing.T) {
	t.Parallel()

	// Hip above the knee, ankle below it: the two vectors out of the
	// knee point in opposite directions, so the knee reads 180.
	kp := uniformKeypoints(0.5, 0.1)
	setPair(kp, models.PartLeftHip, models.PartRightHip, 0.5, 0.4)
	setPair(kp, models.PartLeftKnee, models.PartRightKnee, 0.5, 0.6)
	setPair(kp, models.PartLeftAnkle, models.PartRightAnkle, 0.5, 0.8)

	assert.InDelta(t, 180.0, KneeAngle(kp), 1e-9)
}

func TestAveragePoint(t *testing.T) {
	t.Parallel()

	a := models.Landmark{X: 0.2, Y: 0.4, Z: -0.1, Visibility: 0.9}
	b := models.Landmark{X: 0.4, Y: 0.8, Z: 0.3, Visibility: 0.5}

	avg := AveragePoint(a, b)
	assert.InDelta(t, 0.3, avg.X, 1e-9)
	assert.InDelta(t, 0.6, avg.Y, 1e-9)
	assert.InDelta(t, 0.1, avg.Z, 1e-9)
	assert.InDelta(t, 0.7, avg.Visibility, 1e-9)
}

func TestBilateralAveragingMergesSides(t *testing.T) {
	t.Parallel()

	// Asymmetric left/right hips must behave like their midpoint.
	kp := uniformKeypoints(0.5, 0.1)
	kp[models.PartLeftHip] = models.Landmark{X: 0.4, Y: 0.5, Visibility: 1}
	kp[models.PartRightHip] = models.Landmark{X: 0.6, Y: 0.5, Visibility: 1}
	setPair(kp, models.PartLeftKnee, models.PartRightKnee, 0.5, 0.7)
	setPair(kp, models.PartLeftAnkle, models.PartRightAnkle, 0.5, 0.9)

	merged := uniformKeypoints(0.5, 0.1)
	setPair(merged, models.PartLeftHip, models.PartRightHip, 0.5, 0.5)
	setPair(merged, models.PartLeftKnee, models.PartRightKnee, 0.5, 0.7)
	setPair(merged, models.PartLeftAnkle, models.PartRightAnkle, 0.5, 0.9)

	assert.InDelta(t, HipAngle(merged), HipAngle(kp), 1e-9)
}
