// Package geometry computes joint angles from pose landmarks.
//
// All functions are pure and never fail: degenerate geometry (coincident or
// missing keypoints collapsing a limb vector to zero length) yields a
// documented fallback value instead of an error, since occlusion is a normal
// condition in real footage. Left/right landmark pairs are averaged into a
// single midline point to reduce noise from lateral camera angles.
package geometry

import (
	"math"

	"github.com/liftlab/formcoach-worker/internal/models"
)

const (
	// FallbackExtended is returned for hip/knee angles when the limb
	// vectors are degenerate (treated as a fully extended joint).
	FallbackExtended = 180.0

	// FallbackVertical is returned for the spine angle when the torso
	// vector is degenerate (treated as a perfectly upright spine).
	FallbackVertical = 0.0
)

// AveragePoint returns the componentwise mean of two landmarks,
// visibility included.
func AveragePoint(a, b models.Landmark) models.Landmark {
	return models.Landmark{
		X:          (a.X + b.X) / 2,
		Y:          (a.Y + b.Y) / 2,
		Z:          (a.Z + b.Z) / 2,
		Visibility: (a.Visibility + b.Visibility) / 2,
	}
}

// HipAngle computes the angle at the hip between the thigh vector
// (hip->knee) and the shank vector (knee->ankle), in degrees.
func HipAngle(keypoints models.KeypointSet) float64 {
	hip := AveragePoint(keypoints[models.PartLeftHip], keypoints[models.PartRightHip])
	knee := AveragePoint(keypoints[models.PartLeftKnee], keypoints[models.PartRightKnee])
	ankle := AveragePoint(keypoints[models.PartLeftAnkle], keypoints[models.PartRightAnkle])

	thighX, thighY := knee.X-hip.X, knee.Y-hip.Y
	shankX, shankY := ankle.X-knee.X, ankle.Y-knee.Y

	return vectorAngle(thighX, thighY, shankX, shankY, FallbackExtended)
}

// SpineAngle computes the deviation of the hip->shoulder vector from
// vertical (toward the top of the frame), in degrees. Frame coordinates
// grow downward, so "up" is (0, -1).
func SpineAngle(keypoints models.KeypointSet) float64 {
	shoulder := AveragePoint(keypoints[models.PartLeftShoulder], keypoints[models.PartRightShoulder])
	hip := AveragePoint(keypoints[models.PartLeftHip], keypoints[models.PartRightHip])

	spineX, spineY := shoulder.X-hip.X, shoulder.Y-hip.Y

	return vectorAngle(spineX, spineY, 0, -1, FallbackVertical)
}

// KneeAngle computes the angle at the knee between the knee->hip and
// knee->ankle vectors, in degrees.
func KneeAngle(keypoints models.KeypointSet) float64 {
	hip := AveragePoint(keypoints[models.PartLeftHip], keypoints[models.PartRightHip])
	knee := AveragePoint(keypoints[models.PartLeftKnee], keypoints[models.PartRightKnee])
	ankle := AveragePoint(keypoints[models.PartLeftAnkle], keypoints[models.PartRightAnkle])

	thighX, thighY := hip.X-knee.X, hip.Y-knee.Y
	shankX, shankY := ankle.X-knee.X, ankle.Y-knee.Y

	return vectorAngle(thighX, thighY, shankX, shankY, FallbackExtended)
}

// vectorAngle returns the angle between two 2D vectors in degrees.
// The cosine argument is clamped to [-1, 1] before acos to absorb
// floating-point drift. Zero-length vectors return the fallback.
func vectorAngle(ax, ay, bx, by, fallback float64) float64 {
	magA := math.Sqrt(ax*ax + ay*ay)
	magB := math.Sqrt(bx*bx + by*by)
	if magA == 0 || magB == 0 {
		return fallback
	}

	cos := (ax*bx + ay*by) / (magA * magB)
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}

	return math.Acos(cos) * 180 / math.Pi
}
