package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExerciseType identifies the movement being analyzed
type ExerciseType string

const (
	ExerciseSquat    ExerciseType = "squat"
	ExerciseDeadlift ExerciseType = "deadlift"
)

// Valid reports whether the exercise type is one the analyzer understands
func (e ExerciseType) Valid() bool {
	return e == ExerciseSquat || e == ExerciseDeadlift
}

// RepPhase is a named segment of a repetition's motion
type RepPhase string

const (
	PhaseDescent RepPhase = "descent"
	PhaseBottom  RepPhase = "bottom"
	PhaseAscent  RepPhase = "ascent"
	PhaseTop     RepPhase = "top"
)

// Phases lists every phase in rep order
var Phases = []RepPhase{PhaseDescent, PhaseBottom, PhaseAscent, PhaseTop}

// Body part names as reported by the pose-estimation service
const (
	PartNose          = "nose"
	PartLeftShoulder  = "left_shoulder"
	PartRightShoulder = "right_shoulder"
	PartLeftHip       = "left_hip"
	PartRightHip      = "right_hip"
	PartLeftKnee      = "left_knee"
	PartRightKnee     = "right_knee"
	PartLeftAnkle     = "left_ankle"
	PartRightAnkle    = "right_ankle"
)

// RequiredParts are the landmarks every classifiable frame must carry
var RequiredParts = []string{
	PartNose,
	PartLeftShoulder, PartRightShoulder,
	PartLeftHip, PartRightHip,
	PartLeftKnee, PartRightKnee,
	PartLeftAnkle, PartRightAnkle,
}

// Landmark is a single detected body point in frame-normalized coordinates
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// KeypointSet maps body-part names to landmarks for one frame.
// It is transient: the classifier consumes it and only the derived
// FrameAnalysis is retained.
type KeypointSet map[string]Landmark

// Complete reports whether all required body parts are present
func (k KeypointSet) Complete() bool {
	return k.MissingPart() == ""
}

// MissingPart returns the first required body part absent from the set,
// or "" when the set is complete
func (k KeypointSet) MissingPart() string {
	for _, part := range RequiredParts {
		if _, ok := k[part]; !ok {
			return part
		}
	}
	return ""
}

// FrameAnalysis holds the derived measurements for one analyzed frame
type FrameAnalysis struct {
	FrameNumber int      `json:"frameNumber"`
	Timestamp   float64  `json:"timestamp"` // Seconds from start
	HipAngle    float64  `json:"hipAngle"`  // Degrees
	SpineAngle  float64  `json:"spineAngle"`
	KneeAngle   float64  `json:"kneeAngle"`
	FormScore   int      `json:"formScore"` // 0-100
	IsGoodForm  bool     `json:"isGoodForm"`
	RepPhase    RepPhase `json:"repPhase"`
}

// RepAnalysis summarizes one completed repetition
type RepAnalysis struct {
	RepNumber        int                  `json:"repNumber"` // 1-based, sequential
	StartFrame       int                  `json:"startFrame"`
	EndFrame         int                  `json:"endFrame"`
	Duration         float64              `json:"duration"`      // Seconds
	MaxDepthAngle    float64              `json:"maxDepthAngle"` // Minimum hip angle over the rep
	AverageFormScore float64              `json:"averageFormScore"`
	FormIssues       []string             `json:"formIssues"`
	PhaseTimings     map[RepPhase]float64 `json:"phaseTimings"` // Seconds per phase
}

// VideoAnalysisResult is the complete per-video report returned to the caller
type VideoAnalysisResult struct {
	VideoID          string             `json:"videoId"`
	ExerciseType     ExerciseType       `json:"exerciseType"`
	TotalFrames      int                `json:"totalFrames"`
	FPS              float64            `json:"fps"`
	Duration         float64            `json:"duration"`
	TotalReps        int                `json:"totalReps"`
	AverageFormScore float64            `json:"averageFormScore"`
	Reps             []RepAnalysis      `json:"reps"`
	FrameAnalyses    []FrameAnalysis    `json:"frameAnalyses"`
	Summary          map[string]float64 `json:"summary"`
}

// JobPayload is the video analysis job as enqueued by the API layer
type JobPayload struct {
	JobID        string       `json:"jobId"`
	UserID       string       `json:"userId"`
	VideoURL     string       `json:"videoUrl,omitempty"` // HTTP URL or file:// path
	VideoID      string       `json:"videoId,omitempty"`
	ExerciseType ExerciseType `json:"exerciseType"`
	EnqueuedAt   *time.Time   `json:"enqueuedAt,omitempty"`
}

// Validate checks the payload carries everything the worker needs
func (p *JobPayload) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("job payload missing jobId")
	}
	if p.VideoURL == "" {
		return fmt.Errorf("job %s: no video URL provided", p.JobID)
	}
	if !p.ExerciseType.Valid() {
		return fmt.Errorf("job %s: unknown exercise type %q", p.JobID, p.ExerciseType)
	}
	return nil
}

// ProgressUpdate is published over Redis for real-time job tracking
type ProgressUpdate struct {
	JobID           string    `json:"jobId"`
	Status          string    `json:"status"`
	Progress        float64   `json:"progress"` // 0-100
	Message         string    `json:"message"`
	FramesProcessed int       `json:"framesProcessed"`
	TotalFrames     int       `json:"totalFrames"`
	RepsDetected    int       `json:"repsDetected"`
	Timestamp       time.Time `json:"timestamp"`
}

// Config holds worker configuration, loaded from environment variables
type Config struct {
	RedisURL          string
	PostgresURL       string
	PoseServiceURL    string
	WorkerConcurrency int
	TempDir           string
	MaxVideoSize      int64 // Bytes
}

// NewJobID generates a unique job ID
func NewJobID() string {
	return uuid.New().String()
}

// NewVideoID generates a unique video ID
func NewVideoID() string {
	return uuid.New().String()
}
