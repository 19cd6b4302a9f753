// Package storage persists analysis jobs and their results in PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/liftlab/formcoach-worker/internal/models"
)

// Job status values stored in the jobs table.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Store handles all PostgreSQL operations for the worker.
type Store struct {
	db *sql.DB
}

// NewStore connects to PostgreSQL and initializes the schema.
func NewStore(postgresURL string) (*Store, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates tables and indexes if they don't exist. Index creation
// runs separately so each statement stays idempotent.
func (s *Store) initSchema() error {
	tableSchema := `
	CREATE SCHEMA IF NOT EXISTS formcoach;

	-- Analysis jobs
	CREATE TABLE IF NOT EXISTS formcoach.jobs (
		job_id VARCHAR(255) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		video_url TEXT,
		video_id VARCHAR(255),
		exercise_type VARCHAR(50) NOT NULL,
		status VARCHAR(50) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		error TEXT
	);

	-- Per-video analysis summaries
	CREATE TABLE IF NOT EXISTS formcoach.video_results (
		job_id VARCHAR(255) PRIMARY KEY REFERENCES formcoach.jobs(job_id) ON DELETE CASCADE,
		video_id VARCHAR(255) NOT NULL,
		exercise_type VARCHAR(50) NOT NULL,
		total_frames INT NOT NULL,
		fps FLOAT NOT NULL,
		duration FLOAT NOT NULL,
		total_reps INT NOT NULL,
		average_form_score FLOAT NOT NULL,
		summary JSONB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Detected repetitions
	CREATE TABLE IF NOT EXISTS formcoach.reps (
		id SERIAL PRIMARY KEY,
		job_id VARCHAR(255) NOT NULL REFERENCES formcoach.jobs(job_id) ON DELETE CASCADE,
		rep_number INT NOT NULL,
		start_frame INT NOT NULL,
		end_frame INT NOT NULL,
		duration FLOAT NOT NULL,
		max_depth_angle FLOAT NOT NULL,
		average_form_score FLOAT NOT NULL,
		form_issues JSONB,
		phase_timings JSONB NOT NULL
	);

	-- Per-frame measurements
	CREATE TABLE IF NOT EXISTS formcoach.frames (
		id SERIAL PRIMARY KEY,
		job_id VARCHAR(255) NOT NULL REFERENCES formcoach.jobs(job_id) ON DELETE CASCADE,
		frame_number INT NOT NULL,
		timestamp FLOAT NOT NULL,
		hip_angle FLOAT NOT NULL,
		spine_angle FLOAT NOT NULL,
		knee_angle FLOAT NOT NULL,
		form_score INT NOT NULL,
		is_good_form BOOLEAN NOT NULL,
		rep_phase VARCHAR(50) NOT NULL
	);
	`

	if _, err := s.db.Exec(tableSchema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	indexStatements := []string{
		`CREATE INDEX IF NOT EXISTS idx_jobs_user_id ON formcoach.jobs(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON formcoach.jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON formcoach.jobs(created_at)`,

		`CREATE INDEX IF NOT EXISTS idx_reps_job_id ON formcoach.reps(job_id)`,

		`CREATE INDEX IF NOT EXISTS idx_frames_job_id ON formcoach.frames(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_frames_frame_number ON formcoach.frames(frame_number)`,
	}

	for _, stmt := range indexStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w (statement: %s)", err, stmt)
		}
	}

	return nil
}

// StoreJob records a job, updating the status on re-delivery.
func (s *Store) StoreJob(ctx context.Context, job *models.JobPayload) error {
	query := `
		INSERT INTO formcoach.jobs (job_id, user_id, video_url, video_id, exercise_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, CURRENT_TIMESTAMP))
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status
	`

	_, err := s.db.ExecContext(ctx, query,
		job.JobID,
		job.UserID,
		job.VideoURL,
		job.VideoID,
		string(job.ExerciseType),
		StatusPending,
		job.EnqueuedAt,
	)
	return err
}

// UpdateJobStatus moves a job through its lifecycle. Terminal statuses set
// completed_at; processing sets started_at.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID, status, errorMsg string) error {
	query := `
		UPDATE formcoach.jobs
		SET status = $2,
		    error = NULLIF($3, ''),
		    started_at = CASE WHEN $2 = 'processing' THEN CURRENT_TIMESTAMP ELSE started_at END,
		    completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE job_id = $1
	`

	_, err := s.db.ExecContext(ctx, query, jobID, status, errorMsg)
	return err
}

// StoreAnalysisResult persists the full result in one transaction: the
// summary row plus every rep and frame.
func (s *Store) StoreAnalysisResult(ctx context.Context, jobID string, result *models.VideoAnalysisResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	summaryJSON, err := json.Marshal(result.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO formcoach.video_results (job_id, video_id, exercise_type, total_frames, fps, duration, total_reps, average_form_score, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id) DO UPDATE SET
			total_frames = EXCLUDED.total_frames,
			fps = EXCLUDED.fps,
			duration = EXCLUDED.duration,
			total_reps = EXCLUDED.total_reps,
			average_form_score = EXCLUDED.average_form_score,
			summary = EXCLUDED.summary
	`,
		jobID,
		result.VideoID,
		string(result.ExerciseType),
		result.TotalFrames,
		result.FPS,
		result.Duration,
		result.TotalReps,
		result.AverageFormScore,
		summaryJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to store video result: %w", err)
	}

	// Re-delivered jobs rewrite their reps and frames.
	if _, err := tx.ExecContext(ctx, `DELETE FROM formcoach.reps WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to clear reps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM formcoach.frames WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to clear frames: %w", err)
	}

	repStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO formcoach.reps (job_id, rep_number, start_frame, end_frame, duration, max_depth_angle, average_form_score, form_issues, phase_timings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare rep insert: %w", err)
	}
	defer repStmt.Close()

	for _, rep := range result.Reps {
		issuesJSON, err := json.Marshal(rep.FormIssues)
		if err != nil {
			return fmt.Errorf("failed to marshal form issues: %w", err)
		}
		timingsJSON, err := json.Marshal(rep.PhaseTimings)
		if err != nil {
			return fmt.Errorf("failed to marshal phase timings: %w", err)
		}

		if _, err := repStmt.ExecContext(ctx,
			jobID,
			rep.RepNumber,
			rep.StartFrame,
			rep.EndFrame,
			rep.Duration,
			rep.MaxDepthAngle,
			rep.AverageFormScore,
			issuesJSON,
			timingsJSON,
		); err != nil {
			return fmt.Errorf("failed to store rep %d: %w", rep.RepNumber, err)
		}
	}

	frameStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO formcoach.frames (job_id, frame_number, timestamp, hip_angle, spine_angle, knee_angle, form_score, is_good_form, rep_phase)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare frame insert: %w", err)
	}
	defer frameStmt.Close()

	for _, frame := range result.FrameAnalyses {
		if _, err := frameStmt.ExecContext(ctx,
			jobID,
			frame.FrameNumber,
			frame.Timestamp,
			frame.HipAngle,
			frame.SpineAngle,
			frame.KneeAngle,
			frame.FormScore,
			frame.IsGoodForm,
			string(frame.RepPhase),
		); err != nil {
			return fmt.Errorf("failed to store frame %d: %w", frame.FrameNumber, err)
		}
	}

	return tx.Commit()
}

// GetJobStatus returns a job's current status and error message.
func (s *Store) GetJobStatus(ctx context.Context, jobID string) (string, string, error) {
	var status string
	var errorMsg sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT status, error FROM formcoach.jobs WHERE job_id = $1`, jobID,
	).Scan(&status, &errorMsg)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("job %s not found", jobID)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to query job: %w", err)
	}

	return status, errorMsg.String, nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
