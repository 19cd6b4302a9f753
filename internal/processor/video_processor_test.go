package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftlab/formcoach-worker/internal/models"
)

type fakeStore struct {
	jobs     []*models.JobPayload
	statuses []string
	errorMsg string
	result   *models.VideoAnalysisResult
}

func (s *fakeStore) StoreJob(_ context.Context, job *models.JobPayload) error {
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *fakeStore) UpdateJobStatus(_ context.Context, _, status, errorMsg string) error {
	s.statuses = append(s.statuses, status)
	if errorMsg != "" {
		s.errorMsg = errorMsg
	}
	return nil
}

func (s *fakeStore) StoreAnalysisResult(_ context.Context, _ string, result *models.VideoAnalysisResult) error {
	s.result = result
	return nil
}

type fakeFetcher struct {
	path      string
	owned     bool
	err       error
	cleanedUp []string
}

func (f *fakeFetcher) Fetch(_ context.Context, _, _ string) (string, bool, error) {
	return f.path, f.owned, f.err
}

func (f *fakeFetcher) Cleanup(path string) error {
	f.cleanedUp = append(f.cleanedUp, path)
	return nil
}

type fakeOpener struct {
	source FrameSource
	err    error
}

func (o *fakeOpener) Open(_, _ string) (FrameSource, error) {
	return o.source, o.err
}

type recordingSink struct {
	updates []models.ProgressUpdate
}

func (r *recordingSink) Publish(_ context.Context, update models.ProgressUpdate) {
	r.updates = append(r.updates, update)
}

func testJob() *models.JobPayload {
	return &models.JobPayload{
		JobID:        "job-1",
		UserID:       "user-1",
		VideoURL:     "http://example.com/squat.mp4",
		ExerciseType: models.ExerciseSquat,
	}
}

func TestProcessCompletesJob(t *testing.T) {
	t.Parallel()

	angles := []float64{170, 120, 65, 95, 160}
	poses := map[int]models.KeypointSet{}
	for i, a := range angles {
		poses[i] = poseAtHipAngle(a)
	}

	store := &fakeStore{}
	fetcher := &fakeFetcher{path: "/tmp/squat.mp4", owned: true}
	opener := &fakeOpener{source: sourceFromAngles(poses, len(angles), 30)}
	sink := &recordingSink{}

	vp := NewVideoProcessor(store, fetcher, opener, &fakePose{poses: poses}, sink)
	require.NoError(t, vp.Process(context.Background(), testJob()))

	require.Len(t, store.jobs, 1)
	assert.Equal(t, []string{"processing", "completed"}, store.statuses)
	require.NotNil(t, store.result)
	assert.Equal(t, 1, store.result.TotalReps)
	assert.NotEmpty(t, store.result.VideoID)

	assert.Equal(t, []string{"/tmp/squat.mp4"}, fetcher.cleanedUp)

	require.NotEmpty(t, sink.updates)
	last := sink.updates[len(sink.updates)-1]
	assert.Equal(t, "completed", last.Status)
	assert.InDelta(t, 100, last.Progress, 1e-9)
	assert.Equal(t, 1, last.RepsDetected)
}

func TestProcessKeepsLocalFiles(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	fetcher := &fakeFetcher{path: "/videos/squat.mp4", owned: false}
	opener := &fakeOpener{source: sourceFromAngles(nil, 2, 30)}

	vp := NewVideoProcessor(store, fetcher, opener, &fakePose{}, nil)
	require.NoError(t, vp.Process(context.Background(), testJob()))

	assert.Empty(t, fetcher.cleanedUp)
}

func TestProcessFailsWhenFetchFails(t *testing.T) {
	t.Parallel()

	fetchErr := errors.New("connection refused")
	store := &fakeStore{}
	fetcher := &fakeFetcher{err: fetchErr}
	sink := &recordingSink{}

	vp := NewVideoProcessor(store, fetcher, &fakeOpener{}, &fakePose{}, sink)
	err := vp.Process(context.Background(), testJob())
	require.Error(t, err)
	assert.ErrorIs(t, err, fetchErr)

	assert.Equal(t, []string{"processing", "failed"}, store.statuses)
	assert.Contains(t, store.errorMsg, "connection refused")

	last := sink.updates[len(sink.updates)-1]
	assert.Equal(t, "failed", last.Status)
}

func TestProcessFailsWhenVideoUnopenable(t *testing.T) {
	t.Parallel()

	openErr := errors.New("no video stream")
	store := &fakeStore{}
	fetcher := &fakeFetcher{path: "/tmp/bad.mp4", owned: true}

	vp := NewVideoProcessor(store, fetcher, &fakeOpener{err: openErr}, &fakePose{}, nil)
	err := vp.Process(context.Background(), testJob())
	require.Error(t, err)
	assert.ErrorIs(t, err, openErr)

	assert.Equal(t, []string{"processing", "failed"}, store.statuses)
	assert.Equal(t, []string{"/tmp/bad.mp4"}, fetcher.cleanedUp)
}

func TestProcessPreservesProvidedVideoID(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	job := testJob()
	job.VideoID = "vid-preset"

	vp := NewVideoProcessor(store, &fakeFetcher{path: "/tmp/v.mp4"},
		&fakeOpener{source: sourceFromAngles(nil, 1, 30)}, &fakePose{}, nil)
	require.NoError(t, vp.Process(context.Background(), job))

	require.NotNil(t, store.result)
	assert.Equal(t, "vid-preset", store.result.VideoID)
}
