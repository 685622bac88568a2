package repo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adflow/internal/domain"
)

func newTestJob(t *testing.T, r *MemoryJobRepository, status domain.JobStatus) *domain.Job {
	t.Helper()
	job := &domain.Job{
		JobID:     "job-" + string(status),
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, r.Create(context.Background(), job))
	return job
}

func TestMemoryRepoCreateAndGet(t *testing.T) {
	r := NewMemoryJobRepository()
	job := newTestJob(t, r, domain.JobStatusSubmitted)

	got, err := r.GetByID(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSubmitted, got.Status)
	assert.Empty(t, got.Payload.MediaOutputs)

	_, err = r.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryRepoUpdateMergesFields(t *testing.T) {
	r := NewMemoryJobRepository()
	job := newTestJob(t, r, domain.JobStatusSubmitted)

	status := domain.JobStatusGenerating
	raw := []byte(`{"prompt":"hero shot"}`)
	require.NoError(t, r.Update(context.Background(), job.JobID, domain.JobUpdate{
		Status:    &status,
		EngineRaw: raw,
	}))

	got, err := r.GetByID(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusGenerating, got.Status)
	assert.JSONEq(t, string(raw), string(got.EngineRaw))
	assert.Equal(t, int64(1), got.Version)

	// Fields left nil stay untouched.
	url := "/static/generated_videos/x.mp4"
	require.NoError(t, r.Update(context.Background(), job.JobID, domain.JobUpdate{VideoURL: &url}))
	got, err = r.GetByID(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusGenerating, got.Status)
	assert.Equal(t, url, got.VideoURL)

	err = r.Update(context.Background(), "missing", domain.JobUpdate{Status: &status})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAppendAdvancesSubmittedToProcessing(t *testing.T) {
	r := NewMemoryJobRepository()
	job := newTestJob(t, r, domain.JobStatusSubmitted)

	got, err := r.AppendMediaOutput(context.Background(), job.JobID, domain.MediaOutput{
		Type: domain.MediaTypeVideo,
		URL:  "/static/generated_videos/a.mp4",
	}, domain.AppendOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	require.Len(t, got.Payload.MediaOutputs, 1)
	assert.NotEmpty(t, got.Payload.MediaOutputs[0].ID)
	assert.False(t, got.Payload.MediaOutputs[0].CreatedAt.IsZero())
	assert.Nil(t, got.CompletedAt)
}

func TestAppendNeverRegressesGenerating(t *testing.T) {
	r := NewMemoryJobRepository()
	job := newTestJob(t, r, domain.JobStatusGenerating)

	got, err := r.AppendMediaOutput(context.Background(), job.JobID, domain.MediaOutput{
		Type: domain.MediaTypeVideo,
		URL:  "/static/generated_videos/a.mp4",
	}, domain.AppendOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusGenerating, got.Status)
}

func TestAppendMarkCompletedStampsCompletion(t *testing.T) {
	r := NewMemoryJobRepository()
	job := newTestJob(t, r, domain.JobStatusGenerating)

	got, err := r.AppendMediaOutput(context.Background(), job.JobID, domain.MediaOutput{
		Type: domain.MediaTypeVideo,
		URL:  "/static/generated_videos/last.mp4",
	}, domain.AppendOptions{MarkCompleted: true})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestAppendRejectsTerminalJobs(t *testing.T) {
	r := NewMemoryJobRepository()
	job := newTestJob(t, r, domain.JobStatusFailed)

	_, err := r.AppendMediaOutput(context.Background(), job.JobID, domain.MediaOutput{
		Type: domain.MediaTypeVideo,
		URL:  "/static/generated_videos/late.mp4",
	}, domain.AppendOptions{})
	assert.ErrorIs(t, err, domain.ErrTerminalStatus)

	// MarkCompleted does not reopen a finalized job either.
	_, err = r.AppendMediaOutput(context.Background(), job.JobID, domain.MediaOutput{
		Type: domain.MediaTypeVideo,
		URL:  "/static/generated_videos/late.mp4",
	}, domain.AppendOptions{MarkCompleted: true})
	assert.ErrorIs(t, err, domain.ErrTerminalStatus)
}

func TestConcurrentAppendsBothLand(t *testing.T) {
	r := NewMemoryJobRepository()
	job := newTestJob(t, r, domain.JobStatusGenerating)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.AppendMediaOutput(context.Background(), job.JobID, domain.MediaOutput{
				Type:    domain.MediaTypeVideo,
				URL:     "/static/generated_videos/race.mp4",
				AngleID: i + 1,
			}, domain.AppendOptions{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := r.GetByID(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Len(t, got.Payload.MediaOutputs, 2, "concurrent appends must not lose outputs")
	assert.Equal(t, int64(2), got.Version)
}

func TestApplyAppendDoesNotMutateInput(t *testing.T) {
	job := &domain.Job{
		JobID:  "j",
		Status: domain.JobStatusProcessing,
		Payload: domain.JobPayload{
			MediaOutputs: []domain.MediaOutput{{ID: "one"}},
		},
	}
	next, err := applyAppend(job, domain.MediaOutput{ID: "two"}, domain.AppendOptions{})
	require.NoError(t, err)
	assert.Len(t, job.Payload.MediaOutputs, 1)
	assert.Len(t, next.Payload.MediaOutputs, 2)
}
