package generation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adflow/internal/adapter/repo"
	"adflow/internal/domain"
	"adflow/internal/providers/comet"
	"adflow/internal/storage"
)

// fakeProvider is a CometAPI stand-in. pendingPolls controls how many content
// polls answer 202 before the asset is served.
type fakeProvider struct {
	srv          *httptest.Server
	pendingPolls int32
	videoCalls   int32
	submitStatus int
}

func newFakeProvider(t *testing.T, pendingPolls int32) *fakeProvider {
	t.Helper()
	p := &fakeProvider{pendingPolls: pendingPolls, submitStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /videos", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&p.videoCalls, 1)
		if p.submitStatus != http.StatusOK {
			http.Error(w, "rejected", p.submitStatus)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "video_test"})
	})
	mux.HandleFunc("GET /videos/video_test/content", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&p.pendingPolls, -1) >= 0 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("mp4-bytes"))
	})
	mux.HandleFunc("POST /images", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"url": p.srv.URL + "/assets/out.png"})
	})
	mux.HandleFunc("GET /assets/out.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png-bytes"))
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) client() *comet.Client {
	return comet.NewClient(comet.Options{APIKey: "test", BaseURL: p.srv.URL})
}

func newTestWorker(t *testing.T, jobs domain.JobRepository, provider *comet.Client, maxAttempts int) *Worker {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return NewWorker(WorkerOptions{
		Jobs:         jobs,
		Provider:     provider,
		Store:        store,
		Logger:       zerolog.New(io.Discard),
		PollInterval: time.Millisecond,
		MaxAttempts:  maxAttempts,
	})
}

func seedJob(t *testing.T, jobs domain.JobRepository, status domain.JobStatus) *domain.Job {
	t.Helper()
	job := &domain.Job{JobID: "job-1", Status: status, CreatedAt: time.Now().UTC()}
	require.NoError(t, jobs.Create(context.Background(), job))
	return job
}

func TestWorkerVideoSuccessAfterPolling(t *testing.T) {
	provider := newFakeProvider(t, 2)
	jobs := repo.NewMemoryJobRepository()
	seedJob(t, jobs, domain.JobStatusGenerating)
	worker := newTestWorker(t, jobs, provider.client(), 10)

	err := worker.Run(context.Background(), "job-1", Request{
		Type:     domain.MediaTypeVideo,
		Prompt:   "hero shot",
		Seconds:  8,
		Variant:  "A",
		LastUnit: true,
	})
	require.NoError(t, err)

	job, err := jobs.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	require.Len(t, job.Payload.MediaOutputs, 1)
	out := job.Payload.MediaOutputs[0]
	assert.Equal(t, domain.MediaTypeVideo, out.Type)
	assert.Contains(t, out.URL, "/static/generated_videos/job-1/")
	assert.Equal(t, "8s", out.Duration)
	assert.Equal(t, "A", out.Variant)
}

func TestWorkerSubmitFailureMarksJobFailed(t *testing.T) {
	provider := newFakeProvider(t, 0)
	provider.submitStatus = http.StatusInternalServerError
	jobs := repo.NewMemoryJobRepository()
	seedJob(t, jobs, domain.JobStatusGenerating)
	worker := newTestWorker(t, jobs, provider.client(), 10)

	err := worker.Run(context.Background(), "job-1", Request{Type: domain.MediaTypeVideo, Prompt: "x"})
	require.ErrorIs(t, err, domain.ErrProviderFailure)

	job, err := jobs.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, string(job.EngineRaw), "error")
}

func TestWorkerPollCeilingTimesOut(t *testing.T) {
	provider := newFakeProvider(t, 1000)
	jobs := repo.NewMemoryJobRepository()
	seedJob(t, jobs, domain.JobStatusGenerating)
	worker := newTestWorker(t, jobs, provider.client(), 3)

	err := worker.Run(context.Background(), "job-1", Request{Type: domain.MediaTypeVideo, Prompt: "x"})
	require.ErrorIs(t, err, domain.ErrGenerationTimeout)

	job, err := jobs.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status, "job must never be left stuck in a running status")
}

func TestWorkerFailurePreservesSiblingOutputs(t *testing.T) {
	provider := newFakeProvider(t, 0)
	provider.submitStatus = http.StatusBadGateway
	jobs := repo.NewMemoryJobRepository()
	seedJob(t, jobs, domain.JobStatusGenerating)
	_, err := jobs.AppendMediaOutput(context.Background(), "job-1", domain.MediaOutput{
		Type: domain.MediaTypeVideo,
		URL:  "/static/generated_videos/job-1/first.mp4",
	}, domain.AppendOptions{})
	require.NoError(t, err)

	worker := newTestWorker(t, jobs, provider.client(), 10)
	err = worker.Run(context.Background(), "job-1", Request{Type: domain.MediaTypeVideo, Prompt: "x"})
	require.Error(t, err)

	job, err := jobs.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusGenerating, job.Status, "a failing unit must not wipe sibling results")
	assert.Len(t, job.Payload.MediaOutputs, 1)
	assert.Contains(t, string(job.EngineRaw), "error", "the failure is still recorded for audit")
}

func TestConcurrentWorkersBothLandOutputs(t *testing.T) {
	provider := newFakeProvider(t, 0)
	jobs := repo.NewMemoryJobRepository()
	seedJob(t, jobs, domain.JobStatusGenerating)
	worker := newTestWorker(t, jobs, provider.client(), 10)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := worker.Run(context.Background(), "job-1", Request{
				Type:    domain.MediaTypeVideo,
				Prompt:  "angle",
				AngleID: i + 1,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	job, err := jobs.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Len(t, job.Payload.MediaOutputs, 2, "racing units must not lose each other's appends")
}

func TestWorkerImageGeneration(t *testing.T) {
	provider := newFakeProvider(t, 0)
	jobs := repo.NewMemoryJobRepository()
	seedJob(t, jobs, domain.JobStatusGenerating)
	worker := newTestWorker(t, jobs, provider.client(), 10)

	err := worker.Run(context.Background(), "job-1", Request{
		Type:     domain.MediaTypeImage,
		Prompt:   "static ad",
		LastUnit: true,
	})
	require.NoError(t, err)

	job, err := jobs.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	require.Len(t, job.Payload.MediaOutputs, 1)
	out := job.Payload.MediaOutputs[0]
	assert.Equal(t, domain.MediaTypeImage, out.Type)
	assert.Equal(t, "static_ad", out.Placement)
	assert.Contains(t, out.URL, "/static/generated_images/job-1/")
}

func TestWorkerImageMissingSourceDowngrades(t *testing.T) {
	provider := newFakeProvider(t, 0)
	jobs := repo.NewMemoryJobRepository()
	seedJob(t, jobs, domain.JobStatusGenerating)
	worker := newTestWorker(t, jobs, provider.client(), 10)

	err := worker.Run(context.Background(), "job-1", Request{
		Type:        domain.MediaTypeImage,
		Prompt:      "static ad",
		SourceImage: "uploaded_images/job-1/missing.png",
		LastUnit:    true,
	})
	require.NoError(t, err, "a missing upload falls back to prompt-only generation")

	job, err := jobs.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
}
