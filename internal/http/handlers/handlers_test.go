package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"adflow/internal/adapter/repo"
	"adflow/internal/domain"
	"adflow/internal/generation"
	"adflow/internal/http/handlers"
	"adflow/internal/http/httpapi"
	"adflow/internal/providers/comet"
	"adflow/internal/providers/n8n"
	"adflow/internal/storage"
)

const testSecret = "test-secret"

// testEnv wires a full handler stack around in-memory storage, a stub
// generative-media provider, and a stub workflow engine.
type testEnv struct {
	app        *handlers.App
	router     http.Handler
	jobs       *repo.MemoryJobRepository
	store      *storage.FileStore
	supervisor *generation.Supervisor
	engineHits int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{jobs: repo.NewMemoryJobRepository()}

	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	env.store = store

	providerMux := http.NewServeMux()
	providerMux.HandleFunc("POST /videos", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "video_test"})
	})
	providerMux.HandleFunc("GET /videos/video_test/content", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("mp4-bytes"))
	})
	providerSrv := httptest.NewServer(providerMux)
	t.Cleanup(providerSrv.Close)
	provider := comet.NewClient(comet.Options{APIKey: "test", BaseURL: providerSrv.URL})

	engineSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.engineHits++
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(engineSrv.Close)

	logger := zerolog.New(io.Discard)
	worker := generation.NewWorker(generation.WorkerOptions{
		Jobs:         env.jobs,
		Provider:     provider,
		Store:        store,
		Logger:       logger,
		PollInterval: time.Millisecond,
		MaxAttempts:  10,
	})
	env.supervisor = generation.NewSupervisor(4, logger)
	dispatcher := generation.NewDispatcher(generation.DispatcherOptions{
		Jobs:       env.jobs,
		Worker:     worker,
		Supervisor: env.supervisor,
		Logger:     logger,
		MaxVideos:  1,
	})

	env.app = &handlers.App{
		Jobs:       env.jobs,
		Store:      store,
		Engine:     n8n.NewClient(n8n.Options{WebhookURL: engineSrv.URL}),
		Worker:     worker,
		Dispatcher: dispatcher,
		Supervisor: env.supervisor,
		Logger:     logger,
	}
	env.router = httpapi.NewRouter(env.app, httpapi.Options{CallbackSecret: testSecret})
	return env
}

func (env *testEnv) createJob(t *testing.T, jobID string, status domain.JobStatus) {
	t.Helper()
	err := env.jobs.Create(context.Background(), &domain.Job{
		JobID:     jobID,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
}

func (env *testEnv) getJob(t *testing.T, jobID string) *domain.Job {
	t.Helper()
	job, err := env.jobs.GetByID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job %s: %v", jobID, err)
	}
	return job
}

func (env *testEnv) postJSON(t *testing.T, path, secret string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("x-n8n-secret", secret)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

