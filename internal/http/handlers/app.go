package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"adflow/internal/domain"
	"adflow/internal/generation"
	"adflow/internal/infra"
	"adflow/internal/providers/n8n"
	"adflow/internal/storage"
)

// App is the handler container: every route is a method on it and every
// dependency is injected at startup.
type App struct {
	Jobs       domain.JobRepository
	Store      *storage.FileStore
	Engine     *n8n.Client
	Worker     *generation.Worker
	Dispatcher *generation.Dispatcher
	Supervisor *generation.Supervisor
	Logger     infra.Logger
	PublicBase string
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]string{"error": message})
}

// Health reports process liveness.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// publicBase returns the URL prefix under which stored assets are served.
func (a *App) publicBase() string {
	base := strings.TrimRight(a.PublicBase, "/")
	if base == "" {
		return "/static"
	}
	return base
}

// storageKeyForURL maps a public asset URL back onto its storage key, or
// returns false for remote URLs this process does not host.
func (a *App) storageKeyForURL(url string) (string, bool) {
	prefix := a.publicBase() + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	return strings.TrimPrefix(url, prefix), true
}

// jobMediaOutputs projects the outputs of a job, synthesizing a single legacy
// entry from video_url for jobs completed through the single-asset path.
func jobMediaOutputs(job *domain.Job) []domain.MediaOutput {
	if len(job.Payload.MediaOutputs) > 0 {
		return job.Payload.MediaOutputs
	}
	if job.VideoURL == "" {
		return nil
	}
	created := job.CreatedAt
	if job.CompletedAt != nil {
		created = *job.CompletedAt
	}
	return []domain.MediaOutput{{
		// Deterministic id keeps repeated legacy callbacks idempotent.
		ID:        "legacy-" + job.JobID,
		Type:      domain.MediaTypeVideo,
		URL:       job.VideoURL,
		AngleID:   1,
		AngleName: "Primary",
		CreatedAt: created,
	}}
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func statusPtr(s domain.JobStatus) *domain.JobStatus {
	return &s
}

func stringPtr(s string) *string {
	return &s
}
