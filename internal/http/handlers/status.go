package handlers

import (
	"errors"
	"net/http"

	"adflow/internal/domain"
)

// Status returns the read-only projection of a job's current state. Clients
// poll this until status reaches completed or failed.
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "Missing job_id")
		return
	}

	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "Job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("status lookup failed")
		a.error(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"job_id":        job.JobID,
		"status":        job.Status,
		"video_url":     job.VideoURL,
		"created_at":    job.CreatedAt,
		"completed_at":  job.CompletedAt,
		"media_outputs": jobMediaOutputs(job),
	})
}
