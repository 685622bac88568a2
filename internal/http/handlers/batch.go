package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"adflow/internal/domain"
	"adflow/internal/generation"
)

type batchRequest struct {
	ParentJobID string                    `json:"parent_job_id"`
	TotalVideos int                       `json:"total_videos"`
	Payloads    []generation.BatchPayload `json:"payloads"`
}

// BatchVideoGeneration receives a prepared batch of video prompts from the
// workflow engine and fans them out to the generation worker. The response
// confirms how many units were started, not that any of them succeed.
func (a *App) BatchVideoGeneration(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if req.ParentJobID == "" || len(req.Payloads) == 0 {
		a.error(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	started, err := a.Dispatcher.Dispatch(r.Context(), req.ParentJobID, req.Payloads)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "Job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", req.ParentJobID).Msg("batch dispatch failed")
		a.error(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Started generation for %d of %d videos", started, len(req.Payloads)),
		"job_id":  req.ParentJobID,
	})
}
