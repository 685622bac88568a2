package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"adflow/internal/domain"
	"adflow/internal/generation"
)

// callbackEnvelope is the normalized shape of a workflow engine callback:
// the identity and routing fields are typed, everything else is kept verbatim
// in Rest for the audit trail and per-branch extras.
type callbackEnvelope struct {
	JobID       string
	ParentJobID string
	Status      string
	VideoURL    string
	VariantInfo string
	Rest        map[string]any
}

func parseCallback(r *http.Request) (*callbackEnvelope, error) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, err
	}
	env := &callbackEnvelope{Rest: body}
	env.JobID = takeString(body, "job_id")
	env.ParentJobID = takeString(body, "parent_job_id")
	env.Status = takeString(body, "status")
	env.VideoURL = takeString(body, "video_url")
	env.VariantInfo = takeString(body, "variant_info")
	return env, nil
}

// Callback folds an asynchronous workflow engine notification into the job
// store. The shared-secret check runs in middleware before this handler.
func (a *App) Callback(w http.ResponseWriter, r *http.Request) {
	env, err := parseCallback(r)
	if err != nil {
		a.error(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	// Composite "<parent>_VARIATION_<variant>" identifiers come from the
	// prompt-optimization workflow; recover the real job and variant label.
	if env.ParentJobID == "" && env.JobID != "" {
		if parent, variant := generation.SplitVariantID(env.JobID); variant != "" {
			env.ParentJobID = parent
			if env.VariantInfo == "" {
				env.VariantInfo = variant
			}
		}
	}
	jobID := env.ParentJobID
	if jobID == "" {
		jobID = env.JobID
	}
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "Missing job_id")
		return
	}

	log := a.Logger.With().Str("job_id", jobID).Str("variant", env.VariantInfo).Logger()

	switch {
	case env.Status == "completed" && env.VideoURL != "":
		a.callbackVideoCompleted(w, r, env, jobID)
	case env.Status == "payload_ready":
		a.callbackPayloadReady(w, r, env, jobID)
	default:
		log.Info().Str("status", env.Status).Msg("callback: legacy completion")
		a.callbackLegacyCompletion(w, r, env, jobID)
	}
}

// callbackVideoCompleted handles one finished unit of a multi-video job: the
// engine delivers the asset URL and we append it to the shared record.
func (a *App) callbackVideoCompleted(w http.ResponseWriter, r *http.Request, env *callbackEnvelope, jobID string) {
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "Job not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "Failed to fetch job")
		return
	}

	position := len(job.Payload.MediaOutputs) + 1
	angleID := restInt(env.Rest, "angle_id")
	if angleID == 0 {
		angleID = position
	}
	angleName := restString(env.Rest, "angle_name")
	if angleName == "" {
		angleName = env.VariantInfo
	}
	if angleName == "" {
		angleName = fmt.Sprintf("Variation %d", position)
	}
	duration := restString(env.Rest, "duration")
	if duration == "" {
		seconds := restInt(env.Rest, "seconds")
		if seconds <= 0 {
			seconds = 15
		}
		duration = fmt.Sprintf("%ds", seconds)
	}
	variant := env.VariantInfo
	if variant == "" {
		variant = env.JobID
	}

	output := domain.MediaOutput{
		Type:      domain.MediaTypeVideo,
		URL:       env.VideoURL,
		AngleID:   angleID,
		AngleName: angleName,
		Prompt:    restString(env.Rest, "prompt"),
		Duration:  duration,
		Variant:   variant,
	}
	// Batch callbacks carry an explicit is_last_video flag; a delivery without
	// one is a standalone completion and finalizes the job.
	markCompleted := true
	if _, ok := env.Rest["is_last_video"]; ok {
		markCompleted = restBool(env.Rest, "is_last_video")
	}
	updated, err := a.Jobs.AppendMediaOutput(r.Context(), jobID, output, domain.AppendOptions{
		MarkCompleted: markCompleted,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTerminalStatus):
			// The job was finalized before this delivery arrived; accept the
			// callback without touching the frozen record.
			a.json(w, http.StatusOK, map[string]any{"success": true, "video_count": len(job.Payload.MediaOutputs)})
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "Job not found")
		default:
			a.Logger.Error().Err(err).Str("job_id", jobID).Msg("callback: append failed")
			a.error(w, http.StatusInternalServerError, "Failed to update job")
		}
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "video_count": len(updated.Payload.MediaOutputs)})
}

// callbackPayloadReady handles the deferred-generation branch: the engine has
// prepared a prompt and this process owns driving the provider.
func (a *App) callbackPayloadReady(w http.ResponseWriter, r *http.Request, env *callbackEnvelope, jobID string) {
	raw, _ := json.Marshal(env.Rest)
	err := a.Jobs.Update(r.Context(), jobID, domain.JobUpdate{
		Status:    statusPtr(domain.JobStatusGenerating),
		EngineRaw: raw,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "Job not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "Failed to update job status")
		return
	}

	seconds := restInt(env.Rest, "n_frames")
	if seconds <= 0 {
		seconds = 5
	}
	angleName := restString(env.Rest, "angle_name")
	if angleName == "" {
		angleName = env.VariantInfo
	}
	req := generation.Request{
		Type:      domain.MediaTypeVideo,
		Prompt:    restString(env.Rest, "prompt"),
		Seconds:   seconds,
		AngleID:   restInt(env.Rest, "angle_id"),
		AngleName: angleName,
		Variant:   env.VariantInfo,
		LastUnit:  true,
	}
	a.Supervisor.Submit("callback generation "+jobID, func(ctx context.Context) error {
		return a.Worker.Run(ctx, jobID, req)
	})

	a.json(w, http.StatusOK, map[string]any{"success": true, "message": "Generation started"})
}

// callbackLegacyCompletion is the single-asset backward-compatible path: an
// unconditional overwrite, naturally idempotent under redelivery.
func (a *App) callbackLegacyCompletion(w http.ResponseWriter, r *http.Request, env *callbackEnvelope, jobID string) {
	raw, _ := json.Marshal(env.Rest)
	update := domain.JobUpdate{
		Status:      statusPtr(domain.JobStatusCompleted),
		EngineRaw:   raw,
		CompletedAt: timePtr(time.Now().UTC()),
	}
	if env.VideoURL != "" {
		update.VideoURL = stringPtr(env.VideoURL)
	}
	if err := a.Jobs.Update(r.Context(), jobID, update); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "Job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("callback: update failed")
		a.error(w, http.StatusInternalServerError, "Failed to update job")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true})
}

// takeString removes key from the body and returns its string value, so the
// remaining map holds only the free-form rest fields.
func takeString(body map[string]any, key string) string {
	v, ok := body[key]
	if !ok {
		return ""
	}
	delete(body, key)
	s, _ := v.(string)
	return s
}

func restString(rest map[string]any, key string) string {
	s, _ := rest[key].(string)
	return s
}

func restInt(rest map[string]any, key string) int {
	switch v := rest[key].(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	case int:
		return v
	}
	return 0
}

func restBool(rest map[string]any, key string) bool {
	switch v := rest[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}
