package handlers

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"adflow/internal/domain"
	"adflow/internal/middleware"
	"adflow/internal/providers/n8n"
)

const maxSubmitMemory = 32 << 20

// knownSubmissionFields maps form field names onto the typed payload slots.
// Everything else lands in the payload's Extra bag.
var knownSubmissionFields = map[string]func(*domain.JobPayload, string){
	"website":             func(p *domain.JobPayload, v string) { p.Website = v },
	"product_name":        func(p *domain.JobPayload, v string) { p.ProductName = v },
	"product_description": func(p *domain.JobPayload, v string) { p.ProductDescription = v },
	"target_audience":     func(p *domain.JobPayload, v string) { p.TargetAudience = v },
}

// Submit accepts a multipart campaign submission, persists it as a job, and
// forwards it to the workflow engine. The engine reports back asynchronously,
// so the client only receives the job id to poll with.
func (a *App) Submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxSubmitMemory); err != nil {
		a.error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	jobID := uuid.NewString()
	payload := domain.JobPayload{
		Locale:  middleware.LocaleFromContext(r.Context()),
		Country: middleware.CountryFromContext(r.Context()),
	}

	fields := map[string]string{}
	for key, values := range r.MultipartForm.Value {
		if len(values) == 0 {
			continue
		}
		value := values[0]
		fields[key] = value
		if set, ok := knownSubmissionFields[key]; ok {
			set(&payload, value)
			continue
		}
		if payload.Extra == nil {
			payload.Extra = map[string]any{}
		}
		payload.Extra[key] = value
	}

	var uploads []n8n.Upload
	for field, headers := range r.MultipartForm.File {
		for i, header := range headers {
			file, err := header.Open()
			if err != nil {
				a.error(w, http.StatusBadRequest, "unreadable upload")
				return
			}
			data, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				a.error(w, http.StatusBadRequest, "unreadable upload")
				return
			}
			name := filepath.Base(header.Filename)
			if name == "" || name == "." {
				name = fmt.Sprintf("upload_%d", i+1)
			}
			key, err := a.Store.Write(r.Context(), fmt.Sprintf("uploaded_images/%s/%s", jobID, name), data)
			if err != nil {
				a.Logger.Error().Err(err).Str("job_id", jobID).Msg("failed to persist upload")
				a.error(w, http.StatusInternalServerError, "Failed to create job")
				return
			}
			payload.UploadedImages = append(payload.UploadedImages, a.publicBase()+"/"+key)
			uploads = append(uploads, n8n.Upload{
				Field:       field,
				Filename:    name,
				ContentType: header.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}

	job := &domain.Job{
		JobID:     jobID,
		Status:    domain.JobStatusSubmitted,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("failed to create job")
		a.error(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	if !a.Engine.Configured() {
		a.Logger.Error().Str("job_id", jobID).Msg("workflow engine webhook url missing")
		a.error(w, http.StatusInternalServerError, "Server configuration error")
		return
	}
	// Delivery failure is soft: the job stays submitted and the failure is
	// only logged, the engine side owns retries.
	if err := a.Engine.Forward(r.Context(), jobID, fields, uploads); err != nil {
		a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("workflow engine forwarding failed")
	}

	a.json(w, http.StatusOK, map[string]string{"job_id": jobID})
}
