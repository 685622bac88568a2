package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"adflow/internal/domain"
	"adflow/pkg/zip"
)

type downloadRequest struct {
	JobID    string   `json:"job_id"`
	MediaIDs []string `json:"media_ids"`
}

// DownloadSelected streams the chosen media of a job: one file directly, or
// several bundled into a zip archive. Only locally stored assets can be
// served; remote URLs are skipped.
func (a *App) DownloadSelected(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "job_id and media_ids array required")
		return
	}
	if req.JobID == "" || len(req.MediaIDs) == 0 {
		a.error(w, http.StatusBadRequest, "job_id and media_ids array required")
		return
	}

	job, err := a.Jobs.GetByID(r.Context(), req.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "Job not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "Failed to fetch job")
		return
	}

	wanted := make(map[string]bool, len(req.MediaIDs))
	for _, id := range req.MediaIDs {
		wanted[id] = true
	}
	var selected []domain.MediaOutput
	for _, output := range jobMediaOutputs(job) {
		if wanted[output.ID] {
			selected = append(selected, output)
		}
	}
	if len(selected) == 0 {
		a.error(w, http.StatusNotFound, "No valid media found for selected IDs")
		return
	}

	if len(selected) == 1 {
		media := selected[0]
		key, ok := a.storageKeyForURL(media.URL)
		if !ok || !a.Store.Exists(key) {
			a.error(w, http.StatusNotFound, "File not found")
			return
		}
		data, err := a.Store.Read(r.Context(), key)
		if err != nil {
			a.error(w, http.StatusInternalServerError, "Failed to read file")
			return
		}
		w.Header().Set("Content-Type", mimeForURL(media.URL))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(media.URL)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	var assets []zip.Asset
	for _, media := range selected {
		key, ok := a.storageKeyForURL(media.URL)
		if !ok || !a.Store.Exists(key) {
			continue
		}
		data, err := a.Store.Read(r.Context(), key)
		if err != nil {
			continue
		}
		assets = append(assets, zip.Asset{
			Filename: archiveEntryName(media),
			MIME:     mimeForURL(media.URL),
			Data:     data,
		})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "File not found")
		return
	}

	archive := zip.ArchiveAssets(assets)
	if archive == nil {
		a.error(w, http.StatusInternalServerError, "Failed to create download")
		return
	}
	shortID := req.JobID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "campaign_"+shortID+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// archiveEntryName builds a readable zip entry name from the output's angle
// and type, keeping the original file extension.
func archiveEntryName(media domain.MediaOutput) string {
	angle := strings.TrimSpace(media.AngleName)
	if angle == "" {
		angle = "media"
	}
	angle = cases.Title(language.Und).String(angle)
	angle = strings.ReplaceAll(angle, " ", "_")
	name := fmt.Sprintf("%s_%s", angle, media.Type)
	if media.Placement != "" {
		name += "_" + media.Placement
	}
	return name + path.Ext(media.URL)
}

func mimeForURL(url string) string {
	switch strings.ToLower(path.Ext(url)) {
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}
