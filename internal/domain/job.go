package domain

import (
	"encoding/json"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusSubmitted  JobStatus = "submitted"
	JobStatusProcessing JobStatus = "processing"
	JobStatusGenerating JobStatus = "generating"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further generation work.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// MediaType enumerates the kinds of generated assets.
type MediaType string

const (
	MediaTypeVideo MediaType = "video"
	MediaTypeImage MediaType = "image"
)

// MediaOutput is one generated asset belonging to a job. Outputs are
// append-only during the job's active lifetime and never mutated after
// insertion; ID is the selection key for downloads.
type MediaOutput struct {
	ID        string    `json:"id"`
	Type      MediaType `json:"type"`
	URL       string    `json:"url"`
	AngleID   int       `json:"angle_id"`
	AngleName string    `json:"angle_name"`
	Prompt    string    `json:"prompt"`
	Duration  string    `json:"duration,omitempty"`
	Placement string    `json:"placement,omitempty"`
	Variant   string    `json:"variant,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// JobPayload holds the original submission fields plus accumulated media
// outputs. Known fields are typed; everything else submitted with the form
// lands in Extra so new campaign fields survive round trips untouched.
type JobPayload struct {
	Website            string         `json:"website,omitempty"`
	ProductName        string         `json:"product_name,omitempty"`
	ProductDescription string         `json:"product_description,omitempty"`
	TargetAudience     string         `json:"target_audience,omitempty"`
	Locale             string         `json:"locale,omitempty"`
	Country            string         `json:"country,omitempty"`
	UploadedImages     []string       `json:"uploaded_images,omitempty"`
	Extra              map[string]any `json:"extra,omitempty"`
	MediaOutputs       []MediaOutput  `json:"media_outputs"`
}

// Job encapsulates one end-to-end campaign generation request and its
// accumulated results.
type Job struct {
	JobID   string
	Status  JobStatus
	Payload JobPayload
	// VideoURL is the legacy single-result field kept for backward
	// compatibility with single-media jobs.
	VideoURL    string
	EngineRaw   json.RawMessage
	CreatedAt   time.Time
	CompletedAt *time.Time
	// Version is the optimistic-concurrency token; every write bumps it.
	Version int64
}
