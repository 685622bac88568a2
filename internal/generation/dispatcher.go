package generation

import (
	"context"
	"fmt"
	"strings"

	"adflow/internal/domain"
	"adflow/internal/infra"
)

const variantSeparator = "_VARIATION_"

// BatchMetadata is the routing envelope the workflow engine attaches to each
// unit of a batch.
type BatchMetadata struct {
	VariantJobID string `json:"variant_job_id"`
	AngleID      int    `json:"angle_id"`
	AngleName    string `json:"angle_name"`
	IsLastVideo  bool   `json:"is_last_video"`
}

// BatchPayload is one video unit of a batch dispatch.
type BatchPayload struct {
	Prompt   string        `json:"prompt"`
	Seconds  int           `json:"seconds"`
	Size     string        `json:"size"`
	Model    string        `json:"model"`
	Metadata BatchMetadata `json:"n8n_metadata"`
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Jobs       domain.JobRepository
	Worker     *Worker
	Supervisor *Supervisor
	Logger     infra.Logger
	// MaxVideos caps how many of a batch's payloads are attempted at all;
	// zero or negative means all of them.
	MaxVideos int
	// MaxSeconds caps the per-video duration requested from the provider.
	MaxSeconds int
}

// Dispatcher fans out the units of one batch to the generation worker. It
// confirms how many units were started and returns before any of them finish;
// the units race to fold their results into the shared job record.
type Dispatcher struct {
	jobs       domain.JobRepository
	worker     *Worker
	supervisor *Supervisor
	logger     infra.Logger
	maxVideos  int
	maxSeconds int
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	maxSeconds := opts.MaxSeconds
	if maxSeconds <= 0 {
		maxSeconds = 12
	}
	return &Dispatcher{
		jobs:       opts.Jobs,
		worker:     opts.Worker,
		supervisor: opts.Supervisor,
		logger:     opts.Logger,
		maxVideos:  opts.MaxVideos,
		maxSeconds: maxSeconds,
	}
}

// Dispatch marks the parent job generating, selects the first K payloads, and
// submits one worker unit per selection with the final one flagged as the
// last expected unit. Returns the number of units started.
func (d *Dispatcher) Dispatch(ctx context.Context, parentJobID string, payloads []BatchPayload) (int, error) {
	generating := domain.JobStatusGenerating
	if err := d.jobs.Update(ctx, parentJobID, domain.JobUpdate{Status: &generating}); err != nil {
		return 0, err
	}

	count := len(payloads)
	if d.maxVideos > 0 && d.maxVideos < count {
		count = d.maxVideos
	}
	selected := payloads[:count]
	d.logger.Info().
		Str("job_id", parentJobID).
		Int("total", len(payloads)).
		Int("selected", count).
		Msg("batch dispatch")

	for i := range selected {
		req := d.buildRequest(parentJobID, selected[i], i == len(selected)-1)
		name := fmt.Sprintf("batch unit %d/%d job %s", i+1, count, parentJobID)
		d.supervisor.Submit(name, func(ctx context.Context) error {
			return d.worker.Run(ctx, parentJobID, req)
		})
	}
	return count, nil
}

func (d *Dispatcher) buildRequest(parentJobID string, payload BatchPayload, last bool) Request {
	seconds := payload.Seconds
	if seconds <= 0 {
		seconds = 15
	}
	// The provider rejects longer clips even on models that advertise them.
	if seconds > d.maxSeconds {
		seconds = d.maxSeconds
	}
	variantID := payload.Metadata.VariantJobID
	if variantID == "" {
		variantID = parentJobID
	}
	return Request{
		Type:      domain.MediaTypeVideo,
		Prompt:    payload.Prompt,
		Model:     payload.Model,
		Seconds:   seconds,
		Size:      payload.Size,
		AngleID:   payload.Metadata.AngleID,
		AngleName: payload.Metadata.AngleName,
		Variant:   VariantLabel(variantID),
		LastUnit:  last || payload.Metadata.IsLastVideo,
	}
}

// VariantLabel extracts the human-readable variant suffix from a composite
// "<parent>_VARIATION_<variant>" identifier, or returns the identifier as-is.
func VariantLabel(id string) string {
	if i := strings.Index(id, variantSeparator); i >= 0 {
		return id[i+len(variantSeparator):]
	}
	return id
}

// SplitVariantID splits a composite identifier into the parent job id and the
// variant label. The second return is empty for plain identifiers.
func SplitVariantID(id string) (parent, variant string) {
	if i := strings.Index(id, variantSeparator); i >= 0 {
		variant = id[i+len(variantSeparator):]
		if variant == "" {
			variant = "A"
		}
		return id[:i], variant
	}
	return id, ""
}
