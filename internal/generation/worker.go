package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"adflow/internal/domain"
	"adflow/internal/infra"
	"adflow/internal/providers/comet"
	"adflow/internal/storage"
)

// Request describes one generation unit: a single prompt turned into a single
// asset attached to the parent job.
type Request struct {
	Type      domain.MediaType
	Prompt    string
	Model     string
	Seconds   int
	Size      string
	AngleID   int
	AngleName string
	Placement string
	Variant   string
	// SourceImage names an uploaded image key for image-to-image generation.
	SourceImage string
	// LastUnit marks this as the final expected unit for the parent job.
	LastUnit bool
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Jobs         domain.JobRepository
	Provider     *comet.Client
	Store        *storage.FileStore
	Logger       infra.Logger
	PollInterval time.Duration
	MaxAttempts  int
	PublicBase   string
}

// Worker drives one generation request to completion: submit to the provider,
// poll until the asset is ready, persist it, and fold the result into the job
// record. Fatal errors are converted into job state, never returned to the
// original submitting client.
type Worker struct {
	jobs         domain.JobRepository
	provider     *comet.Client
	store        *storage.FileStore
	logger       infra.Logger
	pollInterval time.Duration
	maxAttempts  int
	publicBase   string
}

// NewWorker constructs a Worker with injected dependencies.
func NewWorker(opts WorkerOptions) *Worker {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 150
	}
	publicBase := strings.TrimRight(opts.PublicBase, "/")
	if publicBase == "" {
		publicBase = "/static"
	}
	return &Worker{
		jobs:         opts.Jobs,
		provider:     opts.Provider,
		store:        opts.Store,
		logger:       opts.Logger,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		publicBase:   publicBase,
	}
}

// Run executes one unit against jobID. On any fatal error the job is marked
// failed unless sibling units already delivered outputs, in which case the
// partial results are preserved and the failure is only audited.
func (w *Worker) Run(ctx context.Context, jobID string, req Request) error {
	var err error
	if req.Type == domain.MediaTypeImage {
		err = w.runImage(ctx, jobID, req)
	} else {
		err = w.runVideo(ctx, jobID, req)
	}
	if err != nil {
		w.fail(ctx, jobID, err)
		return err
	}
	return nil
}

func (w *Worker) runVideo(ctx context.Context, jobID string, req Request) error {
	log := w.logger.With().Str("job_id", jobID).Str("variant", req.Variant).Logger()
	log.Info().Msg("video generation started")

	handle, err := w.provider.CreateVideo(ctx, comet.VideoRequest{
		Prompt:  req.Prompt,
		Model:   req.Model,
		Seconds: req.Seconds,
		Size:    req.Size,
	})
	if err != nil {
		if errors.Is(err, comet.ErrMissingHandle) {
			return fmt.Errorf("%w: %v", domain.ErrMissingHandle, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	log.Info().Str("handle", handle).Msg("generation submitted, polling for content")

	content, err := w.pollContent(ctx, log, handle)
	if err != nil {
		return err
	}

	outputID := uuid.NewString()
	url := content.URL
	if len(content.Data) > 0 {
		key, err := w.store.Write(ctx, fmt.Sprintf("generated_videos/%s/%s.mp4", jobID, outputID), content.Data)
		if err != nil {
			return err
		}
		url = w.publicURL(key)
	}

	seconds := req.Seconds
	if seconds <= 0 {
		seconds = 5
	}
	output := domain.MediaOutput{
		ID:        outputID,
		Type:      domain.MediaTypeVideo,
		URL:       url,
		AngleID:   req.AngleID,
		AngleName: req.AngleName,
		Prompt:    req.Prompt,
		Duration:  fmt.Sprintf("%ds", seconds),
		Variant:   req.Variant,
	}
	job, err := w.jobs.AppendMediaOutput(ctx, jobID, output, domain.AppendOptions{MarkCompleted: req.LastUnit})
	if err != nil {
		return err
	}
	log.Info().Str("status", string(job.Status)).Int("outputs", len(job.Payload.MediaOutputs)).Msg("video generation finished")
	return nil
}

func (w *Worker) runImage(ctx context.Context, jobID string, req Request) error {
	log := w.logger.With().Str("job_id", jobID).Str("variant", req.Variant).Logger()
	log.Info().Msg("image generation started")

	imageReq := comet.ImageRequest{
		Prompt: req.Prompt,
		Model:  req.Model,
		Size:   req.Size,
	}
	if req.SourceImage != "" {
		data, err := w.store.Read(ctx, req.SourceImage)
		if err != nil {
			// Missing upload downgrades to text-only generation.
			log.Warn().Err(err).Str("key", req.SourceImage).Msg("source image unavailable, generating from prompt only")
		} else {
			imageReq.SourceImage = data
		}
	}

	remoteURL, err := w.provider.CreateImage(ctx, imageReq)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	data, err := w.provider.Download(ctx, remoteURL)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}

	outputID := uuid.NewString()
	key, err := w.store.Write(ctx, fmt.Sprintf("generated_images/%s/%s.png", jobID, outputID), data)
	if err != nil {
		return err
	}

	placement := req.Placement
	if placement == "" {
		placement = "static_ad"
	}
	output := domain.MediaOutput{
		ID:        outputID,
		Type:      domain.MediaTypeImage,
		URL:       w.publicURL(key),
		AngleID:   req.AngleID,
		AngleName: req.AngleName,
		Prompt:    req.Prompt,
		Placement: placement,
		Variant:   req.Variant,
	}
	job, err := w.jobs.AppendMediaOutput(ctx, jobID, output, domain.AppendOptions{MarkCompleted: req.LastUnit})
	if err != nil {
		return err
	}
	log.Info().Str("status", string(job.Status)).Int("outputs", len(job.Payload.MediaOutputs)).Msg("image generation finished")
	return nil
}

// pollContent checks the provider on a fixed interval until the asset is
// ready or the attempt ceiling is reached. Poll errors are tolerated as
// transient and only logged; the ceiling is the sole abort condition.
func (w *Worker) pollContent(ctx context.Context, log infra.Logger, handle string) (*comet.Content, error) {
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.pollInterval):
		}
		content, err := w.provider.FetchVideoContent(ctx, handle)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Int("max", w.maxAttempts).Msg("content poll failed, continuing")
			continue
		}
		if content.Ready {
			return content, nil
		}
		log.Debug().Int("attempt", attempt).Int("max", w.maxAttempts).Msg("content not ready")
	}
	return nil, domain.ErrGenerationTimeout
}

// fail converts a fatal unit error into job state. The write runs on a
// detached context so a shutdown that cancelled the unit cannot also suppress
// the failure record.
func (w *Worker) fail(ctx context.Context, jobID string, cause error) {
	w.logger.Error().Err(cause).Str("job_id", jobID).Msg("generation unit failed")

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	audit, _ := json.Marshal(map[string]string{"error": cause.Error()})
	if job, err := w.jobs.GetByID(writeCtx, jobID); err == nil {
		if job.Status.Terminal() || len(job.Payload.MediaOutputs) > 0 {
			// Sibling units already delivered results; keep them and only audit.
			if err := w.jobs.Update(writeCtx, jobID, domain.JobUpdate{EngineRaw: audit}); err != nil {
				w.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to record unit failure")
			}
			return
		}
	}
	failed := domain.JobStatusFailed
	if err := w.jobs.Update(writeCtx, jobID, domain.JobUpdate{Status: &failed, EngineRaw: audit}); err != nil {
		w.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to mark job failed")
	}
}

func (w *Worker) publicURL(key string) string {
	return w.publicBase + "/" + key
}
