package domain

import (
	"context"
	"time"
)

// JobUpdate carries optional field merges for a job record. Nil fields are
// left untouched.
type JobUpdate struct {
	Status      *JobStatus
	VideoURL    *string
	EngineRaw   []byte
	CompletedAt *time.Time
}

// AppendOptions controls how the job status advances alongside an output
// append.
type AppendOptions struct {
	// MarkCompleted flags the output as the last expected unit for the
	// parent job: status becomes completed and CompletedAt is stamped.
	// Otherwise status only advances submitted -> processing and never
	// regresses a more-advanced status.
	MarkCompleted bool
}

// JobRepository defines persistence for job entities.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	Update(ctx context.Context, jobID string, update JobUpdate) error
	// AppendMediaOutput appends one output to the job's media_outputs and
	// advances the status per opts in a single conditional write. The append
	// is retried on version conflicts so concurrent completions never lose
	// each other's outputs; a job already in a terminal status rejects the
	// append with ErrTerminalStatus. Returns the job state after the append.
	AppendMediaOutput(ctx context.Context, jobID string, output MediaOutput, opts AppendOptions) (*Job, error)
}
