package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned by Enqueue once Shutdown has started.
var ErrQueueClosed = errors.New("queue is shutting down")

// Job is the unit handed to background workers.
type Job struct {
	JobID       uuid.UUID `json:"job_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	RequestID   string    `json:"request_id,omitempty"`
}

// Processor runs extraction for one document job. Implementations must drive the job to a terminal status.
type Processor interface {
	Process(ctx context.Context, jobID uuid.UUID) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, jobID uuid.UUID) error

func (f ProcessorFunc) Process(ctx context.Context, jobID uuid.UUID) error { return f(ctx, jobID) }

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context) error
}
