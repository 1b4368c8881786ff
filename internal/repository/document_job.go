package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/entity"
)

// DocumentJobRepository persists document jobs. Transitions are guarded inside the store so that
// status only moves pending -> processing -> {processed | error}, even under concurrent writers.
type DocumentJobRepository interface {
	Create(ctx context.Context, filename, contentType, filePath string, status constants.JobStatus) (*entity.DocumentJob, error)
	// MarkProcessing is a no-op for jobs already processing and fails with ErrTerminalState for finished ones.
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkProcessed(ctx context.Context, id uuid.UUID, text string) error
	MarkError(ctx context.Context, id uuid.UUID, reason string) error
	Get(ctx context.Context, id uuid.UUID) (*entity.DocumentJob, error)
	List(ctx context.Context, filter ListFilter) ([]*entity.DocumentJob, error)
	Ping(ctx context.Context) error
	Close() error
}

// ListFilter narrows List. A zero value lists every job, newest first.
type ListFilter struct {
	Status constants.JobStatus
	Limit  int
}

func validateCreate(filename, filePath string, status constants.JobStatus) error {
	if status != constants.JobStatusPending && status != constants.JobStatusProcessing {
		return fmt.Errorf("%w: initial status must be pending or processing, got %q", common.ErrInvalidInput, status)
	}
	return common.NewValidator().
		Field("filename", filename, common.Required).
		Field("filePath", filePath, common.Required).
		Err()
}

// transitionError explains why a guarded update touched no row.
func transitionError(id uuid.UUID, current constants.JobStatus, found bool) error {
	if !found {
		return fmt.Errorf("%w: document job %s", common.ErrNotFound, id)
	}
	if !current.IsTerminal() {
		return fmt.Errorf("%w: document job %s is %s", common.ErrInvalidTransition, id, current)
	}
	return fmt.Errorf("%w: document job %s is %s", common.ErrTerminalState, id, current)
}

func errDuplicatePath(filePath string) error {
	return fmt.Errorf("file path %q already exists", filePath)
}
