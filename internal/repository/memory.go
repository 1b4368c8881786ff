package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/entity"
)

type memoryRepo struct {
	mu    sync.RWMutex
	jobs  map[uuid.UUID]*entity.DocumentJob
	seq   map[uuid.UUID]int64
	paths map[string]struct{}
	next  int64
	now   func() time.Time
}

// NewMemoryRepository keeps jobs in process memory. Used by tests and the single-binary dev setup.
func NewMemoryRepository() DocumentJobRepository {
	return &memoryRepo{
		jobs:  make(map[uuid.UUID]*entity.DocumentJob),
		seq:   make(map[uuid.UUID]int64),
		paths: make(map[string]struct{}),
		now:   time.Now,
	}
}

func (r *memoryRepo) Create(_ context.Context, filename, contentType, filePath string, status constants.JobStatus) (*entity.DocumentJob, error) {
	if err := validateCreate(filename, filePath, status); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.paths[filePath]; dup {
		return nil, common.PersistenceError("create document job", errDuplicatePath(filePath))
	}
	now := r.now().UTC()
	job := &entity.DocumentJob{
		ID:          uuid.New(),
		Filename:    filename,
		ContentType: contentType,
		FilePath:    filePath,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.jobs[job.ID] = job
	r.next++
	r.seq[job.ID] = r.next
	r.paths[filePath] = struct{}{}
	return clone(job), nil
}

func (r *memoryRepo) transition(id uuid.UUID, to constants.JobStatus, apply func(j *entity.DocumentJob, now time.Time)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return transitionError(id, "", false)
	}
	if !constants.CanTransition(job.Status, to) {
		return transitionError(id, job.Status, true)
	}
	now := r.now().UTC()
	job.Status = to
	job.UpdatedAt = now
	if apply != nil {
		apply(job, now)
	}
	return nil
}

func (r *memoryRepo) MarkProcessing(_ context.Context, id uuid.UUID) error {
	return r.transition(id, constants.JobStatusProcessing, nil)
}

func (r *memoryRepo) MarkProcessed(_ context.Context, id uuid.UUID, text string) error {
	return r.transition(id, constants.JobStatusProcessed, func(j *entity.DocumentJob, now time.Time) {
		j.ProcessedText = &text
		j.Error = nil
		j.ProcessedAt = &now
	})
}

func (r *memoryRepo) MarkError(_ context.Context, id uuid.UUID, reason string) error {
	return r.transition(id, constants.JobStatusError, func(j *entity.DocumentJob, now time.Time) {
		j.Error = &reason
		j.ProcessedText = nil
		j.ProcessedAt = &now
	})
}

func (r *memoryRepo) Get(_ context.Context, id uuid.UUID) (*entity.DocumentJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, transitionError(id, "", false)
	}
	return clone(job), nil
}

func (r *memoryRepo) List(_ context.Context, filter ListFilter) ([]*entity.DocumentJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.DocumentJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		out = append(out, clone(j))
	}
	sort.Slice(out, func(a, b int) bool { return r.seq[out[a].ID] > r.seq[out[b].ID] })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memoryRepo) Ping(context.Context) error { return nil }
func (r *memoryRepo) Close() error               { return nil }

func clone(j *entity.DocumentJob) *entity.DocumentJob {
	c := *j
	if j.ProcessedText != nil {
		t := *j.ProcessedText
		c.ProcessedText = &t
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.ProcessedAt != nil {
		p := *j.ProcessedAt
		c.ProcessedAt = &p
	}
	return &c
}
