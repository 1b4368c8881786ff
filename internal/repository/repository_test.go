package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/common"
)

type storeFactory func(t *testing.T) DocumentJobRepository

func stores(t *testing.T) map[string]storeFactory {
	t.Helper()
	out := map[string]storeFactory{
		"memory": func(t *testing.T) DocumentJobRepository {
			return NewMemoryRepository()
		},
		"sqlite": func(t *testing.T) DocumentJobRepository {
			repo, err := NewSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "jobs.db"), nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		},
	}
	// Redis runs only against a live server.
	if addr := os.Getenv("REDIS_TEST_ADDR"); addr != "" {
		out["redis"] = func(t *testing.T) DocumentJobRepository {
			client, err := NewRedisClient(context.Background(), RedisConfig{Addr: addr})
			require.NoError(t, err)
			repo := NewRedisRepository(client, "cvtest:"+uuid.NewString(), nil)
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		}
	}
	return out
}

func forEachStore(t *testing.T, fn func(t *testing.T, repo DocumentJobRepository)) {
	for name, factory := range stores(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func newPath() string {
	return "documents/cv_" + uuid.NewString() + ".pdf"
}

func TestCreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo DocumentJobRepository) {
		ctx := context.Background()
		job, err := repo.Create(ctx, "cv.pdf", constants.ContentTypePDF, newPath(), constants.JobStatusProcessing)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, job.ID)
		assert.Equal(t, constants.JobStatusProcessing, job.Status)
		assert.Nil(t, job.ProcessedAt)

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, "cv.pdf", got.Filename)
		assert.Equal(t, constants.ContentTypePDF, got.ContentType)
		assert.Equal(t, job.FilePath, got.FilePath)
		assert.Equal(t, constants.JobStatusProcessing, got.Status)
		assert.Nil(t, got.ProcessedText)
		assert.Nil(t, got.Error)
	})
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo DocumentJobRepository) {
		ctx := context.Background()
		_, err := repo.Create(ctx, "", constants.ContentTypePDF, newPath(), constants.JobStatusPending)
		assert.ErrorIs(t, err, common.ErrInvalidInput)

		_, err = repo.Create(ctx, "cv.pdf", constants.ContentTypePDF, newPath(), constants.JobStatusProcessed)
		assert.ErrorIs(t, err, common.ErrInvalidInput)
	})
}

func TestCreateDuplicatePath(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo DocumentJobRepository) {
		ctx := context.Background()
		p := newPath()
		_, err := repo.Create(ctx, "a.pdf", constants.ContentTypePDF, p, constants.JobStatusPending)
		require.NoError(t, err)
		_, err = repo.Create(ctx, "b.pdf", constants.ContentTypePDF, p, constants.JobStatusPending)
		assert.ErrorIs(t, err, common.ErrPersistence)
	})
}

func TestMarkProcessed(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo DocumentJobRepository) {
		ctx := context.Background()
		job, err := repo.Create(ctx, "cv.pdf", constants.ContentTypePDF, newPath(), constants.JobStatusPending)
		require.NoError(t, err)

		require.NoError(t, repo.MarkProcessing(ctx, job.ID))
		require.NoError(t, repo.MarkProcessing(ctx, job.ID), "processing is idempotent")
		require.NoError(t, repo.MarkProcessed(ctx, job.ID, "Jane Doe\nGo engineer"))

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, constants.JobStatusProcessed, got.Status)
		require.NotNil(t, got.ProcessedText)
		assert.Equal(t, "Jane Doe\nGo engineer", *got.ProcessedText)
		assert.Nil(t, got.Error)
		require.NotNil(t, got.ProcessedAt)
		assert.False(t, got.ProcessedAt.Before(got.CreatedAt))
	})
}

func TestPendingJobMustStartBeforeFinishing(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo DocumentJobRepository) {
		ctx := context.Background()
		job, err := repo.Create(ctx, "cv.pdf", constants.ContentTypePDF, newPath(), constants.JobStatusPending)
		require.NoError(t, err)

		assert.ErrorIs(t, repo.MarkProcessed(ctx, job.ID, "too early"), common.ErrInvalidTransition)
		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, constants.JobStatusPending, got.Status)
		assert.Nil(t, got.ProcessedText)

		unscheduled, err := repo.Create(ctx, "cv.txt", constants.ContentTypeTXT, newPath(), constants.JobStatusPending)
		require.NoError(t, err)
		require.NoError(t, repo.MarkError(ctx, unscheduled.ID, "could not schedule extraction"))
		got, err = repo.Get(ctx, unscheduled.ID)
		require.NoError(t, err)
		assert.Equal(t, constants.JobStatusError, got.Status)
	})
}

func TestMarkError(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo DocumentJobRepository) {
		ctx := context.Background()
		job, err := repo.Create(ctx, "scan.png", constants.ContentTypePNG, newPath(), constants.JobStatusProcessing)
		require.NoError(t, err)
		require.NoError(t, repo.MarkError(ctx, job.ID, "ocr failure: quota exceeded"))

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, constants.JobStatusError, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, "ocr failure: quota exceeded", *got.Error)
		assert.Nil(t, got.ProcessedText)
		assert.NotNil(t, got.ProcessedAt)
	})
}

func TestTerminalStatesAreFinal(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo DocumentJobRepository) {
		ctx := context.Background()
		job, err := repo.Create(ctx, "cv.pdf", constants.ContentTypePDF, newPath(), constants.JobStatusProcessing)
		require.NoError(t, err)
		require.NoError(t, repo.MarkProcessed(ctx, job.ID, "text"))

		assert.ErrorIs(t, repo.MarkError(ctx, job.ID, "late failure"), common.ErrTerminalState)
		assert.ErrorIs(t, repo.MarkProcessed(ctx, job.ID, "other"), common.ErrTerminalState)
		assert.ErrorIs(t, repo.MarkProcessing(ctx, job.ID), common.ErrTerminalState)

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, constants.JobStatusProcessed, got.Status)
		assert.Equal(t, "text", *got.ProcessedText)
		assert.Nil(t, got.Error)
	})
}

func TestUnknownJob(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo DocumentJobRepository) {
		ctx := context.Background()
		id := uuid.New()
		_, err := repo.Get(ctx, id)
		assert.ErrorIs(t, err, common.ErrNotFound)
		assert.ErrorIs(t, repo.MarkProcessing(ctx, id), common.ErrNotFound)
		assert.ErrorIs(t, repo.MarkProcessed(ctx, id, "x"), common.ErrNotFound)
		assert.ErrorIs(t, repo.MarkError(ctx, id, "x"), common.ErrNotFound)
	})
}

func TestConcurrentTerminalWritesKeepOneOutcome(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo DocumentJobRepository) {
		ctx := context.Background()
		job, err := repo.Create(ctx, "cv.pdf", constants.ContentTypePDF, newPath(), constants.JobStatusProcessing)
		require.NoError(t, err)

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var err error
				if i%2 == 0 {
					err = repo.MarkProcessed(ctx, job.ID, "text")
				} else {
					err = repo.MarkError(ctx, job.ID, "boom")
				}
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
					return
				}
				if !errors.Is(err, common.ErrTerminalState) {
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, got.Status.IsTerminal())
		if got.Status == constants.JobStatusProcessed {
			assert.Nil(t, got.Error)
		} else {
			assert.Nil(t, got.ProcessedText)
		}
	})
}

func TestList(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo DocumentJobRepository) {
		ctx := context.Background()
		var ids []uuid.UUID
		for i := 0; i < 4; i++ {
			job, err := repo.Create(ctx, "cv.pdf", constants.ContentTypePDF, newPath(), constants.JobStatusProcessing)
			require.NoError(t, err)
			ids = append(ids, job.ID)
		}
		require.NoError(t, repo.MarkProcessed(ctx, ids[1], "one"))
		require.NoError(t, repo.MarkProcessed(ctx, ids[3], "three"))

		all, err := repo.List(ctx, ListFilter{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, ids[3], all[0].ID, "newest first")
		assert.Equal(t, ids[0], all[3].ID)

		done, err := repo.List(ctx, ListFilter{Status: constants.JobStatusProcessed})
		require.NoError(t, err)
		require.Len(t, done, 2)
		assert.Equal(t, ids[3], done[0].ID)
		assert.Equal(t, ids[1], done[1].ID)

		limited, err := repo.List(ctx, ListFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, ids[3], limited[0].ID)
	})
}

func TestSQLiteReopenKeepsJobs(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	repo, err := NewSQLiteRepository(ctx, path, nil)
	require.NoError(t, err)
	job, err := repo.Create(ctx, "cv.docx", constants.ContentTypeDOCX, newPath(), constants.JobStatusProcessing)
	require.NoError(t, err)
	require.NoError(t, repo.MarkProcessed(ctx, job.ID, "text"))
	require.NoError(t, repo.Close())

	repo, err = NewSQLiteRepository(ctx, path, nil)
	require.NoError(t, err)
	defer repo.Close()
	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusProcessed, got.Status)
}
