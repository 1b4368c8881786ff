package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/async"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/repository"
	"github.com/joseph-ayodele/cv-screener/internal/storage"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []async.Job
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job async.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Shutdown(context.Context) error { return nil }

func (q *fakeQueue) queued() []async.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]async.Job(nil), q.jobs...)
}

type fixture struct {
	svc   *Service
	jobs  repository.DocumentJobRepository
	files storage.FileStore
	queue *fakeQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	files, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	jobs := repository.NewMemoryRepository()
	q := &fakeQueue{}
	return &fixture{svc: NewService(jobs, files, q, nil), jobs: jobs, files: files, queue: q}
}

func TestSubmit_Accepted(t *testing.T) {
	f := newFixture(t)
	ctx := common.WithRequestID(context.Background(), "req-42")

	acc, err := f.svc.Submit(ctx, Upload{
		Filename:    "Jane Doe CV.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.7 body"),
	})
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusProcessing, acc.Status)
	assert.Equal(t, "Jane Doe CV.pdf", acc.Filename)

	id, err := uuid.Parse(acc.ID)
	require.NoError(t, err)
	job, err := f.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusProcessing, job.Status)
	assert.True(t, strings.HasPrefix(job.FilePath, "documents/jane_doe_cv_"), job.FilePath)
	assert.True(t, strings.HasSuffix(job.FilePath, ".pdf"))

	stored, err := storage.ReadAll(context.Background(), f.files, job.FilePath, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7 body"), stored)

	queued := f.queue.queued()
	require.Len(t, queued, 1)
	assert.Equal(t, id, queued[0].JobID)
	assert.Equal(t, "req-42", queued[0].RequestID)
}

func TestSubmit_SameFilenameGetsDistinctPaths(t *testing.T) {
	f := newFixture(t)
	up := Upload{Filename: "cv.txt", ContentType: "text/plain", Data: []byte("hello")}

	a, err := f.svc.Submit(context.Background(), up)
	require.NoError(t, err)
	b, err := f.svc.Submit(context.Background(), up)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	ja, _ := f.jobs.Get(context.Background(), uuid.MustParse(a.ID))
	jb, _ := f.jobs.Get(context.Background(), uuid.MustParse(b.ID))
	assert.NotEqual(t, ja.FilePath, jb.FilePath)
}

func TestSubmit_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		up   Upload
		want error
	}{
		{"missing filename", Upload{ContentType: "application/pdf", Data: []byte("x")}, common.ErrInvalidInput},
		{"missing content type", Upload{Filename: "cv.pdf", Data: []byte("x")}, common.ErrInvalidInput},
		{"empty bytes", Upload{Filename: "cv.pdf", ContentType: "application/pdf"}, common.ErrInvalidInput},
		{"too large", Upload{Filename: "cv.pdf", ContentType: "application/pdf", Data: make([]byte, constants.MaxUploadBytes+1)}, common.ErrInvalidInput},
		{"legacy word", Upload{Filename: "cv.doc", ContentType: "application/msword", Data: []byte("x")}, common.ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Submit(context.Background(), tt.up)
			assert.ErrorIs(t, err, tt.want)

			jobs, err := f.jobs.List(context.Background(), repository.ListFilter{})
			require.NoError(t, err)
			assert.Empty(t, jobs, "no job is created for rejected input")
			assert.Empty(t, f.queue.queued())
		})
	}
}

func TestSubmit_EnqueueFailureMarksJobError(t *testing.T) {
	f := newFixture(t)
	f.queue.err = async.ErrQueueClosed

	_, err := f.svc.Submit(context.Background(), Upload{Filename: "cv.txt", ContentType: "text/plain", Data: []byte("hi")})
	require.Error(t, err)
	assert.ErrorIs(t, err, async.ErrQueueClosed)

	jobs, err := f.jobs.List(context.Background(), repository.ListFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, constants.JobStatusError, jobs[0].Status)
	require.NotNil(t, jobs[0].Error)
	assert.Contains(t, *jobs[0].Error, "could not schedule extraction")
}

func TestSanitizeStem(t *testing.T) {
	tests := map[string]string{
		"Jane Doe CV.pdf":         "jane_doe_cv",
		"../../etc/passwd":        "passwd",
		`C:\Users\me\résumé.docx`: "r_sum",
		"___.pdf":                 "document",
		"":                        "document",
		"cv-final-v2.txt":         "cv-final-v2",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeStem(in), in)
	}
	assert.LessOrEqual(t, len(SanitizeStem(strings.Repeat("a", 300)+".pdf")), maxStemLen)
}

func TestBuildFilePath(t *testing.T) {
	id := uuid.MustParse("7b0e5f4c-93a6-4a8d-9d44-2f3c1a5b6e70")
	assert.Equal(t, "documents/cv_7b0e5f4c-93a6-4a8d-9d44-2f3c1a5b6e70.pdf", BuildFilePath("CV.PDF", id))
	assert.Equal(t, "documents/notes_7b0e5f4c-93a6-4a8d-9d44-2f3c1a5b6e70", BuildFilePath("notes.exe", id))
}

type recordingSubmitter struct {
	mu      sync.Mutex
	uploads []Upload
	fail    map[string]bool
}

func (r *recordingSubmitter) Submit(_ context.Context, up Upload) (Accepted, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[up.Filename] {
		return Accepted{}, errors.New("rejected")
	}
	r.uploads = append(r.uploads, up)
	return Accepted{ID: uuid.NewString(), Filename: up.Filename, Status: constants.JobStatusProcessing}, nil
}

func (r *recordingSubmitter) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, u := range r.uploads {
		out = append(out, u.Filename)
	}
	return out
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestIngestDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.pdf"), "%PDF")
	writeFile(t, filepath.Join(root, "nested", "b.txt"), "plain text cv")
	writeFile(t, filepath.Join(root, "nested", "c.exe"), "binary")
	writeFile(t, filepath.Join(root, ".hidden", "d.pdf"), "%PDF")
	writeFile(t, filepath.Join(root, "bad.docx"), "not really docx")

	sub := &recordingSubmitter{fail: map[string]bool{"bad.docx": true}}
	ing := NewFSIngestor(sub, nil)

	results, stats, err := ing.IngestDirectory(context.Background(), root, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), stats.Matched)
	assert.Equal(t, uint32(2), stats.Succeeded)
	assert.Equal(t, uint32(1), stats.Failed)
	assert.Len(t, results, 3)
	assert.ElementsMatch(t, []string{"a.pdf", "b.txt"}, sub.names())

	for _, u := range sub.uploads {
		if u.Filename == "b.txt" {
			assert.Equal(t, constants.ContentTypeTXT, u.ContentType)
		}
	}
}

func TestIngestPath_RejectsUnknownExtension(t *testing.T) {
	p := filepath.Join(t.TempDir(), "run.sh")
	writeFile(t, p, "echo")
	_, err := NewFSIngestor(&recordingSubmitter{}, nil).IngestPath(context.Background(), p)
	assert.ErrorIs(t, err, common.ErrUnsupportedFormat)
}

func TestStartWatcher_InitialScanAndNewFiles(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "existing.pdf")
	writeFile(t, existing, "%PDF")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := StartWatcher(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	select {
	case p := <-events:
		assert.Equal(t, existing, p)
	case <-time.After(2 * time.Second):
		t.Fatal("initial scan did not emit the existing file")
	}

	created := filepath.Join(root, "new.txt")
	writeFile(t, created, "fresh cv")
	writeFile(t, filepath.Join(root, "ignored.exe"), "x")

	select {
	case p := <-events:
		assert.Equal(t, created, p)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the new file")
	}

	cancel()
	for range events {
	}
}

func TestStartWatcher_NoRoots(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{})
	assert.Error(t, err)
}
