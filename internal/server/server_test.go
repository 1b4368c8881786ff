package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/async"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/entity"
	"github.com/joseph-ayodele/cv-screener/internal/export"
	"github.com/joseph-ayodele/cv-screener/internal/ingest"
	"github.com/joseph-ayodele/cv-screener/internal/llm"
	"github.com/joseph-ayodele/cv-screener/internal/repository"
	"github.com/joseph-ayodele/cv-screener/internal/storage"
)

type nopQueue struct {
	mu   sync.Mutex
	jobs []async.Job
}

func (q *nopQueue) Enqueue(_ context.Context, j async.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, j)
	return nil
}

func (q *nopQueue) Shutdown(context.Context) error { return nil }

type fakeScorer struct {
	got llm.ScoreRequest
	err error
}

func (f *fakeScorer) Score(_ context.Context, req llm.ScoreRequest) (llm.Analysis, []byte, error) {
	f.got = req
	if f.err != nil {
		return llm.Analysis{}, nil, f.err
	}
	return llm.Analysis{
		MatchPercentage:   75,
		SkillsFound:       []string{"Go"},
		SkillsMissing:     []string{"Rust"},
		ExperienceSummary: "Backend.",
		Recommendation:    "Interview.",
	}, nil, nil
}

type harness struct {
	router http.Handler
	jobs   repository.DocumentJobRepository
	queue  *nopQueue
	scorer *fakeScorer
	health error
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	files, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	h := &harness{jobs: repository.NewMemoryRepository(), queue: &nopQueue{}, scorer: &fakeScorer{}}
	svc := ingest.NewService(h.jobs, files, h.queue, nil)
	h.router = New(Deps{
		Ingest: svc,
		Jobs:   h.jobs,
		Export: export.NewService(h.jobs, nil),
		Scorer: h.scorer,
		Health: func(context.Context) error { return h.health },
	}, cfg, nil).Router()
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func uploadJSON(filename, ct string, data []byte) map[string]string {
	return map[string]string{
		"filename":    filename,
		"contentType": ct,
		"fileData":    base64.StdEncoding.EncodeToString(data),
	}
}

func TestUpload_JSON(t *testing.T) {
	h := newHarness(t, Config{})
	w := h.do(t, http.MethodPost, "/v1/documents", uploadJSON("Jane CV.pdf", "application/pdf", []byte("%PDF-1.7")), HeaderRequestID, "req-7")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "req-7", w.Header().Get(HeaderRequestID))

	resp := decode[uploadResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, constants.JobStatusProcessing, resp.Document.Status)
	assert.Equal(t, "Jane CV.pdf", resp.Document.Filename)

	require.Len(t, h.queue.jobs, 1)
	assert.Equal(t, "req-7", h.queue.jobs[0].RequestID)
}

func TestUpload_Multipart(t *testing.T) {
	h := newHarness(t, Config{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = part.Write([]byte("plain text CV"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[uploadResponse](t, w)
	job, err := h.jobs.Get(context.Background(), uuid.MustParse(resp.Document.ID))
	require.NoError(t, err)
	assert.Equal(t, constants.ContentTypeTXT, job.ContentType)
}

func TestUpload_Rejections(t *testing.T) {
	h := newHarness(t, Config{MaxUploadBytes: 1024})
	tests := []struct {
		name string
		body any
		want int
	}{
		{"bad base64", map[string]string{"filename": "cv.pdf", "contentType": "application/pdf", "fileData": "@@@"}, http.StatusBadRequest},
		{"missing filename", uploadJSON("", "application/pdf", []byte("x")), http.StatusBadRequest},
		{"empty file", uploadJSON("cv.pdf", "application/pdf", nil), http.StatusBadRequest},
		{"unsupported", uploadJSON("cv.doc", "application/msword", []byte("x")), http.StatusUnsupportedMediaType},
		{"malformed json", []byte(`{"filename":`), http.StatusBadRequest},
		{"too large", uploadJSON("cv.pdf", "application/pdf", make([]byte, 96<<10)), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, http.MethodPost, "/v1/documents", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NotEmpty(t, decode[map[string]any](t, w)["error"])
		})
	}
	assert.Empty(t, h.queue.jobs)
}

func TestDecodeBase64(t *testing.T) {
	want := []byte("hello?>")
	for _, in := range []string{
		base64.StdEncoding.EncodeToString(want),
		base64.RawStdEncoding.EncodeToString(want),
		base64.URLEncoding.EncodeToString(want),
		"data:text/plain;base64," + base64.StdEncoding.EncodeToString(want),
	} {
		got, err := decodeBase64(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestGetDocument(t *testing.T) {
	h := newHarness(t, Config{})
	job, err := h.jobs.Create(context.Background(), "cv.txt", "text/plain", "documents/cv_1.txt", constants.JobStatusProcessing)
	require.NoError(t, err)
	require.NoError(t, h.jobs.MarkProcessed(context.Background(), job.ID, "Jane Doe"))

	w := h.do(t, http.MethodGet, "/v1/documents/"+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[entity.StatusView](t, w)
	assert.Equal(t, constants.JobStatusProcessed, v.Status)
	assert.Equal(t, "Jane Doe", v.ProcessedText)
	assert.NotNil(t, v.ProcessedAt)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/v1/documents/"+uuid.NewString(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/v1/documents/not-a-uuid", nil).Code)
}

func TestListAndExport(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		j, err := h.jobs.Create(ctx, name, "text/plain", "documents/"+name, constants.JobStatusProcessing)
		require.NoError(t, err)
		if i == 0 {
			require.NoError(t, h.jobs.MarkError(ctx, j.ID, "ocr failure"))
		}
	}

	w := h.do(t, http.MethodGet, "/v1/documents?status=processing&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[listResponse](t, w).Documents, 2)

	w = h.do(t, http.MethodGet, "/v1/documents?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[listResponse](t, w).Documents, 1)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/v1/documents?status=done", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/v1/documents?limit=0", nil).Code)

	w = h.do(t, http.MethodGet, "/v1/documents/export?status=error", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, xlsxMIME, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")
	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Documents")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a.txt", rows[1][1])

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/v1/documents/export?from=yesterday", nil).Code)
}

func TestAnalyze(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	reqs := llm.Requirements{Title: "Backend Engineer", Skills: []string{"Go", "Rust"}}

	w := h.do(t, http.MethodPost, "/v1/analyses", map[string]any{"cvText": "Go developer", "requirements": reqs})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	a := decode[map[string]any](t, w)
	assert.EqualValues(t, 75, a["matchPercentage"])
	assert.Equal(t, []any{"Rust"}, a["skillsMissing"])

	job, err := h.jobs.Create(ctx, "cv.pdf", "application/pdf", "documents/cv.pdf", constants.JobStatusProcessing)
	require.NoError(t, err)
	w = h.do(t, http.MethodPost, "/v1/analyses", map[string]any{"documentId": job.ID.String(), "requirements": reqs})
	assert.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, h.jobs.MarkProcessed(ctx, job.ID, "Extracted CV text"))
	w = h.do(t, http.MethodPost, "/v1/analyses", map[string]any{"documentId": job.ID.String(), "requirements": reqs})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Extracted CV text", h.scorer.got.CVText)
	assert.Equal(t, "cv.pdf", h.scorer.got.FilenameHint)

	w = h.do(t, http.MethodPost, "/v1/analyses", map[string]any{"cvText": "x", "requirements": llm.Requirements{Title: "Engineer"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(t, http.MethodPost, "/v1/analyses", map[string]any{"requirements": reqs})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h.scorer.err = errors.Join(common.ErrUpstream, errors.New("status 500"))
	w = h.do(t, http.MethodPost, "/v1/analyses", map[string]any{"cvText": "Go developer", "requirements": reqs})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestAnalyze_NotConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := New(Deps{Jobs: repository.NewMemoryRepository()}, Config{}, nil).Router()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/analyses", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORS(t *testing.T) {
	h := newHarness(t, Config{AllowedOrigins: []string{"https://app.example.com", "*.example.org"}})

	w := h.do(t, http.MethodOptions, "/v1/documents", nil, "Origin", "https://app.example.com")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))

	w = h.do(t, http.MethodGet, "/healthz", nil, "Origin", "https://hr.example.org")
	assert.Equal(t, "https://hr.example.org", w.Header().Get("Access-Control-Allow-Origin"))

	w = h.do(t, http.MethodGet, "/healthz", nil, "Origin", "https://evil.test")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	wild := newHarness(t, Config{})
	w = wild.do(t, http.MethodGet, "/healthz", nil, "Origin", "https://anything.test")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, Config{})
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", nil).Code)
	h.health = errors.New("db down")
	assert.Equal(t, http.StatusServiceUnavailable, h.do(t, http.MethodGet, "/healthz", nil).Code)
}

func TestMonitorHealth(t *testing.T) {
	_, hs := NewGRPCServer()
	check := func(ctx context.Context, service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hs.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(context.Background(), ""))

	var mu sync.Mutex
	var failing bool
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		MonitorHealth(ctx, hs, func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			if failing {
				return errors.New("db down")
			}
			return nil
		}, 10*time.Millisecond, nil)
	}()

	assert.Eventually(t, func() bool {
		return check(context.Background(), ServiceName) == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	failing = true
	mu.Unlock()
	assert.Eventually(t, func() bool {
		return check(context.Background(), "") == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
