package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/entity"
	"github.com/joseph-ayodele/cv-screener/internal/export"
	"github.com/joseph-ayodele/cv-screener/internal/ingest"
	"github.com/joseph-ayodele/cv-screener/internal/repository"
)

const (
	maxListLimit = 500
	xlsxMIME     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type uploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	FileData    string `json:"fileData"`
}

type uploadResponse struct {
	Success  bool            `json:"success"`
	Document ingest.Accepted `json:"document"`
}

type listResponse struct {
	Documents []entity.StatusView `json:"documents"`
}

// uploadDocument accepts JSON with base64 fileData or a multipart "file" part.
func (s *Server) uploadDocument(c *gin.Context) {
	var (
		up  ingest.Upload
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if mediaType == "multipart/form-data" {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes+1<<20)
		up, err = s.readMultipart(c)
	} else {
		// base64 grows the payload by a third
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes*4/3+64<<10)
		up, err = readJSONUpload(c)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	up.RequestID = common.RequestIDFromContext(c.Request.Context())

	acc, err := s.deps.Ingest.Submit(c.Request.Context(), up)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, uploadResponse{Success: true, Document: acc})
}

func readJSONUpload(c *gin.Context) (ingest.Upload, error) {
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return ingest.Upload{}, err
		}
		return ingest.Upload{}, common.InvalidInputf("malformed JSON body: %v", err)
	}
	data, err := decodeBase64(req.FileData)
	if err != nil {
		return ingest.Upload{}, common.InvalidInputf("fileData is not valid base64: %v", err)
	}
	return ingest.Upload{Filename: req.Filename, ContentType: req.ContentType, Data: data}, nil
}

func (s *Server) readMultipart(c *gin.Context) (ingest.Upload, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return ingest.Upload{}, err
		}
		return ingest.Upload{}, common.InvalidInputf("multipart field \"file\" is required")
	}
	if fh.Size > s.cfg.MaxUploadBytes {
		return ingest.Upload{}, common.InvalidInputf("fileData exceeds the maximum size of %d bytes", s.cfg.MaxUploadBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return ingest.Upload{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return ingest.Upload{}, fmt.Errorf("read upload: %w", err)
	}

	ct := fh.Header.Get("Content-Type")
	if ct == "" || constants.NormalizeContentType(ct) == constants.ContentTypeOct {
		ct = constants.ContentTypeForExt(filepath.Ext(fh.Filename))
	}
	name := c.PostForm("filename")
	if name == "" {
		name = fh.Filename
	}
	return ingest.Upload{Filename: name, ContentType: ct, Data: data}, nil
}

// decodeBase64 accepts standard or URL alphabets, with or without padding, and data: URLs.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.TrimRight(s, "=")
	if strings.ContainsAny(s, "-_") {
		return base64.RawURLEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func (s *Server) getDocument(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, common.InvalidInputf("id must be a UUID"))
		return
	}
	job, err := s.deps.Jobs.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job.View())
}

func (s *Server) listDocuments(c *gin.Context) {
	filter, err := s.listFilter(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	jobs, err := s.deps.Jobs.List(c.Request.Context(), filter)
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := listResponse{Documents: make([]entity.StatusView, 0, len(jobs))}
	for _, j := range jobs {
		out.Documents = append(out.Documents, j.View())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listFilter(c *gin.Context) (repository.ListFilter, error) {
	f := repository.ListFilter{Limit: s.cfg.ListLimit}
	if st := strings.TrimSpace(c.Query("status")); st != "" {
		f.Status = constants.JobStatus(strings.ToLower(st))
		if !f.Status.Valid() {
			return f, common.InvalidInputf("unknown status %q", st)
		}
	}
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > maxListLimit {
			return f, common.InvalidInputf("limit must be between 1 and %d", maxListLimit)
		}
		f.Limit = n
	}
	return f, nil
}

// exportDocuments streams an XLSX of jobs. Optional from/to are YYYY-MM-DD.
func (s *Server) exportDocuments(c *gin.Context) {
	if s.deps.Export == nil {
		abortWithError(c, fmt.Errorf("%w: export is not configured", common.ErrInternal))
		return
	}
	var filter repository.ListFilter
	if st := strings.TrimSpace(c.Query("status")); st != "" {
		filter.Status = constants.JobStatus(strings.ToLower(st))
		if !filter.Status.Valid() {
			abortWithError(c, common.InvalidInputf("unknown status %q", st))
			return
		}
	}
	var w export.Window
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &w.From}, {"to", &w.To}} {
		v := strings.TrimSpace(c.Query(p.key))
		if v == "" {
			continue
		}
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			abortWithError(c, common.InvalidInputf("%s must be YYYY-MM-DD", p.key))
			return
		}
		*p.dst = &t
	}

	b, err := s.deps.Export.ExportJobsXLSX(c.Request.Context(), filter, w)
	if err != nil {
		abortWithError(c, err)
		return
	}
	name := fmt.Sprintf("documents_%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, xlsxMIME, b)
}
