package ingest

import (
	"context"
	"time"

	"github.com/joseph-ayodele/cv-screener/constants"
)

// Upload is a document received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
	RequestID   string
}

// Accepted is the job handle returned before extraction finishes.
type Accepted struct {
	ID       string              `json:"id"`
	Filename string              `json:"filename"`
	Status   constants.JobStatus `json:"status"`
}

// IngestionResult is the per-file outcome of a directory or watch-folder ingest.
type IngestionResult struct {
	SourcePath string
	JobID      string
	FileExt    string
	UploadedAt time.Time
	Err        string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned   uint32
	Matched   uint32
	Succeeded uint32
	Failed    uint32
}

// Submitter is the behavior the HTTP layer and the folder ingestors depend on.
type Submitter interface {
	Submit(ctx context.Context, up Upload) (Accepted, error)
}
