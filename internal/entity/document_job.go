package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/cv-screener/constants"
)

// DocumentJob represents an uploaded document and the state of its text extraction.
type DocumentJob struct {
	ID            uuid.UUID           `json:"id"`
	Filename      string              `json:"filename"`
	ContentType   string              `json:"content_type"`
	FilePath      string              `json:"file_path"`
	Status        constants.JobStatus `json:"status"`
	ProcessedText *string             `json:"processed_text,omitempty"`
	Error         *string             `json:"error,omitempty"`
	ProcessedAt   *time.Time          `json:"processed_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// View returns the client-facing status projection of the job.
func (j *DocumentJob) View() StatusView {
	v := StatusView{
		ID:          j.ID.String(),
		Filename:    j.Filename,
		Status:      j.Status,
		ProcessedAt: j.ProcessedAt,
	}
	if j.ProcessedText != nil {
		v.ProcessedText = *j.ProcessedText
	}
	if j.Error != nil {
		v.Error = *j.Error
	}
	return v
}

// StatusView is what pollers observe.
type StatusView struct {
	ID            string              `json:"id"`
	Filename      string              `json:"filename,omitempty"`
	Status        constants.JobStatus `json:"status"`
	ProcessedText string              `json:"processedText,omitempty"`
	Error         string              `json:"error,omitempty"`
	ProcessedAt   *time.Time          `json:"processedAt,omitempty"`
}

// Terminal reports whether the job has finished, successfully or not.
func (v StatusView) Terminal() bool {
	return v.Status.IsTerminal()
}
