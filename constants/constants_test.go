package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		ext         string
		want        Format
	}{
		{"pdf", "application/pdf", ".pdf", PDF},
		{"pdf with params", "application/pdf; charset=binary", "", PDF},
		{"plain text", "text/plain; charset=utf-8", ".txt", TXT},
		{"docx", ContentTypeDOCX, ".docx", DOCX},
		{"jpeg", "image/jpeg", ".jpg", IMAGE},
		{"jpg alias", "image/jpg", "", IMAGE},
		{"upper case", "IMAGE/PNG", "", IMAGE},
		{"octet stream falls back to ext", "application/octet-stream", ".PDF", PDF},
		{"empty falls back to ext", "", "png", IMAGE},
		{"explicit unsupported type ignores ext", "application/zip", ".pdf", ""},
		{"legacy word unsupported", "application/msword", ".doc", ""},
		{"unknown everything", "", ".exe", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveFormat(tt.contentType, tt.ext))
		})
	}
}

func TestNormalizeExt(t *testing.T) {
	assert.Equal(t, "pdf", NormalizeExt(".PDF"))
	assert.Equal(t, "docx", NormalizeExt("docx"))
	assert.Equal(t, "", NormalizeExt(""))
}

func TestContentTypeForExt(t *testing.T) {
	assert.Equal(t, ContentTypePDF, ContentTypeForExt(".pdf"))
	assert.Equal(t, ContentTypeJPEG, ContentTypeForExt("JPEG"))
	assert.Equal(t, ContentTypeOct, ContentTypeForExt(".bin"))
}

func TestJobStatus_Transitions(t *testing.T) {
	assert.True(t, CanTransition(JobStatusPending, JobStatusProcessing))
	assert.True(t, CanTransition(JobStatusProcessing, JobStatusProcessing))
	assert.True(t, CanTransition(JobStatusProcessing, JobStatusProcessed))
	assert.True(t, CanTransition(JobStatusProcessing, JobStatusError))
	assert.True(t, CanTransition(JobStatusPending, JobStatusError))
	assert.False(t, CanTransition(JobStatusPending, JobStatusProcessed), "text only comes from a running job")
	assert.False(t, CanTransition(JobStatusPending, JobStatusPending))

	for _, terminal := range []JobStatus{JobStatusProcessed, JobStatusError} {
		assert.True(t, terminal.IsTerminal())
		for _, to := range []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusProcessed, JobStatusError} {
			assert.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}

	assert.False(t, JobStatusProcessing.IsTerminal())
	assert.False(t, JobStatus("done").Valid())
	assert.True(t, JobStatusPending.Valid())
}
