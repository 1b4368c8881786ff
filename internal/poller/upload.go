package poller

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/ingest"
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

// Upload posts a document as base64 JSON and returns the accepted job.
func (h *HTTPQuerier) Upload(ctx context.Context, filename, contentType string, data []byte) (ingest.Accepted, error) {
	body, err := json.Marshal(uploadRequest{
		Filename:    filename,
		ContentType: contentType,
		FileData:    base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return ingest.Accepted{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/v1/documents", bytes.NewReader(body))
	if err != nil {
		return ingest.Accepted{}, fmt.Errorf("%w: build request: %w", common.ErrInvalidInput, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return ingest.Accepted{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ingest.Accepted{}, err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return ingest.Accepted{}, fmt.Errorf("%w: %s", common.ErrInvalidInput, apiError(raw))
	case http.StatusUnsupportedMediaType:
		return ingest.Accepted{}, fmt.Errorf("%w: %s", common.ErrUnsupportedFormat, apiError(raw))
	default:
		return ingest.Accepted{}, fmt.Errorf("upload: HTTP %d: %s", resp.StatusCode, apiError(raw))
	}

	var out uploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return ingest.Accepted{}, fmt.Errorf("decode upload response: %w", err)
	}
	if !out.Success || out.Document.ID == "" {
		return ingest.Accepted{}, fmt.Errorf("upload: unexpected response %s", apiError(raw))
	}
	return out.Document, nil
}
