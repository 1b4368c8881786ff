package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/entity"
)

// HTTPQuerier reads job status from the documents API.
type HTTPQuerier struct {
	BaseURL string
	Client  *http.Client
	// Token, when set, is sent as a bearer token.
	Token string
}

func NewHTTPQuerier(baseURL string) *HTTPQuerier {
	return &HTTPQuerier{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTPQuerier) Status(ctx context.Context, id string) (entity.StatusView, error) {
	var v entity.StatusView
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/v1/documents/"+url.PathEscape(id), nil)
	if err != nil {
		return v, fmt.Errorf("%w: build request: %w", common.ErrInvalidInput, err)
	}
	req.Header.Set("Accept", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return v, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return v, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return v, fmt.Errorf("%w: document %s", common.ErrNotFound, id)
	case resp.StatusCode == http.StatusBadRequest:
		return v, fmt.Errorf("%w: %s", common.ErrInvalidInput, apiError(body))
	case resp.StatusCode/100 != 2:
		return v, fmt.Errorf("status query: HTTP %d: %s", resp.StatusCode, apiError(body))
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("decode status: %w", err)
	}
	return v, nil
}

func apiError(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
