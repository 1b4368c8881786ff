package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/extract"
	"github.com/joseph-ayodele/cv-screener/internal/retry"
)

// PageRenderer rasterizes PDF pages so each page can be sent as its own image.
type PageRenderer interface {
	RenderPages(ctx context.Context, data []byte) ([][]byte, error)
}

// Client is an extract.Recognizer backed by the Vision images:annotate API.
type Client struct {
	cfg       Config
	sa        *ServiceAccount
	http      *http.Client
	limiter   *RateLimiter
	renderer  PageRenderer
	logger    *slog.Logger
	retryOpts []retry.Option
	now       func() time.Time
	cached    oauth2.TokenSource
}

var _ extract.Recognizer = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for token and annotate calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithPageRenderer enables per-page requests for PDFs.
func WithPageRenderer(r PageRenderer) Option {
	return func(c *Client) { c.renderer = r }
}

// WithRetryOptions appends options to every retried request (tests use retry.WithSleep).
func WithRetryOptions(opts ...retry.Option) Option {
	return func(c *Client) { c.retryOpts = append(c.retryOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a Vision client for the given service account.
func NewClient(cfg Config, sa *ServiceAccount, opts ...Option) (*Client, error) {
	if sa == nil || sa.key == nil {
		return nil, errors.New("vision: service account with a parsed private key is required")
	}
	cfg = cfg.withDefaults()
	if cfg.TokenURL == "" {
		cfg.TokenURL = sa.TokenURI
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}

	c := &Client{
		cfg:     cfg,
		sa:      sa,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.CacheTokens {
		c.cached = oauth2.ReuseTokenSource(nil, c.source(context.Background()))
	}
	return c, nil
}

func (c *Client) source(ctx context.Context) *jwtSource {
	return &jwtSource{
		ctx:      ctx,
		client:   c.http,
		sa:       c.sa,
		tokenURL: c.cfg.TokenURL,
		scope:    c.cfg.Scope,
		now:      c.now,
	}
}

func (c *Client) token(ctx context.Context) (*oauth2.Token, error) {
	if c.cached != nil {
		return c.cached.Token()
	}
	return c.source(ctx).Token()
}

// Recognize OCRs a whole document. One access token is obtained per call. PDFs are rendered
// page by page when a renderer is configured; every payload larger than MaxSegmentBytes is sent
// as sequential byte ranges. Segment texts are joined with "\n" in submission order.
func (c *Client) Recognize(ctx context.Context, data []byte, contentType string) (extract.Recognition, error) {
	start := time.Now()
	var rec extract.Recognition

	tok, err := c.token(ctx)
	if err != nil {
		c.logger.Error("vision.token.failed", "error", err)
		return rec, common.OCRFailure(fmt.Errorf("obtain access token: %w", err))
	}

	payloads := [][]byte{data}
	if constants.ResolveFormat(contentType, "") == constants.PDF && c.renderer != nil {
		pages, err := c.renderer.RenderPages(ctx, data)
		switch {
		case err != nil:
			rec.Warnings = append(rec.Warnings, "page rendering failed, sending raw document: "+err.Error())
			rec.Degraded = true
		case len(pages) > 0:
			payloads = pages
		}
	}
	rec.Pages = len(payloads)

	var texts []string
	for pi, payload := range payloads {
		segments := Segment(payload, c.cfg.MaxSegmentBytes)
		if len(segments) > 1 {
			rec.Degraded = true
			rec.Warnings = append(rec.Warnings, fmt.Sprintf("payload %d split into %d byte-range segments", pi+1, len(segments)))
		}
		for si, seg := range segments {
			rec.Segments++
			text, err := retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) (string, error) {
				return c.annotate(ctx, tok, seg)
			}, append([]retry.Option{
				retry.WithRetryIf(IsRetryable),
				retry.WithObserver(func(attempt int, err error) {
					c.logger.Warn("vision.annotate.retry", "page", pi+1, "segment", si+1, "attempt", attempt, "error", err)
				}),
			}, c.retryOpts...)...)
			if err != nil {
				c.logger.Error("vision.annotate.failed", "page", pi+1, "segment", si+1, "error", err)
				return rec, common.OCRFailure(err)
			}
			if t := strings.TrimSpace(text); t != "" {
				texts = append(texts, t)
			}
		}
	}

	rec.Text = strings.Join(texts, "\n")
	rec.NoText = rec.Text == ""
	c.logger.Info("vision.recognize.ok",
		"pages", rec.Pages,
		"segments", rec.Segments,
		"chars", len(rec.Text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return rec, nil
}

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image    imageContent `json:"image"`
	Features []feature    `json:"features"`
}

type imageContent struct {
	Content string `json:"content"`
}

type feature struct {
	Type string `json:"type"`
}

type annotateResponse struct {
	Responses []imageResponse `json:"responses"`
}

type imageResponse struct {
	FullTextAnnotation *struct {
		Text string `json:"text"`
	} `json:"fullTextAnnotation,omitempty"`
	TextAnnotations []struct {
		Description string `json:"description"`
	} `json:"textAnnotations,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) annotate(ctx context.Context, tok *oauth2.Token, segment []byte) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(annotateRequest{Requests: []imageRequest{{
		Image:    imageContent{Content: base64.StdEncoding.EncodeToString(segment)},
		Features: []feature{{Type: featureDocumentText}},
	}}})
	if err != nil {
		return "", permanent(fmt.Errorf("encode annotate request: %w", err))
	}

	endpoint := strings.TrimRight(c.cfg.Endpoint, "/") + "/v1/images:annotate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", permanent(fmt.Errorf("create annotate request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	tok.SetAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("annotate request: %w", err)
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
			c.limiter.RecordRateLimit(retryAfter(gerr.Header))
		}
		return "", err
	}

	var ar annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return "", permanent(fmt.Errorf("decode annotate response: %w", err))
	}
	if len(ar.Responses) == 0 {
		return "", nil
	}
	r := ar.Responses[0]
	if r.Error != nil && r.Error.Code != 0 {
		return "", &googleapi.Error{Code: statusForRPCCode(r.Error.Code), Message: r.Error.Message}
	}
	if r.FullTextAnnotation != nil && r.FullTextAnnotation.Text != "" {
		return r.FullTextAnnotation.Text, nil
	}
	if len(r.TextAnnotations) > 0 {
		return r.TextAnnotations[0].Description, nil
	}
	return "", nil
}
