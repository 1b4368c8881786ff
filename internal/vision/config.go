// Package vision is a client for a Vision-style OCR API authenticated with a service-account
// signed JWT. Documents larger than the per-request limit are sent as sequential byte-range
// segments, and every request goes through the retry executor.
package vision

import (
	"time"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/retry"
)

const (
	// DefaultEndpoint is the Cloud Vision API base URL.
	DefaultEndpoint = "https://vision.googleapis.com"
	// DefaultTokenURL is the OAuth2 token endpoint service-account assertions are exchanged at.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
	// DefaultScope grants access to Cloud Vision.
	DefaultScope = "https://www.googleapis.com/auth/cloud-vision"

	featureDocumentText = "DOCUMENT_TEXT_DETECTION"
)

// Config holds client configuration.
type Config struct {
	// Endpoint is the API base URL; requests go to Endpoint + "/v1/images:annotate".
	Endpoint string
	// TokenURL overrides the token_uri from the service account.
	TokenURL string
	Scope    string
	// MaxSegmentBytes is the largest payload sent in a single request.
	MaxSegmentBytes int
	// RequestsPerSecond and Burst configure the client-side token bucket.
	RequestsPerSecond float64
	Burst             int
	// Timeout bounds each HTTP round trip.
	Timeout time.Duration
	// CacheTokens reuses an access token across calls until it expires.
	CacheTokens bool
	Retry       retry.Config
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.MaxSegmentBytes <= 0 {
		c.MaxSegmentBytes = constants.MaxOCRSegmentBytes
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry = retry.DefaultConfig()
	}
	return c
}
