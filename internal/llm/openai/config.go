package openai

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/cv-screener/internal/llm"
	"github.com/joseph-ayodele/cv-screener/internal/retry"
)

// Config for the OpenAI client.
type Config struct {
	APIKey      string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL     string        // default https://api.openai.com/v1
	Model       string        // e.g., "gpt-4o-mini"
	Temperature float32       // 0..2
	Timeout     time.Duration // http client timeout
	// LenientOptional lets a reply that fails the schema be normalized and re-validated.
	LenientOptional bool
	Retry           retry.Config
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	schema     *jsonschema.Schema
	schemaMap  map[string]any
	log        *slog.Logger
}

var _ llm.Scorer = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	schemaMap := llm.BuildAnalysisJSONSchema()
	schema, err := llm.CompileSchema(schemaMap)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		schema:     schema,
		schemaMap:  schemaMap,
		log:        logger,
	}, nil
}
