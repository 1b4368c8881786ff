package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Storage    StorageConfig    `yaml:"storage"`
	Queue      QueueConfig      `yaml:"queue"`
	Extraction ExtractionConfig `yaml:"extraction"`
	OCR        OCRConfig        `yaml:"ocr"`
	Vision     VisionConfig     `yaml:"vision"`
	Retry      RetryConfig      `yaml:"retry"`
	Poll       PollConfig       `yaml:"poll"`
	LLM        LLMConfig        `yaml:"llm"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int           `yaml:"max_upload_bytes"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	WatchDir        string        `yaml:"watch_dir"`
}

// DatabaseConfig holds job store configuration. Driver is one of memory|sqlite|postgres|redis.
type DatabaseConfig struct {
	Driver           string        `yaml:"driver"`
	DSN              string        `yaml:"dsn"`
	SQLitePath       string        `yaml:"sqlite_path"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// RedisConfig is used when Database.Driver is "redis".
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// StorageConfig selects where uploaded bytes live. Backend is local|minio.
type StorageConfig struct {
	Backend  string      `yaml:"backend"`
	LocalDir string      `yaml:"local_dir"`
	MinIO    MinIOConfig `yaml:"minio"`
}

type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	BasePath        string `yaml:"base_path"`
}

// QueueConfig selects how background extraction is scheduled. Backend is memory|nats.
type QueueConfig struct {
	Backend        string        `yaml:"backend"`
	Workers        int           `yaml:"workers"`
	Size           int           `yaml:"size"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`
	NATS           NATSConfig    `yaml:"nats"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	Subject       string `yaml:"subject"`
	Durable       string `yaml:"durable"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

// ExtractionConfig holds text-extraction tuning. OCRProvider is vision|tesseract.
type ExtractionConfig struct {
	MinNativeChars int    `yaml:"min_native_chars"`
	OCRProvider    string `yaml:"ocr_provider"`
}

// OCRConfig holds local OCR tooling configuration
type OCRConfig struct {
	Pdftotext     string `yaml:"pdftotext"`
	Pdftoppm      string `yaml:"pdftoppm"`
	Tesseract     string `yaml:"tesseract"`
	TesseractLang string `yaml:"tesseract_lang"`
	TessdataDir   string `yaml:"tessdata_dir"`
	DPI           int    `yaml:"dpi"`
	MaxPages      int    `yaml:"max_pages"`
}

// VisionConfig holds the remote OCR service configuration
type VisionConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	TokenURL          string        `yaml:"token_url"`
	Scope             string        `yaml:"scope"`
	CredentialsFile   string        `yaml:"credentials_file"`
	CredentialsJSON   string        `yaml:"credentials_json"`
	MaxSegmentBytes   int           `yaml:"max_segment_bytes"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
	CacheTokens       bool          `yaml:"cache_tokens"`
	RenderPDFPages    bool          `yaml:"render_pdf_pages"`
}

// RetryConfig holds backoff settings shared by remote calls
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// PollConfig holds client poller settings
type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":9090",
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  15 << 20,
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			SQLitePath:      "./data/cv-screener.db",
			MaxConns:        20,
			MinConns:        5,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "cvs",
		},
		Storage: StorageConfig{
			Backend:  "local",
			LocalDir: "./data/uploads",
			MinIO:    MinIOConfig{Bucket: "documents"},
		},
		Queue: QueueConfig{
			Backend:        "memory",
			Workers:        4,
			Size:           256,
			ProcessTimeout: 3 * time.Minute,
			NATS: NATSConfig{
				URL:           "nats://localhost:4222",
				Stream:        "DOCUMENTS",
				Subject:       "documents.extract",
				Durable:       "extractor",
				MaxReconnects: 10,
			},
		},
		Extraction: ExtractionConfig{
			MinNativeChars: 100,
			OCRProvider:    "vision",
		},
		OCR: OCRConfig{
			TesseractLang: "eng",
			DPI:           300,
		},
		Vision: VisionConfig{
			Endpoint:          "https://vision.googleapis.com",
			TokenURL:          "https://oauth2.googleapis.com/token",
			Scope:             "https://www.googleapis.com/auth/cloud-vision",
			MaxSegmentBytes:   10 << 20,
			RequestsPerSecond: 5,
			Burst:             10,
			Timeout:           60 * time.Second,
			RenderPDFPages:    true,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Second,
			MaxDelay:   8 * time.Second,
		},
		Poll: PollConfig{
			Interval:    1500 * time.Millisecond,
			MaxAttempts: 30,
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			BaseURL:     "https://api.openai.com/v1",
			Temperature: 0.0,
			Timeout:     45 * time.Second,
		},
	}
}

// LoadConfig loads defaults, then the YAML file named by CONFIG_FILE (if any), then environment overrides.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("cannot read %q", path), err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("cannot parse %q", path), err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.MaxUploadBytes = getEnvAsInt("MAX_UPLOAD_BYTES", c.Server.MaxUploadBytes)
	c.Server.AllowedOrigins = getEnvAsList("ALLOWED_ORIGINS", c.Server.AllowedOrigins)
	c.Server.WatchDir = getEnv("WATCH_DIR", c.Server.WatchDir)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.SQLitePath = getEnv("SQLITE_PATH", c.Database.SQLitePath)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)
	c.Database.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Database.StatementTimeout)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)

	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.LocalDir = getEnv("STORAGE_DIR", c.Storage.LocalDir)
	c.Storage.MinIO.Endpoint = getEnv("MINIO_ENDPOINT", c.Storage.MinIO.Endpoint)
	c.Storage.MinIO.AccessKeyID = getEnv("MINIO_ACCESS_KEY_ID", c.Storage.MinIO.AccessKeyID)
	c.Storage.MinIO.SecretAccessKey = getEnv("MINIO_SECRET_ACCESS_KEY", c.Storage.MinIO.SecretAccessKey)
	c.Storage.MinIO.UseSSL = getEnvAsBool("MINIO_USE_SSL", c.Storage.MinIO.UseSSL)
	c.Storage.MinIO.Bucket = getEnv("MINIO_BUCKET", c.Storage.MinIO.Bucket)

	c.Queue.Backend = getEnv("QUEUE_BACKEND", c.Queue.Backend)
	c.Queue.Workers = getEnvAsInt("QUEUE_WORKERS", c.Queue.Workers)
	c.Queue.Size = getEnvAsInt("QUEUE_SIZE", c.Queue.Size)
	c.Queue.ProcessTimeout = getEnvAsDuration("QUEUE_PROCESS_TIMEOUT", c.Queue.ProcessTimeout)
	c.Queue.NATS.URL = getEnv("NATS_URL", c.Queue.NATS.URL)
	c.Queue.NATS.Subject = getEnv("NATS_SUBJECT", c.Queue.NATS.Subject)

	c.Extraction.MinNativeChars = getEnvAsInt("MIN_NATIVE_CHARS", c.Extraction.MinNativeChars)
	c.Extraction.OCRProvider = getEnv("OCR_PROVIDER", c.Extraction.OCRProvider)

	c.OCR.TesseractLang = getEnv("TESSERACT_LANG", c.OCR.TesseractLang)
	c.OCR.TessdataDir = getEnv("TESSDATA_PREFIX", c.OCR.TessdataDir)
	c.OCR.DPI = getEnvAsInt("OCR_DPI", c.OCR.DPI)
	c.OCR.MaxPages = getEnvAsInt("OCR_MAX_PAGES", c.OCR.MaxPages)

	c.Vision.Endpoint = getEnv("VISION_ENDPOINT", c.Vision.Endpoint)
	c.Vision.TokenURL = getEnv("VISION_TOKEN_URL", c.Vision.TokenURL)
	c.Vision.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", c.Vision.CredentialsFile)
	c.Vision.CredentialsJSON = getEnv("GOOGLE_CLOUD_VISION_CREDENTIALS", c.Vision.CredentialsJSON)
	c.Vision.CacheTokens = getEnvAsBool("VISION_CACHE_TOKENS", c.Vision.CacheTokens)

	c.Retry.MaxRetries = getEnvAsInt("RETRY_MAX", c.Retry.MaxRetries)
	c.Retry.BaseDelay = getEnvAsDuration("RETRY_BASE_DELAY", c.Retry.BaseDelay)
	c.Retry.MaxDelay = getEnvAsDuration("RETRY_MAX_DELAY", c.Retry.MaxDelay)

	c.Poll.Interval = getEnvAsDuration("POLL_INTERVAL", c.Poll.Interval)
	c.Poll.MaxAttempts = getEnvAsInt("POLL_MAX_ATTEMPTS", c.Poll.MaxAttempts)

	c.LLM.Model = getEnv("OPENAI_MODEL", c.LLM.Model)
	c.LLM.APIKey = getEnv("OPENAI_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = getEnv("OPENAI_BASE_URL", c.LLM.BaseURL)
	c.LLM.Temperature = getEnvAsFloat32("OPENAI_TEMPERATURE", c.LLM.Temperature)
	c.LLM.Timeout = getEnvAsDuration("OPENAI_TIMEOUT", c.LLM.Timeout)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite", "redis":
	case "postgres":
		if c.Database.DSN == "" {
			return NewAppError("CONFIG_ERROR", "DB_URL is required for the postgres driver", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown DB_DRIVER %q", c.Database.Driver), ErrInvalidInput)
	}
	switch c.Storage.Backend {
	case "local", "minio":
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown STORAGE_BACKEND %q", c.Storage.Backend), ErrInvalidInput)
	}
	switch c.Queue.Backend {
	case "memory", "nats":
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown QUEUE_BACKEND %q", c.Queue.Backend), ErrInvalidInput)
	}
	switch c.Extraction.OCRProvider {
	case "tesseract":
	case "vision":
		if c.Vision.CredentialsFile == "" && c.Vision.CredentialsJSON == "" {
			return NewAppError("CONFIG_ERROR", "vision credentials are required (GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CLOUD_VISION_CREDENTIALS)", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown OCR_PROVIDER %q", c.Extraction.OCRProvider), ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Retry.MaxRetries < 1 {
		return NewAppError("CONFIG_ERROR", "RETRY_MAX must be at least 1", ErrInvalidInput)
	}
	if c.Poll.MaxAttempts < 1 {
		return NewAppError("CONFIG_ERROR", "POLL_MAX_ATTEMPTS must be at least 1", ErrInvalidInput)
	}
	return nil
}
