package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Blob     BlobConfig
	OCR      OCRConfig
	LLM      LLMConfig
	Run      RunConfig
	Citation CitationConfig
	Template TemplateConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// StoreConfig holds persistence configuration. Driver is "memory" or "sql";
// for "sql" the DSN scheme selects postgres (pgx) vs sqlite.
type StoreConfig struct {
	Driver          string
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	DialTimeout     time.Duration
}

// BlobConfig holds the document blob store configuration
type BlobConfig struct {
	Dir string
}

// OCRConfig holds OCR provider configuration
type OCRConfig struct {
	MistralBaseURL string
	MistralAPIKey  string
	MistralModel   string
	PaddleBaseURL  string
	PaddleToken    string
	Timeout        time.Duration
	RatePerMinute  int
}

// LLMConfig holds structured-extraction provider configuration
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// RunConfig holds run admission configuration
type RunConfig struct {
	SyncMaxBytes   int64
	MaxUploadBytes int64
	Concurrency    int64
}

// CitationConfig holds the content-matching heuristic knobs. These are
// tunable on purpose; the defaults were chosen empirically.
type CitationConfig struct {
	FullPageEpsilon float64
	LabelBiasWeight float64
	MaxValueChars   int
}

// TemplateConfig holds template service configuration
type TemplateConfig struct {
	CacheTTL time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              getEnv("HTTP_ADDR", ":8080"),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ShutdownTimeout:   getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Store: StoreConfig{
			Driver:          getEnv("STORE_DRIVER", "memory"),
			DSN:             getEnv("STORE_DSN", ""),
			MaxConns:        getEnvAsInt32("STORE_MAX_CONNS", 10),
			MaxConnLifetime: getEnvAsDuration("STORE_MAX_CONN_LIFETIME", 30*time.Minute),
			DialTimeout:     getEnvAsDuration("STORE_DIAL_TIMEOUT", 3*time.Second),
		},
		Blob: BlobConfig{
			Dir: getEnv("BLOB_DIR", "./data/documents"),
		},
		OCR: OCRConfig{
			MistralBaseURL: getEnv("MISTRAL_BASE_URL", "https://api.mistral.ai"),
			MistralAPIKey:  getEnv("MISTRAL_API_KEY", ""),
			MistralModel:   getEnv("MISTRAL_OCR_MODEL", "mistral-ocr-latest"),
			PaddleBaseURL:  getEnv("PADDLE_BASE_URL", ""),
			PaddleToken:    getEnv("PADDLE_TOKEN", ""),
			Timeout:        getEnvAsDuration("OCR_TIMEOUT", 120*time.Second),
			RatePerMinute:  getEnvAsInt("OCR_RATE_PER_MINUTE", 30),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 90*time.Second),
		},
		Run: RunConfig{
			SyncMaxBytes:   getEnvAsInt64("RUN_SYNC_MAX_BYTES", 4<<20),
			MaxUploadBytes: getEnvAsInt64("RUN_MAX_UPLOAD_BYTES", 50<<20),
			Concurrency:    getEnvAsInt64("RUN_QUEUE_CONCURRENCY", 1),
		},
		Citation: CitationConfig{
			FullPageEpsilon: getEnvAsFloat64("CITATION_FULL_PAGE_EPSILON", 0.015),
			LabelBiasWeight: getEnvAsFloat64("CITATION_LABEL_BIAS_WEIGHT", 10),
			MaxValueChars:   getEnvAsInt("CITATION_MAX_VALUE_CHARS", 260),
		},
		Template: TemplateConfig{
			CacheTTL: getEnvAsDuration("TEMPLATE_CACHE_TTL", 30*time.Second),
		},
	}
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
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

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Store.Driver != "memory" && c.Store.Driver != "sql" {
		return NewAppError("CONFIG_ERROR", "STORE_DRIVER must be memory or sql", ErrInvalidInput)
	}
	if c.Store.Driver == "sql" && c.Store.DSN == "" {
		return NewAppError("CONFIG_ERROR", "STORE_DSN is required when STORE_DRIVER=sql", ErrInvalidInput)
	}
	if c.Run.Concurrency < 1 {
		return NewAppError("CONFIG_ERROR", "RUN_QUEUE_CONCURRENCY must be >= 1", ErrInvalidInput)
	}
	if c.Run.SyncMaxBytes > c.Run.MaxUploadBytes {
		return NewAppError("CONFIG_ERROR", "RUN_SYNC_MAX_BYTES cannot exceed RUN_MAX_UPLOAD_BYTES", ErrInvalidInput)
	}
	return nil
}
