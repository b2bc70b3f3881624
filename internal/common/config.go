package common

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig
	Broker   BrokerConfig
	Storage  StorageConfig
	OCR      OCRConfig
	Gemini   GeminiConfig
	Pipeline PipelineConfig
}

// DatabaseConfig holds record-store configuration.
type DatabaseConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// BrokerConfig holds job-broker configuration. Reachability is probed once at
// process start; a failed probe switches the dispatcher to fallback mode for
// the process lifetime.
type BrokerConfig struct {
	URL            string
	Subject        string
	QueueGroup     string
	ConnectTimeout time.Duration
}

// StorageConfig holds object-store configuration.
type StorageConfig struct {
	Backend      string // "s3" or "local"
	LocalDir     string
	S3Bucket     string
	S3Region     string
	S3Endpoint   string // non-empty for MinIO / custom endpoints
	S3AccessKey  string
	S3SecretKey  string
	UsePathStyle bool
}

// OCRConfig holds text-extraction configuration.
type OCRConfig struct {
	Engine           string // "tesseract" or "easyocr"
	TesseractCmd     string
	EasyOCRCmd       string
	Language         string
	TessdataDir      string
	ArtifactCacheDir string
}

// GeminiConfig holds extraction-model configuration.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// PipelineConfig holds orchestration configuration for both execution modes.
type PipelineConfig struct {
	Workers     int
	QueueSize   int
	JobTimeout  time.Duration
	MetricsAddr string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:             getEnv("DB_URL", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Broker: BrokerConfig{
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			Subject:        getEnv("NATS_SUBJECT", "receipts.process"),
			QueueGroup:     getEnv("NATS_QUEUE_GROUP", "receipt-workers"),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Storage: StorageConfig{
			Backend:      getEnv("STORAGE_BACKEND", "local"),
			LocalDir:     getEnv("STORAGE_LOCAL_DIR", "./uploads"),
			S3Bucket:     getEnv("S3_BUCKET", "receipts"),
			S3Region:     getEnv("S3_REGION", "us-east-1"),
			S3Endpoint:   getEnv("S3_ENDPOINT", ""),
			S3AccessKey:  getEnv("S3_ACCESS_KEY", ""),
			S3SecretKey:  getEnv("S3_SECRET_KEY", ""),
			UsePathStyle: getEnvAsBool("S3_PATH_STYLE", true),
		},
		OCR: OCRConfig{
			Engine:           getEnv("OCR_ENGINE", "tesseract"),
			TesseractCmd:     getEnv("TESSERACT_CMD", "tesseract"),
			EasyOCRCmd:       getEnv("EASYOCR_CMD", "easyocr"),
			Language:         getEnv("OCR_LANG", "eng"),
			TessdataDir:      getEnv("TESSDATA_PREFIX", ""),
			ArtifactCacheDir: getEnv("ARTIFACT_CACHE_DIR", "./tmp"),
		},
		Gemini: GeminiConfig{
			APIKey:  getEnv("GOOGLE_API_KEY", ""),
			Model:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			Timeout: getEnvAsDuration("GEMINI_TIMEOUT", 45*time.Second),
		},
		Pipeline: PipelineConfig{
			Workers:     getEnvAsInt("PIPELINE_WORKERS", 4),
			QueueSize:   getEnvAsInt("PIPELINE_QUEUE_SIZE", 256),
			JobTimeout:  getEnvAsDuration("PIPELINE_JOB_TIMEOUT", 10*time.Minute),
			MetricsAddr: getEnv("METRICS_ADDR", ""),
		},
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("DB_URL is required")
	}
	if c.Gemini.APIKey == "" {
		return errors.New("GOOGLE_API_KEY is required")
	}
	if c.OCR.Engine != "tesseract" && c.OCR.Engine != "easyocr" {
		return errors.New("OCR_ENGINE must be tesseract or easyocr")
	}
	if c.Storage.Backend != "local" && c.Storage.Backend != "s3" {
		return errors.New("STORAGE_BACKEND must be local or s3")
	}
	return nil
}

// Helper functions for environment variable parsing.
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
