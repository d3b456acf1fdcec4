package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
	// QueryTimeout bounds each grant lookup and quota update.
	QueryTimeout time.Duration
}

// StorageConfig holds object storage settings. Driver selects the backend:
// "minio" uses minio-go, "s3" uses the AWS SDK.
type StorageConfig struct {
	Driver         string `validate:"oneof=minio s3"`
	Endpoint       string `validate:"required_if=Driver minio"`
	AccessKey      string `validate:"required"`
	SecretKey      string `validate:"required"`
	Bucket         string `validate:"required"`
	Region         string
	UseSSL         bool
	UsePathStyle   bool
	Timeout        time.Duration `validate:"gt=0"`
	MaxObjectBytes int64         `validate:"gt=0"`
}

// NormalizerConfig selects the delegate that turns SVG markup into PDF.
type NormalizerConfig struct {
	Driver    string        `validate:"oneof=gotenberg chromium"`
	Endpoint  string        `validate:"required_if=Driver gotenberg,omitempty,url"`
	ChromeURL string        `validate:"required_if=Driver chromium"`
	Timeout   time.Duration `validate:"gt=0"`
}

// EnhancerConfig configures the optional quality enhancement delegate.
// When Enabled is false the remaining fields are ignored.
type EnhancerConfig struct {
	Enabled         bool
	Endpoint        string `validate:"required_if=Enabled true,omitempty,url"`
	AuthHeaderName  string
	AuthHeaderValue string
	Timeout         time.Duration `validate:"gt=0"`
}

// WatermarkConfig holds watermark defaults.
type WatermarkConfig struct {
	DefaultText string `validate:"required"`
}

// AuthConfig gates who may call the print endpoint. An empty secret disables the gate.
type AuthConfig struct {
	JWTSecret string
}

// LogConfig holds zap logger settings.
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost         string
	Port            string        `validate:"required"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	CORSOrigins     []string
	Database        DatabaseConfig
	Storage         StorageConfig
	Normalizer      NormalizerConfig
	Enhancer        EnhancerConfig
	Watermark       WatermarkConfig
	Auth            AuthConfig
	Log             LogConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost:         getEnv("APP_HOST", "localhost:8080"),
		Port:            getEnv("PORT", "8080"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		CORSOrigins:     getEnvList("CORS_ALLOW_ORIGINS", []string{"*"}),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
			QueryTimeout:       getEnvDuration("DB_QUERY_TIMEOUT", 5*time.Second),
		},
		Storage: StorageConfig{
			Driver:         getEnv("STORAGE_DRIVER", "minio"),
			Endpoint:       getEnv("STORAGE_ENDPOINT", getEnv("MINIO_ENDPOINT", "")),
			AccessKey:      getEnv("STORAGE_ACCESS_KEY", getEnv("MINIO_ACCESS_KEY", "")),
			SecretKey:      getEnv("STORAGE_SECRET_KEY", getEnv("MINIO_SECRET_KEY", "")),
			Bucket:         getEnv("STORAGE_BUCKET", getEnv("MINIO_BUCKET", "")),
			Region:         getEnv("STORAGE_REGION", "us-east-1"),
			UseSSL:         getEnvBool("STORAGE_USE_SSL", getEnvBool("MINIO_USE_SSL", false)),
			UsePathStyle:   getEnvBool("STORAGE_USE_PATH_STYLE", true),
			Timeout:        getEnvDuration("STORAGE_TIMEOUT", 20*time.Second),
			MaxObjectBytes: int64(getEnvInt("STORAGE_MAX_OBJECT_BYTES", 64<<20)),
		},
		Normalizer: NormalizerConfig{
			Driver:    getEnv("NORMALIZER_DRIVER", "gotenberg"),
			Endpoint:  getEnv("NORMALIZER_ENDPOINT", ""),
			ChromeURL: getEnv("NORMALIZER_CHROME_URL", ""),
			Timeout:   getEnvDuration("NORMALIZER_TIMEOUT", 30*time.Second),
		},
		Enhancer: EnhancerConfig{
			Enabled:         getEnvBool("ENHANCER_ENABLED", false),
			Endpoint:        getEnv("ENHANCER_ENDPOINT", ""),
			AuthHeaderName:  getEnv("ENHANCER_AUTH_HEADER_NAME", "Authorization"),
			AuthHeaderValue: getEnv("ENHANCER_AUTH_HEADER_VALUE", ""),
			Timeout:         getEnvDuration("ENHANCER_TIMEOUT", 15*time.Second),
		},
		Watermark: WatermarkConfig{
			DefaultText: getEnv("WATERMARK_DEFAULT_TEXT", "CONFIDENTIAL"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Validate checks driver selections and the fields each driver requires.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

// getEnvList splits a comma separated value, dropping blank entries.
func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
