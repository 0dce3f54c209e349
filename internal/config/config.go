package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DatabaseConfig holds PostgreSQL settings for the run ledger.
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
}

// Enabled reports whether a database host was configured.
func (c DatabaseConfig) Enabled() bool { return c.Host != "" }

// S3Config holds settings for the S3-compatible storage backend.
// Endpoint is empty for real AWS and points at the emulator otherwise.
type S3Config struct {
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID" validate:"required"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" validate:"required"`
	Region          string `env:"AWS_REGION" validate:"required"`
	Endpoint        string `env:"AWS_S3_ENDPOINT"`
	UsePathStyle    bool   `env:"AWS_S3_USE_PATH_STYLE"`
	Bucket          string `env:"S3_BUCKET"`
}

// AzureConfig holds settings for the Azure Blob storage backend.
// A connection string wins over an account URL.
type AzureConfig struct {
	ConnectionString string `env:"AZURE_STORAGE_CONNECTION_STRING" validate:"required_without=AccountURL"`
	AccountURL       string `env:"AZURE_STORAGE_ACCOUNT_URL"`
}

// ExtractorConfig tunes outbound API calls made by extractors.
type ExtractorConfig struct {
	Timeout        time.Duration
	RateLimit      float64
	Burst          int
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	MaxPages       int
	CoinGeckoKey   string
}

// EmulatorConfig describes the local S3/Azure emulators used by provisioning.
type EmulatorConfig struct {
	S3Endpoint     string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
	Bucket         string
	Wait           time.Duration
	AzureContainer string
}

// RedisConfig configures the run lock backend. An empty Addr selects the in-process lock.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	Port              string
	LogLevel          string
	Timezone          string
	UploadConcurrency int
	LockTTL           time.Duration
	Database          DatabaseConfig
	S3                S3Config
	Azure             AzureConfig
	Extractor         ExtractorConfig
	Emulator          EmulatorConfig
	Redis             RedisConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
func Load() *AppConfig {
	return &AppConfig{
		Port:              getEnv("PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		Timezone:          getEnv("APP_TIMEZONE", "UTC"),
		UploadConcurrency: getEnvInt("UPLOAD_CONCURRENCY", 4),
		LockTTL:           getEnvDuration("RUN_LOCK_TTL", 30*time.Minute),
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
		},
		S3: S3Config{
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Region:          getEnv("AWS_REGION", "us-east-1"),
			Endpoint:        strings.TrimSpace(getEnv("AWS_S3_ENDPOINT", "")),
			UsePathStyle:    getEnvBool("AWS_S3_USE_PATH_STYLE", true),
			Bucket:          getEnv("S3_BUCKET", "test-bucket"),
		},
		Azure: AzureConfig{
			ConnectionString: getEnv("AZURE_STORAGE_CONNECTION_STRING", ""),
			AccountURL:       getEnv("AZURE_STORAGE_ACCOUNT_URL", ""),
		},
		Extractor: ExtractorConfig{
			Timeout:        getEnvDuration("EXTRACTOR_TIMEOUT", 30*time.Second),
			RateLimit:      getEnvFloat("EXTRACTOR_RATE_LIMIT", 0.5),
			Burst:          getEnvInt("EXTRACTOR_BURST", 1),
			MaxRetries:     getEnvInt("EXTRACTOR_MAX_RETRIES", 5),
			BackoffInitial: getEnvDuration("EXTRACTOR_BACKOFF_INITIAL", 500*time.Millisecond),
			BackoffMax:     getEnvDuration("EXTRACTOR_BACKOFF_MAX", 30*time.Second),
			MaxPages:       getEnvInt("EXTRACTOR_MAX_PAGES", 0),
			CoinGeckoKey:   getEnv("COINGECKO_API_KEY", ""),
		},
		Emulator: EmulatorConfig{
			S3Endpoint:     getEnv("EMULATOR_S3_ENDPOINT", "localhost:4566"),
			AccessKey:      getEnv("EMULATOR_ACCESS_KEY", "test"),
			SecretKey:      getEnv("EMULATOR_SECRET_KEY", "test"),
			Region:         getEnv("EMULATOR_REGION", "us-east-1"),
			UseSSL:         getEnvBool("EMULATOR_USE_SSL", false),
			Bucket:         getEnv("EMULATOR_BUCKET", "test-bucket"),
			Wait:           getEnvDuration("EMULATOR_WAIT", 5*time.Second),
			AzureContainer: getEnv("EMULATOR_AZURE_CONTAINER", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
	}
}

// Location resolves the configured timezone, falling back to UTC.
func (c *AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Validate reports every missing S3 variable in a single error.
func (c S3Config) Validate() error {
	return requireVars(c)
}

// Validate reports a missing Azure credential.
func (c AzureConfig) Validate() error {
	return requireVars(c)
}

func requireVars(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
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

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
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
