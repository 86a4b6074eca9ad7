package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	// Load environment variables from .env files when present.
	_ "github.com/joho/godotenv/autoload"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Backend       BackendConfig
	Import        ImportConfig
	Checkpoint    CheckpointConfig
	Storage       StorageConfig
	AMQP          AMQPConfig
	Observability ObservabilityConfig
	LogLevel      string
}

type ServerConfig struct {
	Host               string
	Port               int
	RateLimitPerSecond int
	RateLimitBurst     int
	AllowedOrigins     []string
	MaxUploadBytes     int64
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Backend selects where records, members and jobs live.
type BackendConfig struct {
	Type       string // "postgres" or "sqlite"
	SQLitePath string
}

type ImportConfig struct {
	ChunkSize            int
	RetryAttempts        int
	RetryBase            time.Duration
	ErrorPreview         int
	FuzzyDistance        int
	InferFromDescription bool
	DefaultFamilyID      string
}

type CheckpointConfig struct {
	Store     string // "bbolt", "postgres" or "memory"
	BoltPath  string
	Retention time.Duration
	PruneCron string
}

type StorageConfig struct {
	UploadDir string
}

type AMQPConfig struct {
	URL      string // empty disables progress publishing
	Exchange string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
}

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"

	CheckpointBolt     = "bbolt"
	CheckpointPostgres = "postgres"
	CheckpointMemory   = "memory"
)

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "localhost"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			RateLimitPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", 20),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 40),
			AllowedOrigins:     getEnvAsList("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			MaxUploadBytes:     int64(getEnvAsInt("SERVER_MAX_UPLOAD_MB", 32)) << 20,
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "household-ledger"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Backend: BackendConfig{
			Type:       getEnv("BACKEND", BackendPostgres),
			SQLitePath: getEnv("SQLITE_PATH", "./data/ledger.db"),
		},
		Import: ImportConfig{
			ChunkSize:            getEnvAsInt("IMPORT_CHUNK_SIZE", 200),
			RetryAttempts:        getEnvAsInt("IMPORT_RETRY_ATTEMPTS", 3),
			RetryBase:            getEnvAsDuration("IMPORT_RETRY_BASE", 200*time.Millisecond),
			ErrorPreview:         getEnvAsInt("IMPORT_ERROR_PREVIEW", 10),
			FuzzyDistance:        getEnvAsInt("IMPORT_FUZZY_DISTANCE", 0),
			InferFromDescription: getEnvAsBool("IMPORT_INFER_FROM_DESCRIPTION", false),
			DefaultFamilyID:      getEnv("IMPORT_DEFAULT_FAMILY_ID", "00000000-0000-0000-0000-000000000001"),
		},
		Checkpoint: CheckpointConfig{
			Store:     getEnv("CHECKPOINT_STORE", CheckpointBolt),
			BoltPath:  getEnv("CHECKPOINT_BOLT_PATH", "./data/checkpoints.db"),
			Retention: getEnvAsDuration("CHECKPOINT_RETENTION", 7*24*time.Hour),
			PruneCron: getEnv("CHECKPOINT_PRUNE_CRON", "0 3 * * *"),
		},
		Storage: StorageConfig{
			UploadDir: getEnv("UPLOAD_DIR", "./uploads"),
		},
		AMQP: AMQPConfig{
			URL:      getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", "ledger.imports"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend.Type {
	case BackendPostgres, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("BACKEND must be %q or %q, got %q", BackendPostgres, BackendSQLite, c.Backend.Type))
	}
	switch c.Checkpoint.Store {
	case CheckpointBolt, CheckpointMemory:
	case CheckpointPostgres:
		if c.Backend.Type != BackendPostgres {
			errs = append(errs, errors.New("CHECKPOINT_STORE=postgres requires BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CHECKPOINT_STORE %q", c.Checkpoint.Store))
	}
	if c.Import.ChunkSize <= 0 {
		errs = append(errs, errors.New("IMPORT_CHUNK_SIZE must be positive"))
	}
	if c.Import.RetryAttempts <= 0 {
		errs = append(errs, errors.New("IMPORT_RETRY_ATTEMPTS must be positive"))
	}
	return errors.Join(errs...)
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
