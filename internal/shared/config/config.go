package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Promote ambiguity policies.
const (
	PromoteFirst  = "first"
	PromoteReject = "reject"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Storage      StorageConfig
	KurrentDB    KurrentDBConfig
	Auth         AuthConfig
	Log          LogConfig
	Workflow     WorkflowConfig
	RateLimit    RateLimitConfig
	Notification NotificationConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// StorageConfig selects the repository implementation.
type StorageConfig struct {
	// Driver is "postgres" or "memory"
	Driver string
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	// Enabled switches the event bus from in-process to KurrentDB
	Enabled bool
	// Host is the KurrentDB server hostname
	Host string
	// Port is the gRPC port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	Username string
	Password string
	// StreamPrefix is prepended to every stream name
	StreamPrefix string
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// WorkflowConfig tunes state machine validation and promotion.
type WorkflowConfig struct {
	// StrictDeadEnds makes a non-stop step without outgoing transitions fatal
	StrictDeadEnds bool
	// PromoteAmbiguity is "first" or "reject"
	PromoteAmbiguity string
	// PublishTimeout bounds the post-commit trigger publish
	PublishTimeout time.Duration
}

type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

type NotificationConfig struct {
	Workers    int
	BufferSize int
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "opensur"),
			Password: getEnv("DB_PASSWORD", "opensur"),
			Database: getEnv("DB_NAME", "opensur"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 25),
			MinConns: getEnvInt("DB_MIN_CONNS", 5),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(getEnv("STORAGE_DRIVER", StoragePostgres)),
		},
		KurrentDB: KurrentDBConfig{
			Enabled:      getEnvBool("KURRENTDB_ENABLED", false),
			Host:         getEnv("KURRENTDB_HOST", "localhost"),
			Port:         getEnvInt("KURRENTDB_PORT", 2113),
			Insecure:     getEnvBool("KURRENTDB_INSECURE", true),
			Username:     getEnv("KURRENTDB_USERNAME", ""),
			Password:     getEnv("KURRENTDB_PASSWORD", ""),
			StreamPrefix: getEnv("KURRENTDB_STREAM_PREFIX", "opensur"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
			Issuer:    getEnv("JWT_ISSUER", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getEnvBool("LOG_PRETTY", false),
		},
		Workflow: WorkflowConfig{
			StrictDeadEnds:   getEnvBool("WORKFLOW_STRICT_DEAD_ENDS", true),
			PromoteAmbiguity: strings.ToLower(getEnv("PROMOTE_AMBIGUITY", PromoteFirst)),
			PublishTimeout:   getEnvDuration("EVENT_PUBLISH_TIMEOUT", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvInt("RATE_LIMIT_RPS", 100),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 200),
		},
		Notification: NotificationConfig{
			Workers:    getEnvInt("NOTIFICATION_WORKERS", 4),
			BufferSize: getEnvInt("NOTIFICATION_BUFFER", 256),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}
	switch c.Workflow.PromoteAmbiguity {
	case PromoteFirst, PromoteReject:
	default:
		return fmt.Errorf("unknown PROMOTE_AMBIGUITY %q", c.Workflow.PromoteAmbiguity)
	}
	if c.Notification.Workers < 1 {
		return fmt.Errorf("NOTIFICATION_WORKERS must be positive")
	}
	if c.Server.Env == "production" && c.Auth.JWTSecret == "dev-secret-change-in-prod" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
