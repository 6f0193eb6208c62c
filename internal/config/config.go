package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server configuration loaded from the environment
type Config struct {
	Environment string
	Port        string

	// Logging
	LogLevel string
	LogFile  string

	// Database
	DatabaseURL string

	// Redis (realtime channels + unread count cache)
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Media storage
	AWSRegion  string
	AWSBucket  string
	CDNBaseURL string

	// Auth
	JWTSecret []byte

	// Realtime
	RealtimeMaxConnections int
	RealtimePollInterval   time.Duration

	UnreadCacheTTL time.Duration
	RequestTimeout time.Duration

	// Per-user send limit (0 disables)
	SendRateLimit  int
	SendRateWindow time.Duration

	// CORS and websocket origin patterns
	AllowedOrigins []string

	// OpenTelemetry
	OTelEnabled      bool
	OTelEndpoint     string
	OTelSamplingRate float64
}

// Load reads .env (if present) and the process environment into a Config.
// REQUIRED environment variables:
// - JWT_SECRET: shared secret of the auth provider used to verify bearer tokens
func Load() (*Config, error) {
	// A missing .env is fine, system environment variables are used instead
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),
		Port:        getEnvOrDefault("PORT", "8787"),

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:  getEnvOrDefault("LOG_FILE", "server.log"),

		DatabaseURL: databaseURL(),

		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		AWSRegion:  getEnvOrDefault("AWS_REGION", "us-east-1"),
		AWSBucket:  os.Getenv("AWS_BUCKET"),
		CDNBaseURL: os.Getenv("CDN_BASE_URL"),

		JWTSecret: []byte(os.Getenv("JWT_SECRET")),

		RealtimeMaxConnections: getEnvInt("REALTIME_MAX_CONNECTIONS", 2),
		RealtimePollInterval:   getEnvDuration("REALTIME_POLL_INTERVAL", 3*time.Second),

		UnreadCacheTTL: getEnvDuration("UNREAD_CACHE_TTL", 30*time.Second),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 15*time.Second),

		SendRateLimit:  getEnvInt("SEND_RATE_LIMIT", 30),
		SendRateWindow: getEnvDuration("SEND_RATE_WINDOW", time.Minute),

		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),

		OTelEnabled:      os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:     getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		OTelSamplingRate: getEnvFloat("OTEL_SAMPLING_RATE", 1.0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that have no usable default
func (c *Config) Validate() error {
	if len(c.JWTSecret) == 0 {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.RealtimeMaxConnections < 1 {
		return fmt.Errorf("REALTIME_MAX_CONNECTIONS must be at least 1, got %d", c.RealtimeMaxConnections)
	}
	if c.RealtimePollInterval <= 0 {
		return fmt.Errorf("REALTIME_POLL_INTERVAL must be positive")
	}
	if c.SendRateLimit > 0 && c.SendRateWindow <= 0 {
		return fmt.Errorf("SEND_RATE_WINDOW must be positive when SEND_RATE_LIMIT is set")
	}
	return nil
}

// IsProduction reports whether the server runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// RedisAddr returns host:port for the Redis server
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

// databaseURL prefers DATABASE_URL and falls back to individual components
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := getEnvOrDefault("DB_HOST", "localhost")
	port := getEnvOrDefault("DB_PORT", "5432")
	user := getEnvOrDefault("DB_USER", "postgres")
	password := getEnvOrDefault("DB_PASSWORD", "")
	dbname := getEnvOrDefault("DB_NAME", "orbit")
	sslmode := getEnvOrDefault("DB_SSLMODE", "disable")

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)
}

// getEnvOrDefault returns environment variable or default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries
func getEnvList(key string, defaultValue []string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvDuration accepts Go duration strings ("3s", "500ms")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
