package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"infinite-experiment/tourdesk/internal/constants"
)

// Change stream backends
const (
	StreamMemory   = "memory"
	StreamRedis    = "redis"
	StreamPostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	// App
	AppEnv string
	Port   string

	// Postgres
	PGHost     string
	PGPort     string
	PGUser     string
	PGPassword string
	PGDB       string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Auth
	JWTSecret        string
	ExportSigningKey string
	ExportLinkTTL    time.Duration

	// Reconciliation
	ChangeStream      string
	OrderStatuses     []string
	RetryAttempts     int
	RetryDelay        time.Duration
	CapabilityTTL     time.Duration
	ResyncInterval    time.Duration
	ResubscribeMax    time.Duration
	CacheBackendRedis bool

	// HTTP
	RateLimitPerSecond int
	RateLimitBurst     int
	CORSOrigins        []string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		AppEnv: getEnv("APP_ENV", "development"),
		Port:   getEnv("PORT", "8080"),

		PGHost:     getEnv("PG_HOST", "localhost"),
		PGPort:     getEnv("PG_PORT", "5432"),
		PGUser:     getEnv("PG_USER", "postgres"),
		PGPassword: getEnv("PG_PASSWORD", ""),
		PGDB:       getEnv("PG_DB", "tourdesk"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		JWTSecret:        getEnv("AUTH_JWT_SECRET", ""),
		ExportSigningKey: getEnv("EXPORT_SIGNING_KEY", ""),
		ExportLinkTTL:    time.Duration(getEnvAsInt("EXPORT_LINK_TTL_SECONDS", 300)) * time.Second,

		ChangeStream:      strings.ToLower(getEnv("CHANGE_STREAM", StreamPostgres)),
		OrderStatuses:     getEnvAsList("ORDER_STATUSES", constants.DefaultActiveOrderStatuses),
		RetryAttempts:     getEnvAsInt("RETRY_ATTEMPTS", 3),
		RetryDelay:        time.Duration(getEnvAsInt("RETRY_DELAY_MS", 1000)) * time.Millisecond,
		CapabilityTTL:     time.Duration(getEnvAsInt("CAPABILITY_TTL_SECONDS", 600)) * time.Second,
		ResyncInterval:    time.Duration(getEnvAsInt("RESYNC_INTERVAL_SECONDS", 900)) * time.Second,
		ResubscribeMax:    time.Duration(getEnvAsInt("RESUBSCRIBE_MAX_SECONDS", 60)) * time.Second,
		CacheBackendRedis: getEnv("CACHE_BACKEND", "memory") == "redis",

		RateLimitPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 40),
		CORSOrigins:        getEnvAsList("CORS_ORIGINS", []string{"*"}),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks settings that have no safe default
func (c *Config) Validate() error {
	switch c.ChangeStream {
	case StreamMemory, StreamRedis, StreamPostgres:
	default:
		return fmt.Errorf("invalid CHANGE_STREAM %q", c.ChangeStream)
	}
	if c.AppEnv == "production" && c.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required in production")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1")
	}
	if c.ResubscribeMax <= 0 {
		return fmt.Errorf("RESUBSCRIBE_MAX_SECONDS must be positive")
	}
	return nil
}

// PostgresDSN builds the connection string shared by sqlx, GORM and the listener
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDB)
}

// RedisAddr returns host:port for the Redis client
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// SigningKey falls back to the JWT secret when no export key is configured
func (c *Config) SigningKey() []byte {
	if c.ExportSigningKey != "" {
		return []byte(c.ExportSigningKey)
	}
	return []byte(c.JWTSecret)
}

// Helper functions to get environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultValue...)
	}
	return out
}
