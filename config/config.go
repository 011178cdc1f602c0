package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr           string
	BackendURL           string
	PreviewStore         string
	PreviewTTL           time.Duration
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration
	CookieSecure         bool
	RateLimitRPS         float64
	RateLimitBurst       int
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	RedisPrefix          string
	PreviewKeyPrefix     string
	ArchiveEnabled       bool
	PendingQueue         string
	ProcessingQueue      string
	FailedQueue          string
	StatusKeyPrefix      string
	WorkerCount          int
	ArchiveTimeout       int
	MaxRetries           int
	S3Bucket             string
	S3Region             string
	AWSS3AccessKey       string
	AWSS3SecretKey       string
	S3Endpoint           string
	S3UsePathStyle       bool
	HistoryEnabled       bool
	DatabaseURL          string
}

const (
	PreviewStoreRedis  = "redis"
	PreviewStoreMemory = "memory"
)

func Load() *Config {
	redisPrefix := getEnv("REDIS_PREFIX", "")

	return &Config{
		ListenAddr:           getEnv("LISTEN_ADDR", ":3000"),
		BackendURL:           strings.TrimRight(getEnv("BACKEND_URL", "http://flask:8080"), "/"),
		PreviewStore:         strings.ToLower(getEnv("PREVIEW_STORE", PreviewStoreRedis)),
		PreviewTTL:           getEnvDuration("PREVIEW_TTL", 30*time.Minute),
		SessionTTL:           getEnvDuration("SESSION_TTL", time.Hour),
		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		CookieSecure:         getEnvBool("COOKIE_SECURE", false),
		RateLimitRPS:         getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:       getEnvInt("RATE_LIMIT_BURST", 10),
		RedisAddr:            getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		RedisPrefix:          redisPrefix,
		PreviewKeyPrefix:     applyPrefix(getEnv("PREVIEW_KEY_PREFIX", "preview:"), redisPrefix),
		ArchiveEnabled:       getEnvBool("ARCHIVE_ENABLED", false),
		PendingQueue:         applyPrefix(getEnv("ARCHIVE_PENDING_QUEUE", "archive:pending"), redisPrefix),
		ProcessingQueue: applyPrefix(
			getEnv("ARCHIVE_PROCESSING_QUEUE", "archive:processing"),
			redisPrefix,
		),
		FailedQueue: applyPrefix(
			getEnv("ARCHIVE_FAILED_QUEUE", "archive:failed"),
			redisPrefix,
		),
		StatusKeyPrefix: applyPrefix(getEnv("ARCHIVE_STATUS_PREFIX", "archive:status:"), redisPrefix),
		WorkerCount:     getEnvInt("ARCHIVE_WORKER_COUNT", 2),
		ArchiveTimeout:  getEnvInt("ARCHIVE_TIMEOUT", 120),
		MaxRetries:      getEnvInt("ARCHIVE_MAX_RETRIES", 3),
		S3Bucket:        getEnv("AWS_BUCKET", "multisvg"),
		// Prefer unified S3_* vars, fall back to AWS_* vars
		S3Region:       getEnvWithFallback("S3_REGION", "AWS_DEFAULT_REGION", "us-east-1"),
		AWSS3AccessKey: getEnvWithFallback("S3_KEY", "AWS_ACCESS_KEY_ID", ""),
		AWSS3SecretKey: getEnvWithFallback("S3_SECRET", "AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3UsePathStyle: getEnvBool("S3_USE_PATH_STYLE_ENDPOINT", false),
		HistoryEnabled: getEnvBool("HISTORY_ENABLED", false),
		DatabaseURL:    databaseURL(),
	}
}

// NeedsRedis reports whether any enabled component talks to redis.
func (c *Config) NeedsRedis() bool {
	return c.PreviewStore == PreviewStoreRedis || c.ArchiveEnabled
}

func databaseURL() string {
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_DATABASE", "multisvg")
	dbUser := getEnv("DB_USERNAME", "multisvg")
	dbPassword := getEnv("DB_PASSWORD", "")
	dbSSLMode := getEnv("DB_SSLMODE", "disable")

	// lib/pq accepts "key=value" connection strings, which avoids URI
	// escaping issues for special characters in passwords.
	dbURL := fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s sslmode=%s",
		dbHost, dbPort, dbName, dbUser, dbSSLMode,
	)
	if dbPassword != "" {
		dbURL += fmt.Sprintf(" password=%s", quoteConnValue(dbPassword))
	}
	if v := getEnv("DB_SSLROOTCERT", ""); v != "" {
		dbURL += fmt.Sprintf(" sslrootcert=%s", v)
	}

	return dbURL
}

// quoteConnValue quotes a value for a lib/pq key=value connection string.
func quoteConnValue(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvWithFallback(primaryKey, secondaryKey, fallback string) string {
	if value := os.Getenv(primaryKey); value != "" {
		return value
	}
	if value := os.Getenv(secondaryKey); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func applyPrefix(key string, prefix string) string {
	if prefix == "" {
		return key
	}
	return prefix + key
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
