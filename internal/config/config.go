package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all environment-driven settings for the bridge process
type Config struct {
	Env string

	// Relational store
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (stream bus + view store)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Avito API
	AvitoClientID      string
	AvitoClientSecret  string
	AvitoWebhookSecret string
	AvitoBaseURL       string

	// Telegram
	TelegramBotToken string

	// Token encryption key (32 bytes, hex-encoded)
	EncryptionKey string

	// Retention and timing
	ViewTTL         time.Duration // conversation view retention
	ReplyContextTTL time.Duration // reply-context retention
	StreamBlock     time.Duration // blocking read timeout
	WorkerBackoff   time.Duration // sleep after a loop-level failure

	// HTTP surface
	ListenAddr string
}

// Load reads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Env: getEnv("ENV", "development"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "avitobridge"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnvInt("REDIS_PORT", 6379),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AvitoClientID:      getEnv("AVITO_CLIENT_ID", ""),
		AvitoClientSecret:  getEnv("AVITO_CLIENT_SECRET", ""),
		AvitoWebhookSecret: getEnv("AVITO_WEBHOOK_SECRET", ""),
		AvitoBaseURL:       getEnv("AVITO_BASE_URL", "https://api.avito.ru"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		ViewTTL:         getEnvDuration("VIEW_TTL", 72*time.Hour),
		ReplyContextTTL: getEnvDuration("REPLY_CONTEXT_TTL", 72*time.Hour),
		StreamBlock:     getEnvDuration("STREAM_BLOCK", 5*time.Second),
		WorkerBackoff:   getEnvDuration("WORKER_BACKOFF", 5*time.Second),

		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
