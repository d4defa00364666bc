package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Persistent store
	PostgresURI string

	// Telemetry broker
	RedisAddr     string
	RedisPassword string
	TopicPrefix   string

	// Auth collaborator
	JWTSecret     string
	JWTAlgorithm  string
	TokenLifetime time.Duration

	// Notification collaborator (SMTP); held for the mailer, not read by the pipeline
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string

	// Anomaly alert delivery; empty values disable a backend
	AlertWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string

	// Session state machine thresholds
	SessionTimeout       time.Duration
	NoiseThreshold       float64
	WeightStartThreshold float64

	// Write-behind buffer triggers
	BufferSize    int
	FlushInterval time.Duration

	// Training driver
	TrainingHour    int           // wall-clock hour of the daily cycle
	ScoringInterval time.Duration // backfill cadence

	// HTTP surfaces
	APIAddr     string
	MetricsAddr string
}

// Load reads configuration from environment variables with sensible defaults.
// POSTGRES_URI and JWT_SECRET are required.
func Load() *Config {
	return &Config{
		PostgresURI: mustEnv("POSTGRES_URI"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		TopicPrefix:   getEnv("TOPIC_PREFIX", "cattle/sensor"),

		JWTSecret:     mustEnv("JWT_SECRET"),
		JWTAlgorithm:  getEnv("JWT_ALGORITHM", "HS256"),
		TokenLifetime: getDuration("TOKEN_LIFETIME_MINUTES", 60) * time.Minute,

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		SessionTimeout:       getDuration("SESSION_TIMEOUT_SECONDS", 60) * time.Second,
		NoiseThreshold:       getFloat("NOISE_THRESHOLD", 0.005),
		WeightStartThreshold: getFloat("WEIGHT_START_THRESHOLD", 0.05),

		BufferSize:    getInt("BUFFER_SIZE", 100),
		FlushInterval: getDuration("FLUSH_INTERVAL_SECONDS", 5) * time.Second,

		TrainingHour:    getInt("TRAINING_HOUR", 2),
		ScoringInterval: getDuration("SCORING_INTERVAL_SECONDS", 3600) * time.Second,

		APIAddr:     getEnv("API_ADDR", ":8000"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return f
}

// getDuration reads an integer env var expressed in the unit the caller
// multiplies by (seconds or minutes).
func getDuration(key string, fallback int) time.Duration {
	return time.Duration(getInt(key, fallback))
}
