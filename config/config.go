package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	RedisAddr   string
	RedisDB     int

	JWTSecret string
	JWTExpiry time.Duration

	Port string

	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string

	IndexWorkers    int
	QueueAttempts   int
	QueueBackoff    time.Duration
	RelayInterval   time.Duration
	HandshakeWindow time.Duration
}

func Load() (*Config, error) {
	// Load .env if present; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTExpiry:        getEnvDuration("JWT_EXPIRY", 24*time.Hour),
		Port:             getEnv("PORT", "8080"),
		EmbeddingAPIKey:  os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingBaseURL: getEnv("EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
		EmbeddingModel:   getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		IndexWorkers:     getEnvInt("INDEX_WORKERS", 2),
		QueueAttempts:    getEnvInt("QUEUE_ATTEMPTS", 3),
		QueueBackoff:     getEnvDuration("QUEUE_BACKOFF", 2*time.Second),
		RelayInterval:    getEnvDuration("RELAY_INTERVAL", time.Second),
		HandshakeWindow:  getEnvDuration("HANDSHAKE_WINDOW", 5*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
