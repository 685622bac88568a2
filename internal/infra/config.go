package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv            string
	Port              string
	DatabaseURL       string
	N8NWebhookURL     string
	N8NCallbackSecret string
	CometAPIKey       string
	CometBaseURL      string
	CometVideoModel   string
	CometImageModel   string
	StoragePath       string
	StorageBaseURL    string
	GeoIPDBPath       string
	PollInterval      time.Duration
	MaxPollAttempts   int
	MaxBatchVideos    int
	MaxVideoSeconds   int
	HTTPReadTimeout   time.Duration
	HTTPWriteTimeout  time.Duration
	HTTPIdleTimeout   time.Duration
	RateLimitPerMin   int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		N8NWebhookURL:     os.Getenv("N8N_WEBHOOK_URL"),
		N8NCallbackSecret: os.Getenv("N8N_CALLBACK_SECRET"),
		CometAPIKey:       os.Getenv("COMET_API_KEY"),
		CometBaseURL:      getEnv("COMET_BASE_URL", "https://api.cometapi.com/v1"),
		CometVideoModel:   getEnv("COMET_VIDEO_MODEL", "sora-2-pro"),
		CometImageModel:   getEnv("COMET_IMAGE_MODEL", "flux-1.1-pro"),
		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:    getEnv("STORAGE_BASE_URL", "/static"),
		GeoIPDBPath:       os.Getenv("GEOIP_DB_PATH"),
		PollInterval:      time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 5)),
		MaxPollAttempts:   getEnvInt("MAX_POLL_ATTEMPTS", 150),
		MaxBatchVideos:    getEnvInt("MAX_BATCH_VIDEOS", 1),
		MaxVideoSeconds:   getEnvInt("MAX_VIDEO_SECONDS", 12),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	if cfg.N8NCallbackSecret == "" {
		return nil, fmt.Errorf("N8N_CALLBACK_SECRET is required")
	}
	if cfg.MaxPollAttempts <= 0 {
		return nil, fmt.Errorf("MAX_POLL_ATTEMPTS must be positive")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
