package config

import (
	"fmt"
	"os"
	"strconv"
)

// GatewayConfig holds the payment processor credentials.
type GatewayConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
}

type Config struct {
	Port      string
	RedisURL  string
	JWTSecret string

	// DryRun suppresses gateway calls and ride hard-deletes. It is strictly
	// opt-in; missing processor credentials without it is a startup error.
	DryRun bool

	SweepBatchSize   int
	SweepConcurrency int

	Gateway GatewayConfig

	AuditBucket string
	AuditDir    string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		RedisURL:         getEnv("REDIS_URL", "redis://redis:6379"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		DryRun:           os.Getenv("SETTLEMENT_DRY_RUN") == "true",
		SweepBatchSize:   getEnvInt("SWEEP_BATCH_SIZE", 50),
		SweepConcurrency: getEnvInt("SWEEP_CONCURRENCY", 8),
		Gateway: GatewayConfig{
			BaseURL:      os.Getenv("PAYMENT_API_BASE_URL"),
			ClientID:     os.Getenv("PAYMENT_CLIENT_ID"),
			ClientSecret: os.Getenv("PAYMENT_CLIENT_SECRET"),
		},
		AuditBucket: os.Getenv("AUDIT_S3_BUCKET"),
		AuditDir:    getEnv("AUDIT_DIR", "/app/audit"),
	}

	if !cfg.DryRun {
		if cfg.Gateway.BaseURL == "" || cfg.Gateway.ClientID == "" || cfg.Gateway.ClientSecret == "" {
			return nil, fmt.Errorf("payment processor credentials not configured; set PAYMENT_API_BASE_URL, PAYMENT_CLIENT_ID and PAYMENT_CLIENT_SECRET, or opt into SETTLEMENT_DRY_RUN=true")
		}
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
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
