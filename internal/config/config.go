package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                string
	DatabaseURL         string
	ClinicQueueLimit    int
	GlobalQueueLimit    int
	PollInterval        time.Duration
	PollBatchSize       int
	OutboxRetention     time.Duration
	BridgeEnabled       bool
	RateLimitPerMinute  int
	RateLimitBurst      int
	ClinicRatePerMinute int
	ClinicRateBurst     int
}

func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                port,
		DatabaseURL:         os.Getenv("DB_DSN"),
		ClinicQueueLimit:    readInt("PUBLIC_QUEUE_LIMIT", 10),
		GlobalQueueLimit:    readInt("GLOBAL_QUEUE_LIMIT", 100),
		PollInterval:        readDurationSeconds("POLL_INTERVAL_SECONDS", 1),
		PollBatchSize:       readInt("POLL_BATCH_SIZE", 100),
		OutboxRetention:     readDurationSeconds("OUTBOX_RETENTION_SECONDS", 3600),
		BridgeEnabled:       readBool("BRIDGE_ENABLED", false),
		RateLimitPerMinute:  readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:      readInt("RATE_LIMIT_BURST", 30),
		ClinicRatePerMinute: readInt("CLINIC_RATE_LIMIT_PER_MIN", 600),
		ClinicRateBurst:     readInt("CLINIC_RATE_LIMIT_BURST", 120),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
