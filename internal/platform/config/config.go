// Package config loads process configuration from the environment so main
// stays lean. Each module receives only the slice of config it needs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the resolution engine needs at startup.
type Config struct {
	Addr            string
	PostgresURL     string
	Redis           RedisConfig
	Kafka           KafkaConfig
	AuditHistoryMax int
	PassParallelism int
	ReviewTokenKey  string
	ReviewTokenTTL  time.Duration

	OrphanMaxAge        time.Duration
	OrphanSweepInterval time.Duration
}

// RedisConfig tunes the account/identity cache client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CacheTTL     time.Duration
}

// KafkaConfig locates the notification topic.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Config from FUSEID_* environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:            envOr("FUSEID_ADDR", ":8080"),
		PostgresURL:     os.Getenv("FUSEID_POSTGRES_URL"),
		AuditHistoryMax: envIntOr("FUSEID_AUDIT_HISTORY_MAX", 13),
		PassParallelism: envIntOr("FUSEID_PASS_PARALLELISM", 8),
		ReviewTokenKey:  envOr("FUSEID_REVIEW_TOKEN_KEY", "dev-secret-key-change-in-production"),
		ReviewTokenTTL:  envDurationOr("FUSEID_REVIEW_TOKEN_TTL", 72*time.Hour),

		OrphanMaxAge:        envDurationOr("FUSEID_ORPHAN_MAX_AGE", 30*24*time.Hour),
		OrphanSweepInterval: envDurationOr("FUSEID_ORPHAN_SWEEP_INTERVAL", 6*time.Hour),
		Redis: RedisConfig{
			URL:          os.Getenv("FUSEID_REDIS_URL"),
			PoolSize:     envIntOr("FUSEID_REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("FUSEID_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDurationOr("FUSEID_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDurationOr("FUSEID_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDurationOr("FUSEID_REDIS_WRITE_TIMEOUT", 3*time.Second),
			CacheTTL:     envDurationOr("FUSEID_SOURCE_CACHE_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Topic: envOr("FUSEID_KAFKA_TOPIC", "fuseid.reviews"),
		},
	}
	if brokers := os.Getenv("FUSEID_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
