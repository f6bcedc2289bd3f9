package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	RedisAddr     string
	RedisPassword string

	KafkaBrokers string

	GatewayBaseURL      string
	GatewayTokenURL     string
	GatewayClientID     string
	GatewayClientSecret string
	GatewayJWKSURL      string
	GatewayCurrency     string

	NotifyRelayURL      string
	NotifyFrom          string
	NotifyConsumerGroup string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	RateLimitWindow   time.Duration
	RateLimitCapacity int
}

// DefaultConfig возвращает безопасные значения по умолчанию:
// in-memory хранилище, без Kafka и Redis.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		GatewayCurrency:     "RUB",
		NotifyConsumerGroup: "storefront-notify",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  8,
		OutboxRetryDelay:   500 * time.Millisecond,
		OutboxMaxPending:   1000,

		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		RateLimitWindow:   time.Minute,
		RateLimitCapacity: 60,
	}
}

// ConfigFromEnv читает конфигурацию из окружения поверх значений по
// умолчанию. Пустые переменные не перекрывают дефолты.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.MetricsAddr, "METRICS_ADDR")

	if v := strings.TrimSpace(os.Getenv("STORAGE_DRIVER")); v != "" {
		cfg.StorageDriver = StorageDriver(v)
	}
	setString(&cfg.PostgresDSN, "POSTGRES_DSN")
	setBool(&cfg.PostgresAutoMigrate, "POSTGRES_AUTO_MIGRATE")

	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")

	setString(&cfg.KafkaBrokers, "KAFKA_BROKERS")

	setString(&cfg.GatewayBaseURL, "GATEWAY_BASE_URL")
	setString(&cfg.GatewayTokenURL, "GATEWAY_TOKEN_URL")
	setString(&cfg.GatewayClientID, "GATEWAY_CLIENT_ID")
	setString(&cfg.GatewayClientSecret, "GATEWAY_CLIENT_SECRET")
	setString(&cfg.GatewayJWKSURL, "GATEWAY_JWKS_URL")
	setString(&cfg.GatewayCurrency, "GATEWAY_CURRENCY")

	setString(&cfg.NotifyRelayURL, "NOTIFY_RELAY_URL")
	setString(&cfg.NotifyFrom, "NOTIFY_FROM")
	setString(&cfg.NotifyConsumerGroup, "NOTIFY_CONSUMER_GROUP")

	setDuration(&cfg.OutboxPollInterval, "OUTBOX_POLL_INTERVAL")
	setInt(&cfg.OutboxBatchSize, "OUTBOX_BATCH_SIZE")
	setInt(&cfg.OutboxMaxAttempts, "OUTBOX_MAX_ATTEMPTS")
	setDuration(&cfg.OutboxRetryDelay, "OUTBOX_RETRY_DELAY")
	setInt(&cfg.OutboxMaxPending, "OUTBOX_MAX_PENDING")

	setDuration(&cfg.IdempotencyCleanupInterval, "IDEMPOTENCY_CLEANUP_INTERVAL")
	setInt(&cfg.IdempotencyCleanupBatchSize, "IDEMPOTENCY_CLEANUP_BATCH_SIZE")

	setDuration(&cfg.RateLimitWindow, "RATE_LIMIT_WINDOW")
	setInt(&cfg.RateLimitCapacity, "RATE_LIMIT_CAPACITY")

	return cfg
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			*dst = parsed
		}
	}
}
