package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config хранит все настройки farm-сервиса.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int

	KafkaBrokers       string
	KafkaClientID      string
	KafkaEventsTopic   string
	KafkaDLQTopic      string
	KafkaConsumerGroup string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int
	// OutboxRetention задаёт, сколько хранятся доставленные события; ноль хранит их вечно.
	OutboxRetention time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	RecoverySchedule   string
	RecoveryStaleAfter time.Duration

	LogLevel  string
	LogFormat string
}

func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    25,

		KafkaClientID:    "farm-service",
		KafkaEventsTopic: "farm.bill.events",
		KafkaDLQTopic:    "farm.bill.dlq",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,
		OutboxMaxPending:   1000,
		OutboxRetention:    72 * time.Hour,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		RecoverySchedule:   "@every 1m",
		RecoveryStaleAfter: 2 * time.Minute,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadConfig читает .env (если есть) и окружение процесса поверх
// DefaultConfig.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()
	var errs []error

	cfg.GRPCAddr = envString("GRPC_ADDR", cfg.GRPCAddr)
	cfg.MetricsAddr = envString("METRICS_ADDR", cfg.MetricsAddr)

	cfg.StorageDriver = strings.ToLower(envString("STORAGE_DRIVER", cfg.StorageDriver))
	cfg.PostgresDSN = envString("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.PostgresAutoMigrate = envBool("POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate, &errs)
	cfg.PostgresMaxConns = envInt("POSTGRES_MAX_CONNS", cfg.PostgresMaxConns, &errs)

	cfg.KafkaBrokers = envString("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaClientID = envString("KAFKA_CLIENT_ID", cfg.KafkaClientID)
	cfg.KafkaEventsTopic = envString("KAFKA_EVENTS_TOPIC", cfg.KafkaEventsTopic)
	cfg.KafkaDLQTopic = envString("KAFKA_DLQ_TOPIC", cfg.KafkaDLQTopic)
	cfg.KafkaConsumerGroup = envString("KAFKA_CONSUMER_GROUP", cfg.KafkaConsumerGroup)

	cfg.OutboxPollInterval = envDuration("OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval, &errs)
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize, &errs)
	cfg.OutboxMaxAttempts = envInt("OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts, &errs)
	cfg.OutboxRetryDelay = envDuration("OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay, &errs)
	cfg.OutboxMaxPending = envInt("OUTBOX_MAX_PENDING", cfg.OutboxMaxPending, &errs)
	cfg.OutboxRetention = envDuration("OUTBOX_RETENTION", cfg.OutboxRetention, &errs)

	cfg.IdempotencyTTL = envDuration("IDEMPOTENCY_TTL", cfg.IdempotencyTTL, &errs)
	cfg.IdempotencyCleanupInterval = envDuration("IDEMPOTENCY_CLEANUP_INTERVAL", cfg.IdempotencyCleanupInterval, &errs)
	cfg.IdempotencyCleanupBatchSize = envInt("IDEMPOTENCY_CLEANUP_BATCH_SIZE", cfg.IdempotencyCleanupBatchSize, &errs)

	cfg.RecoverySchedule = envString("RECOVERY_SCHEDULE", cfg.RecoverySchedule)
	cfg.RecoveryStaleAfter = envDuration("RECOVERY_STALE_AFTER", cfg.RecoveryStaleAfter, &errs)

	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(envString("LOG_FORMAT", cfg.LogFormat))

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate отклоняет настройки, с которыми сервис не может стартовать.
func (c Config) Validate() error {
	var errs []error

	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("GRPC_ADDR must not be empty"))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres storage driver"))
		}
		if c.PostgresMaxConns <= 0 {
			errs = append(errs, errors.New("POSTGRES_MAX_CONNS must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("OUTBOX_POLL_INTERVAL must be positive"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("OUTBOX_BATCH_SIZE must be positive"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("OUTBOX_MAX_ATTEMPTS must be positive"))
	}
	if c.OutboxRetryDelay < 0 {
		errs = append(errs, errors.New("OUTBOX_RETRY_DELAY must not be negative"))
	}
	if c.OutboxRetention < 0 {
		errs = append(errs, errors.New("OUTBOX_RETENTION must not be negative"))
	}
	if c.IdempotencyCleanupInterval <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_CLEANUP_INTERVAL must be positive"))
	}
	if c.RecoveryStaleAfter <= 0 {
		errs = append(errs, errors.New("RECOVERY_STALE_AFTER must be positive"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// Brokers разбивает KafkaBrokers; nil означает, что Kafka выключена.
func (c Config) Brokers() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// ConfigureLogger применяет LOG_LEVEL и LOG_FORMAT к стандартному логгеру logrus.
func ConfigureLogger(cfg Config) {
	if strings.EqualFold(cfg.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envInt(key string, fallback int, errs *[]error) int {
	raw := envString(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return fallback
	}
	return v
}

func envBool(key string, fallback bool, errs *[]error) bool {
	raw := envString(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := envString(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return fallback
	}
	return v
}
