package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/fluidstore/internal/pricing"
)

// Драйверы хранилища заказов и каталога.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Драйверы слота корзины и сессий.
const (
	CartDriverMemory = "memory"
	CartDriverRedis  = "redis"
)

// ErrInvalidConfig возвращается Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config описывает настройки запуска витрины.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// SeedCatalog наполняет каталог демонстрационными товарами при старте.
	SeedCatalog bool

	CartDriver string
	RedisAddr  string
	CartTTL    time.Duration

	// KafkaBrokers — список брокеров через запятую; пусто отключает публикацию и consumer.
	KafkaBrokers  string
	KafkaClientID string
	KafkaGroupID  string

	Pricing pricing.Config

	SubmitTimeout     time.Duration
	StatsRefreshDelay time.Duration
	RequestTimeout    time.Duration
	CheckoutIdleTTL   time.Duration
	// CleanupInterval — период удаления истёкших сессий и простаивающих машин оформления.
	CleanupInterval time.Duration

	AdminUsername     string
	AdminPasswordHash string
	SessionTTL        time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	OTLPEndpoint    string
	TraceSampleRate float64
	Environment     string
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		SeedCatalog:         true,

		CartDriver: CartDriverMemory,
		RedisAddr:  "localhost:6379",
		CartTTL:    30 * 24 * time.Hour,

		KafkaClientID: "fluidstore",
		KafkaGroupID:  "fluidstore-backoffice",

		Pricing: pricing.DefaultConfig(),

		SubmitTimeout:     20 * time.Second,
		StatsRefreshDelay: 500 * time.Millisecond,
		RequestTimeout:    30 * time.Second,
		CheckoutIdleTTL:   time.Hour,
		CleanupInterval:   10 * time.Minute,

		AdminUsername: "admin",
		SessionTTL:    24 * time.Hour,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   500 * time.Millisecond,

		TraceSampleRate: 1,
		Environment:     "development",
	}
}

// Validate отклоняет невозможные сочетания настроек.
func (c Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.HTTPAddr) == "" {
		problems = append(problems, "http addr is required")
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			problems = append(problems, "postgres dsn is required for postgres storage")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported storage driver %q", c.StorageDriver))
	}
	switch c.CartDriver {
	case CartDriverMemory:
	case CartDriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			problems = append(problems, "redis addr is required for redis cart driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported cart driver %q", c.CartDriver))
	}
	if err := c.Pricing.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.SubmitTimeout <= 0 {
		problems = append(problems, "submit timeout must be > 0")
	}
	if c.StatsRefreshDelay < 0 {
		problems = append(problems, "stats refresh delay must be >= 0")
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		problems = append(problems, "outbox batch size and max attempts must be > 0")
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		problems = append(problems, "trace sample rate must be within [0, 1]")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// KafkaBrokerList разбирает KafkaBrokers.
func (c Config) KafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
