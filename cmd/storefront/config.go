package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fluidstore/internal/app"
)

const (
	envHTTPAddr              = "FLUIDSTORE_HTTP_ADDR"
	envGRPCAddr              = "FLUIDSTORE_GRPC_ADDR"
	envMetricsAddr           = "FLUIDSTORE_METRICS_ADDR"
	envStorageDriver         = "FLUIDSTORE_STORAGE_DRIVER"
	envPostgresDSN           = "FLUIDSTORE_POSTGRES_DSN"
	envPostgresAutoMigrate   = "FLUIDSTORE_POSTGRES_AUTO_MIGRATE"
	envSeedCatalog           = "FLUIDSTORE_SEED_CATALOG"
	envCartDriver            = "FLUIDSTORE_CART_DRIVER"
	envRedisAddr             = "FLUIDSTORE_REDIS_ADDR"
	envCartTTL               = "FLUIDSTORE_CART_TTL"
	envKafkaBrokers          = "KAFKA_BROKERS"
	envFreeShippingThreshold = "FLUIDSTORE_FREE_SHIPPING_THRESHOLD"
	envShippingFee           = "FLUIDSTORE_SHIPPING_FEE"
	envTaxRate               = "FLUIDSTORE_TAX_RATE"
	envSubmitTimeout         = "FLUIDSTORE_SUBMIT_TIMEOUT"
	envStatsRefreshDelay     = "FLUIDSTORE_STATS_REFRESH_DELAY"
	envRequestTimeout        = "FLUIDSTORE_REQUEST_TIMEOUT"
	envCheckoutIdleTTL       = "FLUIDSTORE_CHECKOUT_IDLE_TTL"
	envCleanupInterval       = "FLUIDSTORE_CLEANUP_INTERVAL"
	envAdminUsername         = "FLUIDSTORE_ADMIN_USERNAME"
	envAdminPasswordHash     = "FLUIDSTORE_ADMIN_PASSWORD_HASH"
	envSessionTTL            = "FLUIDSTORE_SESSION_TTL"
	envOutboxPollInterval    = "FLUIDSTORE_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize       = "FLUIDSTORE_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts     = "FLUIDSTORE_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay      = "FLUIDSTORE_OUTBOX_RETRY_DELAY"
	envOTLPEndpoint          = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envEnvironment           = "FLUIDSTORE_ENV"
)

type envLookup func(string) (string, bool)

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректное значение не прерывает запуск: остаётся значение по умолчанию,
// а в warnings добавляется описание проблемы.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("invalid %s=%q, using default: %v", key, raw, err))
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	lower := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.ToLower(strings.TrimSpace(v))
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	positiveInt := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0")
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	amount := func(key string, dst *decimal.Decimal, valid func(decimal.Decimal) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDecimal(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	positive := func(d time.Duration) bool { return d > 0 }
	nonNegative := func(d time.Duration) bool { return d >= 0 }
	nonNegativeAmount := func(d decimal.Decimal) bool { return !d.IsNegative() }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	lower(envStorageDriver, &cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	boolean(envSeedCatalog, &cfg.SeedCatalog)
	lower(envCartDriver, &cfg.CartDriver)
	str(envRedisAddr, &cfg.RedisAddr)
	duration(envCartTTL, &cfg.CartTTL, positive, "must be > 0")
	str(envKafkaBrokers, &cfg.KafkaBrokers)

	amount(envFreeShippingThreshold, &cfg.Pricing.FreeShippingThreshold, nonNegativeAmount, "must be >= 0")
	amount(envShippingFee, &cfg.Pricing.ShippingFee, nonNegativeAmount, "must be >= 0")
	amount(envTaxRate, &cfg.Pricing.TaxRate, func(d decimal.Decimal) bool {
		return !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(1))
	}, "must be within [0, 1]")

	duration(envSubmitTimeout, &cfg.SubmitTimeout, positive, "must be > 0")
	duration(envStatsRefreshDelay, &cfg.StatsRefreshDelay, nonNegative, "must be >= 0")
	duration(envRequestTimeout, &cfg.RequestTimeout, positive, "must be > 0")
	duration(envCheckoutIdleTTL, &cfg.CheckoutIdleTTL, positive, "must be > 0")
	duration(envCleanupInterval, &cfg.CleanupInterval, positive, "must be > 0")

	str(envAdminUsername, &cfg.AdminUsername)
	str(envAdminPasswordHash, &cfg.AdminPasswordHash)
	duration(envSessionTTL, &cfg.SessionTTL, positive, "must be > 0")

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positive, "must be > 0")
	positiveInt(envOutboxBatchSize, &cfg.OutboxBatchSize)
	positiveInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegative, "must be >= 0")

	str(envOTLPEndpoint, &cfg.OTLPEndpoint)
	str(envEnvironment, &cfg.Environment)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean")
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(v) {
		return 0, fmt.Errorf("%s", rule)
	}
	return v, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(v) {
		return 0, fmt.Errorf("%s", rule)
	}
	return v, nil
}

func parseDecimal(raw string, valid func(decimal.Decimal) bool, rule string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, err
	}
	if !valid(v) {
		return decimal.Zero, fmt.Errorf("%s", rule)
	}
	return v, nil
}
