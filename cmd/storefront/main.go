// Команда storefront запускает витрину: HTTP API, gRPC health и служебный сервер метрик.
// Настройки читаются из переменных окружения FLUIDSTORE_*.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fluidstore/internal/app"
	"github.com/vladislavdragonenkov/fluidstore/internal/version"
)

const (
	envLogLevel  = "FLUIDSTORE_LOG_LEVEL"
	envLogFormat = "FLUIDSTORE_LOG_FORMAT"
)

// configureLogger выбирает формат (text или json) и уровень. Нераспознанные значения
// не останавливают запуск: возвращаются предупреждения, логгер остаётся на info/text.
func configureLogger(logger *log.Logger, out io.Writer, lookup envLookup) []string {
	var warnings []string
	logger.SetOutput(out)
	logger.SetLevel(log.InfoLevel)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if raw, ok := lookup(envLogFormat); ok {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "json":
			logger.SetFormatter(&log.JSONFormatter{})
		case "text", "":
		default:
			warnings = append(warnings, fmt.Sprintf("%s=%q is not text|json, using text", envLogFormat, raw))
		}
	}
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		lvl, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v, using info", envLogLevel, err))
		} else {
			logger.SetLevel(lvl)
		}
	}
	return warnings
}

func main() {
	warnings := configureLogger(log.StandardLogger(), os.Stderr, os.LookupEnv)
	cfg, cfgWarnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range append(warnings, cfgWarnings...) {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	build := version.Current()
	log.WithFields(log.Fields{
		"version":        build.Version,
		"commit":         build.Commit,
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"cart_driver":    cfg.CartDriver,
		"kafka":          cfg.KafkaBrokers != "",
	}).Info("запускаем витрину")

	err := app.Run(ctx, cfg)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Info("витрина остановлена")
	case errors.Is(err, app.ErrInvalidConfig):
		log.WithError(err).Error("конфигурация отклонена")
		os.Exit(2)
	default:
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}
}
