// Package app собирает витрину из компонентов согласно Config и управляет их жизненным циклом.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/fluidstore/internal/auth"
	"github.com/vladislavdragonenkov/fluidstore/internal/backoffice"
	"github.com/vladislavdragonenkov/fluidstore/internal/cart"
	"github.com/vladislavdragonenkov/fluidstore/internal/catalog"
	"github.com/vladislavdragonenkov/fluidstore/internal/checkout"
	"github.com/vladislavdragonenkov/fluidstore/internal/gateway"
	healthcheck "github.com/vladislavdragonenkov/fluidstore/internal/health"
	"github.com/vladislavdragonenkov/fluidstore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fluidstore/internal/metrics"
	"github.com/vladislavdragonenkov/fluidstore/internal/pricing"
	"github.com/vladislavdragonenkov/fluidstore/internal/service/cleanup"
	"github.com/vladislavdragonenkov/fluidstore/internal/service/httpapi"
	"github.com/vladislavdragonenkov/fluidstore/internal/service/outbox"
	"github.com/vladislavdragonenkov/fluidstore/internal/telemetry"
	"github.com/vladislavdragonenkov/fluidstore/internal/version"
)

const shutdownTimeout = 5 * time.Second

func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return err
	}

	tel, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    "fluidstore",
		ServiceVersion: version.GetVersion(),
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("telemetry shutdown with error")
		}
	}()

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	// Все модули регистрируют метрики в глобальном реестре, который отдаёт /metrics.
	registerer := prometheus.DefaultRegisterer
	checkoutMetrics := metrics.NewCheckoutMetricsWithRegisterer(registerer)
	cartMetrics := metrics.NewCartMetricsWithRegisterer(registerer)

	orders := gateway.NewObservable(deps.gateway, metrics.NewGatewayMetricsWithRegisterer(registerer))

	calc, err := pricing.NewCalculator(cfg.Pricing)
	if err != nil {
		return err
	}

	dashboard := backoffice.NewDashboard(orders, deps.historyRepo,
		backoffice.WithLogger(logger.WithField("layer", "backoffice")),
		backoffice.WithMetrics(checkoutMetrics),
		backoffice.WithRefreshDelay(cfg.StatsRefreshDelay),
	)
	defer dashboard.Close()

	authenticator, err := auth.NewAuthenticator(cfg.AdminUsername, cfg.AdminPasswordHash, deps.sessions,
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithLogger(logger.WithField("layer", "auth")),
	)
	switch {
	case errors.Is(err, auth.ErrNotConfigured):
		logger.Warn("admin credentials are not configured, backoffice API is disabled")
		authenticator = nil
	case err != nil:
		return err
	}

	cartOptions := []cart.Option{
		cart.WithLogger(logger.WithField("layer", "cart")),
		cart.WithMetrics(cartMetrics),
	}
	checkoutLogger := logger.WithField("layer", "checkout")
	registry := checkout.NewRegistry(newMachineFactory(deps.cartStorage, cartOptions, calc, orders, cfg, checkoutMetrics, checkoutLogger), cfg.CheckoutIdleTTL)

	cleanupOptions := []cleanup.Option{
		cleanup.WithLogger(logger.WithField("layer", "cleanup")),
		cleanup.WithMetrics(metrics.NewCleanupMetricsWithRegisterer(registerer)),
		cleanup.WithInterval(cfg.CleanupInterval),
		cleanup.WithTarget("checkout", registry),
	}
	// Redis истекает сессии сам, чистим только in-memory хранилище.
	if sessions, ok := deps.sessions.(cleanup.Target); ok {
		cleanupOptions = append(cleanupOptions, cleanup.WithTarget("sessions", sessions))
	}
	go cleanup.NewWorker(cleanupOptions...).Run(ctx)

	broker := connectKafka(cfg, logger)
	defer func() {
		if err := broker.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka clients")
		}
	}()

	if broker.publishing() {
		worker := outbox.NewWorker(deps.outboxRepo, kafka.NewOutboxPublisher(broker.producer, kafka.TopicOrderEvents),
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithMetrics(metrics.NewOutboxMetricsWithRegisterer(registerer)),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(broker.producer, kafka.TopicDeadLetterQueue)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		go worker.Run(ctx)
	} else {
		logger.Info("kafka не настроен, outbox копится без публикации")
	}
	broker.subscribe(ctx, cfg, dashboard)

	api := httpapi.NewServer(httpapi.Deps{
		Catalog:        catalog.NewService(deps.catalog, logger.WithField("layer", "catalog")),
		CartStorage:    deps.cartStorage,
		CartOptions:    cartOptions,
		Pricing:        calc,
		Checkout:       registry,
		Dashboard:      dashboard,
		Auth:           authenticator,
		Logger:         logger.WithField("layer", "http"),
		RequestTimeout: cfg.RequestTimeout,
	})

	healthHandler := healthcheck.NewHandler(version.Current())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	grpcServer, healthServer := newGRPCServer(logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = lis.Close()
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		shutdownHTTP(apiSrv, logger)
		stopGRPC(grpcServer, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(apiSrv, logger)
		stopGRPC(grpcServer, logger)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// newGRPCServer создаёт gRPC-сервер со службой health и метриками Prometheus.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *grpchealth.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	healthServer := grpchealth.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	// reflection нужен grpcurl и утилитам проверки здоровья
	reflection.Register(grpcServer)
	return grpcServer, healthServer
}

func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stoppedCh := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus и health endpoints.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
