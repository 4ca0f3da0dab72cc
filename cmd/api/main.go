package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"example.com/trainingload/internal/api"
	"example.com/trainingload/internal/auth"
	"example.com/trainingload/internal/config"
	"example.com/trainingload/internal/domain"
	"example.com/trainingload/internal/logging"
	"example.com/trainingload/internal/outbox"
	persistence "example.com/trainingload/internal/persistence/postgres"
	httptransport "example.com/trainingload/internal/transport/http"
)

func main() {
	cfg := config.Load()

	flush := logging.Setup(logging.SetupParams{
		Level:       cfg.LogLevel,
		FormatJSON:  cfg.LogFormatJSON,
		Environment: cfg.Environment,
		SentryDSN:   cfg.SentryDSN,
		ServerName:  "training-load-api",
	})
	defer flush()
	logger := logrus.WithField("component", "api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)
	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, logger)

	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
		outbox.WithLogger(logrus.WithField("component", "outbox-dispatcher")),
		outbox.WithRetry(cfg.OutboxMaxAttempts, cfg.OutboxRetryDelay),
	)
	go dispatcher.Start(ctx)

	service := domain.NewService(repo,
		domain.WithLogger(logrus.WithField("component", "backfill")),
		domain.WithInsightRequester(persistence.NewInsightOutbox(pool)),
		domain.WithInsightWindow(cfg.InsightWindowDays),
	)

	handler := api.NewHandler(service, logger, api.WithMaxRangeDays(cfg.MaxRangeDays))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}, httptransport.Chain(authMiddleware.Wrap(mux),
		httptransport.RequestLogger(logger),
		httptransport.CORS(cfg.CORSAllowedOrigins...),
	))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.WithField("address", cfg.HTTPAddress).Info("training-load api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	<-shutdownCh
	logger.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	shutdownErr := server.Shutdown(shutdownCtx)

	cancel()
	dispatcher.Wait()
	if err := errors.Join(shutdownErr, producer.Close()); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
	}
}
