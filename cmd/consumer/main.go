package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"example.com/trainingload/internal/config"
	"example.com/trainingload/internal/consumer"
	"example.com/trainingload/internal/domain"
	"example.com/trainingload/internal/logging"
	persistence "example.com/trainingload/internal/persistence/postgres"
)

func main() {
	cfg := config.Load()

	flush := logging.Setup(logging.SetupParams{
		Level:       cfg.LogLevel,
		FormatJSON:  cfg.LogFormatJSON,
		Environment: cfg.Environment,
		SentryDSN:   cfg.SentryDSN,
		ServerName:  "training-load-consumer",
	})
	defer flush()
	logger := logrus.WithField("component", "consumer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pool.Close()

	service := domain.NewService(persistence.NewRepository(pool),
		domain.WithLogger(logrus.WithField("component", "backfill")),
		domain.WithInsightRequester(persistence.NewInsightOutbox(pool)),
		domain.WithInsightWindow(cfg.InsightWindowDays),
	)
	handler := consumer.NewIngestHandler(service, logger)

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.WithField("address", cfg.MetricsAddress).Info("consumer metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server error")
		}
	}()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		runErrs []error
	)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for _, topic := range cfg.ConsumerTopics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ConsumerGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})
		topicLogger := logger.WithFields(logrus.Fields{"topic": topic, "group": cfg.ConsumerGroupID})
		proc := consumer.NewProcessor(reader, handler, consumer.WithLogger(topicLogger))

		wg.Add(1)
		go func(r *kafka.Reader) {
			defer wg.Done()
			defer r.Close()

			topicLogger.Info("consumer started")
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				topicLogger.WithError(err).Error("consumer stopped with error")
				mu.Lock()
				runErrs = append(runErrs, err)
				mu.Unlock()
			}
		}(reader)
	}

	<-stop
	logger.Info("consumer shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	shutdownErr := metricsSrv.Shutdown(shutdownCtx)

	wg.Wait()
	runErrs = append(runErrs, shutdownErr)
	if err := errors.Join(runErrs...); err != nil {
		logger.WithError(err).Warn("consumer shut down with errors")
	}
}
