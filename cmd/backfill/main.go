// Command backfill recomputes an athlete's daily training-load metrics over a date range.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"example.com/trainingload/internal/config"
	"example.com/trainingload/internal/domain"
	"example.com/trainingload/internal/logging"
	persistence "example.com/trainingload/internal/persistence/postgres"
)

func main() {
	var (
		athleteID = flag.String("athlete", "", "athlete id to recompute")
		fromFlag  = flag.String("from", "", "first day to recompute (YYYY-MM-DD)")
		toFlag    = flag.String("to", "", "last day to recompute (YYYY-MM-DD), defaults to today")
		noInsight = flag.Bool("no-insight", false, "skip the insight request after the walk")
	)
	flag.Parse()

	cfg := config.Load()
	flush := logging.Setup(logging.SetupParams{
		Level:       cfg.LogLevel,
		FormatJSON:  cfg.LogFormatJSON,
		Environment: cfg.Environment,
		SentryDSN:   cfg.SentryDSN,
		ServerName:  "training-load-backfill",
		Output:      os.Stderr,
	})
	defer flush()
	logger := logrus.WithField("component", "backfill-cli")

	if *athleteID == "" || *fromFlag == "" {
		flag.Usage()
		os.Exit(2)
	}
	from, err := domain.ParseDay(*fromFlag)
	if err != nil {
		logger.WithError(err).Fatal("invalid -from")
	}
	to := domain.Day(time.Now())
	if *toFlag != "" {
		if to, err = domain.ParseDay(*toFlag); err != nil {
			logger.WithError(err).Fatal("invalid -to")
		}
	}
	if from.After(to) {
		logger.Warn("-from is after -to, nothing to do")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pool.Close()

	days := int64(to.Sub(from).Hours()/24) + 1
	bar := progressbar.NewOptions64(days,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(*athleteID),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	opts := []domain.Option{
		domain.WithLogger(logger),
		domain.WithInsightWindow(cfg.InsightWindowDays),
		domain.WithProgress(func(time.Time) { _ = bar.Add(1) }),
	}
	if !*noInsight {
		opts = append(opts, domain.WithInsightRequester(persistence.NewInsightOutbox(pool)))
	}
	service := domain.NewService(persistence.NewRepository(pool), opts...)

	result, err := service.BackfillRange(ctx, *athleteID, from, to)
	_ = bar.Finish()
	if err != nil {
		logger.WithError(err).WithField("days_written", result.DaysWritten).Fatal("backfill failed")
	}

	entry := logger.WithFields(logrus.Fields{
		"athlete_id":   result.AthleteID,
		"from":         domain.DateKey(result.From),
		"to":           domain.DateKey(result.To),
		"days_written": result.DaysWritten,
	})
	if result.Final != nil {
		entry = entry.WithFields(logrus.Fields{
			"ctl": result.Final.CTL,
			"atl": result.Final.ATL,
			"tsb": result.Final.TSB,
		})
	}
	entry.Info("backfill finished")
}
