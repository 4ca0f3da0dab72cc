// Package logging configures the process-wide logrus logger and its Sentry hook.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// SetupParams captures the logging settings read from config.
type SetupParams struct {
	Level       string
	FormatJSON  bool
	Environment string
	SentryDSN   string
	ServerName  string
	Output      io.Writer
}

// Setup configures the standard logrus logger. When a Sentry DSN is given, error and
// above are forwarded to Sentry. The returned func flushes pending Sentry events.
func Setup(params SetupParams) func() {
	if params.FormatJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if params.Output != nil {
		logrus.SetOutput(params.Output)
	} else {
		logrus.SetOutput(os.Stdout)
	}
	logrus.SetLevel(GetLevel(params.Level))

	flush := func() {}
	if params.SentryDSN == "" {
		return flush
	}

	hook, err := newSentryHook(params)
	if err != nil {
		logrus.WithError(err).Error("sentry init failed, error tracking disabled")
		return flush
	}
	logrus.AddHook(hook)
	logrus.Info("sentry error tracking enabled")

	return func() { hook.Flush(2 * time.Second) }
}

// GetLevel parses a level name, defaulting to info.
func GetLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}
