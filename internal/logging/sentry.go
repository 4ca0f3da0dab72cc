package logging

import (
	"github.com/getsentry/sentry-go"
	sentrylogrus "github.com/getsentry/sentry-go/logrus"
	"github.com/sirupsen/logrus"
)

var sentryLevels = []logrus.Level{
	logrus.PanicLevel,
	logrus.FatalLevel,
	logrus.ErrorLevel,
}

func sentryOptions(params SetupParams) sentry.ClientOptions {
	return sentry.ClientOptions{
		Dsn:         params.SentryDSN,
		Environment: params.Environment,
		ServerName:  params.ServerName,
		BeforeSend:  beforeSend,
	}
}

// newSentryHook builds the logrus hook forwarding error and above to Sentry.
func newSentryHook(params SetupParams) (*sentrylogrus.Hook, error) {
	return sentrylogrus.New(sentryLevels, sentryOptions(params))
}

// beforeSend strips credentials and promotes athlete_id to a searchable tag.
func beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event.Request != nil && event.Request.Headers != nil {
		delete(event.Request.Headers, "Authorization")
	}
	if athleteID, ok := event.Extra["athlete_id"].(string); ok && athleteID != "" {
		if event.Tags == nil {
			event.Tags = make(map[string]string)
		}
		event.Tags["athlete_id"] = athleteID
	}
	return event
}
