package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"example.com/trainingload/internal/domain"
	"example.com/trainingload/internal/events"
)

// ActivityIngester stores an activity and recomputes the athlete's metrics.
type ActivityIngester interface {
	IngestActivity(ctx context.Context, input domain.IngestActivityInput) (*domain.IngestResult, error)
}

// IngestHandler turns activity.ingested events into stored activities and backfills.
type IngestHandler struct {
	service ActivityIngester
	logger  logrus.FieldLogger
}

// NewIngestHandler constructs an IngestHandler.
func NewIngestHandler(service ActivityIngester, logger logrus.FieldLogger) *IngestHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &IngestHandler{service: service, logger: logger}
}

// Handle processes one message. Events of other types are acknowledged and ignored;
// activities that fail validation are dropped so they do not block the partition.
func (h *IngestHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != events.TypeActivityIngested {
		h.logger.WithField("event_type", msg.EventType).Debug("ignoring event")
		return nil
	}

	var evt events.ActivityIngested
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return fmt.Errorf("decode %s: %w", msg.EventType, err)
	}

	activity, err := toActivity(evt)
	if err != nil {
		return fmt.Errorf("map %s: %w", msg.EventType, err)
	}

	key := ""
	if evt.ActivityID != "" {
		key = "event:" + evt.ActivityID
	}
	result, err := h.service.IngestActivity(ctx, domain.IngestActivityInput{Activity: activity, IdempotencyKey: key})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidActivity) || errors.Is(err, domain.ErrAthleteRequired) {
			recordRejected(msg.Topic)
			h.logger.WithError(err).WithField("activity_id", evt.ActivityID).Warn("dropping invalid activity")
			return nil
		}
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"athlete_id":   result.Activity.AthleteID,
		"activity_id":  result.Activity.ID,
		"replay":       result.Replay,
		"days_written": result.Backfill.DaysWritten,
	}).Info("activity ingested")
	return nil
}

func toActivity(evt events.ActivityIngested) (domain.Activity, error) {
	activity := domain.Activity{
		ID:              evt.ActivityID,
		AthleteID:       evt.AthleteID,
		ActivityType:    evt.ActivityType,
		StartTime:       evt.StartTime,
		Duration:        evt.DurationSeconds,
		Distance:        evt.DistanceMeters,
		AveragePower:    evt.AveragePower,
		NormalizedPower: evt.NormalizedPower,
		AverageHR:       evt.AverageHR,
		MaxHR:           evt.MaxHR,
		TSS:             evt.TSS,
		TRIMP:           evt.TRIMP,
		Source:          evt.Source,
	}
	if len(evt.Samples) > 0 {
		raw, err := json.Marshal(evt.Samples)
		if err != nil {
			return domain.Activity{}, err
		}
		activity.Samples = raw
	}
	if activity.Source == "" {
		activity.Source = "kafka"
	}
	return activity, nil
}
