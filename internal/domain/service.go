// Package domain defines the training-load engine: daily aggregation and the backfill walk
// that keeps each athlete's daily metric series consistent with their activities.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"example.com/trainingload/internal/load"
	"example.com/trainingload/internal/observability"
)

var (
	// ErrAthleteRequired is returned when an operation is called without an athlete ID.
	ErrAthleteRequired = errors.New("athlete id is required")
	// ErrInvalidDate is returned for unparseable dates or inverted ranges.
	ErrInvalidDate = errors.New("invalid date")
	// ErrInvalidActivity wraps activity validation failures.
	ErrInvalidActivity = errors.New("invalid activity")
	// ErrMetricsNotFound is returned when an athlete has no daily metrics yet.
	ErrMetricsNotFound = errors.New("daily metrics not found")
)

// MetricRepository reads and writes daily metric rows.
type MetricRepository interface {
	// DailyMetric returns the row for the given day, or nil when absent.
	DailyMetric(ctx context.Context, athleteID string, day time.Time) (*DailyMetric, error)
	// UpsertDailyMetric creates or fully replaces the row keyed by (athlete, date).
	UpsertDailyMetric(ctx context.Context, metric DailyMetric) error
	LatestDailyMetric(ctx context.Context, athleteID string) (*DailyMetric, error)
	ListDailyMetrics(ctx context.Context, athleteID string, from, to time.Time) ([]DailyMetric, error)
}

// ActivityRepository reads and writes activities.
type ActivityRepository interface {
	// ActivitiesSince returns activities starting at or after since, ordered by start time.
	ActivitiesSince(ctx context.Context, athleteID string, since time.Time) ([]Activity, error)
	FindByIdempotency(ctx context.Context, athleteID, idempotencyKey string) (*Activity, error)
	CreateActivity(ctx context.Context, activity Activity, idempotencyKey string) error
}

// ProfileRepository reads athlete profiles. Unknown athletes get a zero profile.
type ProfileRepository interface {
	AthleteProfile(ctx context.Context, athleteID string) (AthleteProfile, error)
}

// Repository captures every persistence operation the engine needs.
type Repository interface {
	MetricRepository
	ActivityRepository
	ProfileRepository
}

// AthleteLocker is implemented by repositories that can serialize backfills per athlete.
type AthleteLocker interface {
	LockAthlete(ctx context.Context, athleteID string) (unlock func(), err error)
}

// InsightRequester hands the latest state to the coaching insight generator.
type InsightRequester interface {
	RequestInsight(ctx context.Context, athleteID string, latest DailyMetric, recent []Activity) error
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithClock overrides the clock that bounds backfill walks.
func WithClock(clock Clock) Option {
	return func(s *Service) { s.now = clock }
}

// WithLogger overrides the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithInsightRequester enables the post-backfill insight hand-off.
func WithInsightRequester(requester InsightRequester) Option {
	return func(s *Service) { s.insights = requester }
}

// WithInsightWindow sets how many days of recent activities accompany an insight request.
func WithInsightWindow(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.insightWindowDays = days
		}
	}
}

// WithProgress registers a callback invoked after each day is written.
func WithProgress(fn func(day time.Time)) Option {
	return func(s *Service) { s.progress = fn }
}

const defaultInsightWindowDays = 14

// Service orchestrates ingestion, backfill and metric queries.
type Service struct {
	repo              Repository
	insights          InsightRequester
	now               Clock
	logger            logrus.FieldLogger
	insightWindowDays int
	progress          func(day time.Time)
}

// NewService constructs a Service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:              repo,
		now:               SystemClock,
		logger:            logrus.StandardLogger().WithField("component", "training-load"),
		insightWindowDays: defaultInsightWindowDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BackfillResult summarises one backfill run.
type BackfillResult struct {
	AthleteID   string
	From        time.Time
	To          time.Time
	DaysWritten int
	Final       *DailyMetric
}

// Backfill recomputes an athlete's daily metrics from startDate through today.
func (s *Service) Backfill(ctx context.Context, athleteID string, startDate time.Time) (BackfillResult, error) {
	return s.BackfillRange(ctx, athleteID, startDate, s.now())
}

// BackfillRange recomputes daily metrics for every calendar day in [from, to], seeded from
// the stored metric of the day before from. Days are processed strictly in order since each
// day's loads depend on the previous day's. A failure stops the walk; days already written
// stay written.
func (s *Service) BackfillRange(ctx context.Context, athleteID string, from, to time.Time) (result BackfillResult, err error) {
	if strings.TrimSpace(athleteID) == "" {
		return BackfillResult{}, ErrAthleteRequired
	}
	from, to = Day(from), Day(to)
	result = BackfillResult{AthleteID: athleteID, From: from, To: to}
	if from.After(to) {
		return result, nil
	}

	if locker, ok := s.repo.(AthleteLocker); ok {
		unlock, lockErr := locker.LockAthlete(ctx, athleteID)
		if lockErr != nil {
			return result, fmt.Errorf("lock athlete %s: %w", athleteID, lockErr)
		}
		defer unlock()
	}

	started := time.Now()
	defer func() { observability.RecordBackfill(started, result.DaysWritten, err) }()

	logger := s.logger.WithFields(logrus.Fields{
		"athlete_id": athleteID,
		"from":       DateKey(from),
		"to":         DateKey(to),
	})

	var ctl, atl float64
	seed, err := s.repo.DailyMetric(ctx, athleteID, from.AddDate(0, 0, -1))
	if err != nil {
		return result, fmt.Errorf("fetch previous daily metric: %w", err)
	}
	if seed != nil {
		ctl, atl = seed.CTL, seed.ATL
	}

	profile, err := s.repo.AthleteProfile(ctx, athleteID)
	if err != nil {
		return result, fmt.Errorf("fetch athlete profile: %w", err)
	}
	profile = profile.WithDefaults()

	activities, err := s.repo.ActivitiesSince(ctx, athleteID, from)
	if err != nil {
		return result, fmt.Errorf("fetch activities: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"seed_ctl":   ctl,
		"seed_atl":   atl,
		"activities": len(activities),
		"max_hr":     profile.MaxHR,
	}).Debug("backfill starting")

	days := AggregateDaily(activities, logger)

	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if err = ctx.Err(); err != nil {
			return result, err
		}

		var agg DailyAggregate
		if found, ok := days[DateKey(day)]; ok {
			agg = *found
		}

		ctl = load.NextCTL(ctl, agg.Load)
		atl = load.NextATL(atl, agg.Load)

		metric := DailyMetric{
			AthleteID:     athleteID,
			Date:          day,
			CTL:           ctl,
			ATL:           atl,
			TSB:           load.TSB(ctl, atl),
			ACWR:          load.ACWREWMA(atl, ctl),
			Zones:         agg.ZoneTime,
			TotalDistance: agg.Distance,
			TotalDuration: agg.Duration,
			AveragePace:   agg.AveragePace(),
			AverageHR:     agg.AverageHR(),
			MaxHR:         agg.MaxHeartRate(),
		}
		if err = s.repo.UpsertDailyMetric(ctx, metric); err != nil {
			return result, fmt.Errorf("upsert daily metric %s: %w", DateKey(day), err)
		}
		result.DaysWritten++
		result.Final = &metric

		if s.progress != nil {
			s.progress(day)
		}
	}

	logger.WithField("days", result.DaysWritten).Info("backfill completed")
	s.requestInsight(ctx, athleteID)
	return result, nil
}

// requestInsight is best effort: failures are logged and never returned.
func (s *Service) requestInsight(ctx context.Context, athleteID string) {
	if s.insights == nil {
		return
	}
	logger := s.logger.WithField("athlete_id", athleteID)

	latest, err := s.repo.LatestDailyMetric(ctx, athleteID)
	if err != nil {
		observability.RecordInsightFailure()
		logger.WithError(err).Error("insight request: fetch latest daily metric")
		return
	}
	if latest == nil {
		return
	}

	since := Day(s.now()).AddDate(0, 0, -s.insightWindowDays)
	recent, err := s.repo.ActivitiesSince(ctx, athleteID, since)
	if err != nil {
		observability.RecordInsightFailure()
		logger.WithError(err).Error("insight request: fetch recent activities")
		return
	}

	if err := s.insights.RequestInsight(ctx, athleteID, *latest, recent); err != nil {
		observability.RecordInsightFailure()
		logger.WithError(err).Error("insight request failed")
	}
}

// IngestActivityInput captures an activity submitted for storage.
type IngestActivityInput struct {
	Activity       Activity
	IdempotencyKey string
}

// IngestResult describes the stored activity and the recompute it triggered.
type IngestResult struct {
	Activity Activity
	Replay   bool
	Backfill BackfillResult
}

// IngestActivity scores and stores an activity, then recomputes daily metrics from its day.
// A repeated idempotency key replays the stored activity; the recompute still runs so a
// retried request can finish a walk that failed earlier.
func (s *Service) IngestActivity(ctx context.Context, input IngestActivityInput) (*IngestResult, error) {
	activity := input.Activity
	if err := validateActivity(activity); err != nil {
		return nil, err
	}

	var (
		stored *Activity
		replay bool
	)
	if input.IdempotencyKey != "" {
		existing, err := s.repo.FindByIdempotency(ctx, activity.AthleteID, input.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("find activity by idempotency key: %w", err)
		}
		if existing != nil {
			stored, replay = existing, true
		}
	}

	if stored == nil {
		profile, err := s.repo.AthleteProfile(ctx, activity.AthleteID)
		if err != nil {
			return nil, fmt.Errorf("fetch athlete profile: %w", err)
		}
		activity = ScoreActivity(activity, profile.WithDefaults())
		if activity.ID == "" {
			activity.ID = uuid.NewString()
		}
		activity.StartTime = activity.StartTime.UTC()
		activity.CreatedAt = s.now()

		if err := s.repo.CreateActivity(ctx, activity, input.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("create activity: %w", err)
		}
		stored = &activity
	}

	backfill, err := s.Backfill(ctx, stored.AthleteID, Day(stored.StartTime))
	if err != nil {
		return nil, fmt.Errorf("recompute training load: %w", err)
	}
	return &IngestResult{Activity: *stored, Replay: replay, Backfill: backfill}, nil
}

func validateActivity(a Activity) error {
	switch {
	case strings.TrimSpace(a.AthleteID) == "":
		return ErrAthleteRequired
	case a.StartTime.IsZero():
		return fmt.Errorf("%w: start_time is required", ErrInvalidActivity)
	case a.Duration <= 0:
		return fmt.Errorf("%w: duration must be > 0", ErrInvalidActivity)
	case a.Distance != nil && *a.Distance < 0:
		return fmt.Errorf("%w: distance must be >= 0", ErrInvalidActivity)
	}
	return nil
}

// DailyMetrics lists stored metrics for the inclusive day range.
func (s *Service) DailyMetrics(ctx context.Context, athleteID string, from, to time.Time) ([]DailyMetric, error) {
	if strings.TrimSpace(athleteID) == "" {
		return nil, ErrAthleteRequired
	}
	from, to = Day(from), Day(to)
	if from.After(to) {
		return nil, fmt.Errorf("%w: from %s is after to %s", ErrInvalidDate, DateKey(from), DateKey(to))
	}
	return s.repo.ListDailyMetrics(ctx, athleteID, from, to)
}

// MetricSummary is the latest daily metric with derived labels and rolling-window loads.
type MetricSummary struct {
	Latest         DailyMetric
	Form           string
	ACWRBand       string
	Last7DaysLoad  float64
	Last28DaysLoad float64
	ACWRSimple     float64
}

// Summary returns the athlete's latest metric alongside the rolling-sum workload ratio
// over the 28 days ending today.
func (s *Service) Summary(ctx context.Context, athleteID string) (*MetricSummary, error) {
	if strings.TrimSpace(athleteID) == "" {
		return nil, ErrAthleteRequired
	}
	latest, err := s.repo.LatestDailyMetric(ctx, athleteID)
	if err != nil {
		return nil, fmt.Errorf("fetch latest daily metric: %w", err)
	}
	if latest == nil {
		return nil, ErrMetricsNotFound
	}

	today := Day(s.now())
	windowStart := today.AddDate(0, 0, -27)
	activities, err := s.repo.ActivitiesSince(ctx, athleteID, windowStart)
	if err != nil {
		return nil, fmt.Errorf("fetch activities: %w", err)
	}
	days := AggregateDaily(activities, s.logger.WithField("athlete_id", athleteID))

	summary := &MetricSummary{
		Latest:   *latest,
		Form:     load.FormLabel(latest.TSB),
		ACWRBand: load.ACWRBand(latest.ACWR),
	}
	acuteStart := today.AddDate(0, 0, -6)
	for day := windowStart; !day.After(today); day = day.AddDate(0, 0, 1) {
		agg, ok := days[DateKey(day)]
		if !ok {
			continue
		}
		summary.Last28DaysLoad += agg.Load
		if !day.Before(acuteStart) {
			summary.Last7DaysLoad += agg.Load
		}
	}
	summary.ACWRSimple = load.ACWRSimple(summary.Last7DaysLoad, summary.Last28DaysLoad)
	return summary, nil
}
