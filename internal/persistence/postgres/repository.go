// Package postgres persists activities, daily metrics and outbox events in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/trainingload/internal/domain"
	"example.com/trainingload/internal/observability"
)

// Repository provides Postgres-backed persistence for the training-load engine.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const dailyMetricColumns = `athlete_id, metric_date, ctl, atl, tsb, acwr,
        zone1_samples, zone2_samples, zone3_samples, zone4_samples, zone5_samples,
        total_distance, total_duration, average_pace, average_hr, max_hr`

const activityColumns = `activity_id, athlete_id, activity_type, start_time, duration_seconds, distance_meters,
        average_power, normalized_power, average_hr, max_hr, tss, trimp, samples, source, created_at`

// DailyMetric returns the stored metric for one day, or nil.
func (r *Repository) DailyMetric(ctx context.Context, athleteID string, day time.Time) (*domain.DailyMetric, error) {
	query := `SELECT ` + dailyMetricColumns + ` FROM daily_metrics WHERE athlete_id=$1 AND metric_date=$2`
	metric, err := scanDailyMetric(r.pool.QueryRow(ctx, query, athleteID, domain.Day(day)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &metric, nil
}

// UpsertDailyMetric inserts or fully replaces the row keyed by (athlete_id, metric_date).
func (r *Repository) UpsertDailyMetric(ctx context.Context, m domain.DailyMetric) error {
	const stmt = `INSERT INTO daily_metrics (athlete_id, metric_date, ctl, atl, tsb, acwr,
        zone1_samples, zone2_samples, zone3_samples, zone4_samples, zone5_samples,
        total_distance, total_duration, average_pace, average_hr, max_hr, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW())
        ON CONFLICT (athlete_id, metric_date) DO UPDATE SET
            ctl=EXCLUDED.ctl, atl=EXCLUDED.atl, tsb=EXCLUDED.tsb, acwr=EXCLUDED.acwr,
            zone1_samples=EXCLUDED.zone1_samples, zone2_samples=EXCLUDED.zone2_samples,
            zone3_samples=EXCLUDED.zone3_samples, zone4_samples=EXCLUDED.zone4_samples,
            zone5_samples=EXCLUDED.zone5_samples,
            total_distance=EXCLUDED.total_distance, total_duration=EXCLUDED.total_duration,
            average_pace=EXCLUDED.average_pace, average_hr=EXCLUDED.average_hr, max_hr=EXCLUDED.max_hr,
            updated_at=NOW()`

	_, err := r.pool.Exec(ctx, stmt,
		m.AthleteID,
		domain.Day(m.Date),
		m.CTL,
		m.ATL,
		m.TSB,
		m.ACWR,
		m.Zones[0],
		m.Zones[1],
		m.Zones[2],
		m.Zones[3],
		m.Zones[4],
		m.TotalDistance,
		m.TotalDuration,
		m.AveragePace,
		m.AverageHR,
		m.MaxHR,
	)
	return err
}

// LatestDailyMetric returns the most recent metric row for an athlete, or nil.
func (r *Repository) LatestDailyMetric(ctx context.Context, athleteID string) (*domain.DailyMetric, error) {
	query := `SELECT ` + dailyMetricColumns + ` FROM daily_metrics WHERE athlete_id=$1 ORDER BY metric_date DESC LIMIT 1`
	metric, err := scanDailyMetric(r.pool.QueryRow(ctx, query, athleteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &metric, nil
}

// ListDailyMetrics returns metrics for the inclusive day range ordered by date.
func (r *Repository) ListDailyMetrics(ctx context.Context, athleteID string, from, to time.Time) ([]domain.DailyMetric, error) {
	query := `SELECT ` + dailyMetricColumns + ` FROM daily_metrics
        WHERE athlete_id=$1 AND metric_date BETWEEN $2 AND $3
        ORDER BY metric_date`

	rows, err := r.pool.Query(ctx, query, athleteID, domain.Day(from), domain.Day(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.DailyMetric, 0)
	for rows.Next() {
		metric, err := scanDailyMetric(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, metric)
	}
	return results, rows.Err()
}

// ActivitiesSince returns an athlete's activities starting at or after since.
func (r *Repository) ActivitiesSince(ctx context.Context, athleteID string, since time.Time) ([]domain.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities
        WHERE athlete_id=$1 AND start_time >= $2
        ORDER BY start_time, activity_id`

	rows, err := r.pool.Query(ctx, query, athleteID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0)
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, activity)
	}
	return results, rows.Err()
}

// FindByIdempotency checks if an activity already exists for the supplied idempotency key.
func (r *Repository) FindByIdempotency(ctx context.Context, athleteID, idempotencyKey string) (*domain.Activity, error) {
	if idempotencyKey == "" {
		return nil, nil
	}

	query := `SELECT ` + activityColumns + ` FROM activities WHERE athlete_id=$1 AND idempotency_key=$2`
	activity, err := scanActivity(r.pool.QueryRow(ctx, query, athleteID, idempotencyKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &activity, nil
}

// CreateActivity stores a scored activity.
func (r *Repository) CreateActivity(ctx context.Context, a domain.Activity, idempotencyKey string) error {
	const stmt = `INSERT INTO activities (activity_id, athlete_id, activity_type, start_time, duration_seconds, distance_meters,
        average_power, normalized_power, average_hr, max_hr, tss, trimp, samples, source, idempotency_key, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	_, err := r.pool.Exec(ctx, stmt,
		a.ID,
		a.AthleteID,
		a.ActivityType,
		a.StartTime.UTC(),
		a.Duration,
		a.Distance,
		a.AveragePower,
		a.NormalizedPower,
		a.AverageHR,
		a.MaxHR,
		a.TSS,
		a.TRIMP,
		nullIfEmptyJSON(a.Samples),
		a.Source,
		nullIfEmpty(idempotencyKey),
		a.CreatedAt,
	)
	if err != nil {
		return err
	}
	observability.RecordActivityPersisted(a.Source)
	return nil
}

// AthleteProfile returns the athlete's physiological settings. Unknown athletes get an
// empty profile so scoring falls back to defaults.
func (r *Repository) AthleteProfile(ctx context.Context, athleteID string) (domain.AthleteProfile, error) {
	const query = `SELECT COALESCE(max_hr, 0), COALESCE(resting_hr, 0), COALESCE(ftp, 0), COALESCE(gender, '')
        FROM athletes WHERE athlete_id=$1`

	profile := domain.AthleteProfile{AthleteID: athleteID}
	err := r.pool.QueryRow(ctx, query, athleteID).Scan(&profile.MaxHR, &profile.RestingHR, &profile.FTP, &profile.Gender)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return domain.AthleteProfile{}, err
	}
	return profile, nil
}

// LockAthlete takes a session-level advisory lock keyed by the athlete ID. The returned
// func releases the lock and the connection that holds it.
func (r *Repository) LockAthlete(ctx context.Context, athleteID string) (func(), error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, athleteID); err != nil {
		conn.Release()
		return nil, err
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtext($1))`, athleteID); err != nil {
			// Closing the session drops any advisory locks it still holds.
			_ = conn.Conn().Close(unlockCtx)
		}
		conn.Release()
	}, nil
}

func scanDailyMetric(row pgx.Row) (domain.DailyMetric, error) {
	var m domain.DailyMetric
	err := row.Scan(
		&m.AthleteID,
		&m.Date,
		&m.CTL,
		&m.ATL,
		&m.TSB,
		&m.ACWR,
		&m.Zones[0],
		&m.Zones[1],
		&m.Zones[2],
		&m.Zones[3],
		&m.Zones[4],
		&m.TotalDistance,
		&m.TotalDuration,
		&m.AveragePace,
		&m.AverageHR,
		&m.MaxHR,
	)
	m.Date = domain.Day(m.Date)
	return m, err
}

func scanActivity(row pgx.Row) (domain.Activity, error) {
	var (
		a       domain.Activity
		samples []byte
	)
	err := row.Scan(
		&a.ID,
		&a.AthleteID,
		&a.ActivityType,
		&a.StartTime,
		&a.Duration,
		&a.Distance,
		&a.AveragePower,
		&a.NormalizedPower,
		&a.AverageHR,
		&a.MaxHR,
		&a.TSS,
		&a.TRIMP,
		&samples,
		&a.Source,
		&a.CreatedAt,
	)
	if len(samples) > 0 {
		a.Samples = json.RawMessage(samples)
	}
	a.StartTime = a.StartTime.UTC()
	return a, err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullIfEmptyJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}
