package api

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"example.com/trainingload/internal/domain"
)

// CreateActivityRequest is the payload for POST /v1/activities. AthleteID defaults to the
// token's athlete.
type CreateActivityRequest struct {
	AthleteID       string          `json:"athlete_id"`
	ActivityID      string          `json:"activity_id,omitempty"`
	ActivityType    string          `json:"activity_type"`
	StartTime       time.Time       `json:"start_time"`
	DurationSeconds float64         `json:"duration_seconds"`
	DistanceMeters  *float64        `json:"distance_meters,omitempty"`
	AveragePower    *float64        `json:"average_power,omitempty"`
	NormalizedPower *float64        `json:"normalized_power,omitempty"`
	AverageHR       *float64        `json:"average_hr,omitempty"`
	MaxHR           *float64        `json:"max_hr,omitempty"`
	TSS             *float64        `json:"tss,omitempty"`
	TRIMP           *float64        `json:"trimp,omitempty"`
	Samples         json.RawMessage `json:"samples,omitempty"`
	Source          string          `json:"source"`
}

// Validate ensures request correctness.
func (r CreateActivityRequest) Validate() error {
	if strings.TrimSpace(r.AthleteID) == "" {
		return errors.New("athlete_id is required")
	}
	if r.StartTime.IsZero() {
		return errors.New("start_time is required")
	}
	if r.DurationSeconds <= 0 {
		return errors.New("duration_seconds must be > 0")
	}
	if len(r.Samples) > 0 {
		if _, err := domain.DecodeSamples(r.Samples); err != nil {
			return errors.New("samples must be an array of sample objects")
		}
	}
	return nil
}

func (r CreateActivityRequest) toActivity() domain.Activity {
	source := r.Source
	if strings.TrimSpace(source) == "" {
		source = "api"
	}
	return domain.Activity{
		ID:              r.ActivityID,
		AthleteID:       r.AthleteID,
		ActivityType:    r.ActivityType,
		StartTime:       r.StartTime,
		Duration:        r.DurationSeconds,
		Distance:        r.DistanceMeters,
		AveragePower:    r.AveragePower,
		NormalizedPower: r.NormalizedPower,
		AverageHR:       r.AverageHR,
		MaxHR:           r.MaxHR,
		TSS:             r.TSS,
		TRIMP:           r.TRIMP,
		Samples:         r.Samples,
		Source:          source,
	}
}

// ActivityView is the stored activity as returned to clients.
type ActivityView struct {
	ActivityID      string    `json:"activity_id"`
	AthleteID       string    `json:"athlete_id"`
	ActivityType    string    `json:"activity_type"`
	StartTime       time.Time `json:"start_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	DistanceMeters  *float64  `json:"distance_meters,omitempty"`
	TSS             *float64  `json:"tss,omitempty"`
	TRIMP           *float64  `json:"trimp,omitempty"`
	Source          string    `json:"source"`
	CreatedAt       time.Time `json:"created_at"`
}

// BackfillView summarises a recompute.
type BackfillView struct {
	AthleteID   string           `json:"athlete_id"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	DaysWritten int              `json:"days_written"`
	Final       *DailyMetricView `json:"final,omitempty"`
}

// CreateActivityResponse describes the response body for create.
type CreateActivityResponse struct {
	Activity ActivityView `json:"activity"`
	Replay   bool         `json:"idempotent_replay"`
	Backfill BackfillView `json:"backfill"`
}

// HeartRateZones reports per-zone sample counts.
type HeartRateZones struct {
	Z1 int `json:"z1"`
	Z2 int `json:"z2"`
	Z3 int `json:"z3"`
	Z4 int `json:"z4"`
	Z5 int `json:"z5"`
}

// DailyMetricView exposes one daily metric row.
type DailyMetricView struct {
	Date                 string         `json:"date"`
	CTL                  float64        `json:"ctl"`
	ATL                  float64        `json:"atl"`
	TSB                  float64        `json:"tsb"`
	ACWR                 float64        `json:"acwr"`
	Zones                HeartRateZones `json:"hr_zones"`
	TotalDistanceMeters  float64        `json:"total_distance_meters"`
	TotalDurationSeconds float64        `json:"total_duration_seconds"`
	AveragePace          float64        `json:"average_pace_seconds_per_km"`
	AverageHR            *int           `json:"average_hr,omitempty"`
	MaxHR                *int           `json:"max_hr,omitempty"`
}

// ListMetricsResponse packages a date range of metrics.
type ListMetricsResponse struct {
	AthleteID string            `json:"athlete_id"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	Items     []DailyMetricView `json:"items"`
}

// LatestMetricsResponse is the athlete's current training state.
type LatestMetricsResponse struct {
	Metric         DailyMetricView `json:"metric"`
	Form           string          `json:"form"`
	ACWRBand       string          `json:"acwr_band"`
	Last7DaysLoad  float64         `json:"last_7_days_load"`
	Last28DaysLoad float64         `json:"last_28_days_load"`
	ACWRSimple     float64         `json:"acwr_simple"`
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ActivityID:      a.ID,
		AthleteID:       a.AthleteID,
		ActivityType:    a.ActivityType,
		StartTime:       a.StartTime,
		DurationSeconds: a.Duration,
		DistanceMeters:  a.Distance,
		TSS:             a.TSS,
		TRIMP:           a.TRIMP,
		Source:          a.Source,
		CreatedAt:       a.CreatedAt,
	}
}

func toDailyMetricView(m domain.DailyMetric) DailyMetricView {
	return DailyMetricView{
		Date: m.DateKey(),
		CTL:  m.CTL,
		ATL:  m.ATL,
		TSB:  m.TSB,
		ACWR: m.ACWR,
		Zones: HeartRateZones{
			Z1: m.Zones[0],
			Z2: m.Zones[1],
			Z3: m.Zones[2],
			Z4: m.Zones[3],
			Z5: m.Zones[4],
		},
		TotalDistanceMeters:  m.TotalDistance,
		TotalDurationSeconds: m.TotalDuration,
		AveragePace:          m.AveragePace,
		AverageHR:            m.AverageHR,
		MaxHR:                m.MaxHR,
	}
}

func toBackfillView(result domain.BackfillResult) BackfillView {
	view := BackfillView{
		AthleteID:   result.AthleteID,
		From:        domain.DateKey(result.From),
		To:          domain.DateKey(result.To),
		DaysWritten: result.DaysWritten,
	}
	if result.Final != nil {
		final := toDailyMetricView(*result.Final)
		view.Final = &final
	}
	return view
}
