// Package events defines the Kafka payloads exchanged by the training-load service.
package events

import "time"

// Event type names carried in the outbox and in the Kafka event_type header.
const (
	TypeActivityIngested = "activity.ingested"
	TypeInsightRequested = "insight.requested"
)

// ActivityIngested is published upstream when an athlete's activity has been imported.
type ActivityIngested struct {
	ActivityID      string           `json:"activity_id"`
	AthleteID       string           `json:"athlete_id"`
	ActivityType    string           `json:"activity_type"`
	StartTime       time.Time        `json:"start_time"`
	DurationSeconds float64          `json:"duration_seconds"`
	DistanceMeters  *float64         `json:"distance_meters,omitempty"`
	AveragePower    *float64         `json:"average_power,omitempty"`
	NormalizedPower *float64         `json:"normalized_power,omitempty"`
	AverageHR       *float64         `json:"average_hr,omitempty"`
	MaxHR           *float64         `json:"max_hr,omitempty"`
	TSS             *float64         `json:"tss,omitempty"`
	TRIMP           *float64         `json:"trimp,omitempty"`
	Samples         []ActivitySample `json:"samples,omitempty"`
	Source          string           `json:"source"`
}

// ActivitySample is one point of an ingested activity's time series.
type ActivitySample struct {
	Timestamp *time.Time `json:"timestamp,omitempty"`
	HeartRate *float64   `json:"heartRate,omitempty"`
	Power     *float64   `json:"power,omitempty"`
	Speed     *float64   `json:"speed,omitempty"`
}

// InsightRequested hands an athlete's current training state to the insight generator.
type InsightRequested struct {
	AthleteID   string           `json:"athlete_id"`
	RequestedAt time.Time        `json:"requested_at"`
	Latest      DailyMetricState `json:"latest"`
	Recent      []RecentActivity `json:"recent_activities"`
}

// DailyMetricState is the subset of a daily metric an insight needs.
type DailyMetricState struct {
	Date string  `json:"date"`
	CTL  float64 `json:"ctl"`
	ATL  float64 `json:"atl"`
	TSB  float64 `json:"tsb"`
	ACWR float64 `json:"acwr"`
}

// RecentActivity summarises one activity inside the insight window.
type RecentActivity struct {
	ActivityID      string    `json:"activity_id"`
	ActivityType    string    `json:"activity_type"`
	StartTime       time.Time `json:"start_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	Load            float64   `json:"load"`
}
