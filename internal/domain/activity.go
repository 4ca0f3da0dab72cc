package domain

import (
	"encoding/json"
	"time"
)

// Activity is one completed training session as stored for an athlete.
type Activity struct {
	ID              string
	AthleteID       string
	ActivityType    string
	StartTime       time.Time
	Duration        float64  // seconds
	Distance        *float64 // meters
	AveragePower    *float64
	NormalizedPower *float64
	AverageHR       *float64
	MaxHR           *float64
	TSS             *float64
	TRIMP           *float64
	Samples         json.RawMessage
	Source          string
	CreatedAt       time.Time
}

// Sample is one point of an activity's recorded time series.
type Sample struct {
	Timestamp *time.Time `json:"timestamp,omitempty"`
	HeartRate *float64   `json:"heartRate,omitempty"`
	Power     *float64   `json:"power,omitempty"`
	Speed     *float64   `json:"speed,omitempty"`
}

// AthleteProfile holds the physiological settings used for scoring.
type AthleteProfile struct {
	AthleteID string
	MaxHR     float64
	RestingHR float64
	FTP       float64
	Gender    string
}

// Profile defaults applied when an athlete has not configured a value.
const (
	DefaultMaxHR     = 190
	DefaultRestingHR = 60
)

// WithDefaults fills unset heart-rate settings.
func (p AthleteProfile) WithDefaults() AthleteProfile {
	if p.MaxHR <= 0 {
		p.MaxHR = DefaultMaxHR
	}
	if p.RestingHR <= 0 {
		p.RestingHR = DefaultRestingHR
	}
	if p.Gender == "" {
		p.Gender = "male"
	}
	return p
}

// ZoneCount is the number of heart-rate zones tracked per day.
const ZoneCount = 5

// DailyMetric is the persisted training-load state of one athlete on one calendar day.
type DailyMetric struct {
	AthleteID     string
	Date          time.Time
	CTL           float64
	ATL           float64
	TSB           float64
	ACWR          float64
	Zones         [ZoneCount]int
	TotalDistance float64
	TotalDuration float64
	AveragePace   float64 // seconds per kilometer
	AverageHR     *int
	MaxHR         *int
}

// DateKey returns the metric's calendar date as YYYY-MM-DD.
func (m DailyMetric) DateKey() string {
	return DateKey(m.Date)
}
