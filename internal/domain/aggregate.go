package domain

import (
	"encoding/json"
	"math"

	"github.com/sirupsen/logrus"

	"example.com/trainingload/internal/load"
)

// Absolute heart-rate zone lower bounds in bpm for zones 2 through 5.
// Anything below the first bound is zone 1.
var zoneLowerBounds = [ZoneCount - 1]float64{117, 135, 153, 165}

// DailyAggregate is the rollup of one athlete's activities on one calendar day.
type DailyAggregate struct {
	Load     float64
	Distance float64
	Duration float64
	HRSum    float64
	HRCount  int
	MaxHR    float64
	// Sample counts per zone; a time-in-zone proxy that assumes evenly spaced samples.
	ZoneTime [ZoneCount]int
}

// AverageHR returns the rounded mean of the day's activity average heart rates, or nil.
func (a DailyAggregate) AverageHR() *int {
	if a.HRCount == 0 {
		return nil
	}
	avg := int(math.Round(a.HRSum / float64(a.HRCount)))
	return &avg
}

// MaxHeartRate returns the day's maximum heart rate, or nil when none was recorded.
func (a DailyAggregate) MaxHeartRate() *int {
	if a.MaxHR == 0 {
		return nil
	}
	peak := int(math.Round(a.MaxHR))
	return &peak
}

// AveragePace returns seconds per kilometer, or 0 without both duration and distance.
func (a DailyAggregate) AveragePace() float64 {
	if a.Duration <= 0 || a.Distance <= 0 {
		return 0
	}
	return a.Duration / (a.Distance / 1000)
}

// ZoneFor returns the 1-based heart-rate zone for a sample.
func ZoneFor(heartRate float64) int {
	zone := 1
	for _, bound := range zoneLowerBounds {
		if heartRate >= bound {
			zone++
		}
	}
	return zone
}

// AggregateDaily groups activities by UTC calendar day. Only days with at least one
// activity appear in the result. Malformed sample payloads count as no samples and are
// reported to logger at debug level; logger may be nil.
func AggregateDaily(activities []Activity, logger logrus.FieldLogger) map[string]*DailyAggregate {
	days := make(map[string]*DailyAggregate)
	for _, activity := range activities {
		key := DateKey(activity.StartTime)
		agg, ok := days[key]
		if !ok {
			agg = &DailyAggregate{}
			days[key] = agg
		}
		if err := agg.add(activity); err != nil && logger != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"athlete_id":  activity.AthleteID,
				"activity_id": activity.ID,
			}).Debug("skipping malformed samples")
		}
	}
	return days
}

// add folds activity into the aggregate. A sample decode error is returned after the
// activity's other fields have been counted.
func (a *DailyAggregate) add(activity Activity) error {
	a.Load += load.ActivityLoad(activity.TSS, activity.TRIMP)
	if activity.Distance != nil {
		a.Distance += *activity.Distance
	}
	a.Duration += activity.Duration
	if activity.AverageHR != nil && *activity.AverageHR != 0 {
		a.HRSum += *activity.AverageHR
		a.HRCount++
	}
	if activity.MaxHR != nil && *activity.MaxHR > a.MaxHR {
		a.MaxHR = *activity.MaxHR
	}

	samples, err := DecodeSamples(activity.Samples)
	if err != nil {
		return err
	}
	for _, sample := range samples {
		if sample.HeartRate == nil || *sample.HeartRate <= 0 {
			continue
		}
		a.ZoneTime[ZoneFor(*sample.HeartRate)-1]++
	}
	return nil
}

// DecodeSamples parses an activity's sample payload. An empty payload has no samples.
func DecodeSamples(raw json.RawMessage) ([]Sample, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var samples []Sample
	if err := json.Unmarshal(raw, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}
