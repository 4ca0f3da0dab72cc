package load

import "math"

// Time constants, in days.
const (
	CTLTimeConstant = 42
	ATLTimeConstant = 7
)

var (
	ctlDecay = math.Exp(-1.0 / CTLTimeConstant)
	atlDecay = math.Exp(-1.0 / ATLTimeConstant)
)

// NextCTL advances chronic training load ("fitness") by one day.
func NextCTL(prevCTL, dailyLoad float64) float64 {
	return dailyLoad*(1-ctlDecay) + prevCTL*ctlDecay
}

// NextATL advances acute training load ("fatigue") by one day.
func NextATL(prevATL, dailyLoad float64) float64 {
	return dailyLoad*(1-atlDecay) + prevATL*atlDecay
}

// TSB is training stress balance ("form"): positive is fresh, negative is fatigued.
func TSB(ctl, atl float64) float64 {
	return ctl - atl
}

// ACWREWMA is the acute:chronic workload ratio derived from the exponentially weighted loads.
func ACWREWMA(atl, ctl float64) float64 {
	if ctl == 0 {
		return 0
	}
	return atl / ctl
}

// ACWRSimple is the rolling-sum acute:chronic ratio: the last 7 days against the
// weekly average of the last 28.
func ACWRSimple(last7DaysSum, last28DaysSum float64) float64 {
	if last28DaysSum == 0 {
		return 0
	}
	return last7DaysSum / (last28DaysSum / 4)
}

// FormLabel describes a TSB value.
func FormLabel(tsb float64) string {
	switch {
	case tsb > 25:
		return "very fresh"
	case tsb > 10:
		return "fresh"
	case tsb > 0:
		return "neutral"
	case tsb > -10:
		return "slightly fatigued"
	case tsb > -25:
		return "building"
	default:
		return "very fatigued"
	}
}

// ACWRBand classifies an acute:chronic ratio. Ratios outside 0.8-1.3 carry elevated injury risk.
func ACWRBand(acwr float64) string {
	switch {
	case acwr == 0:
		return "insufficient data"
	case acwr < 0.8:
		return "undertraining"
	case acwr <= 1.3:
		return "optimal"
	case acwr <= 1.5:
		return "caution"
	default:
		return "high risk"
	}
}
