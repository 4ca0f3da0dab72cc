package domain

import "example.com/trainingload/internal/load"

// ScoreActivity fills in a load score for activities that arrive without one: TSS when
// the athlete has an FTP and the activity has power, otherwise TRIMP from average heart rate.
// Caller-supplied scores are kept as-is.
func ScoreActivity(activity Activity, profile AthleteProfile) Activity {
	if activity.TSS != nil || activity.TRIMP != nil {
		return activity
	}

	power := activity.NormalizedPower
	if power == nil {
		power = activity.AveragePower
	}
	if power != nil && *power > 0 && profile.FTP > 0 {
		tss := load.CalculateTSS(activity.Duration, *power, profile.FTP)
		activity.TSS = &tss
		return activity
	}

	if activity.AverageHR != nil && *activity.AverageHR > 0 {
		trimp := load.CalculateTRIMP(
			activity.Duration/60,
			*activity.AverageHR,
			profile.MaxHR,
			profile.RestingHR,
			load.ParseGender(profile.Gender),
		)
		activity.TRIMP = &trimp
	}
	return activity
}
