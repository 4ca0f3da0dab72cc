// Package load implements the per-activity load scores and the fitness/fatigue recurrences.
package load

import "math"

// Gender selects the Banister TRIMP weighting coefficient.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

const (
	trimpFactor       = 0.64
	trimpMaleCoeff    = 1.92
	trimpFemaleCoeff  = 1.67
	tssSecondsPerHour = 36 // 3600 seconds / 100 points
)

// ParseGender maps free-form input to a Gender, defaulting to male.
func ParseGender(value string) Gender {
	if Gender(value) == GenderFemale {
		return GenderFemale
	}
	return GenderMale
}

// CalculateTSS returns the power-based Training Stress Score. One hour at FTP scores 100.
// An unset FTP (<= 0) scores 0.
func CalculateTSS(durationSeconds, normalizedPower, ftp float64) float64 {
	if ftp <= 0 {
		return 0
	}
	intensityFactor := normalizedPower / ftp
	return (durationSeconds * normalizedPower * intensityFactor) / (ftp * tssSecondsPerHour)
}

// CalculateTRIMP returns the heart-rate-based Banister training impulse.
// The heart-rate reserve fraction is not clamped; callers supply sane HR data.
func CalculateTRIMP(durationMinutes, avgHR, maxHR, restHR float64, gender Gender) float64 {
	if maxHR == restHR {
		return 0
	}
	fraction := (avgHR - restHR) / (maxHR - restHR)

	b := trimpMaleCoeff
	if gender == GenderFemale {
		b = trimpFemaleCoeff
	}
	return durationMinutes * fraction * trimpFactor * math.Exp(b*fraction)
}

// ActivityLoad picks the load an activity contributes to its day: TSS when set and non-zero,
// otherwise TRIMP, otherwise 0. The two are never summed.
func ActivityLoad(tss, trimp *float64) float64 {
	if tss != nil && *tss != 0 {
		return *tss
	}
	if trimp != nil {
		return *trimp
	}
	return 0
}
