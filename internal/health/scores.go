package health

import "math"

// SleepScore maps a sleep duration in seconds to 95, 80, 60 or 40.
func SleepScore(seconds float64) int {
	hours := seconds / 3600
	switch {
	case hours >= 7 && hours <= 9:
		return 95
	case hours >= 6:
		return 80
	case hours >= 5:
		return 60
	default:
		return 40
	}
}

// StressScore is 100 minus the average stress level, floored at zero.
func StressScore(averageStress float64) int {
	return clampScore(100 - averageStress)
}

// ActivityMetrics are the optional inputs to ActivityScore.
type ActivityMetrics struct {
	DurationMinutes  *float64
	Calories         *float64
	AverageHeartRate *float64
}

// ActivityScore averages the components that are present: duration against one hour,
// calories against 500 kcal and heart-rate intensity between 60 and 160 bpm. It reports
// false when no component is present.
func ActivityScore(m ActivityMetrics) (int, bool) {
	var parts []float64
	if m.DurationMinutes != nil {
		parts = append(parts, math.Min(100, *m.DurationMinutes/60*100))
	}
	if m.Calories != nil {
		parts = append(parts, math.Min(100, *m.Calories/500*100))
	}
	if m.AverageHeartRate != nil {
		parts = append(parts, (*m.AverageHeartRate-60)/(160-60)*100)
	}
	if len(parts) == 0 {
		return 0, false
	}
	var sum float64
	for _, p := range parts {
		sum += clampFloat(p)
	}
	return clampScore(sum / float64(len(parts))), true
}

// EnergyScore clamps a body-battery reading to 0..100.
func EnergyScore(bodyBattery float64) int {
	return clampScore(bodyBattery)
}

func clampFloat(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

func clampScore(v float64) int {
	return int(math.Round(clampFloat(v)))
}
