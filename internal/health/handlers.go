package health

import "math"

// Observations are the raw readings alerts are evaluated against.
type Observations struct {
	SleepSeconds *float64
	StressLevel  *float64
	BodyBattery  *float64
}

// Scores holds the derived scores an event updates. Nil fields are left unchanged.
type Scores struct {
	Activity *int `json:"activity,omitempty"`
	Sleep    *int `json:"sleep,omitempty"`
	Stress   *int `json:"stress,omitempty"`
	Energy   *int `json:"energy,omitempty"`
}

// Empty reports whether no score is set.
func (s Scores) Empty() bool {
	return s.Activity == nil && s.Sleep == nil && s.Stress == nil && s.Energy == nil
}

// Delta is the outcome of handling one event.
type Delta struct {
	Kind         DataKind
	UserID       string
	RecordID     string
	Scores       Scores
	Observations Observations
}

// handlerFunc computes the score changes for one kind of event.
type handlerFunc func(payload []byte, d *Delta)

var handlers = map[DataKind]handlerFunc{
	KindSleep:          handleSleep,
	KindActivity:       handleActivity,
	KindHealthSnapshot: handleSnapshot,
	KindStress:         handleStress,
	KindGeneric:        func([]byte, *Delta) {},
}

// Handle classifies payload and computes its delta.
func Handle(payload []byte, source string) (Delta, error) {
	kind := ClassifyWithSource(payload, source)
	userID := ExtractUserID(payload)
	if userID == "" {
		return Delta{Kind: kind}, &UnprocessableItemError{Reason: "no user identifier"}
	}
	d := Delta{Kind: kind, UserID: userID, RecordID: RecordID(payload)}
	handlers[kind](payload, &d)
	return d, nil
}

func handleSleep(payload []byte, d *Delta) {
	seconds, ok := firstNumber(payload, "sleepTimeInSeconds", "sleepDurationInSeconds", "durationInSeconds")
	if !ok {
		return
	}
	d.Observations.SleepSeconds = &seconds
	d.Scores.Sleep = intPtr(SleepScore(seconds))
}

func handleActivity(payload []byte, d *Delta) {
	var m ActivityMetrics
	if seconds, ok := firstNumber(payload, "durationInSeconds", "activeTimeInSeconds"); ok {
		minutes := seconds / 60
		m.DurationMinutes = &minutes
	} else if minutes, ok := firstNumber(payload, "durationInMinutes"); ok {
		m.DurationMinutes = &minutes
	}
	if kcal, ok := firstNumber(payload, "activeKilocalories", "calories", "activeCalories"); ok {
		m.Calories = &kcal
	}
	if hr, ok := firstNumber(payload, "averageHeartRateInBeatsPerMinute", "averageHeartRate", "avgHeartRate"); ok {
		m.AverageHeartRate = &hr
	}
	if score, ok := ActivityScore(m); ok {
		d.Scores.Activity = &score
	}
}

func handleSnapshot(payload []byte, d *Delta) {
	if bb, ok := firstNumber(payload, "bodyBattery", "bodyBatteryLevel", "currentBodyBattery", "energyLevel"); ok {
		d.Observations.BodyBattery = &bb
		d.Scores.Energy = intPtr(EnergyScore(bb))
	}
	if level, ok := firstNumber(payload, "averageStressLevel", "stressLevel"); ok && level >= 0 {
		d.Observations.StressLevel = &level
		d.Scores.Stress = intPtr(StressScore(level))
	}
}

func handleStress(payload []byte, d *Delta) {
	level, ok := firstNumber(payload, "averageStressLevel", "stressLevel", "maxStressLevel")
	// negative levels mean the device could not measure
	if !ok || level < 0 || math.IsNaN(level) {
		return
	}
	d.Observations.StressLevel = &level
	d.Scores.Stress = intPtr(StressScore(level))
}

func intPtr(v int) *int { return &v }
