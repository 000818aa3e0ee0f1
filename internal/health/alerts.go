package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/router-for-me/wearsync/internal/config"
	"github.com/router-for-me/wearsync/internal/metrics"
	"github.com/router-for-me/wearsync/internal/notify"
)

// Alert types.
const (
	AlertHighStress        = "high_stress"
	AlertInsufficientSleep = "insufficient_sleep"
	AlertLowEnergy         = "low_energy"
)

// Publisher accepts alerts for asynchronous delivery.
type Publisher interface {
	Publish(ctx context.Context, alert notify.Alert)
}

// AlertTrigger evaluates a delta against thresholds. At most one alert is raised per
// event: stress is checked first, then sleep, then energy.
type AlertTrigger struct {
	mu         sync.RWMutex
	thresholds config.AlertConfig
	publisher  Publisher
}

// NewAlertTrigger creates a trigger. publisher may be nil.
func NewAlertTrigger(thresholds config.AlertConfig, publisher Publisher) *AlertTrigger {
	return &AlertTrigger{thresholds: thresholds, publisher: publisher}
}

// SetThresholds swaps the thresholds at runtime.
func (a *AlertTrigger) SetThresholds(thresholds config.AlertConfig) {
	a.mu.Lock()
	a.thresholds = thresholds
	a.mu.Unlock()
}

// Evaluate returns the alert for d, if any.
func (a *AlertTrigger) Evaluate(d Delta) (notify.Alert, bool) {
	a.mu.RLock()
	t := a.thresholds
	a.mu.RUnlock()

	obs := d.Observations
	alert := notify.Alert{UserID: d.UserID, RaisedAt: time.Now().UTC()}
	switch {
	case obs.StressLevel != nil && *obs.StressLevel > float64(t.StressThreshold):
		alert.Type = AlertHighStress
		alert.Value = *obs.StressLevel
		alert.Threshold = float64(t.StressThreshold)
		alert.Message = fmt.Sprintf("High stress detected: level %.0f exceeds %d", *obs.StressLevel, t.StressThreshold)
	case obs.SleepSeconds != nil && *obs.SleepSeconds/3600 < t.SleepMinimumHours:
		hours := *obs.SleepSeconds / 3600
		alert.Type = AlertInsufficientSleep
		alert.Value = hours
		alert.Threshold = t.SleepMinimumHours
		alert.Message = fmt.Sprintf("Insufficient sleep: %.1fh is below %.1fh", hours, t.SleepMinimumHours)
	case obs.BodyBattery != nil && *obs.BodyBattery < float64(t.EnergyThreshold):
		alert.Type = AlertLowEnergy
		alert.Value = *obs.BodyBattery
		alert.Threshold = float64(t.EnergyThreshold)
		alert.Message = fmt.Sprintf("Low energy: body battery %.0f is below %d", *obs.BodyBattery, t.EnergyThreshold)
	default:
		return notify.Alert{}, false
	}
	return alert, true
}

// Trigger evaluates d and publishes the alert. Publishing never fails the caller.
func (a *AlertTrigger) Trigger(ctx context.Context, d Delta, itemID string) (notify.Alert, bool) {
	alert, ok := a.Evaluate(d)
	if !ok {
		return alert, false
	}
	alert.ItemID = itemID
	metrics.AlertRequested(alert.Type)
	if a.publisher != nil {
		a.publisher.Publish(ctx, alert)
	}
	return alert, true
}
