package health

import (
	"context"
	"time"

	"github.com/router-for-me/wearsync/internal/metrics"
	"github.com/router-for-me/wearsync/internal/webhook"
	log "github.com/sirupsen/logrus"
)

// Pipeline is the queue item handler: classify, score, persist, alert.
type Pipeline struct {
	updater *ProfileUpdater
	alerts  *AlertTrigger
}

// NewPipeline wires the updater and the alert trigger. alerts may be nil.
func NewPipeline(updater *ProfileUpdater, alerts *AlertTrigger) *Pipeline {
	return &Pipeline{updater: updater, alerts: alerts}
}

// HandleItem processes one queue item.
func (p *Pipeline) HandleItem(ctx context.Context, item webhook.Item) error {
	start := time.Now()
	d, err := Handle(item.Payload, item.Source)
	defer func() { metrics.ObserveHandler(string(d.Kind), time.Since(start).Seconds()) }()
	if err != nil {
		return err
	}
	if err = p.updater.Apply(ctx, d, item.Payload, item.Source, item.ID, item.ReceivedAt); err != nil {
		return err
	}

	entry := log.WithFields(log.Fields{"item_id": item.ID, "user_id": d.UserID, "kind": d.Kind})
	entry.Debug("health: item applied")
	if p.alerts != nil {
		if alert, raised := p.alerts.Trigger(ctx, d, item.ID); raised {
			entry.WithField("status", alert.Type).Info("health: alert requested")
		}
	}
	return nil
}

// Describe labels an item for dead letters.
func (p *Pipeline) Describe(item webhook.Item) (string, string) {
	return string(ClassifyWithSource(item.Payload, item.Source)), ExtractUserID(item.Payload)
}
