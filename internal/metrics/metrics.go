// Package metrics holds the Prometheus collectors for the authorization flow and the
// webhook pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Authorization flow
	authorizationsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wearsync_authorizations_started_total",
			Help: "Total number of authorization redirects issued",
		},
	)

	callbackOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wearsync_callback_outcomes_total",
			Help: "Authorization callbacks by outcome",
		},
		[]string{"outcome"},
	)

	tokenExchangeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wearsync_token_exchange_duration_seconds",
			Help:    "Token endpoint round trip in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	liveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wearsync_authorization_sessions",
			Help: "Authorization sessions currently held",
		},
	)

	// Webhook ingestion
	webhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wearsync_webhooks_received_total",
			Help: "Webhook deliveries by boundary result",
		},
		[]string{"result"},
	)

	itemsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wearsync_queue_items_enqueued_total",
			Help: "Queue items created from accepted webhooks",
		},
	)

	itemOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wearsync_queue_item_outcomes_total",
			Help: "Processed queue items by outcome",
		},
		[]string{"outcome"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wearsync_queue_items",
			Help: "Active queue items by status",
		},
		[]string{"status"},
	)

	handlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wearsync_handler_duration_seconds",
			Help:    "Event handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	alertsRequested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wearsync_alerts_requested_total",
			Help: "Alerts requested by type",
		},
		[]string{"alert"},
	)
)

func AuthorizationStarted() { authorizationsStarted.Inc() }

func CallbackOutcome(outcome string) { callbackOutcomes.WithLabelValues(outcome).Inc() }

func ObserveTokenExchange(seconds float64) { tokenExchangeDuration.Observe(seconds) }

func SetLiveSessions(n int) { liveSessions.Set(float64(n)) }

func WebhookReceived(result string) { webhooksReceived.WithLabelValues(result).Inc() }

func ItemsEnqueued(n int) { itemsEnqueued.Add(float64(n)) }

func ItemOutcome(outcome string) { itemOutcomes.WithLabelValues(outcome).Inc() }

// SetQueueDepth publishes the active item count for each status.
func SetQueueDepth(byStatus map[string]int) {
	for status, n := range byStatus {
		queueDepth.WithLabelValues(status).Set(float64(n))
	}
}

func ObserveHandler(kind string, seconds float64) {
	handlerDuration.WithLabelValues(kind).Observe(seconds)
}

func AlertRequested(alert string) { alertsRequested.WithLabelValues(alert).Inc() }

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }
