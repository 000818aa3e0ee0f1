// Package integration contains the HTTP handlers for the wearable integration:
// the OAuth authorization routes, webhook ingestion, and the read-only status endpoints.
package integration

import (
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/wearsync/internal/auth/wearable"
	"github.com/router-for-me/wearsync/internal/config"
	"github.com/router-for-me/wearsync/internal/health"
	"github.com/router-for-me/wearsync/internal/webhook"
)

// Options carries the collaborators served over HTTP. Nil read stores disable
// the matching endpoint with 503.
type Options struct {
	Coordinator   *wearable.Coordinator
	Authenticator *webhook.Authenticator
	Queue         *webhook.Queue
	Processor     *webhook.Processor
	Stats         *webhook.Stats
	DeadLetters   webhook.DeadLetterLister
	Registrations webhook.RegistrationStore
	Profiles      health.ProfileStore
	DoneURL       string
	MaxBodyBytes  int64
}

// Handler serves the /api/wearable routes.
type Handler struct {
	coordinator   *wearable.Coordinator
	authenticator *webhook.Authenticator
	queue         *webhook.Queue
	processor     *webhook.Processor
	stats         *webhook.Stats
	deadLetters   webhook.DeadLetterLister
	registrations webhook.RegistrationStore
	profiles      health.ProfileStore
	doneURL       string
	maxBodyBytes  atomic.Int64
}

// NewHandler builds a handler from opts.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		coordinator:   opts.Coordinator,
		authenticator: opts.Authenticator,
		queue:         opts.Queue,
		processor:     opts.Processor,
		stats:         opts.Stats,
		deadLetters:   opts.DeadLetters,
		registrations: opts.Registrations,
		profiles:      opts.Profiles,
		doneURL:       opts.DoneURL,
	}
	if h.doneURL == "" {
		h.doneURL = DonePath
	}
	h.SetMaxBodyBytes(opts.MaxBodyBytes)
	return h
}

// SetMaxBodyBytes changes the webhook body limit; it applies to the next request.
func (h *Handler) SetMaxBodyBytes(n int64) {
	if n <= 0 {
		n = config.DefaultMaxBodyBytes
	}
	h.maxBodyBytes.Store(n)
}

// Route paths relative to the engine root.
const (
	BasePath     = "/api/wearable"
	StartPath    = BasePath + "/auth/start"
	CallbackPath = BasePath + "/auth/callback"
	DonePath     = BasePath + "/auth/done"
)

// Register mounts every route under /api/wearable.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group(BasePath)

	g.GET("/auth/start", h.StartAuthorization)
	g.GET("/auth/callback", h.AuthorizationCallback)
	g.GET("/auth/done", h.AuthorizationDone)

	g.POST("/webhook", h.ReceiveWebhook)
	g.POST("/webhook/register", h.RegisterWebhook)
	g.GET("/webhook/status", h.WebhookStatus)
	g.GET("/webhook/stats", h.WebhookStats)
	g.GET("/webhook/dead-letters", h.DeadLetters)
	g.GET("/webhook/registrations/:userId", h.GetRegistration)

	g.GET("/profile/:userId", h.GetProfile)
}
