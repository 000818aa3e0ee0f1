package integration

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/router-for-me/wearsync/internal/logging"
	"github.com/router-for-me/wearsync/internal/metrics"
	"github.com/router-for-me/wearsync/internal/webhook"
)

const (
	defaultStatsWindow     = time.Hour
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 1000
)

// ReceiveWebhook authenticates a push delivery and enqueues its events.
// It answers once the items are queued, not once they are processed.
func (h *Handler) ReceiveWebhook(c *gin.Context) {
	entry := logging.FromContext(c.Request.Context())

	body, err := webhook.ReadBody(c.Request.Body, c.GetHeader("Content-Encoding"), h.maxBodyBytes.Load())
	if err != nil {
		h.reject("malformed")
		if errors.Is(err, webhook.ErrBodyTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"status": "error", "error": "body too large"})
			return
		}
		entry.WithError(err).Warn("webhook: unreadable body")
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "malformed body"})
		return
	}

	if errVerify := h.authenticator.Verify(body, c.Request.Header); errVerify != nil {
		h.reject("unauthorized")
		entry.WithError(errVerify).Warn("webhook: rejected delivery")
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "invalid signature"})
		return
	}

	items, err := h.queue.Enqueue(body, c.Request.Header)
	if err != nil {
		h.reject("malformed")
		entry.WithError(err).Warn("webhook: malformed payload")
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "malformed body"})
		return
	}

	metrics.WebhookReceived("accepted")
	if h.stats != nil {
		h.stats.Record(webhook.OutcomeReceived, len(items))
	}
	entry.Debugf("webhook: enqueued %d item(s)", len(items))
	c.JSON(http.StatusOK, gin.H{"status": "received", "itemsReceived": len(items)})
}

func (h *Handler) reject(result string) {
	metrics.WebhookReceived(result)
	if h.stats != nil {
		h.stats.Record(webhook.OutcomeRejected, 1)
	}
}

// RegisterWebhook stores a user's push registration.
func (h *Handler) RegisterWebhook(c *gin.Context) {
	if h.registrations == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "registrations unavailable"})
		return
	}
	var req webhook.RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": validationMessage(err)})
		return
	}
	reg, err := h.registrations.SaveRegistration(c.Request.Context(), webhook.Registration{
		UserID:      req.UserID,
		CallbackURL: req.CallbackURL,
		EventTypes:  req.EventTypes,
	})
	if err != nil {
		logging.FromContext(c.Request.Context()).WithError(err).Error("webhook: failed to save registration")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to save registration"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "registered", "registration": reg})
}

// validationMessage names the offending JSON fields without echoing values.
func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return "invalid registration"
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field())
	}
	return "invalid or missing fields: " + strings.Join(fields, ", ")
}

// GetRegistration returns the stored registration for a user.
func (h *Handler) GetRegistration(c *gin.Context) {
	if h.registrations == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "registrations unavailable"})
		return
	}
	reg, found, err := h.registrations.LookupRegistration(c.Request.Context(), c.Param("userId"))
	if err != nil {
		logging.FromContext(c.Request.Context()).WithError(err).Error("webhook: failed to load registration")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to load registration"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "registration not found"})
		return
	}
	c.JSON(http.StatusOK, reg)
}

// WebhookStatus reports the queue and processor state.
func (h *Handler) WebhookStatus(c *gin.Context) {
	queueStats := h.queue.Stats()
	c.JSON(http.StatusOK, gin.H{
		"queueLength":           queueStats.Active,
		"queue":                 queueStats,
		"processing":            h.processor != nil && h.processor.Running(),
		"signatureVerification": !h.authenticator.Relaxed(),
	})
}

// WebhookStats aggregates outcomes over ?window= (default 1h, "d" suffix allowed).
func (h *Handler) WebhookStats(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "stats unavailable"})
		return
	}
	window := defaultStatsWindow
	if raw := strings.TrimSpace(c.Query("window")); raw != "" {
		parsed, err := parseWindow(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid window"})
			return
		}
		window = parsed
	}
	c.JSON(http.StatusOK, h.stats.Window(window))
}

func parseWindow(raw string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, errors.New("invalid day count")
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("window must be positive")
	}
	return d, nil
}

// DeadLetters lists the latest dead letters.
func (h *Handler) DeadLetters(c *gin.Context) {
	if h.deadLetters == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "dead letters unavailable"})
		return
	}
	limit := defaultDeadLetterLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid limit"})
			return
		}
		limit = min(n, maxDeadLetterLimit)
	}
	letters, err := h.deadLetters.ListDeadLetters(c.Request.Context(), limit)
	if err != nil {
		logging.FromContext(c.Request.Context()).WithError(err).Error("webhook: failed to list dead letters")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to list dead letters"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deadLetters": letters, "count": len(letters)})
}
