package integration

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/wearsync/internal/auth/wearable"
	"github.com/router-for-me/wearsync/internal/logging"
)

// Callback statuses reported to the done URL.
const (
	StatusOK          = "ok"
	StatusError       = "error"
	StatusDuplicate   = "duplicate"
	StatusRateLimited = "rate_limited"
)

// StartAuthorization redirects the browser to the provider's consent page.
func (h *Handler) StartAuthorization(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	target, err := h.coordinator.BeginAuthorization()
	if err != nil {
		logging.FromContext(c.Request.Context()).WithError(err).Error("wearable auth: failed to start authorization")
		h.redirectDone(c, url.Values{"status": {StatusError}, "reason": {"start_failed"}})
		return
	}
	logging.FromContext(c.Request.Context()).
		WithField("correlation_id", target.CorrelationID).
		Info("wearable auth: redirecting to provider")
	c.Redirect(http.StatusFound, target.URL)
}

// AuthorizationCallback completes the flow and always answers with a redirect.
func (h *Handler) AuthorizationCallback(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	state := strings.TrimSpace(c.Query("state"))
	code := c.Query("code")

	if providerErr := strings.TrimSpace(c.Query("error")); providerErr != "" {
		logging.FromContext(c.Request.Context()).
			WithField("status", providerErr).
			Warn("wearable auth: provider returned an error")
		h.coordinator.AbandonAuthorization(state)
		h.redirectDone(c, url.Values{"status": {StatusError}, "reason": {wearable.ErrProviderDenied.Type}})
		return
	}

	result, err := h.coordinator.HandleCallback(c.Request.Context(), code, state)
	params := callbackParams(err)
	if err == nil && result != nil {
		params.Set("correlation_id", result.CorrelationID)
	}
	h.redirectDone(c, params)
}

// callbackParams maps a callback outcome to done-URL query parameters.
func callbackParams(err error) url.Values {
	if err == nil {
		return url.Values{"status": {StatusOK}}
	}
	var authErr *wearable.AuthorizationError
	if !errors.As(err, &authErr) {
		return url.Values{"status": {StatusError}, "reason": {"internal_error"}}
	}
	switch {
	case errors.Is(err, wearable.ErrDuplicateCode):
		return url.Values{"status": {StatusDuplicate}}
	case errors.Is(err, wearable.ErrRateLimited):
		return url.Values{"status": {StatusRateLimited}, "http_status": {strconv.Itoa(http.StatusTooManyRequests)}}
	}
	params := url.Values{"status": {StatusError}, "reason": {authErr.Type}}
	if authErr.HTTPStatus > 0 {
		params.Set("http_status", strconv.Itoa(authErr.HTTPStatus))
	}
	return params
}

func (h *Handler) redirectDone(c *gin.Context, params url.Values) {
	sep := "?"
	if strings.Contains(h.doneURL, "?") {
		sep = "&"
	}
	c.Redirect(http.StatusFound, h.doneURL+sep+params.Encode())
}

var doneMessages = map[string]string{
	StatusOK:          "Your device is connected. You can close this window.",
	StatusDuplicate:   "This authorization was already completed.",
	StatusRateLimited: "The provider is busy. Please start the connection again in a moment.",
	StatusError:       "The connection could not be completed. Please try again.",
}

// AuthorizationDone is the default landing page after the callback.
func (h *Handler) AuthorizationDone(c *gin.Context) {
	status := c.Query("status")
	message, ok := doneMessages[status]
	if !ok {
		status = StatusError
		message = doneMessages[StatusError]
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"reason":  c.Query("reason"),
		"message": message,
	})
}
