package integration

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/wearsync/internal/logging"
)

// GetProfile returns the derived scores for a user.
func (h *Handler) GetProfile(c *gin.Context) {
	if h.profiles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "profiles unavailable"})
		return
	}
	profile, found, err := h.profiles.LookupProfile(c.Request.Context(), c.Param("userId"))
	if err != nil {
		logging.FromContext(c.Request.Context()).WithError(err).Error("health: failed to load profile")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to load profile"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, profile)
}
