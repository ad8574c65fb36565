package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"grohe-sync-backend/internal/logging"
)

type putLoggingRequest struct {
	Verbose *bool  `json:"verbose"`
	Level   string `json:"level"`
}

// PutLogging toggles response-data logging on every coordinator and optionally changes
// the process log level.
func (h *Handler) PutLogging(c *gin.Context) {
	var req putLoggingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Verbose == nil && req.Level == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "verbose or level is required"})
		return
	}

	if req.Level != "" {
		if h.level == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "log level cannot be changed"})
			return
		}
		lvl, err := logging.ParseLevel(req.Level)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.level.SetLevel(lvl)
		h.logger.Info("log level changed", zap.String("level", lvl.String()))
	}

	if req.Verbose != nil {
		for _, coord := range h.store.List() {
			coord.SetVerboseLogging(*req.Verbose)
		}
		h.logger.Info("response logging changed", zap.Bool("verbose", *req.Verbose))
	}

	c.Status(http.StatusNoContent)
}

// GetVAPIDPublicKey returns the VAPID public key browsers need to subscribe to alerts.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "push alerts are not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.webpush.VAPIDPublicKey})
}
