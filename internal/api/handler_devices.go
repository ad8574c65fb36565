package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"grohe-sync-backend/internal/coordinator"
	"grohe-sync-backend/internal/store"
)

// deviceResponse is the API view of one coordinated appliance.
type deviceResponse struct {
	ApplianceID            string                `json:"appliance_id"`
	Name                   string                `json:"name"`
	Kind                   string                `json:"kind"`
	Profile                string                `json:"profile"`
	PollingIntervalSeconds int                   `json:"polling_interval_seconds"`
	Refreshing             bool                  `json:"refreshing"`
	Commands               bool                  `json:"commands"`
	Valve                  bool                  `json:"valve"`
	Snapshot               *coordinator.Snapshot `json:"snapshot"`
}

func newDeviceResponse(c *coordinator.Coordinator) deviceResponse {
	id := c.Device()
	_, commands := c.Commands()
	_, valve := c.Valve()
	return deviceResponse{
		ApplianceID:            id.ApplianceID,
		Name:                   id.Name,
		Kind:                   id.Kind.String(),
		Profile:                c.Profile().Name,
		PollingIntervalSeconds: int(c.Interval().Seconds()),
		Refreshing:             c.Refreshing(),
		Commands:               commands,
		Valve:                  valve,
		Snapshot:               c.Snapshot(),
	}
}

// ListDevices handles the GET /api/devices request.
func (h *Handler) ListDevices(c *gin.Context) {
	coords := h.store.List()
	responses := make([]deviceResponse, 0, len(coords))
	for _, coord := range coords {
		responses = append(responses, newDeviceResponse(coord))
	}
	c.JSON(http.StatusOK, responses)
}

// GetDevice handles the GET /api/devices/:id request.
func (h *Handler) GetDevice(c *gin.Context) {
	coord, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newDeviceResponse(coord))
}

// RefreshDevice handles POST /api/devices/:id/refresh by running one tick now.
func (h *Handler) RefreshDevice(c *gin.Context) {
	coord, ok := h.lookup(c)
	if !ok {
		return
	}
	if _, err := coord.Tick(c.Request.Context()); err != nil {
		h.logger.Error("manual refresh failed", zap.String("appliance_id", coord.Device().ApplianceID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, newDeviceResponse(coord))
}

type putPollingIntervalRequest struct {
	Seconds int `json:"seconds" binding:"required,min=1"`
}

// PutPollingInterval handles the PUT /api/devices/:id/polling_interval request.
func (h *Handler) PutPollingInterval(c *gin.Context) {
	coord, ok := h.lookup(c)
	if !ok {
		return
	}

	var req putPollingIntervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := coord.SetPollingInterval(req.Seconds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type postCommandRequest struct {
	Command map[string]any `json:"command" binding:"required"`
}

// PostCommand handles the POST /api/devices/:id/command request.
func (h *Handler) PostCommand(c *gin.Context) {
	coord, ok := h.lookup(c)
	if !ok {
		return
	}

	var req postCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sender, ok := coord.Commands()
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"error": coordinator.ErrUnsupported.Error()})
		return
	}

	resp, err := sender.SendCommand(c.Request.Context(), map[string]any{"command": req.Command})
	if err != nil {
		h.writeRemoteError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetValve handles the GET /api/devices/:id/valve request.
func (h *Handler) GetValve(c *gin.Context) {
	valve, ok := h.valve(c)
	if !ok {
		return
	}

	resp, err := valve.ValveState(c.Request.Context())
	if err != nil {
		h.writeRemoteError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type putValveRequest struct {
	Open *bool `json:"open" binding:"required"`
}

// PutValve handles the PUT /api/devices/:id/valve request.
func (h *Handler) PutValve(c *gin.Context) {
	valve, ok := h.valve(c)
	if !ok {
		return
	}

	var req putValveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := valve.SetValve(c.Request.Context(), *req.Open)
	if err != nil {
		h.writeRemoteError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) valve(c *gin.Context) (coordinator.ValveController, bool) {
	coord, ok := h.lookup(c)
	if !ok {
		return nil, false
	}
	valve, ok := coord.Valve()
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"error": coordinator.ErrUnsupported.Error()})
		return nil, false
	}
	return valve, true
}

func (h *Handler) lookup(c *gin.Context) (*coordinator.Coordinator, bool) {
	coord, err := h.store.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return coord, true
}

func (h *Handler) writeRemoteError(c *gin.Context, err error) {
	h.logger.Error("remote call failed", zap.String("path", c.FullPath()), zap.Error(err))
	switch {
	case errors.Is(err, coordinator.ErrUnsupported):
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
	case coordinator.IsTimeout(err):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
