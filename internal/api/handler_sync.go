package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"usage-telemetry-agent/internal/syncer"
)

// PostSync handles the POST /api/sync request: one immediate sync pass.
func (h *Handler) PostSync(c *gin.Context) {
	n, err := h.syncer.Sync(c.Request.Context(), h.userID)
	switch {
	case errors.Is(err, syncer.ErrNoIdentity):
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": "no study identity configured"})
	case errors.Is(err, syncer.ErrSyncInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "sync already in progress"})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"accepted": n})
	}
}

// GetSyncHealth handles the GET /api/sync/health request, probing the
// remote collector.
func (h *Handler) GetSyncHealth(c *gin.Context) {
	healthy, err := h.syncer.CheckConnectivity(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"healthy": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"healthy": healthy})
}

type putIdentityRequest struct {
	Identity string `json:"identity" binding:"required"`
}

// PutIdentity handles the PUT /api/identity request, enrolling the agent
// into a study.
func (h *Handler) PutIdentity(c *gin.Context) {
	var req putIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.syncer.SetIdentity(c.Request.Context(), req.Identity); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteIdentity handles the DELETE /api/identity request, unenrolling the
// agent and wiping the sync bookkeeping.
func (h *Handler) DeleteIdentity(c *gin.Context) {
	if err := h.syncer.ClearIdentity(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type putAutoSyncRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// PutAutoSync handles the PUT /api/sync/auto request, toggling the
// periodic sync runner.
func (h *Handler) PutAutoSync(c *gin.Context) {
	var req putAutoSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.syncer.SetAutoSync(c.Request.Context(), *req.Enabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
