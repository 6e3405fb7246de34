package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"usage-telemetry-agent/internal/syncer"
	"usage-telemetry-agent/internal/tracker"
)

// statusResponse combines the tracker and sync views into one snapshot.
type statusResponse struct {
	Tracker      tracker.Status `json:"tracker"`
	Sync         syncer.Status  `json:"sync"`
	TotalRecords int64          `json:"total_records"`
}

// GetStatus handles the GET /api/status request.
func (h *Handler) GetStatus(c *gin.Context) {
	syncStatus, err := h.syncer.GetStatus(c.Request.Context(), h.userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	total, err := h.store.CountByUser(c.Request.Context(), h.userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, statusResponse{
		Tracker:      h.tracker.Status(),
		Sync:         syncStatus,
		TotalRecords: total,
	})
}
