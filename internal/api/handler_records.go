package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetRecords handles the GET /api/records request. With ?active=true only
// sessions that are still open are returned.
func (h *Handler) GetRecords(c *gin.Context) {
	ctx := c.Request.Context()

	if c.Query("active") == "true" {
		records, err := h.store.QueryActive(ctx, h.userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, records)
		return
	}

	records, err := h.store.QueryByUser(ctx, h.userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

// GetSummary handles the GET /api/summary request: per-app aggregates of
// the stored usage history.
func (h *Handler) GetSummary(c *gin.Context) {
	summary, err := h.store.AppSummary(c.Request.Context(), h.userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}
