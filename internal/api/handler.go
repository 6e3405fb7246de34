package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"usage-telemetry-agent/internal/store"
	"usage-telemetry-agent/internal/syncer"
	"usage-telemetry-agent/internal/tracker"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	tracker *tracker.SessionTracker
	syncer  *syncer.Coordinator
	webpush *webpush.Options
	userID  string
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, trk *tracker.SessionTracker, sync *syncer.Coordinator, webpushOptions *webpush.Options, userID string) *Handler {
	return &Handler{
		store:   s,
		tracker: trk,
		syncer:  sync,
		webpush: webpushOptions,
		userID:  userID,
	}
}
