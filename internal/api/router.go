package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"usage-telemetry-agent/config"
	"usage-telemetry-agent/internal/mw"
	"usage-telemetry-agent/internal/store"
	"usage-telemetry-agent/internal/syncer"
	"usage-telemetry-agent/internal/tracker"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg config.ServerConfig, s store.Store, trk *tracker.SessionTracker, sync *syncer.Coordinator, webpushOptions *webpush.Options, userID string) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, trk, sync, webpushOptions, userID)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Summary responses are cached briefly; status must stay fresher than
	// one poll tick, so it skips the cache entirely.
	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 10*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/status", handler.GetStatus)
		api.GET("/records", handler.GetRecords)
		api.GET("/summary", caching, handler.GetSummary)

		api.POST("/sync", handler.PostSync)
		api.GET("/sync/health", handler.GetSyncHealth)
		api.PUT("/sync/auto", handler.PutAutoSync)

		api.PUT("/identity", handler.PutIdentity)
		api.DELETE("/identity", handler.DeleteIdentity)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
