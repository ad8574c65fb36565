package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"grohe-sync-backend/internal/coordinator"
	"grohe-sync-backend/internal/mw"
	"grohe-sync-backend/internal/store"
)

// RouterOptions configures NewRouter. Zero values select the defaults.
type RouterOptions struct {
	Webpush         *webpush.Options
	Level           *zap.AtomicLevel
	Gatherer        prometheus.Gatherer
	Logger          *zap.Logger
	RateLimitPerSec float64
	RateLimitBurst  int
	CacheTTL        time.Duration
}

// NewRouter creates and configures a new Gin router.
func NewRouter(s store.Store, opts RouterOptions) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RateLimitPerSec <= 0 {
		opts.RateLimitPerSec = 10
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 5
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(mw.Logger(logger), gin.Recovery())

	handler := NewHandler(s, opts.Webpush, opts.Level, logger)

	rateLimiter := mw.RateLimiter(rate.Limit(opts.RateLimitPerSec), opts.RateLimitBurst)

	// Writes and published snapshots flush the cache.
	responses := mw.NewResponseCache(opts.CacheTTL)
	for _, coord := range s.List() {
		coord.AddListener(func(u coordinator.Update) {
			if u.Kind == coordinator.SnapshotUpdated {
				responses.Invalidate()
			}
		})
	}

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.Use(rateLimiter, responses.Middleware())
	{
		api.GET("/devices", handler.ListDevices)
		api.GET("/devices/:id", handler.GetDevice)
		api.POST("/devices/:id/refresh", handler.RefreshDevice)
		api.PUT("/devices/:id/polling_interval", handler.PutPollingInterval)
		api.POST("/devices/:id/command", handler.PostCommand)
		api.GET("/devices/:id/valve", handler.GetValve)
		api.PUT("/devices/:id/valve", handler.PutValve)
		api.PUT("/logging", handler.PutLogging)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
