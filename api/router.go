package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/tweetscope/api/handler"
	"github.com/use-agent/tweetscope/api/middleware"
	"github.com/use-agent/tweetscope/cache"
	"github.com/use-agent/tweetscope/config"
	"github.com/use-agent/tweetscope/notify"
)

// Deps are the components the routes are served from. Acquisitions and
// Posts may be nil: acquisition is then disabled and post reads answer
// 503.
type Deps struct {
	Acquisitions handler.Acquisitions
	Posts        handler.Posts
	Runtime      handler.Runtime
	Hub          *notify.Hub
	Cache        *cache.Cache
	StartTime    time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// The health endpoint sits outside auth.
func NewRouter(d Deps, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(d.Posts, d.Runtime, d.Acquisitions != nil, d.StartTime))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Acquisition
	protected.POST("/acquisitions", handler.PostAcquisition(d.Acquisitions))
	protected.GET("/acquisitions", handler.ListAcquisitions(d.Acquisitions))
	protected.GET("/acquisitions/:id", handler.GetAcquisition(d.Acquisitions))

	// Subscriber channels
	protected.GET("/channels/:channel/events", handler.ChannelEvents(d.Hub, cfg.Notify))
	protected.POST("/channels/:channel/webhooks", handler.PostWebhook(d.Hub))
	protected.DELETE("/channels/:channel/sinks/:sink", handler.DeleteSink(d.Hub))

	// Ranked reads
	protected.GET("/posts/search", handler.SearchPosts(d.Posts, d.Cache))
	protected.GET("/posts/latest", handler.LatestPosts(d.Posts, d.Cache))
	protected.GET("/posts/top", handler.TopPosts(d.Posts, d.Cache))
	protected.GET("/posts/tag/:tag", handler.TagPosts(d.Posts, d.Cache))

	// Runtime
	protected.GET("/stats", handler.Stats(d.Posts, d.Runtime))
	protected.GET("/status", handler.RuntimeStatus(d.Runtime))

	return r
}
