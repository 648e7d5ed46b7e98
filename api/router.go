package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/edenscrape/api/handler"
	"github.com/use-agent/edenscrape/api/middleware"
	"github.com/use-agent/edenscrape/config"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled)
//	POST:    RateLimit
//
// Health is outside auth so monitoring probes always work. Status polling
// is not rate limited since consumers poll several times a second.
func NewRouter(rs *handler.Runs, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	v1.GET("/health", handler.Health(rs, startTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}

	protected.POST("/runs", middleware.RateLimit(cfg.RateLimit), rs.PostRun())
	protected.GET("/runs/:id", rs.GetRun())

	return r
}
