// Package api is the HTTP surface over the dispatch engine.
package api

import (
	"net/http"

	"bess-dispatch/internal/api/handlers"
	"bess-dispatch/internal/api/middleware"
	"bess-dispatch/internal/config"
	"bess-dispatch/internal/data"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configures NewRouter.
type Options struct {
	// AllowedOrigins for CORS; empty allows any origin.
	AllowedOrigins []string
}

// NewRouter wires middleware, handlers and routes. cfg must be validated.
func NewRouter(cfg *config.Config, cache *data.AlignedCache, opts Options) *gin.Engine {
	router := gin.New()

	router.Use(middleware.CORS(opts.AllowedOrigins...))
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorHandler())

	runHandler := handlers.NewRunHandler(cfg, cache)
	sweepHandler := handlers.NewSweepHandler(cfg, cache)
	marketHandler := handlers.NewMarketHandler(cache)
	methodHandler := handlers.NewMethodHandler(cfg)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "countries": len(cache.Set().Countries())})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.POST("/simulate", runHandler.Simulate)
		api.POST("/optimize", runHandler.Optimize)
		api.POST("/sweep", sweepHandler.Run)

		api.GET("/countries", marketHandler.ListCountries)
		api.GET("/rank", marketHandler.Rank)
		api.GET("/methods", methodHandler.ListMethods)
	}
	return router
}
