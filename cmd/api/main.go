package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bess-dispatch/internal/api"
	"bess-dispatch/internal/config"
	"bess-dispatch/internal/data"
	"bess-dispatch/internal/log"
	"bess-dispatch/internal/market"

	"github.com/gin-gonic/gin"
)

func main() {
	log.SetDefaultLogLevel(log.ParseLevel(os.Getenv("LOG_LEVEL")))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Ctx(ctx).Error("api server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Get configuration from environment
	port := os.Getenv("API_PORT")
	if port == "" {
		port = "8080"
	}

	cfg, err := loadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}
	set, err := loadPrices(ctx, os.Getenv("PRICES_FILE"), cfg)
	if err != nil {
		return err
	}
	ttl := time.Hour
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if ttl, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("CACHE_TTL: %w", err)
		}
	}
	cache := data.NewAlignedCache(set, ttl)

	if os.Getenv("API_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	var origins []string
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins = strings.Split(v, ",")
	}
	router := api.NewRouter(cfg, cache, api.Options{AllowedOrigins: origins})
	serveStatic(ctx, router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Ctx(ctx).Info("starting API server", "addr", srv.Addr, "countries", set.Countries())
		errCh <- srv.ListenAndServe()
	}()

	pruneCache(ctx, cache, ttl)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Ctx(ctx).Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		cfg.ApplyDefaults()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

// loadPrices reads PRICES_FILE, or falls back to a week of synthetic prices
// for the configured sweep countries.
func loadPrices(ctx context.Context, path string, cfg *config.Config) (*market.Set, error) {
	if path != "" {
		set, err := data.LoadSet(path)
		if err != nil {
			return nil, fmt.Errorf("load prices: %w", err)
		}
		return set, nil
	}
	start, err := cfg.Sweep.StartTime()
	if err != nil {
		return nil, err
	}
	if start.IsZero() {
		start = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	}
	days := cfg.Sweep.Days
	if days == 0 {
		days = 7
	}
	log.Ctx(ctx).Warn("PRICES_FILE not set, serving synthetic prices", "start", start, "days", days)
	return data.ToSet(data.Synthetic(cfg.Sweep.Countries, start, days, 15*time.Minute, 1))
}

// serveStatic serves a built frontend from STATIC_DIR (default ./web/dist) if present.
func serveStatic(ctx context.Context, router *gin.Engine) {
	staticDir := os.Getenv("STATIC_DIR")
	if staticDir == "" {
		staticDir = "./web/dist"
	}
	if _, err := os.Stat(staticDir); err != nil {
		log.Ctx(ctx).Debug("static directory not found, skipping static file serving", "dir", staticDir)
		return
	}
	router.Static("/assets", staticDir+"/assets")
	router.StaticFile("/favicon.ico", staticDir+"/favicon.ico")

	// Serve index.html for all non-API routes (SPA routing)
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "Not found"}})
			return
		}
		c.File(staticDir + "/index.html")
	})
	log.Ctx(ctx).Info("serving static files", "dir", staticDir)
}

// pruneCache evicts expired aligned windows until ctx is done.
func pruneCache(ctx context.Context, cache *data.AlignedCache, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(ttl)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := cache.Prune(); n > 0 {
					log.Ctx(ctx).Debug("pruned aligned cache", slog.Int("evicted", n))
				}
			}
		}
	}()
}
