package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"bess-dispatch/internal/api/models"
	"bess-dispatch/internal/config"
	"bess-dispatch/internal/data"
	"bess-dispatch/internal/sweep"

	"github.com/gin-gonic/gin"
)

// SweepHandler runs parallel (country, configuration) sweeps
type SweepHandler struct {
	cfg   *config.Config
	cache *data.AlignedCache
}

func NewSweepHandler(cfg *config.Config, cache *data.AlignedCache) *SweepHandler {
	return &SweepHandler{cfg: cfg, cache: cache}
}

// Run handles POST /api/v1/sweep. An empty body sweeps the configured grid.
func (h *SweepHandler) Run(c *gin.Context) {
	var req models.SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	cfg, err := h.cfg.Apply(req.Overrides)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_CONFIG", err)
		return
	}
	if len(req.Countries) > 0 {
		cfg.Sweep.Countries = make([]string, len(req.Countries))
		for i, cc := range req.Countries {
			cfg.Sweep.Countries[i] = strings.ToUpper(strings.TrimSpace(cc))
		}
	}
	if len(req.CRates) > 0 {
		cfg.Sweep.CRates = req.CRates
	}
	if len(req.Cycles) > 0 {
		cfg.Sweep.Cycles = req.Cycles
	}
	if req.Method != "" {
		cfg.Sweep.Method = req.Method
	}
	if req.Workers != 0 {
		cfg.Sweep.Workers = req.Workers
	}
	if err := cfg.Validate(); err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_CONFIG", err)
		return
	}

	start := time.Now()
	runner := sweep.NewRunner(cfg, h.cache)
	pairs := runner.Pairs()
	rep, err := runner.Run(c.Request.Context(), cfg.Sweep.Method, pairs)
	if err != nil {
		writeRunError(c, err)
		return
	}

	resp := models.SweepResponse{
		Method:    rep.Method,
		Pairs:     len(pairs),
		Failed:    rep.Failed,
		Summary:   buildRecords(rep.Summary),
		ElapsedMS: time.Since(start).Milliseconds(),
	}
	if rep.Best != nil {
		best := buildRunResponse(rep.Best, models.RunOptions{IncludeRows: req.IncludeBestRows})
		resp.Best = &best
	}
	c.JSON(http.StatusOK, resp)
}
