package handlers

import (
	"errors"
	"net/http"
	"strings"

	"bess-dispatch/internal/api/models"
	"bess-dispatch/internal/config"
	"bess-dispatch/internal/data"
	"bess-dispatch/internal/sweep"

	"github.com/gin-gonic/gin"
)

// RunHandler handles single-pair simulate and optimize requests
type RunHandler struct {
	cfg   *config.Config
	cache *data.AlignedCache
}

// NewRunHandler creates a new run handler. cfg must already be validated.
func NewRunHandler(cfg *config.Config, cache *data.AlignedCache) *RunHandler {
	return &RunHandler{cfg: cfg, cache: cache}
}

// Simulate handles POST /api/v1/simulate (heuristic dispatch)
func (h *RunHandler) Simulate(c *gin.Context) {
	h.run(c, config.MethodHeuristic)
}

// Optimize handles POST /api/v1/optimize (exact co-optimization replayed through the battery)
func (h *RunHandler) Optimize(c *gin.Context) {
	h.run(c, config.MethodOptimizer)
}

func (h *RunHandler) run(c *gin.Context, method string) {
	var req models.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	cfg, err := h.cfg.Apply(req.Overrides)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_CONFIG", err)
		return
	}

	pair := sweep.Pair{
		Country: strings.ToUpper(strings.TrimSpace(req.Country)),
		CRate:   req.CRate,
		Cycles:  req.Cycles,
	}
	if pair.CRate == 0 {
		pair.CRate = cfg.Battery.CRate
	}
	if pair.Cycles == 0 {
		pair.Cycles = cfg.Heuristic.CyclesPerDay
	}
	if pair.CRate < 0 || pair.Cycles < 0 {
		abortWithError(c, http.StatusBadRequest, "INVALID_CONFIG", errors.New("c_rate and cycles_per_day must be >= 0"))
		return
	}

	res := sweep.NewRunner(cfg, h.cache).Evaluate(c.Request.Context(), method, pair)
	if res.Err != nil {
		writeRunError(c, res.Err)
		return
	}
	c.JSON(http.StatusOK, buildRunResponse(&res, req.Options))
}
