package handlers

import (
	"net/http"

	"bess-dispatch/internal/api/models"
	"bess-dispatch/internal/config"
	"bess-dispatch/internal/optimize"

	"github.com/gin-gonic/gin"
)

// MethodHandler describes the dispatch methods and their effective defaults
type MethodHandler struct {
	cfg *config.Config
}

func NewMethodHandler(cfg *config.Config) *MethodHandler {
	return &MethodHandler{cfg: cfg}
}

// ListMethods handles GET /api/v1/methods
func (h *MethodHandler) ListMethods(c *gin.Context) {
	hc, oc := h.cfg.Heuristic, h.cfg.Optimizer
	allowPartial := oc.AllowPartial == nil || *oc.AllowPartial
	op := h.cfg.OptimizerParams(h.cfg.Battery.ToModelParams(), hc.CyclesPerDay)
	lpMethod, err := optimize.ParseLPMethod(oc.LPMethod)
	if err != nil {
		lpMethod = optimize.LPTableau
	}
	methods := []models.MethodInfo{
		{
			Name:        config.MethodHeuristic,
			Description: "Price-quantile threshold dispatch with reserve sizing against median capacity prices.",
			Parameters: []models.ParameterInfo{
				{Name: "low_quantile", Type: "float", Description: "Day-ahead quantile below which the battery charges", Default: hc.LowQuantile},
				{Name: "high_quantile", Type: "float", Description: "Day-ahead quantile above which the battery discharges", Default: hc.HighQuantile},
				{Name: "fcr_share", Type: "float", Description: "Share of power offered as FCR when its price is above median", Default: hc.FCRShare},
				{Name: "afrr_share", Type: "float", Description: "Share of the remaining power offered as aFRR", Default: hc.AFRRShare},
				{Name: "cycles_per_day", Type: "float", Description: "Daily full-cycle budget", Default: hc.CyclesPerDay},
				{Name: "use_afrr_energy", Type: "bool", Description: "Settle price-dependent aFRR activations", Default: hc.UseAFRREnergy},
				{Name: "rolling_window_steps", Type: "int", Description: "Trailing quantile window; 0 uses the whole horizon", Default: hc.RollingWindowSteps},
			},
		},
		{
			Name:        config.MethodOptimizer,
			Description: "Mixed-integer co-optimization of energy and reserves over the whole horizon, replayed through the battery model.",
			Parameters: []models.ParameterInfo{
				{Name: "solver", Type: "string", Description: "auto, highs or branch_and_bound", Default: oc.SolverName()},
				{Name: "lp_method", Type: "string", Description: "Node simplex of branch_and_bound: tableau or gonum", Default: string(lpMethod)},
				{Name: "max_nodes", Type: "int", Description: "Branch-and-bound node limit per window", Default: oc.MaxNodes},
				{Name: "mip_gap", Type: "float", Description: "Relative optimality gap for highs; 0 keeps its default", Default: oc.MIPGap},
				{Name: "time_limit", Type: "duration", Description: "Wall-clock limit per window", Default: oc.TimeLimit.String()},
				{Name: "allow_partial", Type: "bool", Description: "Accept the best incumbent when a limit is hit", Default: allowPartial},
				{Name: "window_steps", Type: "int", Description: "Opt-in rolling window length in steps; 0 solves the whole horizon", Default: oc.WindowSteps},
				{Name: "activation_ratio", Type: "float", Description: "Expected share of reserved aFRR that is activated", Default: op.ActivationRatio},
				{Name: "terminal_soc", Type: "float", Description: "Optional end-of-horizon state of charge"},
			},
		},
	}
	c.JSON(http.StatusOK, gin.H{"methods": methods})
}
