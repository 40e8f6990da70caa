package models

import "bess-dispatch/internal/config"

// RunRequest represents the request body for a single simulate or optimize run.
// Embedded overrides are layered onto the server configuration.
type RunRequest struct {
	Country string `json:"country" binding:"required"`
	// CRate and Cycles size the run; zero uses the configured battery c_rate
	// and heuristic cycles_per_day.
	CRate  float64 `json:"c_rate"`
	Cycles float64 `json:"cycles_per_day"`
	config.Overrides

	Options RunOptions `json:"options,omitempty"`
}

// RunOptions controls how much per-step detail is returned.
type RunOptions struct {
	IncludeRows   bool `json:"include_rows,omitempty"`
	IncludeLedger bool `json:"include_ledger,omitempty"`
	IncludeBlocks bool `json:"include_blocks,omitempty"`
}

// SweepRequest represents the request body for a parallel sweep.
// Empty grids fall back to the configured sweep section.
type SweepRequest struct {
	Countries []string  `json:"countries"`
	CRates    []float64 `json:"c_rates"`
	Cycles    []float64 `json:"cycles"`
	Method    string    `json:"method"`
	Workers   int       `json:"workers"`
	config.Overrides

	// IncludeBestRows attaches the operation rows of the best configuration.
	IncludeBestRows bool `json:"include_best_rows,omitempty"`
}

// RankRequest represents the query for ranking countries by arbitrage potential
type RankRequest struct {
	Start string `form:"start"`
	Days  int    `form:"days"`
	Limit int    `form:"limit"`
}
