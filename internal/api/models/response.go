package models

import (
	"time"

	"bess-dispatch/internal/finance"
)

// RunResponse represents the outcome of one (country, configuration) run
type RunResponse struct {
	Country   string             `json:"country"`
	Method    string             `json:"method"`
	CRate     float64            `json:"c_rate"`
	Cycles    float64            `json:"cycles_per_day"`
	PowerKW   float64            `json:"power_kw"`
	Summary   RunSummary         `json:"summary"`
	Finance   finance.Evaluation `json:"finance"`
	Solve     *SolveInfo         `json:"solve,omitempty"`
	Rows      []OperationRow     `json:"rows,omitempty"`
	Ledger    []LedgerRow        `json:"ledger,omitempty"`
	ElapsedMS int64              `json:"elapsed_ms"`
}

// RunSummary contains aggregated run results
type RunSummary struct {
	Window            TimeWindow `json:"window"`
	Steps             int        `json:"steps"`
	Days              float64    `json:"days"`
	EnergyRevenue     float64    `json:"energy_revenue"`
	CapacityRevenue   float64    `json:"capacity_revenue"`
	AgingCost         float64    `json:"aging_cost"`
	TotalRevenue      float64    `json:"total_revenue"`
	NetRevenue        float64    `json:"net_revenue"`
	AnnualizedRevenue float64    `json:"annualized_revenue"`
	FinalSOC          float64    `json:"final_soc"`
	CapacityFade      float64    `json:"capacity_fade"`
	LedgerBalance     float64    `json:"ledger_balance"`
	Transactions      int        `json:"transactions"`
}

// TimeWindow represents a time range
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SolveInfo describes the co-optimization behind an optimizer run.
type SolveInfo struct {
	Status    string     `json:"status"`
	Objective float64    `json:"objective"`
	Nodes     int        `json:"nodes"`
	Blocks    []BlockRow `json:"blocks,omitempty"`
}

// BlockRow is one reserve block of the optimized trajectory
type BlockRow struct {
	Index     int       `json:"index"`
	Start     time.Time `json:"start"`
	FCRKW     float64   `json:"fcr_kw"`
	AFRRPosKW float64   `json:"afrr_pos_kw"`
	AFRRNegKW float64   `json:"afrr_neg_kw"`
}

// OperationRow represents one timestep of the operation series
type OperationRow struct {
	Index                  int       `json:"index"`
	Timestamp              time.Time `json:"timestamp"`
	Day                    int       `json:"day"`
	Price                  float64   `json:"price"`
	TemperatureC           float64   `json:"temperature_c"`
	Action                 string    `json:"action"`
	Status                 string    `json:"status"`
	StoredKWh              float64   `json:"stored_kwh"`
	SOC                    float64   `json:"soc"`
	ChargeKWh              float64   `json:"charge_kwh"`
	DischargeKWh           float64   `json:"discharge_kwh"`
	AFRREnergyChargeKWh    float64   `json:"afrr_energy_charge_kwh"`
	AFRREnergyDischargeKWh float64   `json:"afrr_energy_discharge_kwh"`
	FCRKW                  float64   `json:"fcr_kw"`
	AFRRPosKW              float64   `json:"afrr_pos_kw"`
	AFRRNegKW              float64   `json:"afrr_neg_kw"`
	EnergyRevenue          float64   `json:"energy_revenue"`
	CapacityRevenue        float64   `json:"capacity_revenue"`
	AgingCost              float64   `json:"aging_cost"`
	TotalRevenue           float64   `json:"total_revenue"`
	CumRevenue             float64   `json:"cum_revenue"`
	CapacityFade           float64   `json:"capacity_fade"`
	CyclesToday            float64   `json:"cycles_today"`
}

// LedgerRow represents one ledger transaction
type LedgerRow struct {
	Seq       int     `json:"seq"`
	Type      string  `json:"type"`
	Day       int     `json:"day"`
	UnitPrice string  `json:"unit_price_per_kwh"`
	EnergyKWh float64 `json:"energy_kwh"`
	Amount    string  `json:"amount"`
	Balance   string  `json:"balance"`
}

// SweepResponse represents the outcome of a sweep
type SweepResponse struct {
	Method    string        `json:"method"`
	Pairs     int           `json:"pairs"`
	Failed    int           `json:"failed"`
	Summary   []SweepRecord `json:"summary"`
	Best      *RunResponse  `json:"best,omitempty"`
	ElapsedMS int64         `json:"elapsed_ms"`
}

// SweepRecord is one summary line of a sweep
type SweepRecord struct {
	Country      string  `json:"country"`
	CRate        float64 `json:"c_rate"`
	Cycles       float64 `json:"cycles_per_day"`
	ProfitPerMW  float64 `json:"annual_profit_keur_per_mw"`
	LevelizedROI float64 `json:"levelized_roi"`
	Error        string  `json:"error,omitempty"`
}

// CountryInfo describes the price coverage of one country
type CountryInfo struct {
	Code        string    `json:"code"`
	Instruments []string  `json:"instruments"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// RankResponse represents the response from ranking countries
type RankResponse struct {
	Rankings []Ranking `json:"rankings"`
}

// Ranking represents one ranked country
type Ranking struct {
	Rank           int     `json:"rank"`
	Country        string  `json:"country"`
	Count          int     `json:"count"`
	MinDA          float64 `json:"min_da"`
	MaxDA          float64 `json:"max_da"`
	MeanDA         float64 `json:"mean_da"`
	Spread         float64 `json:"spread_p70_p30"`
	MedianFCR      float64 `json:"median_fcr"`
	MedianAFRRPos  float64 `json:"median_afrr_pos"`
	MedianAFRRNeg  float64 `json:"median_afrr_neg"`
	ArbitrageBound float64 `json:"arbitrage_bound"`
}

// MethodInfo represents information about a dispatch method
type MethodInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ParameterInfo `json:"parameters"`
}

// ParameterInfo describes a method parameter
type ParameterInfo struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"` // "float", "int", "bool", "duration"
	Description string      `json:"description"`
	Default     interface{} `json:"default,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
