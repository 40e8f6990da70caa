package backtest

import (
	"time"

	"bess-dispatch/internal/ledger"
	"bess-dispatch/internal/model"
)

// OperationRow is one row of per-step output.
// This is the primary artifact for "what happened" in a run.
type OperationRow struct {
	Index     int
	Timestamp time.Time
	Day       int

	Price        float64
	TemperatureC float64

	Action model.Action
	Status model.Status

	StoredKWh float64
	SOC       float64

	// Grid-side energies.
	ChargeKWh              float64
	DischargeKWh           float64
	AFRREnergyChargeKWh    float64
	AFRREnergyDischargeKWh float64

	FCRKW     float64
	AFRRPosKW float64
	AFRRNegKW float64

	EnergyRevenue   float64
	CapacityRevenue float64
	AgingCost       float64
	// TotalRevenue is energy plus capacity revenue; aging cost is reported separately.
	TotalRevenue float64
	CumRevenue   float64

	CapacityFade float64
	CyclesToday  float64
}

type Result struct {
	Strategy string
	Country  string

	Rows []OperationRow

	EnergyRevenue   float64
	CapacityRevenue float64
	AgingCost       float64
	TotalRevenue    float64
	NetRevenue      float64
	// AnnualizedRevenue scales TotalRevenue to 365 days.
	AnnualizedRevenue float64

	Days         float64
	FinalSOC     float64
	CapacityFade float64

	Transactions  []ledger.Transaction
	LedgerBalance float64
}
