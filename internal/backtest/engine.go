package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"bess-dispatch/internal/log"
	"bess-dispatch/internal/market"
	"bess-dispatch/internal/model"
	"bess-dispatch/internal/strategy"
)

// AgingParams prices capacity fade. A full loss down to end-of-life health costs
// CostPerKWh * capacity.
type AgingParams struct {
	CostPerKWh   float64
	SOHEndOfLife float64
}

func DefaultAging() AgingParams {
	return AgingParams{CostPerKWh: 50, SOHEndOfLife: 0.7}
}

type Engine struct {
	Aging AgingParams
}

// dispatchTolKW absorbs rounding when a decision sits exactly on its limit.
const dispatchTolKW = 1e-6

func New() *Engine { return &Engine{Aging: DefaultAging()} }

// Run executes a sequential simulation over an aligned price window.
// Each step asks strat for a decision and applies it through the battery, which
// clamps to physical limits and records every transaction in its ledger. A
// decision that charges and discharges at once, or whose total exceeds the
// temperature-derated power limit, fails the run.
func (e *Engine) Run(ctx context.Context, a *market.Aligned, batt *model.Battery, strat strategy.Strategy) (*Result, error) {
	if batt == nil {
		return nil, errors.New("battery is nil")
	}
	if strat == nil {
		return nil, errors.New("strategy is nil")
	}
	if a == nil || a.Len() == 0 {
		return nil, errors.New("no steps")
	}
	dt := a.StepHours
	if dt <= 0 {
		return nil, fmt.Errorf("non-positive step of %v hours", dt)
	}

	res := &Result{
		Strategy: strat.Name(),
		Country:  a.Country,
		Rows:     make([]OperationRow, 0, a.Len()),
	}

	cyclesToday := 0.0
	day := a.Steps[0].Day
	cum := 0.0
	for idx, st := range a.Steps {
		if st.Day != day {
			day = st.Day
			cyclesToday = 0
		}

		d := strat.Decide(strategy.Context{
			Index:       idx,
			Step:        st,
			StepHours:   dt,
			Battery:     batt,
			CyclesToday: cyclesToday,
		})
		if err := d.Validate(batt.PowerLimitAtKW(st.TemperatureC), dispatchTolKW); err != nil {
			return nil, fmt.Errorf("step %d: %w", idx, err)
		}

		row := e.apply(batt, st, d, dt)
		row.Index = idx
		// throughput in multiples of nominal capacity, as the optimizer's daily cap counts it
		cyclesToday += (row.ChargeKWh + row.AFRREnergyChargeKWh + row.DischargeKWh + row.AFRREnergyDischargeKWh) / batt.Params.CapacityKWh
		row.CyclesToday = cyclesToday

		cum += row.TotalRevenue
		row.CumRevenue = cum

		res.EnergyRevenue += row.EnergyRevenue
		res.CapacityRevenue += row.CapacityRevenue
		res.AgingCost += row.AgingCost
		res.Rows = append(res.Rows, row)
	}

	res.TotalRevenue = cum
	res.NetRevenue = cum - res.AgingCost
	res.Days = float64(a.Len()) * dt / 24
	if res.Days > 0 {
		res.AnnualizedRevenue = res.TotalRevenue * 365 / res.Days
	}
	res.FinalSOC = batt.SOCFraction()
	res.CapacityFade = batt.State.CapacityFade
	res.Transactions = batt.Ledger.History()
	res.LedgerBalance = batt.Ledger.BalanceFloat()

	log.Ctx(ctx).DebugContext(ctx, "simulation finished",
		slog.String("strategy", res.Strategy),
		slog.String("country", res.Country),
		slog.Int("steps", len(res.Rows)),
		slog.Float64("totalRevenue", res.TotalRevenue),
		slog.Float64("agingCost", res.AgingCost),
	)
	return res, nil
}

// apply books reservations first, then energy, all at the step's prices.
func (e *Engine) apply(batt *model.Battery, st market.Step, d model.DispatchDecision, dt float64) OperationRow {
	cyclesBefore := batt.State.TotalWeightedCycles
	row := OperationRow{
		Timestamp:    st.Time,
		Day:          st.Day,
		Price:        st.DayAhead,
		TemperatureC: st.TemperatureC,
	}

	reserved := false
	if d.FCRKW > 0 {
		r := batt.ReserveCapacity(st.FCR, model.KW(d.FCRKW), dt, st.Day)
		if r.Status == model.ResultOK {
			row.FCRKW = r.PowerKW
			row.CapacityRevenue += r.Revenue
			reserved = true
		}
	}
	if d.AFRRPosKW > 0 {
		row.AFRRPosKW = d.AFRRPosKW
		row.CapacityRevenue += batt.SellCapacity(st.AFRRPos, d.AFRRPosKW, dt, st.Day)
		reserved = true
	}
	if d.AFRRNegKW > 0 {
		row.AFRRNegKW = d.AFRRNegKW
		row.CapacityRevenue += batt.SellCapacity(st.AFRRNeg, d.AFRRNegKW, dt, st.Day)
		reserved = true
	}

	temp := st.TemperatureC
	if d.ChargeKW > 0 {
		r := batt.Charge(st.DayAhead, model.KW(d.ChargeKW), dt, st.Day, false, temp)
		row.ChargeKWh = r.EnergyGridKWh
		row.EnergyRevenue += r.Revenue
	}
	if d.AFRREnergyChargeKW > 0 {
		r := batt.Charge(st.AFRREnergyNeg, model.KW(d.AFRREnergyChargeKW), dt, st.Day, true, temp)
		row.AFRREnergyChargeKWh = r.EnergyGridKWh
		row.EnergyRevenue += r.Revenue
	}
	if d.DischargeKW > 0 {
		r := batt.Discharge(st.DayAhead, model.KW(d.DischargeKW), dt, st.Day, temp)
		row.DischargeKWh = r.EnergyGridKWh
		row.EnergyRevenue += r.Revenue
	}
	if d.AFRREnergyDischargeKW > 0 {
		r := batt.Discharge(st.AFRREnergyPos, model.KW(d.AFRREnergyDischargeKW), dt, st.Day, temp)
		row.AFRREnergyDischargeKWh = r.EnergyGridKWh
		row.EnergyRevenue += r.Revenue
	}

	switch {
	case row.ChargeKWh+row.AFRREnergyChargeKWh > 0:
		batt.State.Action = model.ActionCharge
	case row.DischargeKWh+row.AFRREnergyDischargeKWh > 0:
		batt.State.Action = model.ActionDischarge
	case reserved:
		batt.State.Action = model.ActionReserve
	default:
		batt.SetIdle()
	}
	row.Action = batt.State.Action
	row.Status = batt.State.Status

	row.StoredKWh = batt.State.SOCKWh
	row.SOC = batt.SOCFraction()
	row.CapacityFade = batt.State.CapacityFade
	row.TotalRevenue = row.EnergyRevenue + row.CapacityRevenue

	if e.Aging.SOHEndOfLife < 1 {
		fade := batt.AccruedFade(batt.State.TotalWeightedCycles - cyclesBefore)
		row.AgingCost = e.Aging.CostPerKWh * batt.Params.CapacityKWh / (1 - e.Aging.SOHEndOfLife) * fade
	}
	return row
}
