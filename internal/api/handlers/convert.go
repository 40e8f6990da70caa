package handlers

import (
	"bess-dispatch/internal/api/models"
	"bess-dispatch/internal/backtest"
	"bess-dispatch/internal/ledger"
	"bess-dispatch/internal/optimize"
	"bess-dispatch/internal/sweep"
)

func buildRunResponse(res *sweep.PairResult, opts models.RunOptions) models.RunResponse {
	out := models.RunResponse{
		Country:   res.Country,
		Method:    res.Method,
		CRate:     res.CRate,
		Cycles:    res.Cycles,
		PowerKW:   res.PowerKW,
		Finance:   res.Evaluation,
		ElapsedMS: res.Elapsed.Milliseconds(),
	}
	if res.Result != nil {
		out.Summary = buildSummary(res.Result)
		if opts.IncludeRows {
			out.Rows = buildRows(res.Result.Rows)
		}
		if opts.IncludeLedger {
			out.Ledger = buildLedger(res.Result.Transactions)
		}
	}
	if res.Trajectory != nil {
		out.Solve = buildSolve(res.Trajectory, res.Result, opts.IncludeBlocks)
	}
	return out
}

func buildSummary(r *backtest.Result) models.RunSummary {
	s := models.RunSummary{
		Steps:             len(r.Rows),
		Days:              r.Days,
		EnergyRevenue:     r.EnergyRevenue,
		CapacityRevenue:   r.CapacityRevenue,
		AgingCost:         r.AgingCost,
		TotalRevenue:      r.TotalRevenue,
		NetRevenue:        r.NetRevenue,
		AnnualizedRevenue: r.AnnualizedRevenue,
		FinalSOC:          r.FinalSOC,
		CapacityFade:      r.CapacityFade,
		LedgerBalance:     r.LedgerBalance,
		Transactions:      len(r.Transactions),
	}
	if n := len(r.Rows); n > 0 {
		s.Window.Start = r.Rows[0].Timestamp
		s.Window.End = r.Rows[n-1].Timestamp
		if n > 1 {
			s.Window.End = s.Window.End.Add(r.Rows[1].Timestamp.Sub(r.Rows[0].Timestamp))
		}
	}
	return s
}

func buildRows(rows []backtest.OperationRow) []models.OperationRow {
	out := make([]models.OperationRow, len(rows))
	for i, r := range rows {
		out[i] = models.OperationRow{
			Index:                  r.Index,
			Timestamp:              r.Timestamp,
			Day:                    r.Day,
			Price:                  r.Price,
			TemperatureC:           r.TemperatureC,
			Action:                 string(r.Action),
			Status:                 string(r.Status),
			StoredKWh:              r.StoredKWh,
			SOC:                    r.SOC,
			ChargeKWh:              r.ChargeKWh,
			DischargeKWh:           r.DischargeKWh,
			AFRREnergyChargeKWh:    r.AFRREnergyChargeKWh,
			AFRREnergyDischargeKWh: r.AFRREnergyDischargeKWh,
			FCRKW:                  r.FCRKW,
			AFRRPosKW:              r.AFRRPosKW,
			AFRRNegKW:              r.AFRRNegKW,
			EnergyRevenue:          r.EnergyRevenue,
			CapacityRevenue:        r.CapacityRevenue,
			AgingCost:              r.AgingCost,
			TotalRevenue:           r.TotalRevenue,
			CumRevenue:             r.CumRevenue,
			CapacityFade:           r.CapacityFade,
			CyclesToday:            r.CyclesToday,
		}
	}
	return out
}

func buildLedger(txs []ledger.Transaction) []models.LedgerRow {
	out := make([]models.LedgerRow, len(txs))
	for i, tx := range txs {
		out[i] = models.LedgerRow{
			Seq:       tx.Seq,
			Type:      string(tx.Type),
			Day:       tx.Day,
			UnitPrice: tx.UnitPrice.String(),
			EnergyKWh: tx.EnergyKWh,
			Amount:    tx.Amount.StringFixed(2),
			Balance:   tx.Balance.StringFixed(2),
		}
	}
	return out
}

func buildSolve(tr *optimize.Trajectory, r *backtest.Result, withBlocks bool) *models.SolveInfo {
	info := &models.SolveInfo{
		Status:    string(tr.Status),
		Objective: tr.Objective,
		Nodes:     tr.Nodes,
	}
	if !withBlocks {
		return info
	}
	info.Blocks = make([]models.BlockRow, len(tr.Blocks))
	for b, bp := range tr.Blocks {
		row := models.BlockRow{
			Index:     b,
			FCRKW:     bp.FCRKW,
			AFRRPosKW: bp.AFRRPosKW,
			AFRRNegKW: bp.AFRRNegKW,
		}
		if t := b * tr.StepsPerBlock; r != nil && t < len(r.Rows) {
			row.Start = r.Rows[t].Timestamp
		}
		info.Blocks[b] = row
	}
	return info
}

func buildRecords(recs []sweep.Record) []models.SweepRecord {
	out := make([]models.SweepRecord, len(recs))
	for i, r := range recs {
		out[i] = models.SweepRecord(r)
	}
	return out
}
