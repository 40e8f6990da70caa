package strategy

import "bess-dispatch/internal/model"

// PlanStrategy replays a precomputed decision per step, typically the
// trajectory of the co-optimization model. A step whose total exceeds the
// battery's temperature-derated limit is scaled down to it, since the plan
// was sized against nominal power.
type PlanStrategy struct {
	name string
	plan []model.DispatchDecision
}

// NewPlanStrategy copies plan; values below tol are treated as zero.
func NewPlanStrategy(name string, plan []model.DispatchDecision, tol float64) *PlanStrategy {
	out := make([]model.DispatchDecision, len(plan))
	for i, d := range plan {
		out[i] = model.DispatchDecision{
			ChargeKW:              snap(d.ChargeKW, tol),
			DischargeKW:           snap(d.DischargeKW, tol),
			FCRKW:                 snap(d.FCRKW, tol),
			AFRRPosKW:             snap(d.AFRRPosKW, tol),
			AFRRNegKW:             snap(d.AFRRNegKW, tol),
			AFRREnergyChargeKW:    snap(d.AFRREnergyChargeKW, tol),
			AFRREnergyDischargeKW: snap(d.AFRREnergyDischargeKW, tol),
		}
	}
	return &PlanStrategy{name: name, plan: out}
}

func (s *PlanStrategy) Name() string { return s.name }

func (s *PlanStrategy) Len() int { return len(s.plan) }

func (s *PlanStrategy) Decide(ctx Context) model.DispatchDecision {
	if ctx.Index < 0 || ctx.Index >= len(s.plan) {
		return model.DispatchDecision{}
	}
	d := s.plan[ctx.Index]
	if ctx.Battery == nil {
		return d
	}
	limit := ctx.Battery.PowerLimitAtKW(ctx.Step.TemperatureC)
	if total := d.TotalKW(); total > limit && total > 0 {
		d = scale(d, limit/total)
	}
	return d
}

func scale(d model.DispatchDecision, f float64) model.DispatchDecision {
	return model.DispatchDecision{
		ChargeKW:              d.ChargeKW * f,
		DischargeKW:           d.DischargeKW * f,
		FCRKW:                 d.FCRKW * f,
		AFRRPosKW:             d.AFRRPosKW * f,
		AFRRNegKW:             d.AFRRNegKW * f,
		AFRREnergyChargeKW:    d.AFRREnergyChargeKW * f,
		AFRREnergyDischargeKW: d.AFRREnergyDischargeKW * f,
	}
}

func snap(v, tol float64) float64 {
	if v <= tol {
		return 0
	}
	return v
}
