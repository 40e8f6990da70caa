package strategy

import (
	"errors"
	"fmt"
	"math"

	"bess-dispatch/internal/analysis"
	"bess-dispatch/internal/market"
	"bess-dispatch/internal/model"
)

// ThresholdParams configures the quantile-threshold heuristic.
type ThresholdParams struct {
	LowQuantile  float64
	HighQuantile float64

	// FCRShare is the share of available power offered as FCR (scaled by SOC).
	FCRShare float64
	// AFRRShare is the share of power left after FCR offered per aFRR direction.
	AFRRShare float64

	CyclesPerDay float64

	// UseAFRREnergy enables activation-driven aFRR energy dispatch.
	UseAFRREnergy bool

	// RollingWindowSteps > 0 switches to trailing (causal) thresholds.
	// 0 uses quantiles of the whole horizon, which looks ahead.
	RollingWindowSteps int
}

func DefaultThresholdParams() ThresholdParams {
	return ThresholdParams{
		LowQuantile:  0.30,
		HighQuantile: 0.70,
		FCRShare:     0.5,
		AFRRShare:    0.5,
		CyclesPerDay: 1.0,
	}
}

func (p ThresholdParams) Validate() error {
	if p.LowQuantile < 0 || p.HighQuantile > 1 || p.LowQuantile > p.HighQuantile {
		return errors.New("quantiles must satisfy 0<=low<=high<=1")
	}
	if p.FCRShare < 0 || p.FCRShare > 1 || p.AFRRShare < 0 || p.AFRRShare > 1 {
		return errors.New("reserve shares must be in [0, 1]")
	}
	if p.CyclesPerDay < 0 {
		return errors.New("cycles per day must be >= 0")
	}
	if p.RollingWindowSteps < 0 {
		return errors.New("rolling window must be >= 0")
	}
	return nil
}

// thresholds holds per-step decision levels. Offline mode repeats one value.
type thresholds struct {
	low, high                  []float64
	medFCR, medPos, medNeg     []float64
	medEnergyPos, medEnergyNeg []float64
}

// ThresholdStrategy charges below the low day-ahead quantile, discharges above
// the high quantile and offers reserves when their prices beat the median.
type ThresholdStrategy struct {
	Params ThresholdParams
	th     thresholds
}

func NewThresholdStrategy(a *market.Aligned, p ThresholdParams) (*ThresholdStrategy, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if a == nil || a.Len() == 0 {
		return nil, fmt.Errorf("no steps")
	}
	if !a.HasEnergy {
		p.UseAFRREnergy = false
	}
	s := &ThresholdStrategy{Params: p}

	level := func(in market.Instrument, q float64) []float64 {
		vals := a.Column(in)
		if p.RollingWindowSteps > 0 {
			return analysis.TrailingQuantiles(vals, p.RollingWindowSteps, q)
		}
		v := analysis.Quantile(vals, q)
		out := make([]float64, len(vals))
		for i := range out {
			out[i] = v
		}
		return out
	}
	s.th.low = level(market.DayAhead, p.LowQuantile)
	s.th.high = level(market.DayAhead, p.HighQuantile)
	s.th.medFCR = level(market.FCR, 0.5)
	s.th.medPos = level(market.AFRRCapacityPos, 0.5)
	s.th.medNeg = level(market.AFRRCapacityNeg, 0.5)
	if p.UseAFRREnergy {
		s.th.medEnergyPos = level(market.AFRREnergyPos, 0.5)
		s.th.medEnergyNeg = level(market.AFRREnergyNeg, 0.5)
	}
	return s, nil
}

func (s *ThresholdStrategy) Name() string { return "threshold" }

// Thresholds returns the low/high day-ahead levels used at step i.
func (s *ThresholdStrategy) Thresholds(i int) (low, high float64) {
	if i < 0 || i >= len(s.th.low) {
		return 0, 0
	}
	return s.th.low[i], s.th.high[i]
}

func (s *ThresholdStrategy) Decide(ctx Context) model.DispatchDecision {
	i := ctx.Index
	if i < 0 || i >= len(s.th.low) || ctx.Battery == nil || ctx.StepHours <= 0 {
		return model.DispatchDecision{}
	}
	b := ctx.Battery
	st := ctx.Step
	dt := ctx.StepHours
	p := s.Params

	pMax := b.PowerLimitAtKW(st.TemperatureC)

	socMin, socMax := b.Params.SOCMin, b.Params.SOCMax
	soc := b.SOCFraction()
	socFactor := math.Max(0, soc-socMin) / (socMax - socMin)

	var d model.DispatchDecision
	if st.FCR >= s.th.medFCR[i] {
		d.FCRKW = p.FCRShare * pMax * socFactor
	}
	rest := math.Max(0, pMax-d.FCRKW)
	if st.AFRRPos > s.th.medPos[i] {
		d.AFRRPosKW = math.Min(p.AFRRShare*rest, rest)
	}
	if st.AFRRNeg > s.th.medNeg[i] {
		d.AFRRNegKW = math.Min(p.AFRRShare*rest, rest)
	}
	d.FCRKW, d.AFRRPosKW, d.AFRRNegKW = ShrinkReservations(d.FCRKW, d.AFRRPosKW, d.AFRRNegKW, pMax)

	pAvail := math.Max(0, pMax-d.ReservedKW())
	eHeadroom := math.Max(0, p.CyclesPerDay-ctx.CyclesToday) * b.Params.CapacityKWh
	if eHeadroom <= 0 || pAvail <= 0 {
		// budget spent: keep the reservations, no energy dispatch
		return d
	}

	daCharge := st.DayAhead <= s.th.low[i]
	daDischarge := st.DayAhead >= s.th.high[i]
	if daCharge && daDischarge {
		daCharge = false
	}

	var afrrCharge, afrrDischarge bool
	if p.UseAFRREnergy {
		afrrCharge = st.AFRREnergyNeg > s.th.medEnergyNeg[i]
		afrrDischarge = st.AFRREnergyPos > s.th.medEnergyPos[i]
		if afrrCharge && daDischarge {
			daDischarge = false
		}
		if afrrDischarge && daCharge {
			daCharge = false
		}
		if afrrCharge && afrrDischarge {
			afrrCharge = false
		}
	}

	usable := b.UsableCapacityKWh()
	chargeRoom := math.Max(0, (socMax-soc)*usable)
	dischargeRoom := math.Max(0, (soc-socMin)*usable)

	if soc < socMax && (daCharge || afrrCharge) {
		eAllow := math.Min(math.Min(pAvail*dt, chargeRoom), eHeadroom)
		if daCharge {
			d.ChargeKW = eAllow / dt
		}
		if afrrCharge {
			// aFRR energy shares both the power and the day's throughput left
			left := math.Max(0, math.Min(pAvail, eHeadroom/dt)-d.ChargeKW)
			d.AFRREnergyChargeKW = math.Min(eAllow/dt*ActivationFactor(st.AFRREnergyNeg, Negative), left)
		}
	}
	if soc > socMin && (daDischarge || afrrDischarge) {
		eAllow := math.Min(math.Min(pAvail*dt, dischargeRoom), eHeadroom)
		if daDischarge {
			d.DischargeKW = eAllow / dt
		}
		if afrrDischarge {
			left := math.Max(0, math.Min(pAvail, eHeadroom/dt)-d.DischargeKW)
			d.AFRREnergyDischargeKW = math.Min(eAllow/dt*ActivationFactor(st.AFRREnergyPos, Positive), left)
		}
	}
	return d
}
