package optimize

import (
	"errors"
	"fmt"
	"math"

	"bess-dispatch/internal/market"
	"bess-dispatch/internal/model"
)

// Params configure the battery co-optimization.
type Params struct {
	CapacityKWh         float64
	RatedPowerKW        float64
	Derate              float64 // multiplier on rated power, 1 = none
	CRate               float64
	ChargeEfficiency    float64
	DischargeEfficiency float64
	SOCMin              float64
	SOCMax              float64
	InitialSOC          float64
	TerminalSOC         *float64
	CyclesPerDay        float64
	// ActivationRatio is the share of an aFRR reservation assumed to be
	// activated as energy in every step of its block.
	ActivationRatio float64
}

// ParamsFromBattery derives optimizer parameters from battery parameters,
// starting at the lower SOC bound.
func ParamsFromBattery(b model.BatteryParams, cyclesPerDay float64) Params {
	return Params{
		CapacityKWh:         b.CapacityKWh,
		RatedPowerKW:        b.RatedPowerKW,
		Derate:              1,
		CRate:               b.MaxCRate,
		ChargeEfficiency:    b.ChargeEfficiency,
		DischargeEfficiency: b.DischargeEfficiency,
		SOCMin:              b.SOCMin,
		SOCMax:              b.SOCMax,
		InitialSOC:          b.SOCMin,
		CyclesPerDay:        cyclesPerDay,
		ActivationRatio:     0.1,
	}
}

func (p Params) Validate() error {
	switch {
	case p.CapacityKWh <= 0:
		return errors.New("capacity_kwh must be > 0")
	case p.RatedPowerKW <= 0:
		return errors.New("rated_power_kw must be > 0")
	case p.Derate <= 0 || p.Derate > 1:
		return errors.New("derate must be in (0,1]")
	case p.CRate <= 0:
		return errors.New("c_rate must be > 0")
	case p.ChargeEfficiency <= 0 || p.ChargeEfficiency > 1:
		return errors.New("charge_efficiency must be in (0,1]")
	case p.DischargeEfficiency <= 0 || p.DischargeEfficiency > 1:
		return errors.New("discharge_efficiency must be in (0,1]")
	case p.SOCMin < 0 || p.SOCMax > 1 || p.SOCMin >= p.SOCMax:
		return errors.New("soc bounds must satisfy 0 <= soc_min < soc_max <= 1")
	case p.InitialSOC < p.SOCMin || p.InitialSOC > p.SOCMax:
		return errors.New("initial_soc must lie within the soc bounds")
	case p.TerminalSOC != nil && (*p.TerminalSOC < p.SOCMin || *p.TerminalSOC > p.SOCMax):
		return errors.New("terminal_soc must lie within the soc bounds")
	case p.CyclesPerDay <= 0:
		return errors.New("cycles_per_day must be > 0")
	case p.ActivationRatio < 0 || p.ActivationRatio > 1:
		return errors.New("activation_ratio must be in [0,1]")
	}
	return nil
}

// PowerKW is the derated nominal power.
func (p Params) PowerKW() float64 { return p.RatedPowerKW * p.Derate }

// CRatePowerKW is the absolute charge/discharge ceiling.
func (p Params) CRatePowerKW() float64 { return math.Min(p.PowerKW(), p.CRate*p.CapacityKWh) }

// Problem is one horizon of prices. Block prices are indexed by block, where
// block b covers steps [b*StepsPerBlock, (b+1)*StepsPerBlock).
type Problem struct {
	StepHours     float64
	StepsPerBlock int
	StepsPerDay   int
	// DayOffset is the position of the first step within its day and UsedKWh
	// the charge+discharge throughput already spent earlier that day.
	DayOffset int
	UsedKWh   float64

	DayAhead []float64 // EUR/MWh per step
	FCR      []float64 // EUR/MW/h per block
	AFRRPos  []float64
	AFRRNeg  []float64
}

// NewProblem samples block prices at each block's first step.
func NewProblem(a *market.Aligned) Problem {
	spb := a.StepsPerBlock()
	nb := (a.Len() + spb - 1) / spb
	p := Problem{
		StepHours:     a.StepHours,
		StepsPerBlock: spb,
		StepsPerDay:   a.StepsPerDay(),
		DayAhead:      a.Column(market.DayAhead),
		FCR:           make([]float64, nb),
		AFRRPos:       make([]float64, nb),
		AFRRNeg:       make([]float64, nb),
	}
	for b := 0; b < nb; b++ {
		st := a.Steps[b*spb]
		p.FCR[b], p.AFRRPos[b], p.AFRRNeg[b] = st.FCR, st.AFRRPos, st.AFRRNeg
	}
	return p
}

func (pr Problem) Steps() int  { return len(pr.DayAhead) }
func (pr Problem) Blocks() int { return len(pr.FCR) }

func (pr Problem) block(t int) int { return t / pr.StepsPerBlock }

func (pr Problem) blockRange(b int) (int, int) {
	from := b * pr.StepsPerBlock
	return from, min(from+pr.StepsPerBlock, pr.Steps())
}

// dayRanges splits the horizon at day boundaries.
func (pr Problem) dayRanges() [][2]int {
	var out [][2]int
	from := 0
	for from < pr.Steps() {
		to := from + pr.StepsPerDay
		if from == 0 {
			to -= pr.DayOffset
		}
		to = min(to, pr.Steps())
		out = append(out, [2]int{from, to})
		from = to
	}
	return out
}

// dayBudgetKWh is the throughput allowed in day range d.
func (pr Problem) dayBudgetKWh(p Params, d int) float64 {
	budget := p.CyclesPerDay * p.CapacityKWh
	if d == 0 {
		budget = math.Max(0, budget-pr.UsedKWh)
	}
	return budget
}

// Slice returns the steps [from, to). from must fall on a block boundary.
// The caller sets UsedKWh for the slice.
func (pr Problem) Slice(from, to int) Problem {
	bf := from / pr.StepsPerBlock
	bt := (to + pr.StepsPerBlock - 1) / pr.StepsPerBlock
	out := pr
	out.DayOffset = (pr.DayOffset + from) % pr.StepsPerDay
	out.UsedKWh = 0
	out.DayAhead = pr.DayAhead[from:to]
	out.FCR = pr.FCR[bf:bt]
	out.AFRRPos = pr.AFRRPos[bf:bt]
	out.AFRRNeg = pr.AFRRNeg[bf:bt]
	return out
}

func (pr Problem) Validate() error {
	switch {
	case pr.StepHours <= 0:
		return errors.New("step duration must be positive")
	case pr.StepsPerBlock <= 0 || pr.StepsPerDay <= 0:
		return errors.New("block and day windows must be positive")
	case pr.Steps() == 0:
		return errors.New("empty horizon")
	case pr.DayOffset < 0 || pr.DayOffset >= pr.StepsPerDay:
		return errors.New("day offset outside the day")
	case pr.UsedKWh < 0:
		return errors.New("used throughput must be >= 0")
	}
	nb := (pr.Steps() + pr.StepsPerBlock - 1) / pr.StepsPerBlock
	if len(pr.FCR) != nb || len(pr.AFRRPos) != nb || len(pr.AFRRNeg) != nb {
		return fmt.Errorf("expected %d block prices", nb)
	}
	return nil
}

// Formulation is a built model plus the variable handles needed to read it back.
type Formulation struct {
	Model   *Model
	Params  Params
	Problem Problem

	Pch, Pdis, SoC, UCh, UDis []VarID
	FCR, AFRRPos, AFRRNeg     []VarID
}

// Build declares the co-optimization model. Powers are in MW and energy in
// MWh inside the model; prices are per MWh so the objective is in EUR.
func Build(p Params, pr Problem) (*Formulation, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("optimizer params: %w", err)
	}
	if err := pr.Validate(); err != nil {
		return nil, fmt.Errorf("optimizer problem: %w", err)
	}

	T, B := pr.Steps(), pr.Blocks()
	dt := pr.StepHours
	capMWh := p.CapacityKWh / 1000
	pnom := p.PowerKW() / 1000
	pmax := p.CRatePowerKW() / 1000
	inf := math.Inf(1)

	m := NewModel("bess")
	f := &Formulation{Model: m, Params: p, Problem: pr}

	// Power and reservation ceilings come from the c-rate and power-cap rows.
	f.Pch = m.AddVars("pch", T, 0, inf, false)
	f.Pdis = m.AddVars("pdis", T, 0, inf, false)
	f.SoC = m.AddVars("soc", T, p.SOCMin, p.SOCMax, false)
	f.UCh = m.AddVars("u_ch", T, 0, 1, true)
	f.UDis = m.AddVars("u_dis", T, 0, 1, true)
	f.FCR = m.AddVars("r_fcr", B, 0, inf, false)
	f.AFRRPos = m.AddVars("r_afrr_pos", B, 0, inf, false)
	f.AFRRNeg = m.AddVars("r_afrr_neg", B, 0, inf, false)

	obj := Expr{}
	for t := 0; t < T; t++ {
		obj = obj.Plus(f.Pdis[t], pr.DayAhead[t]*dt).Plus(f.Pch[t], -pr.DayAhead[t]*dt)
	}
	for b := 0; b < B; b++ {
		from, to := pr.blockRange(b)
		h := float64(to-from) * dt
		obj = obj.Plus(f.FCR[b], pr.FCR[b]*h).Plus(f.AFRRPos[b], pr.AFRRPos[b]*h).Plus(f.AFRRNeg[b], pr.AFRRNeg[b]*h)
	}
	m.SetObjective(Maximize, obj)

	act := p.ActivationRatio * dt / capMWh
	m.AddConstraints("soc_balance", T, func(t int) (Row, bool) {
		b := pr.block(t)
		e := Sum(
			Term{f.SoC[t], 1},
			Term{f.Pch[t], -p.ChargeEfficiency * dt / capMWh},
			Term{f.Pdis[t], dt / (p.DischargeEfficiency * capMWh)},
			Term{f.AFRRNeg[b], -act},
			Term{f.AFRRPos[b], act},
		)
		if t == 0 {
			return EQ(e, p.InitialSOC), true
		}
		return EQ(e.Plus(f.SoC[t-1], -1), 0), true
	})
	m.AddConstraints("no_simultaneous", T, func(t int) (Row, bool) {
		return LE(Sum(Term{f.UCh[t], 1}, Term{f.UDis[t], 1}), 1), true
	})
	m.AddConstraints("bind_charge", T, func(t int) (Row, bool) {
		return LE(Sum(Term{f.Pch[t], 1}, Term{f.AFRRNeg[pr.block(t)], 1}, Term{f.UCh[t], -pnom}), 0), true
	})
	m.AddConstraints("bind_discharge", T, func(t int) (Row, bool) {
		return LE(Sum(Term{f.Pdis[t], 1}, Term{f.AFRRPos[pr.block(t)], 1}, Term{f.UDis[t], -pnom}), 0), true
	})
	m.AddConstraints("crate_charge", T, func(t int) (Row, bool) {
		return LE(Sum(Term{f.Pch[t], 1}, Term{f.AFRRNeg[pr.block(t)], 1}), pmax), true
	})
	m.AddConstraints("crate_discharge", T, func(t int) (Row, bool) {
		return LE(Sum(Term{f.Pdis[t], 1}, Term{f.AFRRPos[pr.block(t)], 1}), pmax), true
	})
	m.AddConstraints("power_cap", T, func(t int) (Row, bool) {
		b := pr.block(t)
		return LE(Sum(
			Term{f.Pch[t], 1},
			Term{f.Pdis[t], 1},
			Term{f.FCR[b], 1},
			Term{f.AFRRPos[b], 1},
			Term{f.AFRRNeg[b], 1},
		), pnom), true
	})
	m.AddConstraints("fcr_energy", B, func(b int) (Row, bool) {
		from, _ := pr.blockRange(b)
		return LE(Sum(Term{f.FCR[b], 1}, Term{f.SoC[from], -capMWh}), -p.SOCMin*capMWh), true
	})
	m.AddConstraints("afrr_pos_energy", B, func(b int) (Row, bool) {
		from, to := pr.blockRange(b)
		h := float64(to-from) * dt
		return LE(Sum(Term{f.AFRRPos[b], h}, Term{f.SoC[to-1], -capMWh}), -p.SOCMin*capMWh), true
	})
	m.AddConstraints("afrr_neg_headroom", B, func(b int) (Row, bool) {
		from, to := pr.blockRange(b)
		h := float64(to-from) * dt
		return LE(Sum(Term{f.AFRRNeg[b], h}, Term{f.SoC[to-1], capMWh}), p.SOCMax*capMWh), true
	})
	m.AddConstraints("fcr_availability", T, func(t int) (Row, bool) {
		return LE(Sum(Term{f.FCR[pr.block(t)], 1}, Term{f.UCh[t], pnom}, Term{f.UDis[t], pnom}), pnom), true
	})
	days := pr.dayRanges()
	m.AddConstraints("daily_cycles", len(days), func(d int) (Row, bool) {
		e := Expr{}
		for t := days[d][0]; t < days[d][1]; t++ {
			e = e.Plus(f.Pch[t], dt).Plus(f.Pdis[t], dt)
		}
		return LE(e, pr.dayBudgetKWh(p, d)/1000), true
	})
	if p.TerminalSOC != nil {
		target := *p.TerminalSOC
		m.AddConstraints("terminal_soc", 1, func(int) (Row, bool) {
			return EQ(Sum(Term{f.SoC[T-1], 1}), target), true
		})
	}
	return f, nil
}

// Extract reads a trajectory back from a solution, converting to kW.
func (f *Formulation) Extract(sol *Solution) *Trajectory {
	tr := &Trajectory{
		StepHours:     f.Problem.StepHours,
		StepsPerBlock: f.Problem.StepsPerBlock,
		Steps:         make([]StepPlan, f.Problem.Steps()),
		Blocks:        make([]BlockPlan, f.Problem.Blocks()),
		Objective:     sol.Objective,
		Status:        sol.Status,
		Nodes:         sol.Nodes,
	}
	for t := range tr.Steps {
		tr.Steps[t] = StepPlan{
			ChargeKW:    nonNeg(sol.Value(f.Pch[t])) * 1000,
			DischargeKW: nonNeg(sol.Value(f.Pdis[t])) * 1000,
			SOC:         sol.Value(f.SoC[t]),
			Charging:    sol.Value(f.UCh[t]) > 0.5,
			Discharging: sol.Value(f.UDis[t]) > 0.5,
		}
	}
	for b := range tr.Blocks {
		tr.Blocks[b] = BlockPlan{
			FCRKW:     nonNeg(sol.Value(f.FCR[b])) * 1000,
			AFRRPosKW: nonNeg(sol.Value(f.AFRRPos[b])) * 1000,
			AFRRNegKW: nonNeg(sol.Value(f.AFRRNeg[b])) * 1000,
		}
	}
	return tr
}

func nonNeg(v float64) float64 { return math.Max(0, v) }
