package optimize

import (
	"fmt"
	"math"
	"strings"

	"bess-dispatch/internal/model"
)

// StepPlan is the optimal dispatch of one fine step.
type StepPlan struct {
	ChargeKW    float64
	DischargeKW float64
	SOC         float64 // end-of-step fraction of nominal capacity
	Charging    bool
	Discharging bool
}

// BlockPlan holds the reservations of one 4-hour block.
type BlockPlan struct {
	FCRKW     float64
	AFRRPosKW float64
	AFRRNegKW float64
}

// Trajectory is an extracted solution. A trajectory with StatusFeasible was
// returned after a solver limit and is not proven optimal.
type Trajectory struct {
	StepHours     float64
	StepsPerBlock int
	Steps         []StepPlan
	Blocks        []BlockPlan
	Objective     float64
	Status        Status
	Nodes         int
}

func (tr *Trajectory) Block(t int) BlockPlan { return tr.Blocks[t/tr.StepsPerBlock] }

// FinalSOC is the state of charge after the last step.
func (tr *Trajectory) FinalSOC() float64 {
	if len(tr.Steps) == 0 {
		return math.NaN()
	}
	return tr.Steps[len(tr.Steps)-1].SOC
}

// Decisions converts the trajectory into per-step dispatch decisions for replay
// through the battery model. aFRR activation is dispatched as energy at
// activationRatio of the block reservation.
func (tr *Trajectory) Decisions(activationRatio float64) []model.DispatchDecision {
	out := make([]model.DispatchDecision, len(tr.Steps))
	for t, s := range tr.Steps {
		b := tr.Block(t)
		out[t] = model.DispatchDecision{
			ChargeKW:              s.ChargeKW,
			DischargeKW:           s.DischargeKW,
			FCRKW:                 b.FCRKW,
			AFRRPosKW:             b.AFRRPosKW,
			AFRRNegKW:             b.AFRRNegKW,
			AFRREnergyChargeKW:    b.AFRRNegKW * activationRatio,
			AFRREnergyDischargeKW: b.AFRRPosKW * activationRatio,
		}
	}
	return out
}

// Verify re-checks every co-optimization constraint on tr independently of
// the model. tol is absolute, in kW for power and fraction for SOC.
func Verify(p Params, pr Problem, tr *Trajectory, tol float64) error {
	if len(tr.Steps) != pr.Steps() || len(tr.Blocks) != pr.Blocks() {
		return fmt.Errorf("trajectory has %d steps and %d blocks, want %d and %d",
			len(tr.Steps), len(tr.Blocks), pr.Steps(), pr.Blocks())
	}
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}
	dt := pr.StepHours
	capKWh := p.CapacityKWh
	pnom := p.PowerKW()
	pmax := p.CRatePowerKW()
	etol := tol * dt

	prev := p.InitialSOC
	for t, s := range tr.Steps {
		b := tr.Block(t)
		if s.ChargeKW < -tol || s.DischargeKW < -tol {
			fail("step %d: negative power", t)
		}
		if s.SOC < p.SOCMin-tol || s.SOC > p.SOCMax+tol {
			fail("step %d: soc %.6f outside bounds", t, s.SOC)
		}
		delta := (p.ChargeEfficiency*s.ChargeKW*dt - s.DischargeKW*dt/p.DischargeEfficiency +
			p.ActivationRatio*(b.AFRRNegKW-b.AFRRPosKW)*dt) / capKWh
		if math.Abs(s.SOC-(prev+delta)) > tol {
			fail("step %d: soc balance off by %g", t, s.SOC-(prev+delta))
		}
		prev = s.SOC
		if s.Charging && s.Discharging {
			fail("step %d: charging and discharging", t)
		}
		if s.ChargeKW+b.AFRRNegKW > pnom*b2f(s.Charging)+tol {
			fail("step %d: charge binding", t)
		}
		if s.DischargeKW+b.AFRRPosKW > pnom*b2f(s.Discharging)+tol {
			fail("step %d: discharge binding", t)
		}
		if s.ChargeKW+b.AFRRNegKW > pmax+tol || s.DischargeKW+b.AFRRPosKW > pmax+tol {
			fail("step %d: c-rate ceiling", t)
		}
		if s.ChargeKW+s.DischargeKW+b.FCRKW+b.AFRRPosKW+b.AFRRNegKW > pnom+tol {
			fail("step %d: power cap", t)
		}
		if b.FCRKW > tol && (s.Charging || s.Discharging) {
			fail("step %d: fcr reserved while active", t)
		}
	}
	for bi, b := range tr.Blocks {
		from, to := pr.blockRange(bi)
		h := float64(to-from) * dt
		if b.FCRKW < -tol || b.AFRRPosKW < -tol || b.AFRRNegKW < -tol {
			fail("block %d: negative reservation", bi)
		}
		if b.FCRKW > (tr.Steps[from].SOC-p.SOCMin)*capKWh+tol {
			fail("block %d: fcr exceeds stored energy", bi)
		}
		end := tr.Steps[to-1].SOC
		if b.AFRRPosKW*h > (end-p.SOCMin)*capKWh+etol {
			fail("block %d: afrr positive exceeds stored energy", bi)
		}
		if b.AFRRNegKW*h > (p.SOCMax-end)*capKWh+etol {
			fail("block %d: afrr negative exceeds headroom", bi)
		}
	}
	for d, r := range pr.dayRanges() {
		var e float64
		for _, s := range tr.Steps[r[0]:r[1]] {
			e += (s.ChargeKW + s.DischargeKW) * dt
		}
		if e > pr.dayBudgetKWh(p, d)+etol*float64(r[1]-r[0]) {
			fail("day starting at step %d: throughput %.3f kWh over budget", r[0], e)
		}
	}
	if p.TerminalSOC != nil && math.Abs(tr.FinalSOC()-*p.TerminalSOC) > tol {
		fail("terminal soc %.6f, want %.6f", tr.FinalSOC(), *p.TerminalSOC)
	}
	if len(errs) > 0 {
		return fmt.Errorf("trajectory violates %d constraints: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
