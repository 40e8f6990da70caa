package optimize

import (
	"context"
	"fmt"
	"math"
	"time"

	"bess-dispatch/internal/log"
)

// Optimizer runs the co-optimization over a horizon in fixed windows, chaining
// the final SOC of each window into the next.
type Optimizer struct {
	Solver Solver
	// WindowSteps is rounded up to whole blocks. 0 solves the horizon at once.
	WindowSteps int
	// TimeLimit bounds each window solve. 0 means no limit.
	TimeLimit time.Duration
}

func New(s Solver) *Optimizer {
	if s == nil {
		s = NewBranchAndBound()
	}
	return &Optimizer{Solver: s}
}

func (o *Optimizer) window(pr Problem) int {
	w := o.WindowSteps
	if w <= 0 || w >= pr.Steps() {
		return pr.Steps()
	}
	if r := w % pr.StepsPerBlock; r != 0 {
		w += pr.StepsPerBlock - r
	}
	return w
}

// Run solves pr window by window. A failed window fails the whole run; the
// terminal SOC target only applies to the last window. The returned status is
// StatusOptimal only when every window was solved to optimality.
func (o *Optimizer) Run(ctx context.Context, p Params, pr Problem) (*Trajectory, error) {
	if err := pr.Validate(); err != nil {
		return nil, fmt.Errorf("optimizer problem: %w", err)
	}
	w := o.window(pr)
	out := &Trajectory{
		StepHours:     pr.StepHours,
		StepsPerBlock: pr.StepsPerBlock,
		Status:        StatusOptimal,
	}
	soc := p.InitialSOC
	used := pr.UsedKWh
	for from := 0; from < pr.Steps(); from += w {
		to := min(from+w, pr.Steps())
		wp := p
		wp.InitialSOC = soc
		if to < pr.Steps() {
			wp.TerminalSOC = nil
		}
		sub := pr.Slice(from, to)
		if sub.DayOffset == 0 {
			used = 0
		}
		sub.UsedKWh = used
		tr, err := o.solveWindow(ctx, wp, sub)
		if err != nil {
			return nil, fmt.Errorf("window [%d,%d): %w", from, to, err)
		}
		log.Ctx(ctx).Debug("window solved", "from", from, "to", to, "status", tr.Status, "objective", tr.Objective, "nodes", tr.Nodes)

		out.Steps = append(out.Steps, tr.Steps...)
		out.Blocks = append(out.Blocks, tr.Blocks...)
		out.Objective += tr.Objective
		out.Nodes += tr.Nodes
		if tr.Status != StatusOptimal {
			out.Status = tr.Status
		}
		soc = math.Min(math.Max(tr.FinalSOC(), p.SOCMin), p.SOCMax)
		// carry throughput of the day still open at the window end
		for i, st := range tr.Steps {
			if (sub.DayOffset+i)%pr.StepsPerDay == 0 {
				used = 0
			}
			used += (st.ChargeKW + st.DischargeKW) * pr.StepHours
		}
	}
	return out, nil
}

func (o *Optimizer) solveWindow(ctx context.Context, p Params, pr Problem) (*Trajectory, error) {
	f, err := Build(p, pr)
	if err != nil {
		return nil, err
	}
	if o.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.TimeLimit)
		defer cancel()
	}
	sol, err := o.Solver.Solve(ctx, f.Model)
	if err != nil {
		return nil, err
	}
	return f.Extract(sol), nil
}
