//go:build highs

package highs

import (
	"context"
	"fmt"
	"math"
	"time"

	lanl "github.com/lanl/highs"

	"bess-dispatch/internal/log"
	"bess-dispatch/internal/optimize"
)

const Available = true

func (s *Solver) Solve(ctx context.Context, m *optimize.Model) (*optimize.Solution, error) {
	start := time.Now()
	p, err := newProblem(m)
	if err != nil {
		return nil, err
	}

	hm := lanl.Model{
		Maximize: p.maximize,
		Offset:   p.offset,
		ColCosts: p.cost,
		ColLower: p.colLower,
		ColUpper: p.colUpper,
		RowLower: p.rowLower,
		RowUpper: p.rowUpper,
	}
	hm.ConstMatrix = make([]lanl.Nonzero, len(p.entries))
	for i, e := range p.entries {
		hm.ConstMatrix[i] = lanl.Nonzero{Row: e.row, Col: e.col, Val: e.val}
	}
	hm.VarTypes = make([]lanl.VariableType, len(p.integer))
	for j, in := range p.integer {
		hm.VarTypes[j] = lanl.ContinuousType
		if in {
			hm.VarTypes[j] = lanl.IntegerType
		}
	}

	raw, err := hm.ToRawModel()
	if err != nil {
		return nil, &optimize.SolveError{Status: optimize.StatusError, Err: fmt.Errorf("%w: %v", optimize.ErrSolver, err)}
	}
	if err := raw.SetBoolOption("output_flag", s.Verbose); err != nil {
		return nil, &optimize.SolveError{Status: optimize.StatusError, Err: fmt.Errorf("%w: %v", optimize.ErrSolver, err)}
	}
	if dl, ok := ctx.Deadline(); ok {
		secs := math.Max(time.Until(dl).Seconds(), 1e-3)
		if err := raw.SetFloatOption("time_limit", secs); err != nil {
			return nil, &optimize.SolveError{Status: optimize.StatusError, Err: fmt.Errorf("%w: %v", optimize.ErrSolver, err)}
		}
	}
	if s.MIPGap > 0 {
		if err := raw.SetFloatOption("mip_rel_gap", s.MIPGap); err != nil {
			return nil, &optimize.SolveError{Status: optimize.StatusError, Err: fmt.Errorf("%w: %v", optimize.ErrSolver, err)}
		}
	}

	type result struct {
		o      outcome
		x      []float64
		detail string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		sol, err := raw.Solve()
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{o: outcomeOf(sol.Status), x: sol.ColumnPrimal, detail: sol.Status.String()}
	}()

	select {
	case <-ctx.Done():
		// HiGHS stops on its own time_limit; a cancelled context abandons it
		return nil, &optimize.SolveError{Status: optimize.StatusLimit, Err: fmt.Errorf("%w: %w", optimize.ErrLimitReached, ctx.Err())}
	case r := <-done:
		if r.err != nil {
			return nil, &optimize.SolveError{Status: optimize.StatusError, Err: fmt.Errorf("%w: %v", optimize.ErrSolver, r.err)}
		}
		log.Ctx(ctx).Debug("highs finished", "model", m.Name, "status", r.detail, "elapsed", time.Since(start))
		return s.finish(p, r.o, r.x, r.detail, time.Since(start))
	}
}

func outcomeOf(st lanl.ModelStatus) outcome {
	switch st {
	case lanl.Optimal:
		return outcomeOptimal
	case lanl.Infeasible:
		return outcomeInfeasible
	case lanl.Unbounded, lanl.UnboundedOrInfeasible:
		return outcomeUnbounded
	case lanl.TimeLimit, lanl.IterationLimit:
		return outcomeLimit
	default:
		return outcomeError
	}
}
