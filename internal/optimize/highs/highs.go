// Package highs solves optimize models with the HiGHS MILP solver.
//
// The binding needs cgo and libhighs, so it is compiled only with the highs
// build tag. Without the tag Available is false and Solve returns
// ErrUnavailable.
package highs

import (
	"errors"
	"fmt"
	"math"
	"time"

	"bess-dispatch/internal/optimize"
)

var ErrUnavailable = errors.New("highs solver not compiled in (build with -tags highs)")

// Solver implements optimize.Solver. The context deadline becomes the HiGHS
// time_limit option.
type Solver struct {
	// MIPGap is the relative optimality gap; 0 keeps the HiGHS default.
	MIPGap       float64
	AllowPartial bool
	Verbose      bool
}

func New() *Solver { return &Solver{AllowPartial: true} }

type entry struct {
	row, col int
	val      float64
}

// problem is a Model in the column/row-bound layout HiGHS loads.
type problem struct {
	maximize           bool
	offset             float64
	cost               []float64
	colLower, colUpper []float64
	integer            []bool
	rowLower, rowUpper []float64
	entries            []entry
}

func newProblem(m *optimize.Model) (*problem, error) {
	if err := m.Validate(); err != nil {
		return nil, &optimize.SolveError{Status: optimize.StatusError, Err: fmt.Errorf("%w: %v", optimize.ErrSolver, err)}
	}
	n := m.NumVars()
	sense, obj := m.Objective()
	p := &problem{
		maximize: sense == optimize.Maximize,
		offset:   obj.Const,
		cost:     make([]float64, n),
		colLower: make([]float64, n),
		colUpper: make([]float64, n),
		integer:  make([]bool, n),
	}
	for j := 0; j < n; j++ {
		v := m.Var(optimize.VarID(j))
		p.colLower[j], p.colUpper[j], p.integer[j] = v.LB, v.UB, v.Integer
	}
	for _, t := range obj.Terms {
		p.cost[t.Var] += t.Coef
	}

	inf := math.Inf(1)
	for _, c := range m.Constraints() {
		coef := make(map[int]float64, len(c.Expr.Terms))
		var cols []int
		for _, t := range c.Expr.Terms {
			if _, ok := coef[int(t.Var)]; !ok {
				cols = append(cols, int(t.Var))
			}
			coef[int(t.Var)] += t.Coef
		}
		row := len(p.rowLower)
		for _, j := range cols {
			if v := coef[j]; v != 0 {
				p.entries = append(p.entries, entry{row: row, col: j, val: v})
			}
		}
		rhs := c.RHS - c.Expr.Const
		switch c.Sense {
		case optimize.LessEq:
			p.rowLower, p.rowUpper = append(p.rowLower, -inf), append(p.rowUpper, rhs)
		case optimize.GreaterEq:
			p.rowLower, p.rowUpper = append(p.rowLower, rhs), append(p.rowUpper, inf)
		default:
			p.rowLower, p.rowUpper = append(p.rowLower, rhs), append(p.rowUpper, rhs)
		}
	}
	return p, nil
}

func (p *problem) objective(x []float64) float64 {
	out := p.offset
	for j, c := range p.cost {
		out += c * x[j]
	}
	return out
}

// outcome is a HiGHS model status reduced to what callers act on.
type outcome int

const (
	outcomeOptimal outcome = iota
	outcomeInfeasible
	outcomeUnbounded
	outcomeLimit
	outcomeError
)

// finish turns a solver outcome and primal point into a Solution or a
// SolveError. A limit with a complete primal point is a feasible incumbent.
func (s *Solver) finish(p *problem, o outcome, x []float64, detail string, elapsed time.Duration) (*optimize.Solution, error) {
	fail := func(status optimize.Status, err error) (*optimize.Solution, error) {
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return nil, &optimize.SolveError{Status: status, Err: err}
	}
	usable := len(x) == len(p.cost)
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			usable = false
			break
		}
	}
	switch o {
	case outcomeOptimal:
		if !usable {
			return fail(optimize.StatusError, optimize.ErrSolver)
		}
		return s.solution(p, x, optimize.StatusOptimal, elapsed), nil
	case outcomeInfeasible:
		return fail(optimize.StatusInfeasible, optimize.ErrInfeasible)
	case outcomeUnbounded:
		return fail(optimize.StatusUnbounded, optimize.ErrUnbounded)
	case outcomeLimit:
		if usable && s.AllowPartial {
			return s.solution(p, x, optimize.StatusFeasible, elapsed), nil
		}
		return fail(optimize.StatusLimit, optimize.ErrLimitReached)
	default:
		return fail(optimize.StatusError, optimize.ErrSolver)
	}
}

func (s *Solver) solution(p *problem, x []float64, status optimize.Status, elapsed time.Duration) *optimize.Solution {
	vals := make([]float64, len(x))
	copy(vals, x)
	for j, in := range p.integer {
		if in {
			vals[j] = math.Round(vals[j])
		}
	}
	return &optimize.Solution{
		Values:    vals,
		Objective: p.objective(vals),
		Status:    status,
		Elapsed:   elapsed,
	}
}
