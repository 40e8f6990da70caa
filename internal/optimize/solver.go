package optimize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"bess-dispatch/internal/log"
)

var (
	ErrInfeasible   = errors.New("model is infeasible")
	ErrUnbounded    = errors.New("model is unbounded")
	ErrLimitReached = errors.New("solver limit reached")
	ErrSolver       = errors.New("solver failure")
)

// Status reports how far the search got.
type Status string

const (
	StatusOptimal    Status = "optimal"
	StatusFeasible   Status = "feasible"
	StatusInfeasible Status = "infeasible"
	StatusUnbounded  Status = "unbounded"
	StatusLimit      Status = "limit_reached"
	StatusError      Status = "error"
)

// SolveError carries the diagnostic status of a failed solve.
type SolveError struct {
	Status Status
	Nodes  int
	Err    error
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("solve %s after %d nodes: %v", e.Status, e.Nodes, e.Err)
}

func (e *SolveError) Unwrap() error { return e.Err }

func statusOf(err error) Status {
	switch {
	case errors.Is(err, ErrInfeasible):
		return StatusInfeasible
	case errors.Is(err, ErrUnbounded):
		return StatusUnbounded
	case errors.Is(err, ErrLimitReached):
		return StatusLimit
	default:
		return StatusError
	}
}

// Solution is a point accepted by a Solver.
type Solution struct {
	Values    []float64
	Objective float64
	Status    Status
	Nodes     int
	Elapsed   time.Duration
}

func (s *Solution) Value(v VarID) float64 { return s.Values[v] }

// Solver solves a Model. A time limit is expressed through the context deadline.
type Solver interface {
	Solve(ctx context.Context, m *Model) (*Solution, error)
}

// BranchAndBound is a depth-first branch-and-bound over a dense simplex. It
// suits the small models of short horizons; see the highs package for a
// native MILP backend.
//
// When the node limit or the context deadline stops the search, the best
// integer-feasible point found so far is returned with StatusFeasible if
// AllowPartial is set; otherwise, or without an incumbent, the solve fails
// with ErrLimitReached. The deadline also interrupts the LP of the node in
// progress.
type BranchAndBound struct {
	MaxNodes     int
	IntTol       float64
	LPTol        float64
	AllowPartial bool
	LP           LPMethod
}

func NewBranchAndBound() *BranchAndBound {
	return &BranchAndBound{
		MaxNodes:     5000,
		IntTol:       1e-6,
		LPTol:        1e-9,
		AllowPartial: true,
		LP:           LPTableau,
	}
}

type node struct {
	lb, ub []float64
	depth  int
}

func (s *BranchAndBound) Solve(ctx context.Context, m *Model) (*Solution, error) {
	start := time.Now()
	if err := m.Validate(); err != nil {
		return nil, &SolveError{Status: StatusError, Err: fmt.Errorf("%w: %v", ErrSolver, err)}
	}
	intTol := s.IntTol
	if intTol <= 0 {
		intTol = 1e-6
	}
	lpTol := s.LPTol
	if lpTol <= 0 {
		lpTol = 1e-9
	}

	rel := newRelaxation(m, lpTol, s.LP)
	sense, obj := m.Objective()
	better := func(a, b float64) bool {
		if sense == Maximize {
			return a > b+1e-9*(1+math.Abs(b))
		}
		return a < b-1e-9*(1+math.Abs(b))
	}

	n := m.NumVars()
	root := node{lb: make([]float64, n), ub: make([]float64, n)}
	for i := 0; i < n; i++ {
		v := m.Var(VarID(i))
		root.lb[i], root.ub[i] = v.LB, v.UB
		if v.Integer {
			root.lb[i] = math.Ceil(v.LB - intTol)
			if !math.IsInf(v.UB, 1) {
				root.ub[i] = math.Floor(v.UB + intTol)
			}
		}
	}

	var (
		best      []float64
		bestObj   float64
		nodes     int
		complete  = true
		stack     = []node{root}
		lastErr   error
		stopCause error
	)

	for len(stack) > 0 {
		if s.MaxNodes > 0 && nodes >= s.MaxNodes {
			stopCause = fmt.Errorf("%w: node limit %d", ErrLimitReached, s.MaxNodes)
			break
		}
		if err := ctx.Err(); err != nil {
			stopCause = fmt.Errorf("%w: %w", ErrLimitReached, err)
			break
		}

		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nodes++

		x, err := safeSolve(ctx, rel, nd.lb, nd.ub)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				stopCause = fmt.Errorf("%w: %w", ErrLimitReached, ctxErr)
				break
			}
			if nodes == 1 {
				return nil, &SolveError{Status: statusOf(err), Nodes: nodes, Err: err}
			}
			if !errors.Is(err, ErrInfeasible) {
				// An unsolved subtree means optimality can no longer be proven.
				complete = false
				lastErr = err
			}
			continue
		}
		val := obj.Eval(x)
		if best != nil && !better(val, bestObj) {
			continue
		}

		branch, frac := -1, 0.0
		for i := 0; i < n; i++ {
			if !m.Var(VarID(i)).Integer {
				continue
			}
			f := x[i] - math.Floor(x[i])
			d := math.Min(f, 1-f)
			if d > intTol && d > frac {
				branch, frac = i, d
			}
		}
		if branch < 0 {
			roundIntegers(m, x)
			best, bestObj = x, obj.Eval(x)
			log.Ctx(ctx).Debug("incumbent", "model", m.Name, "objective", bestObj, "nodes", nodes, "depth", nd.depth)
			continue
		}
		if best == nil && nd.depth == 0 {
			if xr, ok := roundAndFix(ctx, rel, m, nd, x); ok {
				best, bestObj = xr, obj.Eval(xr)
				log.Ctx(ctx).Debug("rounded incumbent", "model", m.Name, "objective", bestObj)
				if !better(val, bestObj) {
					continue
				}
			}
		}

		v := x[branch]
		down := node{lb: clone(nd.lb), ub: clone(nd.ub), depth: nd.depth + 1}
		down.ub[branch] = math.Floor(v)
		up := node{lb: clone(nd.lb), ub: clone(nd.ub), depth: nd.depth + 1}
		up.lb[branch] = math.Ceil(v)
		// The child nearer the relaxed value is explored first.
		if v-math.Floor(v) < 0.5 {
			stack = append(stack, up, down)
		} else {
			stack = append(stack, down, up)
		}
	}

	elapsed := time.Since(start)
	if stopCause == nil && len(stack) == 0 && complete {
		if best == nil {
			return nil, &SolveError{Status: StatusInfeasible, Nodes: nodes, Err: ErrInfeasible}
		}
		return &Solution{Values: best, Objective: bestObj, Status: StatusOptimal, Nodes: nodes, Elapsed: elapsed}, nil
	}
	if stopCause == nil {
		stopCause = fmt.Errorf("%w: subproblem failed: %v", ErrSolver, lastErr)
	}
	if best != nil && s.AllowPartial {
		log.Ctx(ctx).Debug("returning best available solution", "model", m.Name, "objective", bestObj, "nodes", nodes, "cause", stopCause)
		return &Solution{Values: best, Objective: bestObj, Status: StatusFeasible, Nodes: nodes, Elapsed: elapsed}, nil
	}
	return nil, &SolveError{Status: statusOf(stopCause), Nodes: nodes, Err: stopCause}
}

// safeSolve converts panics from the LP backend into ErrSolver.
func safeSolve(ctx context.Context, r *relaxation, lb, ub []float64) (x []float64, err error) {
	defer func() {
		if p := recover(); p != nil {
			x, err = nil, fmt.Errorf("%w: %v", ErrSolver, p)
		}
	}()
	return r.solve(ctx, lb, ub)
}

// roundAndFix fixes every integer variable at its rounded relaxed value and
// re-solves the continuous rest. It gives the depth-first search an early
// incumbent to prune against.
func roundAndFix(ctx context.Context, r *relaxation, m *Model, nd node, x []float64) ([]float64, bool) {
	lb, ub := clone(nd.lb), clone(nd.ub)
	for i := range x {
		if !m.Var(VarID(i)).Integer {
			continue
		}
		v := math.Min(math.Max(math.Round(x[i]), lb[i]), ub[i])
		lb[i], ub[i] = v, v
	}
	xr, err := safeSolve(ctx, r, lb, ub)
	if err != nil {
		return nil, false
	}
	roundIntegers(m, xr)
	return xr, true
}

func roundIntegers(m *Model, x []float64) {
	for i := range x {
		if m.Var(VarID(i)).Integer {
			x[i] = math.Round(x[i])
		}
	}
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
