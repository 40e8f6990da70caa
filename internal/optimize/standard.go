package optimize

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	fixTol  = 1e-12
	feasTol = 1e-7
	bigMMul = 1e4
)

// LPMethod selects the simplex that solves node relaxations.
type LPMethod string

const (
	// LPTableau is a dense tableau simplex that polls the context between pivots.
	LPTableau LPMethod = "tableau"
	// LPGonum is gonum's lp.Simplex. It cannot be interrupted, so on context
	// expiry the node is abandoned and the LP finishes in the background.
	LPGonum LPMethod = "gonum"
)

func ParseLPMethod(s string) (LPMethod, error) {
	switch m := LPMethod(s); m {
	case "":
		return LPTableau, nil
	case LPTableau, LPGonum:
		return m, nil
	default:
		return "", fmt.Errorf("unknown lp method %q", s)
	}
}

// relaxation is the continuous relaxation of a Model under per-node bounds.
type relaxation struct {
	model  *Model
	cost   []float64 // minimisation costs per model variable
	tol    float64
	method LPMethod
}

func newRelaxation(m *Model, tol float64, method LPMethod) *relaxation {
	sense, obj := m.Objective()
	cost := make([]float64, m.NumVars())
	for _, t := range obj.Terms {
		cost[t.Var] += t.Coef
	}
	if sense == Maximize {
		for i := range cost {
			cost[i] = -cost[i]
		}
	}
	return &relaxation{model: m, cost: cost, tol: tol, method: method}
}

// solve returns an optimal point of the relaxation with variables restricted
// to [lb, ub]. Variables are shifted to x' = x - lb, slacks turn inequalities
// into equalities, and rows without a +1 slack get a big-M artificial so the
// simplex always starts from the identity basis. A context error is returned
// unwrapped when ctx expires mid-solve.
func (r *relaxation) solve(ctx context.Context, lb, ub []float64) ([]float64, error) {
	n := r.model.NumVars()
	x := make([]float64, n)
	copy(x, lb)

	col := make([]int, n)
	nStruct := 0
	for j := 0; j < n; j++ {
		if ub[j] < lb[j]-fixTol {
			return nil, ErrInfeasible
		}
		if ub[j]-lb[j] <= fixTol {
			col[j] = -1
			continue
		}
		col[j] = nStruct
		nStruct++
	}

	type sparseRow struct {
		coef  map[int]float64
		slack float64 // +1, -1 or 0
		rhs   float64
	}
	var rows []sparseRow
	appears := make([]bool, nStruct)

	for _, c := range r.model.Constraints() {
		rhs := c.RHS - c.Expr.Const
		coef := make(map[int]float64, len(c.Expr.Terms))
		for _, t := range c.Expr.Terms {
			rhs -= t.Coef * lb[t.Var]
			if k := col[t.Var]; k >= 0 && t.Coef != 0 {
				coef[k] += t.Coef
			}
		}
		for k, v := range coef {
			if v == 0 {
				delete(coef, k)
			}
		}
		scale := 1 + math.Abs(c.RHS)
		if len(coef) == 0 {
			ok := true
			switch c.Sense {
			case LessEq:
				ok = rhs >= -feasTol*scale
			case GreaterEq:
				ok = rhs <= feasTol*scale
			case Equal:
				ok = math.Abs(rhs) <= feasTol*scale
			}
			if !ok {
				return nil, ErrInfeasible
			}
			continue
		}
		for k := range coef {
			appears[k] = true
		}
		row := sparseRow{coef: coef, rhs: rhs}
		switch c.Sense {
		case LessEq:
			row.slack = 1
		case GreaterEq:
			row.slack = -1
		}
		rows = append(rows, row)
	}

	for j := 0; j < n; j++ {
		k := col[j]
		if k < 0 || math.IsInf(ub[j], 1) {
			continue
		}
		appears[k] = true
		rows = append(rows, sparseRow{coef: map[int]float64{k: 1}, slack: 1, rhs: ub[j] - lb[j]})
	}

	// Columns that appear nowhere sit at their lower bound unless pushing them
	// up improves the objective without limit.
	live := make([]int, nStruct)
	nLive := 0
	for j := 0; j < n; j++ {
		k := col[j]
		if k < 0 {
			continue
		}
		if !appears[k] {
			if r.cost[j] < 0 {
				return nil, ErrUnbounded
			}
			live[k] = -1
			continue
		}
		live[k] = nLive
		nLive++
	}

	m := len(rows)
	if m == 0 {
		return x, nil
	}

	nSlack := 0
	for _, row := range rows {
		if row.slack != 0 {
			nSlack++
		}
	}
	// Upper bound on columns; artificials are appended as needed.
	width := nLive + nSlack + m
	a := mat.NewDense(m, width, nil)
	b := make([]float64, m)
	c := make([]float64, width)
	basis := make([]int, m)

	maxCost := 0.0
	for j := 0; j < n; j++ {
		if k := col[j]; k >= 0 && live[k] >= 0 {
			c[live[k]] = r.cost[j]
			maxCost = math.Max(maxCost, math.Abs(r.cost[j]))
		}
	}
	bigM := bigMMul * (1 + maxCost)

	next := nLive
	var artificial []int
	for i, row := range rows {
		sign := 1.0
		if row.rhs < 0 {
			sign = -1
		}
		for k, v := range row.coef {
			if lk := live[k]; lk >= 0 {
				a.Set(i, lk, sign*v)
			}
		}
		b[i] = sign * row.rhs
		if row.slack != 0 {
			a.Set(i, next, sign*row.slack)
			if sign*row.slack > 0 {
				basis[i] = next
				next++
				continue
			}
			next++
		}
		a.Set(i, next, 1)
		c[next] = bigM
		basis[i] = next
		artificial = append(artificial, next)
		next++
	}

	var xs []float64
	var err error
	if r.method == LPGonum {
		xs, err = gonumSimplex(ctx, c[:next], a.Slice(0, m, 0, next), b, r.tol, basis)
	} else {
		xs, err = tableauSimplex(ctx, c[:next], a, next, b, r.tol, basis)
	}
	if err != nil {
		return nil, err
	}
	for _, k := range artificial {
		if xs[k] > feasTol*(1+maxAbs(b)) {
			return nil, ErrInfeasible
		}
	}

	for j := 0; j < n; j++ {
		if k := col[j]; k >= 0 && live[k] >= 0 {
			x[j] = lb[j] + xs[live[k]]
		}
	}
	return x, nil
}

// gonumSimplex runs lp.Simplex on its own goroutine so ctx can abandon it.
func gonumSimplex(ctx context.Context, c []float64, a mat.Matrix, b []float64, tol float64, basis []int) ([]float64, error) {
	type result struct {
		x   []float64
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("%w: %v", ErrSolver, p)}
			}
		}()
		_, x, err := lp.Simplex(c, a, b, tol, basis)
		done <- result{x: x, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, ErrSolver) {
				return nil, res.err
			}
			return nil, classifyLP(res.err)
		}
		return res.x, nil
	}
}

func classifyLP(err error) error {
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return ErrInfeasible
	case errors.Is(err, lp.ErrUnbounded):
		return ErrUnbounded
	default:
		return fmt.Errorf("%w: %v", ErrSolver, err)
	}
}

func maxAbs(v []float64) float64 {
	out := 0.0
	for _, x := range v {
		out = math.Max(out, math.Abs(x))
	}
	return out
}
