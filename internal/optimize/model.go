package optimize

import (
	"errors"
	"fmt"
	"math"
)

// VarID identifies a decision variable within one Model.
type VarID int

// Var is a bounded decision variable. LB must be finite; UB may be +Inf.
type Var struct {
	Name    string
	LB, UB  float64
	Integer bool
}

// Term is coef * var.
type Term struct {
	Var  VarID
	Coef float64
}

// Expr is a linear expression sum(terms) + Const.
type Expr struct {
	Terms []Term
	Const float64
}

// Sum builds an expression from terms.
func Sum(terms ...Term) Expr {
	return Expr{Terms: terms}
}

// Plus returns e + coef*v.
func (e Expr) Plus(v VarID, coef float64) Expr {
	e.Terms = append(e.Terms[:len(e.Terms):len(e.Terms)], Term{Var: v, Coef: coef})
	return e
}

// Eval computes the value of e at x.
func (e Expr) Eval(x []float64) float64 {
	v := e.Const
	for _, t := range e.Terms {
		v += t.Coef * x[t.Var]
	}
	return v
}

type Sense int

const (
	LessEq Sense = iota
	GreaterEq
	Equal
)

func (s Sense) String() string {
	switch s {
	case LessEq:
		return "<="
	case GreaterEq:
		return ">="
	default:
		return "=="
	}
}

// Row is one linear constraint: Expr (sense) RHS.
type Row struct {
	Expr  Expr
	Sense Sense
	RHS   float64
}

func LE(e Expr, rhs float64) Row { return Row{Expr: e, Sense: LessEq, RHS: rhs} }
func GE(e Expr, rhs float64) Row { return Row{Expr: e, Sense: GreaterEq, RHS: rhs} }
func EQ(e Expr, rhs float64) Row { return Row{Expr: e, Sense: Equal, RHS: rhs} }

// Rule produces the constraint of a family at index i. Returning false skips i.
// Rules must be pure functions of the model's variables and the index.
type Rule func(i int) (Row, bool)

// Constraint is a materialised row tagged with its family and index.
type Constraint struct {
	Family string
	Index  int
	Row
}

type ObjectiveSense int

const (
	Maximize ObjectiveSense = iota
	Minimize
)

// Model is a declarative mixed-integer linear program. Variables and constraint
// families are registered by name; the model only lives for one solve.
type Model struct {
	Name string

	vars     []Var
	cons     []Constraint
	families []string
	sense    ObjectiveSense
	obj      Expr
}

func NewModel(name string) *Model {
	return &Model{Name: name}
}

// AddVar registers one variable.
func (m *Model) AddVar(name string, lb, ub float64, integer bool) VarID {
	m.vars = append(m.vars, Var{Name: name, LB: lb, UB: ub, Integer: integer})
	return VarID(len(m.vars) - 1)
}

// AddVars registers n variables named name[i].
func (m *Model) AddVars(name string, n int, lb, ub float64, integer bool) []VarID {
	out := make([]VarID, n)
	for i := range out {
		out[i] = m.AddVar(fmt.Sprintf("%s[%d]", name, i), lb, ub, integer)
	}
	return out
}

// AddConstraints evaluates rule for i in [0, n) and registers the rows as family.
func (m *Model) AddConstraints(family string, n int, rule Rule) {
	m.families = append(m.families, family)
	for i := 0; i < n; i++ {
		row, ok := rule(i)
		if !ok {
			continue
		}
		m.cons = append(m.cons, Constraint{Family: family, Index: i, Row: row})
	}
}

// SetObjective replaces the objective.
func (m *Model) SetObjective(sense ObjectiveSense, e Expr) {
	m.sense = sense
	m.obj = e
}

func (m *Model) NumVars() int                      { return len(m.vars) }
func (m *Model) Var(id VarID) Var                  { return m.vars[id] }
func (m *Model) Constraints() []Constraint         { return m.cons }
func (m *Model) Families() []string                { return m.families }
func (m *Model) Objective() (ObjectiveSense, Expr) { return m.sense, m.obj }

// Validate checks bounds and variable references.
func (m *Model) Validate() error {
	if len(m.vars) == 0 {
		return errors.New("model has no variables")
	}
	for _, v := range m.vars {
		if math.IsInf(v.LB, 0) || math.IsNaN(v.LB) || math.IsNaN(v.UB) {
			return fmt.Errorf("variable %s: lower bound must be finite", v.Name)
		}
		if v.UB < v.LB {
			return fmt.Errorf("variable %s: upper bound %g below lower bound %g", v.Name, v.UB, v.LB)
		}
	}
	check := func(e Expr, where string) error {
		for _, t := range e.Terms {
			if t.Var < 0 || int(t.Var) >= len(m.vars) {
				return fmt.Errorf("%s: unknown variable %d", where, t.Var)
			}
		}
		return nil
	}
	if err := check(m.obj, "objective"); err != nil {
		return err
	}
	for _, c := range m.cons {
		if err := check(c.Expr, fmt.Sprintf("%s[%d]", c.Family, c.Index)); err != nil {
			return err
		}
	}
	return nil
}

// Violation describes a constraint or bound not met by a candidate solution.
type Violation struct {
	Name   string
	Amount float64
}

func (v Violation) String() string {
	return fmt.Sprintf("%s violated by %g", v.Name, v.Amount)
}

// Check lists every bound, integrality and constraint violation of x beyond tol.
func (m *Model) Check(x []float64, tol float64) []Violation {
	var out []Violation
	for i, v := range m.vars {
		if d := v.LB - x[i]; d > tol {
			out = append(out, Violation{Name: v.Name + " lower bound", Amount: d})
		}
		if d := x[i] - v.UB; d > tol {
			out = append(out, Violation{Name: v.Name + " upper bound", Amount: d})
		}
		if v.Integer {
			if d := math.Abs(x[i] - math.Round(x[i])); d > tol {
				out = append(out, Violation{Name: v.Name + " integrality", Amount: d})
			}
		}
	}
	for _, c := range m.cons {
		lhs := c.Expr.Eval(x)
		var d float64
		switch c.Sense {
		case LessEq:
			d = lhs - c.RHS
		case GreaterEq:
			d = c.RHS - lhs
		case Equal:
			d = math.Abs(lhs - c.RHS)
		}
		if d > tol {
			out = append(out, Violation{Name: fmt.Sprintf("%s[%d]", c.Family, c.Index), Amount: d})
		}
	}
	return out
}
