package optimize

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bess-dispatch/internal/market"
)

// max 5x+4y  s.t. 6x+4y <= 24, x+2y <= 6, x,y integer >= 0
// relaxed optimum (3, 1.5) = 21, integer optimum (4, 0) = 20
func knapsack() (*Model, VarID, VarID) {
	m := NewModel("knapsack")
	x := m.AddVar("x", 0, math.Inf(1), true)
	y := m.AddVar("y", 0, math.Inf(1), true)
	m.AddConstraints("capacity", 2, func(i int) (Row, bool) {
		if i == 0 {
			return LE(Sum(Term{x, 6}, Term{y, 4}), 24), true
		}
		return LE(Sum(Term{x, 1}, Term{y, 2}), 6), true
	})
	m.SetObjective(Maximize, Sum(Term{x, 5}, Term{y, 4}))
	return m, x, y
}

func TestBranchAndBoundOptimal(t *testing.T) {
	m, x, y := knapsack()
	sol, err := NewBranchAndBound().Solve(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, sol.Status)
	assert.InDelta(t, 20.0, sol.Objective, 1e-6)
	assert.InDelta(t, 4.0, sol.Value(x), 1e-9)
	assert.InDelta(t, 0.0, sol.Value(y), 1e-9)
	assert.Greater(t, sol.Nodes, 1)
	assert.Empty(t, m.Check(sol.Values, 1e-6))
}

func TestBranchAndBoundLimits(t *testing.T) {
	t.Run("no incumbent", func(t *testing.T) {
		m, _, _ := knapsack()
		s := NewBranchAndBound()
		s.MaxNodes = 1
		_, err := s.Solve(context.Background(), m)
		require.ErrorIs(t, err, ErrLimitReached)
		var se *SolveError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, StatusLimit, se.Status)
	})
	t.Run("partial allowed", func(t *testing.T) {
		m, _, _ := knapsack()
		s := NewBranchAndBound()
		s.MaxNodes = 2
		sol, err := s.Solve(context.Background(), m)
		require.NoError(t, err)
		assert.Equal(t, StatusFeasible, sol.Status)
		assert.InDelta(t, 18.0, sol.Objective, 1e-6)
	})
	t.Run("partial refused", func(t *testing.T) {
		m, _, _ := knapsack()
		s := NewBranchAndBound()
		s.MaxNodes = 2
		s.AllowPartial = false
		_, err := s.Solve(context.Background(), m)
		assert.ErrorIs(t, err, ErrLimitReached)
	})
	t.Run("deadline", func(t *testing.T) {
		m, _, _ := knapsack()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewBranchAndBound().Solve(ctx, m)
		assert.ErrorIs(t, err, ErrLimitReached)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// expiringCtx reports cancellation once Err has been polled more than live times.
type expiringCtx struct {
	context.Context
	live, polls int
}

func (c *expiringCtx) Err() error {
	c.polls++
	if c.polls > c.live {
		return context.Canceled
	}
	return nil
}

func TestDeadlineInterruptsNodeLP(t *testing.T) {
	m, _, _ := knapsack()
	// the first poll is the search loop; the next one is inside the root LP
	ctx := &expiringCtx{Context: context.Background(), live: 1}
	_, err := NewBranchAndBound().Solve(ctx, m)
	require.ErrorIs(t, err, ErrLimitReached)
	assert.ErrorIs(t, err, context.Canceled)
	var se *SolveError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StatusLimit, se.Status)
	assert.Equal(t, 1, se.Nodes)

	rel := newRelaxation(m, 1e-9, LPTableau)
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = rel.solve(cancelled, []float64{0, 0}, []float64{math.Inf(1), math.Inf(1)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLPMethodsAgree(t *testing.T) {
	p := testParams()
	p.InitialSOC = 0.5
	p.ActivationRatio = 0.1
	pr := hourlyProblem([]float64{30, 10, 12, 80, 95, 40, 20, 110}, 24)
	pr.FCR = []float64{6, 2}
	pr.AFRRPos = []float64{1, 4}
	pr.AFRRNeg = []float64{3, 1}

	var objs []float64
	for _, method := range []LPMethod{LPTableau, LPGonum} {
		bb := NewBranchAndBound()
		bb.LP = method
		tr, err := New(bb).Run(context.Background(), p, pr)
		require.NoError(t, err, method)
		assert.Equal(t, StatusOptimal, tr.Status, method)
		require.NoError(t, Verify(p, pr, tr, 1e-4), method)
		objs = append(objs, tr.Objective)
	}
	assert.InDelta(t, objs[0], objs[1], 1e-4)
}

func TestParseLPMethod(t *testing.T) {
	m, err := ParseLPMethod("")
	require.NoError(t, err)
	assert.Equal(t, LPTableau, m)
	m, err = ParseLPMethod("gonum")
	require.NoError(t, err)
	assert.Equal(t, LPGonum, m)
	_, err = ParseLPMethod("barrier")
	assert.Error(t, err)
}

func TestRoundAndFix(t *testing.T) {
	m, x, y := knapsack()
	rel := newRelaxation(m, 1e-9, LPTableau)
	nd := node{lb: []float64{0, 0}, ub: []float64{math.Inf(1), math.Inf(1)}}

	// (3, 1.5) rounds to (3, 2), which breaks the first row
	_, ok := roundAndFix(context.Background(), rel, m, nd, []float64{3, 1.5})
	assert.False(t, ok)

	got, ok := roundAndFix(context.Background(), rel, m, nd, []float64{3.8, 0.2})
	require.True(t, ok)
	assert.Equal(t, 4.0, got[x])
	assert.Equal(t, 0.0, got[y])
}

func TestInfeasibleModel(t *testing.T) {
	m := NewModel("infeasible")
	x := m.AddVar("x", 0, 1, true)
	y := m.AddVar("y", 0, 1, true)
	m.AddConstraints("cover", 1, func(int) (Row, bool) {
		return GE(Sum(Term{x, 1}, Term{y, 1}), 3), true
	})
	m.SetObjective(Maximize, Sum(Term{x, 1}))

	sol, err := NewBranchAndBound().Solve(context.Background(), m)
	assert.Nil(t, sol)
	require.ErrorIs(t, err, ErrInfeasible)
	var se *SolveError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StatusInfeasible, se.Status)
}

func TestUnboundedModel(t *testing.T) {
	m := NewModel("unbounded")
	x := m.AddVar("x", 0, math.Inf(1), false)
	m.SetObjective(Maximize, Sum(Term{x, 1}))
	_, err := NewBranchAndBound().Solve(context.Background(), m)
	assert.ErrorIs(t, err, ErrUnbounded)
}

func TestNegativeRightHandSide(t *testing.T) {
	m := NewModel("shifted")
	x := m.AddVar("x", 0, 10, false)
	y := m.AddVar("y", 0, 10, false)
	m.AddConstraints("gap", 1, func(int) (Row, bool) {
		return EQ(Sum(Term{x, 1}, Term{y, -1}), -2), true
	})
	m.SetObjective(Minimize, Sum(Term{x, 1}, Term{y, 1}))

	sol, err := NewBranchAndBound().Solve(context.Background(), m)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sol.Value(x), 1e-9)
	assert.InDelta(t, 2.0, sol.Value(y), 1e-9)
	assert.InDelta(t, 2.0, sol.Objective, 1e-9)
}

func TestModelCheck(t *testing.T) {
	m, _, _ := knapsack()
	v := m.Check([]float64{3, 1.5}, 1e-9)
	require.Len(t, v, 1)
	assert.Equal(t, "y integrality", v[0].Name)

	v = m.Check([]float64{5, 0}, 1e-9)
	require.Len(t, v, 1)
	assert.Equal(t, "capacity[0]", v[0].Name)
	assert.InDelta(t, 6.0, v[0].Amount, 1e-12)
}

func TestModelValidate(t *testing.T) {
	m := NewModel("bad")
	m.AddVar("x", math.Inf(-1), 1, false)
	assert.Error(t, m.Validate())

	m = NewModel("inverted")
	m.AddVar("x", 2, 1, false)
	assert.Error(t, m.Validate())

	assert.Error(t, NewModel("empty").Validate())
}

func testParams() Params {
	return Params{
		CapacityKWh:         1000,
		RatedPowerKW:        500,
		Derate:              1,
		CRate:               0.5,
		ChargeEfficiency:    1,
		DischargeEfficiency: 1,
		SOCMin:              0,
		SOCMax:              1,
		CyclesPerDay:        1,
	}
}

func hourlyProblem(da []float64, stepsPerDay int) Problem {
	nb := (len(da) + 3) / 4
	return Problem{
		StepHours:     1,
		StepsPerBlock: 4,
		StepsPerDay:   stepsPerDay,
		DayAhead:      da,
		FCR:           make([]float64, nb),
		AFRRPos:       make([]float64, nb),
		AFRRNeg:       make([]float64, nb),
	}
}

func solveBattery(t *testing.T, p Params, pr Problem) (*Trajectory, error) {
	t.Helper()
	return New(nil).Run(context.Background(), p, pr)
}

func TestFCROnlyReservesFullPower(t *testing.T) {
	p := testParams()
	p.InitialSOC = 0.5
	pr := hourlyProblem([]float64{0, 0, 0, 0}, 4)
	pr.FCR[0] = 10

	tr, err := solveBattery(t, p, pr)
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, tr.Status)
	// 0.5 MW * 10 EUR/MW/h * 4 h
	assert.InDelta(t, 20.0, tr.Objective, 1e-6)
	assert.InDelta(t, 500.0, tr.Blocks[0].FCRKW, 1e-3)
	for _, s := range tr.Steps {
		assert.False(t, s.Charging || s.Discharging)
	}
	assert.NoError(t, Verify(p, pr, tr, 1e-4))
}

func TestArbitrageWithinCycleBudget(t *testing.T) {
	p := testParams()
	pr := hourlyProblem([]float64{10, 10, 100, 100}, 4)

	tr, err := solveBattery(t, p, pr)
	require.NoError(t, err)
	// one cycle of 1000 kWh throughput: buy 0.5 MWh at 10, sell it at 100
	assert.InDelta(t, 45.0, tr.Objective, 1e-6)
	require.NoError(t, Verify(p, pr, tr, 1e-4))

	var in, out float64
	for i, s := range tr.Steps {
		if i < 2 {
			assert.InDelta(t, 0.0, s.DischargeKW, 1e-6)
		} else {
			assert.InDelta(t, 0.0, s.ChargeKW, 1e-6)
		}
		in += s.ChargeKW
		out += s.DischargeKW
	}
	assert.InDelta(t, 500.0, in, 1e-3)
	assert.InDelta(t, 500.0, out, 1e-3)
}

func TestTerminalSOCInfeasible(t *testing.T) {
	p := testParams()
	p.CyclesPerDay = 0.25
	target := 1.0
	p.TerminalSOC = &target
	pr := hourlyProblem([]float64{10, 10, 100, 100}, 4)

	tr, err := solveBattery(t, p, pr)
	assert.Nil(t, tr)
	require.ErrorIs(t, err, ErrInfeasible)
	var se *SolveError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StatusInfeasible, se.Status)
}

func TestTerminalSOCReached(t *testing.T) {
	p := testParams()
	target := 0.5
	p.TerminalSOC = &target
	pr := hourlyProblem([]float64{10, 10, 100, 100}, 4)

	tr, err := solveBattery(t, p, pr)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, tr.FinalSOC(), 1e-6)
	assert.NoError(t, Verify(p, pr, tr, 1e-4))
}

func TestWholeHorizonByDefault(t *testing.T) {
	p := testParams()
	pr := hourlyProblem([]float64{10, 10, 10, 10, 100, 100, 100, 100}, 24)

	tr, err := solveBattery(t, p, pr)
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, tr.Status)
	assert.InDelta(t, 45.0, tr.Objective, 1e-6)
	require.NoError(t, Verify(p, pr, tr, 1e-4))

	o := New(nil)
	o.WindowSteps = 4
	tr, err = o.Run(context.Background(), p, pr)
	require.NoError(t, err)
	// block-sized windows cannot carry energy from the cheap block to the dear one
	assert.InDelta(t, 0.0, tr.Objective, 1e-6)
}

func TestRollingWindowsChainSOC(t *testing.T) {
	p := testParams()
	pr := hourlyProblem([]float64{10, 10, 100, 100, 10, 10, 100, 100}, 4)
	o := New(nil)
	o.WindowSteps = 4
	o.TimeLimit = time.Minute

	tr, err := o.Run(context.Background(), p, pr)
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, tr.Status)
	assert.Len(t, tr.Steps, 8)
	assert.Len(t, tr.Blocks, 2)
	assert.InDelta(t, 90.0, tr.Objective, 1e-6)
	assert.NoError(t, Verify(p, pr, tr, 1e-4))
}

func TestRollingWindowsShareDailyBudget(t *testing.T) {
	p := testParams()
	pr := hourlyProblem([]float64{10, 10, 100, 100, 10, 10, 100, 100}, 8)
	o := New(nil)
	o.WindowSteps = 4

	tr, err := o.Run(context.Background(), p, pr)
	require.NoError(t, err)
	// the first window spends the whole day's cycle
	assert.InDelta(t, 45.0, tr.Objective, 1e-6)
	require.NoError(t, Verify(p, pr, tr, 1e-4))
	for _, s := range tr.Steps[4:] {
		assert.InDelta(t, 0.0, s.ChargeKW+s.DischargeKW, 1e-3)
	}
}

func TestDayRanges(t *testing.T) {
	pr := hourlyProblem(make([]float64, 10), 4)
	pr.DayOffset = 2
	assert.Equal(t, [][2]int{{0, 2}, {2, 6}, {6, 10}}, pr.dayRanges())
	pr.UsedKWh = 300
	assert.InDelta(t, 700.0, pr.dayBudgetKWh(testParams(), 0), 1e-12)
	assert.InDelta(t, 1000.0, pr.dayBudgetKWh(testParams(), 1), 1e-12)

	s := pr.Slice(4, 8)
	assert.Equal(t, 2, s.DayOffset)
	assert.Zero(t, s.UsedKWh)
}

func TestWindowRoundsToBlocks(t *testing.T) {
	o := &Optimizer{WindowSteps: 5}
	assert.Equal(t, 8, o.window(hourlyProblem(make([]float64, 12), 24)))
	o.WindowSteps = 0
	assert.Equal(t, 12, o.window(hourlyProblem(make([]float64, 12), 24)))
}

func TestVerifyCatchesViolations(t *testing.T) {
	p := testParams()
	pr := hourlyProblem([]float64{0, 0, 0, 0}, 4)
	tr := &Trajectory{
		StepHours:     1,
		StepsPerBlock: 4,
		Steps: []StepPlan{
			{ChargeKW: 500, SOC: 0.5, Charging: true},
			{ChargeKW: 500, DischargeKW: 10, SOC: 0.99, Charging: true, Discharging: true},
			{SOC: 0.99},
			{SOC: 0.99},
		},
		Blocks: []BlockPlan{{FCRKW: 100}},
	}
	err := Verify(p, pr, tr, 1e-6)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "charging and discharging")
	assert.Contains(t, err.Error(), "fcr reserved while active")
	assert.Contains(t, err.Error(), "power cap")
}

func TestDecisionsCarryBlockReservations(t *testing.T) {
	tr := &Trajectory{
		StepHours:     1,
		StepsPerBlock: 2,
		Steps:         []StepPlan{{ChargeKW: 100}, {}, {DischargeKW: 50}},
		Blocks:        []BlockPlan{{AFRRNegKW: 200}, {AFRRPosKW: 40, FCRKW: 10}},
	}
	d := tr.Decisions(0.1)
	require.Len(t, d, 3)
	assert.InDelta(t, 100.0, d[0].ChargeKW, 1e-12)
	assert.InDelta(t, 200.0, d[1].AFRRNegKW, 1e-12)
	assert.InDelta(t, 20.0, d[1].AFRREnergyChargeKW, 1e-12)
	assert.InDelta(t, 4.0, d[2].AFRREnergyDischargeKW, 1e-12)
	assert.InDelta(t, 10.0, d[2].FCRKW, 1e-12)
	assert.Zero(t, d[2].AFRREnergyChargeKW)
}

func TestNewProblemSamplesBlockStarts(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &market.Aligned{Country: "DE", StepHours: 1}
	for i := 0; i < 6; i++ {
		a.Steps = append(a.Steps, market.Step{
			Time:     start.Add(time.Duration(i) * time.Hour),
			DayAhead: float64(i),
			FCR:      float64(10 * i),
			AFRRPos:  1,
			AFRRNeg:  2,
		})
	}
	pr := NewProblem(a)
	require.NoError(t, pr.Validate())
	assert.Equal(t, 4, pr.StepsPerBlock)
	assert.Equal(t, 24, pr.StepsPerDay)
	assert.Equal(t, []float64{0, 40}, pr.FCR)
	assert.Equal(t, 2, pr.Blocks())

	s := pr.Slice(4, 6)
	assert.Equal(t, []float64{4, 5}, s.DayAhead)
	assert.Equal(t, []float64{40}, s.FCR)
}

func TestParamsValidate(t *testing.T) {
	p := testParams()
	require.NoError(t, p.Validate())
	p.InitialSOC = 1.5
	assert.Error(t, p.Validate())
	p = testParams()
	bad := -0.1
	p.TerminalSOC = &bad
	assert.Error(t, p.Validate())
	p = testParams()
	p.Derate = 0
	assert.Error(t, p.Validate())
}
