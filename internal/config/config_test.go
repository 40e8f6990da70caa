package config

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bess-dispatch/internal/optimize"
	"bess-dispatch/internal/optimize/highs"
)

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	p := write(t, dir, "config.yaml", "battery:\n  name: small\n  capacity_kwh: 1000\n  rated_power_kw: 500\n")

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "small", c.Battery.Name)
	assert.Equal(t, 1000.0, c.Battery.CapacityKWh)
	assert.Equal(t, 0.05, c.Battery.SOCMin)
	assert.Equal(t, c.Battery.SOCMin, c.Battery.InitialSOC)
	assert.Equal(t, 0.30, c.Heuristic.LowQuantile)
	assert.Equal(t, MethodHeuristic, c.Sweep.Method)
	assert.Equal(t, []string{"DE", "AT", "CH", "CZ", "HU"}, c.Sweep.Countries)
	assert.Equal(t, 30*time.Second, c.Optimizer.TimeLimit)
	require.NotNil(t, c.Optimizer.AllowPartial)
	assert.True(t, *c.Optimizer.AllowPartial)
	assert.Equal(t, 10, c.Finance.Years)
}

func TestLoadBatteryFileWithOverrides(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "unit.yaml", "battery:\n  name: unit\n  capacity_kwh: 2000\n  rated_power_kw: 1000\n  soc_min: 0.1\n")
	p := write(t, dir, "config.yaml", `
battery_file: unit.yaml
battery:
  rated_power_kw: 800
optimizer:
  time_limit: 5s
  allow_partial: false
  terminal_soc: 0.5
sweep:
  countries: [de, hu]
  method: optimizer
  start: "2024-01-01"
  days: 7
finance:
  countries:
    de: {wacc: 0.07, inflation: 0.03}
`)

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "unit", c.Battery.Name)
	assert.Equal(t, 2000.0, c.Battery.CapacityKWh)
	assert.Equal(t, 800.0, c.Battery.RatedPowerKW)
	assert.Equal(t, 0.1, c.Battery.InitialSOC)
	assert.Equal(t, 5*time.Second, c.Optimizer.TimeLimit)
	assert.False(t, *c.Optimizer.AllowPartial)
	assert.Equal(t, []string{"DE", "HU"}, c.Sweep.Countries)
	assert.Equal(t, 0.07, c.Finance.RatesFor("DE").WACC)

	start, err := c.Sweep.StartTime()
	require.NoError(t, err)
	assert.Equal(t, 2024, start.Year())

	op := c.OptimizerParams(c.Battery.ToModelParams(), 1.5)
	require.NotNil(t, op.TerminalSOC)
	assert.Equal(t, 0.5, *op.TerminalSOC)
	assert.Equal(t, 1.5, op.CyclesPerDay)
	assert.Equal(t, 0.1, op.InitialSOC)

	opt := c.Optimizer.Optimizer()
	assert.Zero(t, opt.WindowSteps)
	assert.Equal(t, 5*time.Second, opt.TimeLimit)
}

func TestRoundTripEfficiency(t *testing.T) {
	b := DefaultBattery()
	b.RoundTripEfficiency = 0.81
	p := b.ToModelParams()
	assert.InDelta(t, 0.9, p.ChargeEfficiency, 1e-12)
	assert.InDelta(t, 0.9, p.DischargeEfficiency, 1e-12)
	assert.InDelta(t, 0.81, p.ChargeEfficiency*p.DischargeEfficiency, 1e-12)

	b.RoundTripEfficiency = 0
	assert.Equal(t, DefaultBattery().ChargeEfficiency, b.ToModelParams().ChargeEfficiency)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"soc bounds":    func(c *Config) { c.Battery.SOCMax = 1.5 },
		"method":        func(c *Config) { c.Sweep.Method = "genetic" },
		"quantiles":     func(c *Config) { c.Heuristic.LowQuantile = 0.9 },
		"c-rate":        func(c *Config) { c.Sweep.CRates = []float64{0} },
		"start":         func(c *Config) { c.Sweep.Start = "01/02/2024" },
		"finance years": func(c *Config) { c.Finance.Years = -1 },
		"solver":        func(c *Config) { c.Optimizer.Solver = "cplex" },
		"lp method":     func(c *Config) { c.Optimizer.LPMethod = "interior" },
		"mip gap":       func(c *Config) { c.Optimizer.MIPGap = -0.1 },
		"terminal soc": func(c *Config) {
			v := 2.0
			c.Optimizer.TerminalSOC = &v
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			c.ApplyDefaults()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	c := Default()
	c.ApplyDefaults()
	assert.NoError(t, c.Validate())
}

func TestMergeBattery(t *testing.T) {
	base := DefaultBattery()
	out := MergeBattery(base, BatteryConfig{CRate: 0.25, SOHEndOfLife: 0.8})
	assert.Equal(t, 0.25, out.CRate)
	assert.Equal(t, 0.8, out.SOHEndOfLife)
	assert.Equal(t, base.CapacityKWh, out.CapacityKWh)
	assert.False(t, math.IsNaN(out.AgingCostPerKWh))
	assert.Equal(t, 0.8, out.Aging().SOHEndOfLife)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	dir := t.TempDir()
	p := write(t, dir, "bad.yaml", "battery: [1, 2")
	_, err = Load(p)
	assert.Error(t, err)

	p = write(t, dir, "nofile.yaml", "battery_file: nope.yaml\n")
	_, err = LoadUnchecked(p)
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	base := Default()
	base.ApplyDefaults()
	require.NoError(t, base.Validate())

	out, err := base.Apply(Overrides{
		Battery:   BatteryConfig{CapacityKWh: 2000},
		Heuristic: HeuristicConfig{CyclesPerDay: 2},
		TimeLimit: "5s",
		Start:     "2024-06-03",
		Days:      3,
	})
	require.NoError(t, err)
	assert.Equal(t, 2000.0, out.Battery.CapacityKWh)
	assert.Equal(t, 2.0, out.Heuristic.CyclesPerDay)
	assert.Equal(t, 5*time.Second, out.Optimizer.TimeLimit)
	assert.Equal(t, 3, out.Sweep.Days)
	assert.Equal(t, "2024-06-03", out.Sweep.Start)

	assert.Equal(t, 4472.0, base.Battery.CapacityKWh)
	assert.Equal(t, 30*time.Second, base.Optimizer.TimeLimit)
	assert.Zero(t, base.Sweep.Days)

	_, err = base.Apply(Overrides{TimeLimit: "soon"})
	assert.Error(t, err)
	_, err = base.Apply(Overrides{Heuristic: HeuristicConfig{LowQuantile: 0.9}})
	assert.Error(t, err)
	_, err = base.Apply(Overrides{Start: "03/06/2024"})
	assert.Error(t, err)
}

func TestOptimizerSolverSelection(t *testing.T) {
	o := Default().Optimizer
	if highs.Available {
		assert.Equal(t, SolverHiGHS, o.SolverName())
		assert.IsType(t, &highs.Solver{}, o.Optimizer().Solver)
	} else {
		assert.Equal(t, SolverBranchAndBound, o.SolverName())
	}

	o.Solver = SolverBranchAndBound
	o.LPMethod = string(optimize.LPGonum)
	o.MaxNodes = 7
	no := false
	o.AllowPartial = &no
	bb, ok := o.Optimizer().Solver.(*optimize.BranchAndBound)
	require.True(t, ok)
	assert.Equal(t, optimize.LPGonum, bb.LP)
	assert.Equal(t, 7, bb.MaxNodes)
	assert.False(t, bb.AllowPartial)

	c := Default()
	c.ApplyDefaults()
	c.Optimizer.Solver = SolverHiGHS
	if highs.Available {
		assert.NoError(t, c.Validate())
	} else {
		assert.ErrorIs(t, c.Validate(), highs.ErrUnavailable)
	}
}

func arbitrageParams() optimize.Params {
	return optimize.Params{
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

// block 0 is cheap and block 1 expensive, so the only profit is to charge in
// one block and discharge in the next
func twoBlockProblem(stepsPerBlock int, stepHours float64) optimize.Problem {
	n := 2 * stepsPerBlock
	da := make([]float64, n)
	for i := range da {
		da[i] = 10
		if i >= stepsPerBlock {
			da[i] = 100
		}
	}
	return optimize.Problem{
		StepHours:     stepHours,
		StepsPerBlock: stepsPerBlock,
		StepsPerDay:   int(24 / stepHours),
		DayAhead:      da,
		FCR:           make([]float64, 2),
		AFRRPos:       make([]float64, 2),
		AFRRNeg:       make([]float64, 2),
	}
}

func TestDefaultOptimizerArbitragesAcrossBlocks(t *testing.T) {
	cases := map[string]struct {
		stepsPerBlock int
		stepHours     float64
	}{
		"hourly":       {stepsPerBlock: 4, stepHours: 1},
		"quarter-hour": {stepsPerBlock: 16, stepHours: 0.25},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			c.ApplyDefaults()
			p := arbitrageParams()
			pr := twoBlockProblem(tc.stepsPerBlock, tc.stepHours)

			tr, err := c.Optimizer.Optimizer().Run(context.Background(), p, pr)
			require.NoError(t, err)
			require.Len(t, tr.Steps, 2*tc.stepsPerBlock)
			require.NoError(t, optimize.Verify(p, pr, tr, 1e-4))
			// 500 kWh bought at 10 and sold at 100 within one cycle
			assert.InDelta(t, 45.0, tr.Objective, 1e-4)

			var in, out float64
			for i, s := range tr.Steps {
				if i < tc.stepsPerBlock {
					assert.InDelta(t, 0.0, s.DischargeKW, 1e-6)
				} else {
					assert.InDelta(t, 0.0, s.ChargeKW, 1e-6)
				}
				in += s.ChargeKW * tc.stepHours
				out += s.DischargeKW * tc.stepHours
			}
			assert.InDelta(t, 500.0, in, 1e-2)
			assert.InDelta(t, 500.0, out, 1e-2)
		})
	}
}

func TestRollingWindowIsOptIn(t *testing.T) {
	c := Default()
	c.ApplyDefaults()
	p := arbitrageParams()
	pr := twoBlockProblem(4, 1)

	c.Optimizer.WindowSteps = 4
	tr, err := c.Optimizer.Optimizer().Run(context.Background(), p, pr)
	require.NoError(t, err)
	// each block is solved alone and neither can trade on its own
	assert.InDelta(t, 0.0, tr.Objective, 1e-6)
}
