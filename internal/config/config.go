package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bess-dispatch/internal/backtest"
	"bess-dispatch/internal/finance"
	"bess-dispatch/internal/model"
	"bess-dispatch/internal/optimize"
	"bess-dispatch/internal/optimize/highs"
	"bess-dispatch/internal/strategy"

	"gopkg.in/yaml.v3"
)

const (
	MethodHeuristic = "heuristic"
	MethodOptimizer = "optimizer"
)

// Optimizer backends. SolverAuto picks HiGHS when it is compiled in and the
// bundled branch-and-bound otherwise.
const (
	SolverAuto           = "auto"
	SolverHiGHS          = "highs"
	SolverBranchAndBound = "branch_and_bound"
)

// Config is the on-disk configuration shape (YAML).
type Config struct {
	// Optional: load battery parameters from a separate YAML.
	// If both BatteryFile and Battery are provided, Battery overrides BatteryFile.
	BatteryFile string          `yaml:"battery_file"`
	Battery     BatteryConfig   `yaml:"battery"`
	Heuristic   HeuristicConfig `yaml:"heuristic"`
	Optimizer   OptimizerConfig `yaml:"optimizer"`
	Sweep       SweepConfig     `yaml:"sweep"`
	Finance     finance.Params  `yaml:"finance"`
}

type BatteryConfig struct {
	Name                string  `yaml:"name" json:"name,omitempty"`
	CapacityKWh         float64 `yaml:"capacity_kwh" json:"capacity_kwh,omitempty"`
	RatedPowerKW        float64 `yaml:"rated_power_kw" json:"rated_power_kw,omitempty"`
	ChargeEfficiency    float64 `yaml:"charge_efficiency" json:"charge_efficiency,omitempty"`
	DischargeEfficiency float64 `yaml:"discharge_efficiency" json:"discharge_efficiency,omitempty"`
	// RoundTripEfficiency, when set, replaces both efficiencies with its square root.
	RoundTripEfficiency float64 `yaml:"round_trip_efficiency" json:"round_trip_efficiency,omitempty"`
	SOCMin              float64 `yaml:"soc_min" json:"soc_min,omitempty"`
	SOCMax              float64 `yaml:"soc_max" json:"soc_max,omitempty"`
	InitialSOC          float64 `yaml:"initial_soc" json:"initial_soc,omitempty"`
	CRate               float64 `yaml:"c_rate" json:"c_rate,omitempty"`
	AgingCostPerKWh     float64 `yaml:"aging_cost_per_kwh" json:"aging_cost_per_kwh,omitempty"`
	SOHEndOfLife        float64 `yaml:"soh_end_of_life" json:"soh_end_of_life,omitempty"`
}

type HeuristicConfig struct {
	LowQuantile        float64 `yaml:"low_quantile" json:"low_quantile,omitempty"`
	HighQuantile       float64 `yaml:"high_quantile" json:"high_quantile,omitempty"`
	FCRShare           float64 `yaml:"fcr_share" json:"fcr_share,omitempty"`
	AFRRShare          float64 `yaml:"afrr_share" json:"afrr_share,omitempty"`
	CyclesPerDay       float64 `yaml:"cycles_per_day" json:"cycles_per_day,omitempty"`
	UseAFRREnergy      bool    `yaml:"use_afrr_energy" json:"use_afrr_energy,omitempty"`
	RollingWindowSteps int     `yaml:"rolling_window_steps" json:"rolling_window_steps,omitempty"`
}

type OptimizerConfig struct {
	Solver string `yaml:"solver" json:"solver,omitempty"`
	// LPMethod is the node simplex of branch_and_bound: tableau or gonum.
	LPMethod string `yaml:"lp_method" json:"lp_method,omitempty"`
	MaxNodes int    `yaml:"max_nodes" json:"max_nodes,omitempty"`
	// MIPGap is the relative gap HiGHS stops at; 0 keeps its default.
	MIPGap    float64       `yaml:"mip_gap" json:"mip_gap,omitempty"`
	TimeLimit time.Duration `yaml:"time_limit" json:"-"`
	// AllowPartial returns the best incumbent when a limit is hit. Defaults to true.
	AllowPartial *bool `yaml:"allow_partial" json:"allow_partial,omitempty"`
	// WindowSteps opts into rolling windows of that many steps; 0 solves the
	// whole horizon as one model.
	WindowSteps     int      `yaml:"window_steps" json:"window_steps,omitempty"`
	ActivationRatio *float64 `yaml:"activation_ratio" json:"activation_ratio,omitempty"`
	TerminalSOC     *float64 `yaml:"terminal_soc" json:"terminal_soc,omitempty"`
	Derate          float64  `yaml:"derate" json:"derate,omitempty"`
}

type SweepConfig struct {
	Countries []string  `yaml:"countries"`
	CRates    []float64 `yaml:"c_rates"`
	Cycles    []float64 `yaml:"cycles"`
	Method    string    `yaml:"method"`
	Workers   int       `yaml:"workers"`
	// Start is a YYYY-MM-DD date; empty starts at the first price.
	Start string `yaml:"start"`
	// Days limits the window; 0 uses the whole series.
	Days int `yaml:"days"`
}

func DefaultBattery() BatteryConfig {
	p := model.DefaultParams()
	a := backtest.DefaultAging()
	return BatteryConfig{
		Name:                "default",
		CapacityKWh:         p.CapacityKWh,
		RatedPowerKW:        p.RatedPowerKW,
		ChargeEfficiency:    p.ChargeEfficiency,
		DischargeEfficiency: p.DischargeEfficiency,
		SOCMin:              p.SOCMin,
		SOCMax:              p.SOCMax,
		CRate:               p.MaxCRate,
		AgingCostPerKWh:     a.CostPerKWh,
		SOHEndOfLife:        a.SOHEndOfLife,
	}
}

// Default returns a complete configuration.
func Default() *Config {
	h := strategy.DefaultThresholdParams()
	allow := true
	return &Config{
		Battery: DefaultBattery(),
		Heuristic: HeuristicConfig{
			LowQuantile:  h.LowQuantile,
			HighQuantile: h.HighQuantile,
			FCRShare:     h.FCRShare,
			AFRRShare:    h.AFRRShare,
			CyclesPerDay: h.CyclesPerDay,
		},
		Optimizer: OptimizerConfig{
			Solver:       SolverAuto,
			MaxNodes:     5000,
			TimeLimit:    30 * time.Second,
			AllowPartial: &allow,
		},
		Sweep: SweepConfig{
			Countries: []string{"DE", "AT", "CH", "CZ", "HU"},
			CRates:    []float64{0.25, 0.33, 0.5},
			Cycles:    []float64{1, 1.5, 2},
			Method:    MethodHeuristic,
		},
		Finance: finance.DefaultParams(),
	}
}

func Load(path string) (*Config, error) {
	c, err := LoadUnchecked(path)
	if err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadUnchecked loads and merges config, but does not validate it.
// Useful for debugging/printing partial configs.
func LoadUnchecked(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	// If battery_file is set, load it and merge in any explicit overrides from c.Battery.
	if c.BatteryFile != "" {
		batteryPath := c.BatteryFile
		if !filepath.IsAbs(batteryPath) {
			// Prefer paths relative to the config file, falling back to cwd.
			cand := filepath.Join(filepath.Dir(path), batteryPath)
			if _, err := os.Stat(cand); err == nil {
				batteryPath = cand
			}
		}
		loaded, err := loadBatteryFile(batteryPath)
		if err != nil {
			return nil, err
		}
		c.Battery = MergeBattery(loaded, c.Battery)
	}
	return &c, nil
}

// ApplyDefaults fills every unset field from Default.
func (c *Config) ApplyDefaults() {
	d := Default()
	c.Battery = MergeBattery(d.Battery, c.Battery)
	if c.Battery.InitialSOC == 0 {
		c.Battery.InitialSOC = c.Battery.SOCMin
	}

	h := &c.Heuristic
	setIfZero(&h.LowQuantile, d.Heuristic.LowQuantile)
	setIfZero(&h.HighQuantile, d.Heuristic.HighQuantile)
	setIfZero(&h.FCRShare, d.Heuristic.FCRShare)
	setIfZero(&h.AFRRShare, d.Heuristic.AFRRShare)
	setIfZero(&h.CyclesPerDay, d.Heuristic.CyclesPerDay)

	o := &c.Optimizer
	if o.Solver == "" {
		o.Solver = d.Optimizer.Solver
	}
	if o.MaxNodes == 0 {
		o.MaxNodes = d.Optimizer.MaxNodes
	}
	if o.TimeLimit == 0 {
		o.TimeLimit = d.Optimizer.TimeLimit
	}
	if o.AllowPartial == nil {
		o.AllowPartial = d.Optimizer.AllowPartial
	}
	setIfZero(&o.Derate, 1)

	s := &c.Sweep
	if len(s.Countries) == 0 {
		s.Countries = d.Sweep.Countries
	}
	for i, cc := range s.Countries {
		s.Countries[i] = strings.ToUpper(cc)
	}
	if len(s.CRates) == 0 {
		s.CRates = d.Sweep.CRates
	}
	if len(s.Cycles) == 0 {
		s.Cycles = d.Sweep.Cycles
	}
	if s.Method == "" {
		s.Method = d.Sweep.Method
	}

	f := &c.Finance
	setIfZero(&f.CapexPerMWh, d.Finance.CapexPerMWh)
	setIfZero(&f.CapexPerMW, d.Finance.CapexPerMW)
	setIfZero(&f.OpexRate, d.Finance.OpexRate)
	if f.Years == 0 {
		f.Years = d.Finance.Years
	}
	if f.Default == (finance.Rates{}) {
		f.Default = d.Finance.Default
	}
	if len(f.Countries) > 0 {
		up := make(map[string]finance.Rates, len(f.Countries))
		for k, v := range f.Countries {
			up[strings.ToUpper(k)] = v
		}
		f.Countries = up
	}
}

func setIfZero(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	// Validate battery params by constructing a model.Battery.
	if _, err := model.NewBattery(c.Battery.ToModelParams(), c.Battery.InitialSOC); err != nil {
		return fmt.Errorf("battery config invalid: %w", err)
	}
	if c.Battery.RoundTripEfficiency < 0 || c.Battery.RoundTripEfficiency > 1 {
		return errors.New("battery.round_trip_efficiency must be in (0,1]")
	}
	if c.Battery.SOHEndOfLife <= 0 || c.Battery.SOHEndOfLife >= 1 {
		return errors.New("battery.soh_end_of_life must be in (0,1)")
	}
	if err := c.Heuristic.ToThresholdParams().Validate(); err != nil {
		return fmt.Errorf("heuristic config invalid: %w", err)
	}
	if c.Optimizer.MaxNodes < 0 || c.Optimizer.TimeLimit < 0 || c.Optimizer.WindowSteps < 0 || c.Optimizer.MIPGap < 0 {
		return errors.New("optimizer limits must be >= 0")
	}
	switch c.Optimizer.Solver {
	case "", SolverAuto, SolverBranchAndBound:
	case SolverHiGHS:
		if !highs.Available {
			return fmt.Errorf("optimizer.solver %q: %w", SolverHiGHS, highs.ErrUnavailable)
		}
	default:
		return fmt.Errorf("optimizer.solver must be %q, %q or %q", SolverAuto, SolverHiGHS, SolverBranchAndBound)
	}
	if _, err := optimize.ParseLPMethod(c.Optimizer.LPMethod); err != nil {
		return fmt.Errorf("optimizer.lp_method: %w", err)
	}
	if err := c.OptimizerParams(c.Battery.ToModelParams(), c.Heuristic.CyclesPerDay).Validate(); err != nil {
		return fmt.Errorf("optimizer config invalid: %w", err)
	}
	switch c.Sweep.Method {
	case MethodHeuristic, MethodOptimizer:
	default:
		return fmt.Errorf("sweep.method must be %q or %q", MethodHeuristic, MethodOptimizer)
	}
	for _, r := range c.Sweep.CRates {
		if r <= 0 {
			return errors.New("sweep.c_rates must be > 0")
		}
	}
	for _, n := range c.Sweep.Cycles {
		if n <= 0 {
			return errors.New("sweep.cycles must be > 0")
		}
	}
	if c.Sweep.Workers < 0 || c.Sweep.Days < 0 {
		return errors.New("sweep.workers and sweep.days must be >= 0")
	}
	if _, err := c.Sweep.StartTime(); err != nil {
		return err
	}
	if err := c.Finance.Validate(); err != nil {
		return err
	}
	return nil
}

func (b BatteryConfig) ToModelParams() model.BatteryParams {
	p := model.DefaultParams()
	p.CapacityKWh = b.CapacityKWh
	p.RatedPowerKW = b.RatedPowerKW
	p.ChargeEfficiency = b.ChargeEfficiency
	p.DischargeEfficiency = b.DischargeEfficiency
	if b.RoundTripEfficiency > 0 {
		e := math.Sqrt(b.RoundTripEfficiency)
		p.ChargeEfficiency, p.DischargeEfficiency = e, e
	}
	p.SOCMin = b.SOCMin
	p.SOCMax = b.SOCMax
	p.MaxCRate = b.CRate
	return p
}

func (b BatteryConfig) Aging() backtest.AgingParams {
	return backtest.AgingParams{CostPerKWh: b.AgingCostPerKWh, SOHEndOfLife: b.SOHEndOfLife}
}

func (h HeuristicConfig) ToThresholdParams() strategy.ThresholdParams {
	return strategy.ThresholdParams{
		LowQuantile:        h.LowQuantile,
		HighQuantile:       h.HighQuantile,
		FCRShare:           h.FCRShare,
		AFRRShare:          h.AFRRShare,
		CyclesPerDay:       h.CyclesPerDay,
		UseAFRREnergy:      h.UseAFRREnergy,
		RollingWindowSteps: h.RollingWindowSteps,
	}
}

// OptimizerParams derives co-optimization parameters for a battery and cycle budget.
func (c *Config) OptimizerParams(b model.BatteryParams, cyclesPerDay float64) optimize.Params {
	p := optimize.ParamsFromBattery(b, cyclesPerDay)
	p.InitialSOC = c.Battery.InitialSOC
	if c.Optimizer.Derate > 0 {
		p.Derate = c.Optimizer.Derate
	}
	if c.Optimizer.ActivationRatio != nil {
		p.ActivationRatio = *c.Optimizer.ActivationRatio
	}
	p.TerminalSOC = c.Optimizer.TerminalSOC
	return p
}

// Optimizer builds the horizon optimizer. WindowSteps 0 solves the whole
// horizon as one finite-horizon model.
func (o OptimizerConfig) Optimizer() *optimize.Optimizer {
	opt := optimize.New(o.solver())
	opt.WindowSteps = o.WindowSteps
	opt.TimeLimit = o.TimeLimit
	return opt
}

// SolverName is the backend Optimizer will use.
func (o OptimizerConfig) SolverName() string {
	switch o.Solver {
	case SolverHiGHS, SolverBranchAndBound:
		return o.Solver
	}
	if highs.Available {
		return SolverHiGHS
	}
	return SolverBranchAndBound
}

func (o OptimizerConfig) solver() optimize.Solver {
	allow := o.AllowPartial == nil || *o.AllowPartial
	if o.SolverName() == SolverHiGHS {
		hs := highs.New()
		hs.AllowPartial = allow
		hs.MIPGap = o.MIPGap
		return hs
	}
	bb := optimize.NewBranchAndBound()
	bb.MaxNodes = o.MaxNodes
	bb.AllowPartial = allow
	if m, err := optimize.ParseLPMethod(o.LPMethod); err == nil {
		bb.LP = m
	}
	return bb
}

// StartTime parses Start; the zero time means "from the first price".
func (s SweepConfig) StartTime() (time.Time, error) {
	if s.Start == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("sweep.start: %w", err)
	}
	return t, nil
}

type batteryFileWrapper struct {
	Battery BatteryConfig `yaml:"battery"`
}

func loadBatteryFile(path string) (BatteryConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return BatteryConfig{}, err
	}
	var w batteryFileWrapper
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return BatteryConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return w.Battery, nil
}

// MergeBattery overlays non-zero fields from override onto base.
// This is used when loading a battery file and then applying overrides from the request.
func MergeBattery(base, override BatteryConfig) BatteryConfig {
	out := base
	if override.Name != "" {
		out.Name = override.Name
	}
	overlay(&out.CapacityKWh, override.CapacityKWh)
	overlay(&out.RatedPowerKW, override.RatedPowerKW)
	overlay(&out.ChargeEfficiency, override.ChargeEfficiency)
	overlay(&out.DischargeEfficiency, override.DischargeEfficiency)
	overlay(&out.RoundTripEfficiency, override.RoundTripEfficiency)
	// A zero SOC bound cannot be expressed as an override.
	overlay(&out.SOCMin, override.SOCMin)
	overlay(&out.SOCMax, override.SOCMax)
	overlay(&out.InitialSOC, override.InitialSOC)
	overlay(&out.CRate, override.CRate)
	overlay(&out.AgingCostPerKWh, override.AgingCostPerKWh)
	overlay(&out.SOHEndOfLife, override.SOHEndOfLife)
	return out
}

// Overrides are per-request adjustments layered onto a loaded Config.
// Zero fields keep the base value.
type Overrides struct {
	Battery   BatteryConfig   `json:"battery"`
	Heuristic HeuristicConfig `json:"heuristic"`
	Optimizer OptimizerConfig `json:"optimizer"`
	// TimeLimit is a Go duration string such as "10s".
	TimeLimit string `json:"time_limit"`
	Start     string `json:"start"`
	Days      int    `json:"days"`
}

// Apply returns a validated copy of c with o layered on top; c is left untouched.
func (c *Config) Apply(o Overrides) (*Config, error) {
	out := *c
	out.Sweep.Countries = append([]string(nil), c.Sweep.Countries...)
	out.Sweep.CRates = append([]float64(nil), c.Sweep.CRates...)
	out.Sweep.Cycles = append([]float64(nil), c.Sweep.Cycles...)

	out.Battery = MergeBattery(c.Battery, o.Battery)
	if o.Battery.InitialSOC == 0 && out.Battery.InitialSOC < out.Battery.SOCMin {
		out.Battery.InitialSOC = out.Battery.SOCMin
	}

	h := &out.Heuristic
	overlay(&h.LowQuantile, o.Heuristic.LowQuantile)
	overlay(&h.HighQuantile, o.Heuristic.HighQuantile)
	overlay(&h.FCRShare, o.Heuristic.FCRShare)
	overlay(&h.AFRRShare, o.Heuristic.AFRRShare)
	overlay(&h.CyclesPerDay, o.Heuristic.CyclesPerDay)
	if o.Heuristic.UseAFRREnergy {
		h.UseAFRREnergy = true
	}
	if o.Heuristic.RollingWindowSteps != 0 {
		h.RollingWindowSteps = o.Heuristic.RollingWindowSteps
	}

	op := &out.Optimizer
	if o.Optimizer.Solver != "" {
		op.Solver = o.Optimizer.Solver
	}
	if o.Optimizer.LPMethod != "" {
		op.LPMethod = o.Optimizer.LPMethod
	}
	if o.Optimizer.MaxNodes != 0 {
		op.MaxNodes = o.Optimizer.MaxNodes
	}
	if o.Optimizer.MIPGap != 0 {
		op.MIPGap = o.Optimizer.MIPGap
	}
	if o.Optimizer.WindowSteps != 0 {
		op.WindowSteps = o.Optimizer.WindowSteps
	}
	if o.Optimizer.AllowPartial != nil {
		op.AllowPartial = o.Optimizer.AllowPartial
	}
	if o.Optimizer.ActivationRatio != nil {
		op.ActivationRatio = o.Optimizer.ActivationRatio
	}
	if o.Optimizer.TerminalSOC != nil {
		op.TerminalSOC = o.Optimizer.TerminalSOC
	}
	overlay(&op.Derate, o.Optimizer.Derate)
	if o.TimeLimit != "" {
		d, err := time.ParseDuration(o.TimeLimit)
		if err != nil {
			return nil, fmt.Errorf("time_limit: %w", err)
		}
		op.TimeLimit = d
	}

	if o.Start != "" {
		out.Sweep.Start = o.Start
	}
	if o.Days != 0 {
		out.Sweep.Days = o.Days
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func overlay(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}
