// Package sweep evaluates every (country, configuration) pair in parallel.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"bess-dispatch/internal/backtest"
	"bess-dispatch/internal/config"
	"bess-dispatch/internal/data"
	"bess-dispatch/internal/finance"
	"bess-dispatch/internal/log"
	"bess-dispatch/internal/market"
	"bess-dispatch/internal/metrics"
	"bess-dispatch/internal/model"
	"bess-dispatch/internal/optimize"
	"bess-dispatch/internal/strategy"
)

// planTolKW drops solver noise below 1 W when a trajectory is replayed.
const planTolKW = 1e-3

// Pair is one unit of sweep work.
type Pair struct {
	Country string
	CRate   float64
	Cycles  float64
}

func (p Pair) String() string {
	return fmt.Sprintf("%s/c%.2f/n%.1f", p.Country, p.CRate, p.Cycles)
}

// PairResult is the outcome of one pair. Err is set instead of aborting the sweep.
type PairResult struct {
	Pair
	Method  string
	PowerKW float64

	Result     *backtest.Result
	Trajectory *optimize.Trajectory
	Evaluation finance.Evaluation

	Elapsed time.Duration
	Err     error
}

func (r *PairResult) OK() bool { return r.Err == nil }

// Record is the per-configuration summary line.
type Record struct {
	Country      string  `json:"country"`
	CRate        float64 `json:"c_rate"`
	Cycles       float64 `json:"cycles_per_day"`
	ProfitPerMW  float64 `json:"annual_profit_keur_per_mw"`
	LevelizedROI float64 `json:"levelized_roi"`
	Error        string  `json:"error,omitempty"`
}

// Report aggregates a sweep. Summary is sorted by ROI, failed pairs last.
type Report struct {
	Method  string
	Results []PairResult
	Summary []Record
	Best    *PairResult
	Failed  int
}

// Runner evaluates pairs against a shared aligned-price cache.
type Runner struct {
	Config *config.Config
	Cache  *data.AlignedCache
	Engine *backtest.Engine
}

func NewRunner(cfg *config.Config, cache *data.AlignedCache) *Runner {
	e := backtest.New()
	e.Aging = cfg.Battery.Aging()
	return &Runner{Config: cfg, Cache: cache, Engine: e}
}

// Pairs expands the configured grid in country, c-rate, cycles order.
func (r *Runner) Pairs() []Pair {
	s := r.Config.Sweep
	out := make([]Pair, 0, len(s.Countries)*len(s.CRates)*len(s.Cycles))
	for _, c := range s.Countries {
		for _, cr := range s.CRates {
			for _, n := range s.Cycles {
				out = append(out, Pair{Country: c, CRate: cr, Cycles: n})
			}
		}
	}
	return out
}

// Run evaluates pairs with a bounded worker pool. Pair failures are recorded
// in their PairResult; only cancellation of ctx fails the sweep.
func (r *Runner) Run(ctx context.Context, method string, pairs []Pair) (*Report, error) {
	workers := r.Config.Sweep.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	log.Ctx(ctx).Info("sweep started", "method", method, "pairs", len(pairs), "workers", workers)
	start := time.Now()

	results := make([]PairResult, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range pairs {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = PairResult{Pair: p, Method: method, Err: err}
				return nil
			}
			results[i] = r.Evaluate(gctx, method, p)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sweep cancelled: %w", err)
	}

	rep := Summarize(method, results)
	log.Ctx(ctx).Info("sweep finished", "method", method, "pairs", len(pairs), "failed", rep.Failed, "elapsed", time.Since(start))
	return rep, nil
}

// Evaluate runs one pair end to end. It never panics on bad data; every
// failure is returned in PairResult.Err.
func (r *Runner) Evaluate(ctx context.Context, method string, p Pair) (res PairResult) {
	ctx = log.WithAttrs(ctx, "country", p.Country, "c_rate", p.CRate, "cycles", p.Cycles, "method", method)
	res = PairResult{Pair: p, Method: method}
	done := metrics.PairStarted()
	start := time.Now()
	defer func() {
		res.Elapsed = time.Since(start)
		done(res.Err)
		annual := 0.0
		if res.Result != nil {
			annual = res.Result.AnnualizedRevenue
		}
		metrics.RecordRun(p.Country, method, res.Elapsed, annual, res.Err)
		if res.Err != nil {
			log.Ctx(ctx).Warn("pair failed", "error", res.Err)
		} else {
			log.Ctx(ctx).Debug("pair done", "annualized", annual, "roi", res.Evaluation.ROI, "elapsed", res.Elapsed)
		}
	}()

	cfg := r.Config
	startTime, err := cfg.Sweep.StartTime()
	if err != nil {
		res.Err = err
		return res
	}
	a, err := r.Cache.Get(p.Country, startTime, cfg.Sweep.Days)
	if err != nil {
		res.Err = err
		return res
	}

	params := PairParams(cfg.Battery.ToModelParams(), p)
	res.PowerKW = params.RatedPowerKW
	batt, err := model.NewBattery(params, cfg.Battery.InitialSOC)
	if err != nil {
		res.Err = err
		return res
	}

	var strat strategy.Strategy
	switch method {
	case config.MethodHeuristic:
		hp := cfg.Heuristic.ToThresholdParams()
		hp.CyclesPerDay = p.Cycles
		ts, err := strategy.NewThresholdStrategy(a, hp)
		if err != nil {
			res.Err = err
			return res
		}
		strat = ts
	case config.MethodOptimizer:
		tr, op, err := r.optimize(ctx, a, params, p.Cycles)
		if err != nil {
			res.Err = err
			return res
		}
		res.Trajectory = tr
		strat = strategy.NewPlanStrategy("optimizer", tr.Decisions(op.ActivationRatio), planTolKW)
	default:
		res.Err = fmt.Errorf("unknown method %q", method)
		return res
	}

	run, err := r.Engine.Run(ctx, a, batt, strat)
	if err != nil {
		res.Err = err
		return res
	}
	res.Result = run
	res.Evaluation = cfg.Finance.Evaluate(run.AnnualizedRevenue, params.CapacityKWh/1000, params.RatedPowerKW/1000, cfg.Finance.RatesFor(p.Country))
	return res
}

func (r *Runner) optimize(ctx context.Context, a *market.Aligned, params model.BatteryParams, cycles float64) (*optimize.Trajectory, optimize.Params, error) {
	op := r.Config.OptimizerParams(params, cycles)
	opt := r.Config.Optimizer.Optimizer()
	tr, err := opt.Run(ctx, op, optimize.NewProblem(a))
	if err != nil {
		metrics.RecordSolve(string(solveStatus(err)), 0)
		return nil, op, err
	}
	metrics.RecordSolve(string(tr.Status), tr.Nodes)
	return tr, op, nil
}

func solveStatus(err error) optimize.Status {
	var se *optimize.SolveError
	if errors.As(err, &se) {
		return se.Status
	}
	return optimize.StatusError
}

// PairParams sizes the battery for a pair: power is c-rate times capacity.
func PairParams(base model.BatteryParams, p Pair) model.BatteryParams {
	out := base
	out.MaxCRate = p.CRate
	out.RatedPowerKW = p.CRate * base.CapacityKWh
	return out
}

// Summarize builds the summary records and picks the best pair by levelized ROI.
func Summarize(method string, results []PairResult) *Report {
	rep := &Report{Method: method, Results: results}
	for i := range results {
		res := &results[i]
		rec := Record{Country: res.Country, CRate: res.CRate, Cycles: res.Cycles}
		if res.Err != nil {
			rec.Error = res.Err.Error()
			rep.Failed++
		} else {
			rec.ProfitPerMW = res.Evaluation.ProfitPerMW
			rec.LevelizedROI = res.Evaluation.ROI
			if rep.Best == nil || res.Evaluation.ROI > rep.Best.Evaluation.ROI {
				rep.Best = res
			}
		}
		rep.Summary = append(rep.Summary, rec)
	}
	sort.SliceStable(rep.Summary, func(i, j int) bool {
		a, b := rep.Summary[i], rep.Summary[j]
		if (a.Error == "") != (b.Error == "") {
			return a.Error == ""
		}
		return a.LevelizedROI > b.LevelizedROI
	})
	return rep
}
