package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"bess-dispatch/internal/analysis"
	"bess-dispatch/internal/backtest"
	"bess-dispatch/internal/config"
	"bess-dispatch/internal/data"
	"bess-dispatch/internal/log"
	"bess-dispatch/internal/market"
	"bess-dispatch/internal/sweep"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "sweep":
		err = cmdSweep(ctx, os.Args[2:])
	case "rank":
		err = cmdRank(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage:")
	fmt.Println("  cli sweep --data prices.json --config config.yaml --out results/sweep.json")
	fmt.Println("  cli sweep --synthetic --method optimizer --countries DE,AT")
	fmt.Println("  cli rank --data prices.json")
	fmt.Println("")
	fmt.Println("notes:")
	fmt.Println("  - sweep evaluates every (country, c-rate, cycles) pair and writes the summary")
	fmt.Println("    plus the operation rows of the best configuration as JSON")
	fmt.Println("  - rank scores each country by a perfect-foresight 1 MW / 1 MWh arbitrage bound")
}

type sweepOutput struct {
	Method  string         `json:"method"`
	Summary []sweep.Record `json:"summary"`
	Best    *bestOutput    `json:"best,omitempty"`
}

type bestOutput struct {
	Country string            `json:"country"`
	CRate   float64           `json:"c_rate"`
	Cycles  float64           `json:"cycles_per_day"`
	Rows    []operationRecord `json:"rows"`
}

// operationRecord is the exported per-step operation series.
type operationRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	StoredKWh       float64   `json:"stored_kwh"`
	SOC             float64   `json:"soc"`
	ChargeKWh       float64   `json:"charge_kwh"`
	DischargeKWh    float64   `json:"discharge_kwh"`
	FCRKW           float64   `json:"fcr_kw"`
	AFRRPosKW       float64   `json:"afrr_pos_kw"`
	AFRRNegKW       float64   `json:"afrr_neg_kw"`
	EnergyRevenue   float64   `json:"energy_revenue"`
	CapacityRevenue float64   `json:"capacity_revenue"`
	AgingCost       float64   `json:"aging_cost"`
	TotalRevenue    float64   `json:"total_revenue"`
}

func cmdSweep(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	dataPath := fs.String("data", "", "Path to JSON price file")
	synthetic := fs.Bool("synthetic", false, "Use generated prices instead of --data")
	cfgPath := fs.String("config", "", "Optional path to YAML config")
	method := fs.String("method", "", "heuristic or optimizer (default from config)")
	countries := fs.String("countries", "", "Comma-separated country codes (default from config)")
	workers := fs.Int("workers", 0, "Parallel workers (0 = GOMAXPROCS)")
	outPath := fs.String("out", "", "Output JSON path (default stdout)")
	verbose := fs.Bool("v", false, "Debug logging")
	_ = fs.Parse(args)

	if *verbose {
		log.SetDefaultLogLevel(log.ParseLevel("debug"))
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *method != "" {
		cfg.Sweep.Method = *method
	}
	if cc := splitList(*countries); len(cc) > 0 {
		cfg.Sweep.Countries = cc
	}
	if *workers > 0 {
		cfg.Sweep.Workers = *workers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	set, err := loadSet(*dataPath, *synthetic, cfg)
	if err != nil {
		return err
	}

	runner := sweep.NewRunner(cfg, data.NewAlignedCache(set, 0))
	rep, err := runner.Run(ctx, cfg.Sweep.Method, runner.Pairs())
	if err != nil {
		return err
	}

	out := sweepOutput{Method: rep.Method, Summary: rep.Summary}
	if b := rep.Best; b != nil {
		out.Best = &bestOutput{Country: b.Country, CRate: b.CRate, Cycles: b.Cycles, Rows: operationRecords(b.Result)}
	}

	var w io.Writer = os.Stdout
	if *outPath != "" {
		if err := os.MkdirAll(filepath.Dir(*outPath), 0o755); err != nil {
			return err
		}
		f, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "%d pairs, %d failed\n", len(rep.Results), rep.Failed)
	if b := rep.Best; b != nil {
		fmt.Fprintf(os.Stderr, "best %s: ROI=%.3f profit=%.1f kEUR/MW/yr\n", b.Pair, b.Evaluation.ROI, b.Evaluation.ProfitPerMW)
	}
	return nil
}

func cmdRank(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rank", flag.ExitOnError)
	dataPath := fs.String("data", "", "Path to JSON price file")
	synthetic := fs.Bool("synthetic", false, "Use generated prices instead of --data")
	days := fs.Int("days", 0, "Limit the window to N days (0 = all)")
	_ = fs.Parse(args)

	cfg := config.Default()
	cfg.ApplyDefaults()
	set, err := loadSet(*dataPath, *synthetic, cfg)
	if err != nil {
		return err
	}

	byCountry := map[string]*market.Aligned{}
	for _, c := range set.Countries() {
		a, err := market.Align(set, c, time.Time{}, *days)
		if err != nil {
			log.Ctx(ctx).Warn("skipping country", "country", c, "error", err)
			continue
		}
		byCountry[c] = a
	}

	ranked := analysis.RankByArbitrageBound(byCountry)
	fmt.Printf("%-4s %-8s %-8s %-10s %-10s %-10s %-12s\n", "rank", "country", "count", "p70-p30", "fcr~", "afrr+~", "bound€")
	for i, r := range ranked {
		fmt.Printf(
			"%-4d %-8s %-8d %-10.2f %-10.2f %-10.2f %-12.2f\n",
			i+1,
			r.Country,
			r.Count,
			r.Spread,
			r.MedianFCR,
			r.MedianAFRRPos,
			r.ArbitrageBound,
		)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		cfg.ApplyDefaults()
		return cfg, nil
	}
	return config.Load(path)
}

func loadSet(path string, synthetic bool, cfg *config.Config) (*market.Set, error) {
	if !synthetic {
		if path == "" {
			return nil, fmt.Errorf("--data or --synthetic is required")
		}
		return data.LoadSet(path)
	}
	start, err := cfg.Sweep.StartTime()
	if err != nil {
		return nil, err
	}
	if start.IsZero() {
		start = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	}
	days := cfg.Sweep.Days
	if days == 0 {
		days = 7
	}
	return data.ToSet(data.Synthetic(cfg.Sweep.Countries, start, days, 15*time.Minute, 1))
}

func operationRecords(r *backtest.Result) []operationRecord {
	if r == nil {
		return nil
	}
	out := make([]operationRecord, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = operationRecord{
			Timestamp:       row.Timestamp,
			StoredKWh:       row.StoredKWh,
			SOC:             row.SOC,
			ChargeKWh:       row.ChargeKWh,
			DischargeKWh:    row.DischargeKWh,
			FCRKW:           row.FCRKW,
			AFRRPosKW:       row.AFRRPosKW,
			AFRRNegKW:       row.AFRRNegKW,
			EnergyRevenue:   row.EnergyRevenue,
			CapacityRevenue: row.CapacityRevenue,
			AgingCost:       row.AgingCost,
			TotalRevenue:    row.TotalRevenue,
		}
	}
	return out
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
