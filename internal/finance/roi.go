// Package finance evaluates the investment case of a storage configuration.
package finance

import (
	"errors"
	"math"
	"strings"
)

// Rates are the country-specific financial assumptions.
type Rates struct {
	WACC      float64 `yaml:"wacc" json:"wacc"`
	Inflation float64 `yaml:"inflation" json:"inflation"`
}

// Params describe the capital and operating cost model.
type Params struct {
	CapexPerMWh float64          `yaml:"capex_per_mwh" json:"capex_per_mwh"`
	CapexPerMW  float64          `yaml:"capex_per_mw" json:"capex_per_mw"`
	OpexRate    float64          `yaml:"opex_rate" json:"opex_rate"`
	Years       int              `yaml:"years" json:"years"`
	Default     Rates            `yaml:"default" json:"default"`
	Countries   map[string]Rates `yaml:"countries" json:"countries,omitempty"`
}

func DefaultParams() Params {
	return Params{
		CapexPerMWh: 380000,
		CapexPerMW:  200000,
		OpexRate:    0.02,
		Years:       10,
		Default:     Rates{WACC: 0.10, Inflation: 0.02},
	}
}

func (p Params) Validate() error {
	if p.CapexPerMWh < 0 || p.CapexPerMW < 0 {
		return errors.New("finance capex must be >= 0")
	}
	if p.OpexRate < 0 {
		return errors.New("finance opex_rate must be >= 0")
	}
	if p.Years <= 0 {
		return errors.New("finance years must be > 0")
	}
	for c, r := range p.Countries {
		if r.WACC <= -1 {
			return errors.New("finance wacc must be > -1 for " + c)
		}
	}
	if p.Default.WACC <= -1 {
		return errors.New("finance default wacc must be > -1")
	}
	return nil
}

// RatesFor returns the country's rates, falling back to Default.
func (p Params) RatesFor(country string) Rates {
	if r, ok := p.Countries[strings.ToUpper(country)]; ok {
		return r
	}
	return p.Default
}

// YearFlow is one year of the discounted cash flow.
type YearFlow struct {
	Year           int     `json:"year"`
	Profit         float64 `json:"profit_eur"`
	Opex           float64 `json:"opex_eur"`
	DiscountFactor float64 `json:"discount_factor"`
	Discounted     float64 `json:"discounted_cf_eur"`
}

type Evaluation struct {
	Investment float64 `json:"investment_eur"`
	Opex       float64 `json:"opex_eur"`
	NPV        float64 `json:"npv_eur"`
	// ROI is NPV over investment.
	ROI float64 `json:"levelized_roi"`
	// ProfitPerMW is the annual profit in kEUR per MW of power.
	ProfitPerMW float64    `json:"profit_keur_per_mw"`
	Rates       Rates      `json:"rates"`
	Years       []YearFlow `json:"years"`
}

// Evaluate discounts annualProfit, indexed by inflation, over p.Years against
// the capital cost of capacityMWh of energy and powerMW of power.
func (p Params) Evaluate(annualProfit, capacityMWh, powerMW float64, r Rates) Evaluation {
	inv := p.CapexPerMWh*capacityMWh + p.CapexPerMW*powerMW
	ev := Evaluation{
		Investment: inv,
		Opex:       inv * p.OpexRate,
		NPV:        -inv,
		Rates:      r,
		Years:      make([]YearFlow, 0, p.Years),
	}
	if powerMW > 0 {
		ev.ProfitPerMW = annualProfit / powerMW / 1000
	}
	for y := 1; y <= p.Years; y++ {
		prof := annualProfit * math.Pow(1+r.Inflation, float64(y-1))
		df := 1 / math.Pow(1+r.WACC, float64(y))
		disc := (prof - ev.Opex) * df
		ev.Years = append(ev.Years, YearFlow{Year: y, Profit: prof, Opex: ev.Opex, DiscountFactor: df, Discounted: disc})
		ev.NPV += disc
	}
	if inv > 0 {
		ev.ROI = ev.NPV / inv
	}
	return ev
}
