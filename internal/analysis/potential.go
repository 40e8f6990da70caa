package analysis

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"bess-dispatch/internal/market"
)

// PriceProfile is a country-level summary of an aligned price window, used to
// compare markets before running a full dispatch.
type PriceProfile struct {
	Country string
	Start   time.Time
	End     time.Time
	Count   int

	MinDA  float64
	MaxDA  float64
	MeanDA float64
	P30DA  float64
	P70DA  float64
	Spread float64

	MedianFCR     float64
	MedianAFRRPos float64
	MedianAFRRNeg float64

	// ArbitrageBound is the day-ahead profit of a canonical 1 MW / 1 MWh lossless
	// battery with perfect foresight, starting half full with moves of {-1, 0, +1} MW.
	ArbitrageBound float64
}

func ComputeProfile(a *market.Aligned) PriceProfile {
	p := PriceProfile{Country: a.Country}
	if a.Len() == 0 {
		return p
	}
	p.Count = a.Len()
	p.Start = a.Steps[0].Time
	p.End = a.Steps[a.Len()-1].Time

	da := a.Column(market.DayAhead)
	sorted := sortedClean(da)
	p.MinDA = floats.Min(da)
	p.MaxDA = floats.Max(da)
	p.MeanDA = floats.Sum(da) / float64(len(da))
	p.P30DA = QuantileSorted(sorted, 0.30)
	p.P70DA = QuantileSorted(sorted, 0.70)
	p.Spread = p.P70DA - p.P30DA

	p.MedianFCR = Median(a.Column(market.FCR))
	p.MedianAFRRPos = Median(a.Column(market.AFRRCapacityPos))
	p.MedianAFRRNeg = Median(a.Column(market.AFRRCapacityNeg))

	p.ArbitrageBound = arbitrageBound(da, a.StepHours)
	return p
}

// arbitrageBound runs a DP over a SOC grid with steps of dt (P = 1 MW, E = 1 MWh).
func arbitrageBound(prices []float64, dt float64) float64 {
	if len(prices) == 0 || dt <= 0 {
		return 0
	}
	steps := int(math.Round(1.0 / dt))
	if steps < 1 {
		steps = 1
	}
	negInf := math.Inf(-1)
	dp := make([]float64, steps+1)
	next := make([]float64, steps+1)
	for i := range dp {
		dp[i] = negInf
	}
	dp[int(math.Round(0.5*float64(steps)))] = 0

	for _, price := range prices {
		for i := range next {
			next[i] = negInf
		}
		for soc := 0; soc <= steps; soc++ {
			if math.IsInf(dp[soc], -1) {
				continue
			}
			next[soc] = math.Max(next[soc], dp[soc])
			if soc < steps {
				next[soc+1] = math.Max(next[soc+1], dp[soc]-price*dt)
			}
			if soc > 0 {
				next[soc-1] = math.Max(next[soc-1], dp[soc]+price*dt)
			}
		}
		dp, next = next, dp
	}
	best := floats.Max(dp)
	if math.IsInf(best, -1) {
		return 0
	}
	return best
}
