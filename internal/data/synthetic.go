package data

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"bess-dispatch/internal/market"
)

// price levels per country: day-ahead mean, FCR, aFRR capacity
var syntheticLevels = map[string][3]float64{
	"DE": {90, 12, 8},
	"AT": {95, 14, 9},
	"CH": {100, 16, 10},
	"CZ": {85, 10, 7},
	"HU": {105, 9, 12},
}

// Synthetic builds a deterministic price file with a daily day-ahead shape
// (cheap night and midday, expensive evening), 4-hour reserve blocks and aFRR
// activation prices. It backs demos and tests when no price file is supplied.
func Synthetic(countries []string, start time.Time, days int, step time.Duration, seed int64) *PriceFile {
	rng := rand.New(rand.NewSource(seed))
	pf := &PriceFile{}
	n := int(time.Duration(days) * 24 * time.Hour / step)
	nb := days * 6
	for _, c := range countries {
		c = strings.ToUpper(c)
		lv, ok := syntheticLevels[c]
		if !ok {
			lv = [3]float64{80, 10, 8}
		}
		for i := 0; i < n; i++ {
			t := start.Add(time.Duration(i) * step)
			h := float64(t.Hour()) + float64(t.Minute())/60
			shape := 0.35*math.Sin(2*math.Pi*(h-13)/24) - 0.25*math.Exp(-math.Pow(h-13, 2)/8)
			p := lv[0] * (1 + shape + 0.08*rng.NormFloat64())
			pf.Data = append(pf.Data, PriceRecord{Country: c, Instrument: string(market.DayAhead), Time: t, Price: round2(p)})
		}
		for b := 0; b < nb; b++ {
			t := start.Add(time.Duration(b) * market.BlockDuration)
			pf.Data = append(pf.Data,
				PriceRecord{Country: c, Instrument: string(market.FCR), Time: t, Price: round2(lv[1] * (0.7 + 0.6*rng.Float64()))},
				PriceRecord{Country: c, Instrument: string(market.AFRRCapacityPos), Time: t, Price: round2(lv[2] * (0.5 + rng.Float64()))},
				PriceRecord{Country: c, Instrument: string(market.AFRRCapacityNeg), Time: t, Price: round2(lv[2] * (0.5 + rng.Float64()))},
				PriceRecord{Country: c, Instrument: string(market.AFRREnergyPos), Time: t, Price: round2(lv[0] * (1 + rng.Float64()))},
				PriceRecord{Country: c, Instrument: string(market.AFRREnergyNeg), Time: t, Price: round2(lv[0] * (rng.Float64() - 0.5))},
			)
		}
	}
	return pf
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
