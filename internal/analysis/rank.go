package analysis

import (
	"sort"

	"bess-dispatch/internal/market"
)

// RankByArbitrageBound profiles every aligned window and sorts descending by ArbitrageBound.
func RankByArbitrageBound(byCountry map[string]*market.Aligned) []PriceProfile {
	out := make([]PriceProfile, 0, len(byCountry))
	for _, a := range byCountry {
		out = append(out, ComputeProfile(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ArbitrageBound == out[j].ArbitrageBound {
			return out[i].Country < out[j].Country
		}
		return out[i].ArbitrageBound > out[j].ArbitrageBound
	})
	return out
}
