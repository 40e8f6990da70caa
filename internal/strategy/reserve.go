package strategy

// Direction of an aFRR activation.
type Direction int

const (
	Positive Direction = iota
	Negative
)

// ActivationFactor is the expected share of a step during which an aFRR bid at
// price is activated. Cheaper bids are called more often.
func ActivationFactor(price float64, dir Direction) float64 {
	if dir == Positive {
		switch {
		case price < 10:
			return 0.45
		case price < 20:
			return 0.32
		case price < 40:
			return 0.22
		case price < 60:
			return 0.13
		case price < 100:
			return 0.07
		default:
			return 0.03
		}
	}
	switch {
	case price < 10:
		return 0.10
	case price < 20:
		return 0.08
	case price < 40:
		return 0.06
	case price < 60:
		return 0.04
	case price < 100:
		return 0.025
	default:
		return 0.01
	}
}

// ShrinkReservations scales all three reservations by one shared factor so their
// sum equals pMax when it would exceed it. Otherwise they are returned unchanged.
func ShrinkReservations(fcr, pos, neg, pMax float64) (float64, float64, float64) {
	total := fcr + pos + neg
	if total <= pMax || total <= 0 {
		return fcr, pos, neg
	}
	scale := pMax / total
	return fcr * scale, pos * scale, neg * scale
}
